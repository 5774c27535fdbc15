// Package faultcore wires the fault handling components into one kernel
// facing object and implements the top-level control flow: every failure
// is classified once, then absorbed, propagated, answered by terminating
// its owner, handed back for retry, or escalated to crash containment.
//
//	core, err := faultcore.New(ctx, cfg, faultcore.Deps{...})
//	if err != nil { ... }
//	defer core.Close()
//
//	out, err := core.Acquire(ctx, fallback.Request{Kind: "heap", Pages: 4, Requester: pid})
//	if err != nil {
//	    res, err := core.Handle(ctx, faultcore.Failure{Err: err, Owner: int(pid)})
//	    ...
//	}
package faultcore

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-faultcore/pkg/containment"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/fallback"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/postmortem"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

const tracerName = "github.com/StricklySoft/stricklysoft-faultcore/pkg/faultcore"

// ProcessManager terminates a process with a recorded cause that its
// supervisor can inspect.
type ProcessManager interface {
	Terminate(ctx context.Context, pid int, cause error) error
}

// Deps are the kernel collaborators the core drives. Memory, Processes,
// Regions and Firmware are required.
type Deps struct {
	Memory    fallback.MemoryManager
	Processes fallback.ProcessTable
	Regions   containment.MemoryMap
	Firmware  containment.Firmware

	// Terminator handles TerminateOwner decisions. Without one those
	// failures are propagated to the caller.
	Terminator ProcessManager

	// Consent confirms victim terminations during containment.
	Consent containment.ConsentPrompt
}

// Core is the assembled fault core. It is safe for concurrent use.
type Core struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	gate       *quiesce.Gate
	chain      *fallback.Chain
	controller *containment.Controller
	terminator ProcessManager
	sink       postmortem.Sink
	closeSink  func() error
	retryOpts  []recovery.Option
}

// Option configures [New].
type Option func(*settings)

type settings struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
	gate       *quiesce.Gate
	sink       postmortem.Sink
	sleeper    recovery.Sleeper
	handlers   []containment.StateChangeHandler
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegisterer registers metrics with reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithTracer sets the tracer shared by every component.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithGate replaces the process-wide admission gate.
func WithGate(g *quiesce.Gate) Option {
	return func(s *settings) { s.gate = g }
}

// WithSink overrides the configured postmortem backend.
func WithSink(sink postmortem.Sink) Option {
	return func(s *settings) { s.sink = sink }
}

// WithSleeper replaces the suspension between retry attempts.
func WithSleeper(sl recovery.Sleeper) Option {
	return func(s *settings) { s.sleeper = sl }
}

// OnStateChange registers a containment state observer.
func OnStateChange(h containment.StateChangeHandler) Option {
	return func(s *settings) { s.handlers = append(s.handlers, h) }
}

// New validates cfg, opens the postmortem backend and assembles the
// components.
func New(ctx context.Context, cfg Config, deps Deps, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.gate == nil {
		s.gate = quiesce.Global()
	}

	c := &Core{
		cfg:        cfg,
		logger:     s.logger,
		tracer:     s.tracer,
		gate:       s.gate,
		terminator: deps.Terminator,
	}
	if cfg.Metrics.Enabled {
		m, err := metrics.New(cfg.Metrics.Namespace, s.registerer)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}

	if s.sink != nil {
		c.sink = s.sink
	} else {
		sink, err := openSink(ctx, cfg.Postmortem)
		if err != nil {
			return nil, err
		}
		c.sink = sink
		if sink != nil {
			c.closeSink = sink.Close
		}
	}

	retryOpts := []recovery.Option{
		recovery.WithGate(c.gate),
		recovery.WithLogger(c.logger),
		recovery.WithMetrics(c.metrics),
		recovery.WithTracer(c.tracer),
	}
	if s.sleeper != nil {
		retryOpts = append(retryOpts, recovery.WithSleeper(s.sleeper))
	}

	chain, err := fallback.NewChain(deps.Memory, deps.Processes,
		fallback.WithPolicy(recovery.Policy{
			MaxAttempts: cfg.Fallback.AttemptsPerStrategy,
			BaseDelay:   cfg.Fallback.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		fallback.WithLogger(c.logger),
		fallback.WithMetrics(c.metrics),
		fallback.WithTracer(c.tracer),
		fallback.WithRetryOptions(retryOpts...),
	)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.chain = chain

	b := containment.NewBuilder(deps.Regions, deps.Firmware).
		WithConsent(deps.Consent).
		WithGate(c.gate).
		WithLogger(c.logger).
		WithMetrics(c.metrics).
		WithTracer(c.tracer).
		WithLatencyTarget(cfg.Handoff.LatencyTarget).
		WithPreserveConcurrency(cfg.Handoff.PreserveConcurrency).
		WithMaxRegions(cfg.Handoff.MaxRegions)
	if c.sink != nil {
		b = b.WithRecorder(c.sink)
	}
	for _, h := range s.handlers {
		b = b.OnStateChange(h)
	}
	ctrl, err := b.Build()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.controller = ctrl
	c.retryOpts = retryOpts

	c.logger.InfoContext(ctx, "faultcore: initialized",
		"postmortem", cfg.Postmortem.Backend,
		"max_attempts", cfg.Retry.MaxAttempts,
		"metrics", cfg.Metrics.Enabled,
	)
	return c, nil
}

func openSink(ctx context.Context, cfg PostmortemConfig) (postmortem.Sink, error) {
	switch cfg.Backend {
	case BackendRedis:
		s, err := postmortem.NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMinIO:
		s, err := postmortem.NewObjectSink(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendNone:
		return nil, nil
	}
	return postmortem.NewMemorySink(cfg.MemoryCapacity), nil
}

// Config returns the configuration the core was built with.
func (c *Core) Config() Config { return c.cfg }

// Controller returns the crash containment controller.
func (c *Core) Controller() *containment.Controller { return c.controller }

// Gate returns the admission gate.
func (c *Core) Gate() *quiesce.Gate { return c.gate }

// Sink returns the postmortem sink, or nil when recording is disabled.
func (c *Core) Sink() postmortem.Sink { return c.sink }

// Metrics returns the metrics, or nil when disabled.
func (c *Core) Metrics() *metrics.Metrics { return c.metrics }

// Close releases the postmortem backend if the core opened it.
func (c *Core) Close() error {
	if c.closeSink == nil {
		return nil
	}
	return c.closeSink()
}

// RetryOptions returns the options the core passes to every retry loop,
// for callers driving [recovery.Do] or resource handles directly.
func (c *Core) RetryOptions() []recovery.Option {
	return append([]recovery.Option(nil), c.retryOpts...)
}

// Retry runs op under the configured retry policy with the core's gate,
// logger, metrics and tracer.
func Retry[T any](ctx context.Context, c *Core, name string, op recovery.Operation[T]) (T, error) {
	opts := append(c.RetryOptions(), recovery.WithOperation(name))
	return recovery.Do(ctx, c.cfg.Retry.Policy(), op, opts...)
}

// Acquire runs the allocation fallback chain. When every strategy fails
// the out-of-memory error is returned wrapped as exhausted, which is what
// makes it eligible for escalation in [Core.Handle].
func (c *Core) Acquire(ctx context.Context, req fallback.Request) (fallback.Outcome, error) {
	out, err := c.chain.Acquire(ctx, req)
	if err != nil && out.Strategy == fallback.StrategyEmergencyFail {
		return out, kerr.Exhausted(err, len(out.Failures)).WithContext("mm.acquire", len(out.Failures)-1)
	}
	return out, err
}
