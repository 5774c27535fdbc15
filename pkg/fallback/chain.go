// Package fallback implements the canonical out-of-memory policy: an
// ordered chain of allocation strategies tried until one succeeds.
//
// The chain is Primary, SwapOut, ReclaimFromLowPriority, EmergencyFail. A
// later strategy runs only after the one before it failed. Each strategy
// is wrapped in the retry orchestrator so a transient failure is retried
// before the chain moves on. Reaching EmergencyFail returns an ordinary
// out-of-memory error; the chain never panics and never escalates on its
// own. Whether that error is fatal is the caller's decision.
package fallback

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/faultinject"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

const tracerName = "github.com/StricklySoft/stricklysoft-faultcore/pkg/fallback"

// DefaultStrategyAttempts is the retry budget of each strategy.
const DefaultStrategyAttempts = 2

// Chain runs the allocation strategies. A Chain is safe for concurrent
// use; it holds no mutable state of its own.
type Chain struct {
	mm     MemoryManager
	procs  ProcessTable
	policy recovery.Policy

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	retry   []recovery.Option
}

// Option configures a [Chain].
type Option func(*Chain)

// WithPolicy sets the retry policy applied to each strategy.
func WithPolicy(p recovery.Policy) Option {
	return func(c *Chain) { c.policy = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records which strategy resolved each request.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) { c.metrics = m }
}

// WithTracer sets the tracer. The default is the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Chain) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithRetryOptions passes options through to every strategy's retry loop,
// for example a custom sleeper or admission gate.
func WithRetryOptions(opts ...recovery.Option) Option {
	return func(c *Chain) { c.retry = append(c.retry, opts...) }
}

// NewChain creates a chain over the given collaborators.
func NewChain(mm MemoryManager, procs ProcessTable, opts ...Option) (*Chain, error) {
	if mm == nil {
		return nil, kerr.InvalidParam("fallback: memory manager must not be nil")
	}
	if procs == nil {
		return nil, kerr.InvalidParam("fallback: process table must not be nil")
	}
	c := &Chain{
		mm:    mm,
		procs: procs,
		policy: recovery.Policy{
			MaxAttempts: DefaultStrategyAttempts,
			BaseDelay:   recovery.DefaultBaseDelay,
			MaxDelay:    recovery.DefaultMaxDelay,
		},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Acquire satisfies req with the first strategy that succeeds.
//
// The returned Outcome always lists the failures of the strategies tried
// before the successful one. When every strategy fails, Acquire returns an
// Outcome with StrategyEmergencyFail and a [kerr.CodeOutOfMemory] error
// whose cause is the last strategy failure.
//
// If the caller's context ends or admission closes for a kernel handoff,
// Acquire stops at once and returns that error instead of moving on to a
// more destructive strategy.
func (c *Chain) Acquire(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "fallback.Acquire",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("alloc.kind", req.Kind),
			attribute.Int("alloc.pages", req.Pages),
			attribute.Int("alloc.requester", int(req.Requester)),
		),
	)
	defer span.End()

	var out Outcome
	if req.Pages <= 0 {
		err := kerr.Newf(kerr.CodeInvalidParam, "fallback: pages must be positive, got %d", req.Pages)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}

	for _, s := range Strategies() {
		if s == StrategyEmergencyFail {
			break
		}
		g, victim, err := c.run(ctx, s, req)
		if err == nil {
			out.Grant = g
			out.Strategy = s
			out.Victim = victim
			c.resolved(ctx, span, req, out)
			return out, nil
		}
		out.Failures = append(out.Failures, Failure{Strategy: s, Err: err})
		if abandoned(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		c.logger.DebugContext(ctx, "fallback: strategy failed",
			"strategy", s.String(),
			"kind", req.Kind,
			"code", kerr.GetCode(err),
		)
	}

	out.Strategy = StrategyEmergencyFail
	c.metrics.IncrementFallback(StrategyEmergencyFail.String())

	last := out.Failures[len(out.Failures)-1].Err
	err := kerr.Wrapf(last, kerr.CodeOutOfMemory,
		"fallback: every strategy failed for %d pages of %s", req.Pages, req.Kind).
		WithContext("mm.acquire", 0).
		WithDetail("failures", failureCodes(out.Failures))

	c.logger.ErrorContext(ctx, "fallback: allocation failed, emergency fail",
		"kind", req.Kind,
		"pages", req.Pages,
		"requester", int(req.Requester),
		"failures", failureCodes(out.Failures),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return out, err
}

// run executes one strategy under the retry orchestrator.
func (c *Chain) run(ctx context.Context, s Strategy, req Request) (Grant, *Process, error) {
	opts := make([]recovery.Option, 0, len(c.retry)+3)
	opts = append(opts,
		recovery.WithOperation("fallback."+s.String()),
		recovery.WithLogger(c.logger),
		recovery.WithTracer(c.tracer),
	)
	opts = append(opts, c.retry...)

	switch s {
	case StrategyPrimary:
		g, err := recovery.Do(ctx, c.policy, func(ctx context.Context, _ int) (Grant, error) {
			if faultinject.Active(faultinject.AllocPrimary) {
				return Grant{}, kerr.New(kerr.CodeOutOfMemory, "injected primary allocation failure")
			}
			return c.mm.Allocate(ctx, req)
		}, opts...)
		return g, nil, err

	case StrategySwapOut:
		g, err := recovery.Do(ctx, c.policy, func(ctx context.Context, _ int) (Grant, error) {
			if faultinject.Active(faultinject.AllocSwapOut) {
				return Grant{}, kerr.New(kerr.CodeOutOfMemory, "injected swap-out failure")
			}
			return c.mm.SwapOut(ctx, req)
		}, opts...)
		return g, nil, err

	case StrategyReclaim:
		snapshot, err := c.procs.VictimSnapshot(ctx)
		if err != nil {
			return Grant{}, nil, err
		}
		victim, ok := SelectVictim(snapshot, req.Requester)
		if !ok {
			return Grant{}, nil, kerr.New(kerr.CodeOutOfMemory, "no terminable process to reclaim from").
				WithContext("fallback.reclaim", 0)
		}
		g, err := recovery.Do(ctx, c.policy, func(ctx context.Context, _ int) (Grant, error) {
			if faultinject.Active(faultinject.AllocReclaim) {
				return Grant{}, kerr.New(kerr.CodeOutOfMemory, "injected reclaim failure")
			}
			return c.mm.ReclaimFrom(ctx, victim, req)
		}, opts...)
		if err != nil {
			return Grant{}, nil, err
		}
		return g, &victim, nil
	}
	return Grant{}, nil, kerr.Newf(kerr.CodeInvalidParam, "fallback: unknown strategy %d", int(s))
}

// resolved logs and records a successful outcome. Anything past the
// primary strategy is a degradation worth a warning.
func (c *Chain) resolved(ctx context.Context, span trace.Span, req Request, out Outcome) {
	c.metrics.IncrementFallback(out.Strategy.String())
	span.SetAttributes(attribute.String("alloc.strategy", out.Strategy.String()))
	span.SetStatus(codes.Ok, "")

	switch out.Strategy {
	case StrategySwapOut:
		c.logger.WarnContext(ctx, "fallback: allocation satisfied by swap-out",
			"strategy", out.Strategy.String(),
			"kind", req.Kind,
			"pages", req.Pages,
		)
	case StrategyReclaim:
		c.logger.WarnContext(ctx, "fallback: allocation satisfied by reclaiming a low-priority process",
			"strategy", out.Strategy.String(),
			"kind", req.Kind,
			"pages", req.Pages,
			"pid", int(out.Victim.PID),
			"priority", out.Victim.Priority,
		)
	}
}

// abandoned reports whether the chain must stop rather than try a more
// destructive strategy.
func abandoned(err error) bool {
	return kerr.HasCode(err, kerr.CodeCanceled) || kerr.HasCode(err, kerr.CodeAdmissionClosed)
}
