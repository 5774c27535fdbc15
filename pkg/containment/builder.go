package containment

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
)

// Defaults applied by [Builder.Build].
const (
	DefaultLatencyTarget       = 50 * time.Millisecond
	DefaultPreserveConcurrency = 4
	DefaultMaxRegions          = 256
)

// StateChangeHandler is called on every controller transition. Handlers
// run synchronously under the state mutex; they must not call back into
// the controller. A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Builder constructs a [Controller]. The memory map and firmware are
// required; everything else has a default.
//
// Example:
//
//	ctrl, err := containment.NewBuilder(memMap, firmware).
//	    WithConsent(console).
//	    WithRecorder(sink).
//	    OnStateChange(func(old, new containment.State) {
//	        slog.Info("containment", "from", old, "to", new)
//	    }).
//	    Build()
type Builder struct {
	mem      MemoryMap
	fw       Firmware
	consent  ConsentPrompt
	recorder Recorder
	gate     *quiesce.Gate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	latencyTarget time.Duration
	concurrency   int
	maxRegions    int
	handlers      []StateChangeHandler
}

// NewBuilder starts a builder over the required collaborators.
func NewBuilder(mem MemoryMap, fw Firmware) *Builder {
	return &Builder{mem: mem, fw: fw}
}

// WithConsent sets the prompt used before terminating victims. Without
// one, every victim whose failure is not on the bypass list is spared.
func (b *Builder) WithConsent(p ConsentPrompt) *Builder {
	b.consent = p
	return b
}

// WithRecorder sets where incident records are persisted.
func (b *Builder) WithRecorder(r Recorder) *Builder {
	b.recorder = r
	return b
}

// WithGate sets the admission gate to quiesce. The default is
// [quiesce.Global].
func (b *Builder) WithGate(g *quiesce.Gate) *Builder {
	b.gate = g
	return b
}

// WithLogger sets the logger. The default is slog.Default().
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics records handoff outcomes and latency.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithTracer sets the tracer. The default is the global tracer provider.
func (b *Builder) WithTracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// WithLatencyTarget sets the handoff duration above which a warning is
// logged. Exceeding it never changes the outcome.
func (b *Builder) WithLatencyTarget(d time.Duration) *Builder {
	b.latencyTarget = d
	return b
}

// WithPreserveConcurrency bounds how many regions are snapshotted at once.
func (b *Builder) WithPreserveConcurrency(n int) *Builder {
	b.concurrency = n
	return b
}

// WithMaxRegions bounds the region list of a handoff request. The request
// is sized once up front so the handoff path does not grow it.
func (b *Builder) WithMaxRegions(n int) *Builder {
	b.maxRegions = n
	return b
}

// OnStateChange registers a handler called on every transition, in
// registration order.
func (b *Builder) OnStateChange(h StateChangeHandler) *Builder {
	b.handlers = append(b.handlers, h)
	return b
}

// Build validates the configuration and returns a controller in
// [StateRunning].
func (b *Builder) Build() (*Controller, error) {
	if b.mem == nil {
		return nil, kerr.InvalidParam("containment: memory map must not be nil")
	}
	if b.fw == nil {
		return nil, kerr.InvalidParam("containment: firmware must not be nil")
	}
	if b.concurrency < 0 || b.maxRegions < 0 || b.latencyTarget < 0 {
		return nil, kerr.InvalidParam("containment: limits must not be negative")
	}

	c := &Controller{
		mem:           b.mem,
		fw:            b.fw,
		consent:       b.consent,
		recorder:      b.recorder,
		gate:          b.gate,
		logger:        b.logger,
		metrics:       b.metrics,
		tracer:        b.tracer,
		latencyTarget: b.latencyTarget,
		concurrency:   b.concurrency,
		maxRegions:    b.maxRegions,
		state:         StateRunning,
		handlers:      append([]StateChangeHandler(nil), b.handlers...),
	}
	if c.gate == nil {
		c.gate = quiesce.Global()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.latencyTarget == 0 {
		c.latencyTarget = DefaultLatencyTarget
	}
	if c.concurrency == 0 {
		c.concurrency = DefaultPreserveConcurrency
	}
	if c.maxRegions == 0 {
		c.maxRegions = DefaultMaxRegions
	}
	return c, nil
}
