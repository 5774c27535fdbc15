// Package recovery provides the generic retry primitive used wherever a
// subsystem has a transient failure mode, such as a saturated IPC channel
// or a busy device.
//
// [Do] runs a fallible operation, consults the error classification after
// every failure, and retries only failures classified as retryable. The
// suspension between attempts is a context-aware timer wait that holds no
// lock and yields to other goroutines. Once the attempt budget is spent,
// Do returns a [kerr.CodeExhausted] error wrapping the last failure, which
// is never itself retryable.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
)

const tracerName = "github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"

// Attempt outcome labels reported to metrics.
const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFail    = "fail"
)

// Operation is a fallible unit of work. attempt is the zero-based index of
// the current invocation.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Sleeper suspends the caller for d or until ctx is done, returning the
// context error in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default [Sleeper]. A non-positive duration still checks
// for cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type options struct {
	op      string
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	sleep   Sleeper
	gate    *quiesce.Gate
}

// Option configures a call to [Do].
type Option func(*options)

// WithOperation names the operation in errors, logs, spans and metrics.
func WithOperation(name string) Option {
	return func(o *options) { o.op = name }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records attempt outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer. The default is the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithSleeper replaces the suspension between attempts.
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithGate sets the admission gate consulted before the first attempt.
// The default is [quiesce.Global]. Passing nil disables the check.
func WithGate(g *quiesce.Gate) Option {
	return func(o *options) { o.gate = g }
}

// AdmissionGate returns the gate opts select for [Do], so callers that
// reach a driver outside Do consult the same one. nil means no gate.
func AdmissionGate(opts ...Option) *quiesce.Gate {
	return buildOptions(opts).gate
}

func buildOptions(opts []Option) options {
	o := options{
		op:     "anonymous",
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		sleep:  Sleep,
		gate:   quiesce.Global(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Do runs op under policy p.
//
// A nil error returns op's value. A failure that is not retryable,
// including any error outside the kernel taxonomy, is returned immediately
// with the attempt recorded in its context. A retryable failure suspends
// for p.Delay(attempt) and tries again, up to p.MaxAttempts invocations in
// total; the last retryable failure is then returned wrapped in a
// [kerr.CodeExhausted] error.
//
// Cancellation of ctx is checked before every invocation and during every
// suspension and yields a [kerr.CodeCanceled] error wrapping the context
// error. The code of the last failure seen, if any, is kept in the
// "last_code" detail.
func Do[T any](ctx context.Context, p Policy, op Operation[T], opts ...Option) (T, error) {
	var zero T
	if op == nil {
		return zero, kerr.InvalidParam("recovery: operation must not be nil")
	}
	if err := p.Validate(); err != nil {
		return zero, err
	}
	o := buildOptions(opts)

	ctx, span := o.tracer.Start(ctx, "recovery.Do",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("recovery.operation", o.op),
			attribute.Int("recovery.max_attempts", p.MaxAttempts),
		),
	)
	defer span.End()

	fail := func(err error) (T, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	if o.gate != nil {
		if err := o.gate.Admit(ctx); err != nil {
			return fail(err)
		}
	}

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(canceled(o.op, attempt, last, err))
		}

		v, err := op(ctx, attempt)
		if err == nil {
			o.metrics.ObserveAttempt(o.op, outcomeSuccess)
			span.SetAttributes(attribute.Int("recovery.attempts", attempt+1))
			span.SetStatus(codes.Ok, "")
			return v, nil
		}
		err = annotate(err, o.op, attempt)
		last = err

		if !kerr.IsRetryable(err) {
			o.metrics.ObserveAttempt(o.op, outcomeFail)
			return fail(err)
		}
		o.metrics.ObserveAttempt(o.op, outcomeRetry)

		if attempt == p.MaxAttempts-1 {
			break
		}

		d := p.Delay(attempt)
		o.logger.DebugContext(ctx, "recovery: retrying after transient failure",
			"operation", o.op,
			"attempt", attempt,
			"delay", d,
			"code", kerr.GetCode(err),
		)
		if serr := o.sleep(ctx, d); serr != nil {
			return fail(canceled(o.op, attempt, last, serr))
		}
	}

	o.metrics.IncrementExhausted(o.op)
	o.logger.WarnContext(ctx, "recovery: retry attempts exhausted",
		"operation", o.op,
		"attempts", p.MaxAttempts,
		"code", kerr.GetCode(last),
	)
	span.SetAttributes(attribute.Int("recovery.attempts", p.MaxAttempts))
	return fail(kerr.Exhausted(last, p.MaxAttempts).WithContext(o.op, p.MaxAttempts-1))
}

// annotate records the logical origin on taxonomy errors that do not yet
// carry one. Foreign errors pass through untouched.
func annotate(err error, op string, attempt int) error {
	e, ok := err.(*kerr.Error)
	if !ok || e.Context.Operation != "" {
		return err
	}
	return e.WithContext(op, attempt)
}

func canceled(op string, attempt int, last, ctxErr error) *kerr.Error {
	e := kerr.Canceled(ctxErr).WithContext(op, attempt)
	if last != nil {
		e = e.WithDetail("last_code", kerr.GetCode(last).String())
	}
	return e
}
