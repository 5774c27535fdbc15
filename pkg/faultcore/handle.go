package faultcore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-faultcore/pkg/containment"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// Failure is an error that reached the top of a kernel operation.
type Failure struct {
	// Err is the failure. A nil Err is a no-op.
	Err error

	// Owner is the process that issued the failing operation, or 0 for
	// kernel-internal work.
	Owner int

	// Exhausted marks a failure whose local retry and fallback paths are
	// already used up. Errors carrying CORE_001, and fatal failures with no
	// local fallback such as a hardware failure, are treated as exhausted
	// without it.
	Exhausted bool

	// Victims are the processes that must die if the failure escalates.
	Victims []int
}

// Disposition reports what [Core.Handle] did with a failure.
type Disposition struct {
	Decision kerr.Decision

	// Terminated is the owner killed for a TerminateOwner decision.
	Terminated int

	// Escalation is set when the failure went to crash containment.
	Escalation *containment.Result
}

// Handle classifies f once and applies the resulting decision:
//
//   - LogAndContinue: logged and absorbed; Handle returns nil.
//   - Propagate: the error is returned unchanged.
//   - TerminateOwner: the owner is terminated with the error as cause and
//     Handle returns nil. Without a terminator or an owner, the error is
//     returned.
//   - Retryable: returned unchanged; retrying is the caller's job through
//     [Retry].
//   - Fatal: escalated to containment if local recovery is exhausted,
//     otherwise returned unchanged. Only out-of-memory has a local path
//     (the fallback chain); other fatal failures escalate immediately.
//
// An exhausted error whose root cause is fatal counts as Fatal.
func (c *Core) Handle(ctx context.Context, f Failure) (Disposition, error) {
	if f.Err == nil {
		return Disposition{Decision: kerr.DecisionLogAndContinue}, nil
	}

	exhausted := f.Exhausted || kerr.IsExhausted(f.Err)
	decision := kerr.Decide(f.Err)
	root, ok := kerr.RootCause(f.Err)
	if ok && kerr.IsFatal(root) && !kerr.HasLocalFallback(root.Code) {
		exhausted = true
	}
	if ok && exhausted && kerr.IsFatal(root) {
		decision = kerr.DecisionFatal
	}
	var subsystem kerr.Subsystem
	if ok {
		subsystem = root.Code.Subsystem()
	}

	ctx, span := c.tracer.Start(ctx, "faultcore.Handle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("fault.decision", decision.String()),
			attribute.String("fault.code", kerr.GetCode(f.Err).String()),
			attribute.Int("fault.owner", f.Owner),
			attribute.Bool("fault.exhausted", exhausted),
		),
	)
	defer span.End()
	c.metrics.IncrementDecision(decision.String(), string(subsystem))

	d := Disposition{Decision: decision}
	var err error
	switch decision {
	case kerr.DecisionLogAndContinue:
		c.logger.WarnContext(ctx, "faultcore: failure absorbed",
			"code", kerr.GetCode(f.Err),
			"subsystem", subsystem,
			"owner", f.Owner,
			"error", f.Err,
		)

	case kerr.DecisionTerminateOwner:
		d.Terminated, err = c.terminateOwner(ctx, f)

	case kerr.DecisionFatal:
		if !exhausted {
			err = f.Err
			break
		}
		if st := c.controller.State(); st != containment.StateRunning {
			c.logger.ErrorContext(ctx, "faultcore: containment already ran, not escalating",
				"code", kerr.GetCode(f.Err),
				"state", st,
			)
			err = f.Err
			break
		}
		victims := make([]containment.PID, len(f.Victims))
		for i, v := range f.Victims {
			victims[i] = containment.PID(v)
		}
		res, escErr := c.controller.Escalate(ctx, containment.Incident{
			Cause:     f.Err,
			Exhausted: true,
			Victims:   victims,
		})
		d.Escalation = &res
		err = escErr

	default:
		err = f.Err
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return d, err
}

func (c *Core) terminateOwner(ctx context.Context, f Failure) (int, error) {
	if c.terminator == nil || f.Owner <= 0 {
		c.logger.WarnContext(ctx, "faultcore: no owner to terminate, propagating",
			"code", kerr.GetCode(f.Err),
			"owner", f.Owner,
		)
		return 0, f.Err
	}
	if err := c.terminator.Terminate(ctx, f.Owner, f.Err); err != nil {
		c.logger.ErrorContext(ctx, "faultcore: owner termination failed",
			"code", kerr.GetCode(f.Err),
			"pid", f.Owner,
			"error", err,
		)
		if e, ok := kerr.AsError(f.Err); ok {
			return 0, e.WithDetail("terminate_error", err.Error())
		}
		return 0, f.Err
	}
	c.logger.WarnContext(ctx, "faultcore: owner terminated",
		"code", kerr.GetCode(f.Err),
		"pid", f.Owner,
	)
	return f.Owner, nil
}
