package containment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/faultinject"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
)

const tracerName = "github.com/StricklySoft/stricklysoft-faultcore/pkg/containment"

// Controller runs crash containment. Create one with [NewBuilder].
type Controller struct {
	// Collaborators and limits, set at construction, never modified.
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

	// Protected by mu.
	mu    sync.Mutex
	state State
	halt  *HaltReport
}

// State returns the current containment state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHalt returns the report of the hard halt, or nil if the controller
// has not halted.
func (c *Controller) LastHalt() *HaltReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halt
}

// setState validates and applies a transition, then notifies handlers
// under the lock so they observe transitions in order.
func (c *Controller) setState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	if !ValidTransition(from, to) {
		return kerr.Newf(kerr.CodeAdmissionClosed,
			"containment: invalid state transition from %q to %q", from, to)
	}
	c.state = to

	for _, h := range c.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("containment: state change handler panicked",
						"panic", r,
						"old_state", string(from),
						"new_state", string(to),
					)
				}
			}()
			h(from, to)
		}()
	}
	return nil
}

// Escalate attempts a warm kernel handoff for a fatal failure.
//
// The incident is rejected with an invalid-parameter error, and nothing
// changes, unless its root cause classifies as fatal and the caller has
// exhausted local recovery. Only one escalation can run; a second one
// receives an admission-closed error.
//
// The handoff runs to completion even if ctx is canceled or its deadline
// passes; ctx only supplies values such as the active trace.
//
// On success the result is in [StateHandoffComplete] and the error is nil.
// If any step fails the controller halts: the result is in [StateHardHalt]
// with a [HaltReport] carrying the original cause, and the returned error
// is a [kerr.CodeHandoffFailed] error wrapping that cause.
func (c *Controller) Escalate(ctx context.Context, inc Incident) (Result, error) {
	if inc.Cause == nil {
		return Result{State: c.State()}, kerr.InvalidParam("containment: incident has no cause")
	}
	root, ok := kerr.RootCause(inc.Cause)
	if !ok || !kerr.IsFatal(root) {
		return Result{State: c.State()}, kerr.Wrap(inc.Cause, kerr.CodeInvalidParam,
			"containment: only fatal failures may escalate")
	}
	if !inc.Exhausted {
		return Result{State: c.State()}, kerr.Wrap(inc.Cause, kerr.CodeInvalidParam,
			"containment: local recovery has not been exhausted")
	}
	record, err := models.NewIncident(inc.Cause)
	if err != nil {
		return Result{State: c.State()}, kerr.Wrap(err, kerr.CodeInvalidParam,
			"containment: cannot record incident")
	}
	if err := c.setState(StateAttemptingHandoff); err != nil {
		return Result{State: c.State()}, kerr.Wrap(err, kerr.CodeAdmissionClosed,
			"containment: a handoff has already been attempted")
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "containment.Escalate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("incident.id", record.ID),
			attribute.String("incident.code", root.Code.String()),
			attribute.Int("incident.victims", len(inc.Victims)),
		),
	)
	defer span.End()

	a := &attempt{
		c:      c,
		inc:    inc,
		root:   root,
		record: record,
		span:   span,
		start:  time.Now(),
		req: &HandoffRequest{
			ID:        record.ID,
			Reason:    inc.Cause,
			Regions:   make([]Region, 0, c.maxRegions),
			Terminate: make([]PID, 0, len(inc.Victims)),
			Spared:    make([]PID, 0, len(inc.Victims)),
		},
	}

	c.logger.ErrorContext(ctx, "containment: fatal failure, attempting kernel handoff",
		"incident_id", record.ID,
		"code", root.Code,
		"subsystem", root.Code.Subsystem(),
		"state", StateAttemptingHandoff,
	)
	return a.run(ctx)
}

// attempt is the working state of one escalation.
type attempt struct {
	c      *Controller
	inc    Incident
	root   *kerr.Error
	record *models.Incident
	span   trace.Span
	start  time.Time
	req    *HandoffRequest
}

func (a *attempt) run(ctx context.Context) (Result, error) {
	c := a.c

	if !c.gate.Quiesce() && c.gate.State() == quiesce.StateHalted {
		return a.halt(ctx, StepQuiesce, kerr.AdmissionClosed("admission gate already halted"))
	}

	if err := a.preserve(ctx); err != nil {
		return a.halt(ctx, StepPreserve, err)
	}

	a.settleVictims(ctx)

	if faultinject.Active(faultinject.StandbyImageMissing) || !c.fw.StandbyImageAvailable(ctx) {
		return a.halt(ctx, StepStandby, kerr.New(kerr.CodeHandoffFailed, "no standby kernel image available"))
	}

	if err := c.fw.Handoff(ctx, a.req); err != nil {
		return a.halt(ctx, StepHandoff, err)
	}
	return a.complete(ctx)
}

// preserve snapshots every non-kernel region. Any single failure fails
// the whole step.
func (a *attempt) preserve(ctx context.Context) error {
	c := a.c
	regions, err := c.mem.Regions(ctx)
	if err != nil {
		return err
	}
	for _, r := range regions {
		if r.Kernel {
			continue
		}
		if len(a.req.Regions) == cap(a.req.Regions) {
			return kerr.Newf(kerr.CodeHandoffFailed,
				"more than %d non-kernel regions to preserve", c.maxRegions)
		}
		a.req.Regions = append(a.req.Regions, r)
	}
	a.record.Regions = len(a.req.Regions)

	var preserved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, r := range a.req.Regions {
		g.Go(func() error {
			if faultinject.Active(faultinject.SnapshotFailure) {
				return kerr.Newf(kerr.CodeHandoffFailed, "injected snapshot failure at %#x", r.Base)
			}
			if err := c.mem.Preserve(gctx, r); err != nil {
				return kerr.Wrapf(err, kerr.CodeHandoffFailed,
					"preserving region %#x+%#x", r.Base, r.Size)
			}
			preserved.Add(1)
			return nil
		})
	}
	err = g.Wait()
	a.record.Preserved = int(preserved.Load())
	a.span.SetAttributes(attribute.Int("handoff.regions", a.record.Regions))
	return err
}

// settleVictims decides which victims die. Failures on the bypass list
// terminate every victim. Otherwise each needs the user's consent, and a
// victim whose consent is declined or cannot be obtained is spared.
func (a *attempt) settleVictims(ctx context.Context) {
	c := a.c
	if len(a.inc.Victims) == 0 {
		return
	}
	if BypassesConsent(a.root.Code) {
		a.req.Terminate = append(a.req.Terminate, a.inc.Victims...)
		c.logger.WarnContext(ctx, "containment: terminating victims without consent",
			"incident_id", a.record.ID,
			"code", a.root.Code,
			"victims", len(a.inc.Victims),
		)
	} else {
		a.req.ConsentRequired = true
		for _, pid := range a.inc.Victims {
			if a.confirm(ctx, pid) {
				a.req.Terminate = append(a.req.Terminate, pid)
			} else {
				a.req.Spared = append(a.req.Spared, pid)
			}
		}
	}

	a.record.ConsentRequired = a.req.ConsentRequired
	for _, pid := range a.req.Terminate {
		a.record.Terminated = append(a.record.Terminated, int(pid))
	}
	for _, pid := range a.req.Spared {
		a.record.Spared = append(a.record.Spared, int(pid))
	}
}

func (a *attempt) confirm(ctx context.Context, pid PID) bool {
	if a.c.consent == nil {
		return false
	}
	ok, err := a.c.consent.Confirm(ctx, pid, a.inc.Cause)
	if err != nil {
		a.c.logger.WarnContext(ctx, "containment: consent prompt failed, sparing process",
			"incident_id", a.record.ID,
			"pid", int(pid),
			"error", err,
		)
		return false
	}
	return ok
}

func (a *attempt) complete(ctx context.Context) (Result, error) {
	c := a.c
	d := time.Since(a.start)
	a.transition(ctx, StateHandoffComplete)
	c.gate.Resume()
	a.resolve(ctx, models.IncidentHandoffComplete)

	c.metrics.ObserveHandoff(string(StateHandoffComplete), d)
	c.logger.InfoContext(ctx, "containment: kernel handoff complete",
		"incident_id", a.record.ID,
		"state", StateHandoffComplete,
		"regions", len(a.req.Regions),
		"terminated", len(a.req.Terminate),
		"duration", d,
	)
	if d > c.latencyTarget {
		c.logger.WarnContext(ctx, "containment: handoff exceeded latency target",
			"incident_id", a.record.ID,
			"duration", d,
			"target", c.latencyTarget,
		)
	}
	c.persist(ctx, a.record)

	a.span.SetAttributes(attribute.String("handoff.state", string(StateHandoffComplete)))
	a.span.SetStatus(codes.Ok, "")
	return Result{State: StateHandoffComplete, Request: a.req, Incident: a.record, Duration: d}, nil
}

func (a *attempt) halt(ctx context.Context, step Step, stepErr error) (Result, error) {
	c := a.c
	d := time.Since(a.start)
	report := &HaltReport{
		IncidentID: a.record.ID,
		Cause:      a.inc.Cause,
		Step:       step,
		StepErr:    stepErr,
		Duration:   d,
	}

	a.transition(ctx, StateHardHalt)
	c.mu.Lock()
	c.halt = report
	c.mu.Unlock()
	c.gate.Halt()

	a.record.FailedStep = string(step)
	a.record.StepError = stepErr.Error()
	a.resolve(ctx, models.IncidentHardHalt)

	c.metrics.ObserveHandoff(string(StateHardHalt), d)
	c.logger.ErrorContext(ctx, "containment: handoff impossible, hard halt",
		"incident_id", a.record.ID,
		"state", StateHardHalt,
		"step", string(step),
		"cause", a.inc.Cause,
		"error", stepErr,
	)
	c.persist(ctx, a.record)

	err := kerr.Wrapf(a.inc.Cause, kerr.CodeHandoffFailed,
		"containment: hard halt at %s step", step).
		WithDetail("step", string(step)).
		WithDetail("incident_id", a.record.ID)
	a.span.RecordError(stepErr)
	a.span.SetAttributes(attribute.String("handoff.state", string(StateHardHalt)))
	a.span.SetStatus(codes.Error, err.Error())
	return Result{State: StateHardHalt, Request: a.req, Halt: report, Incident: a.record, Duration: d}, err
}

// transition moves the controller out of StateAttemptingHandoff. This
// attempt holds that state exclusively, so a refusal means the state
// machine was corrupted; it is logged and the outcome stands.
func (a *attempt) transition(ctx context.Context, to State) {
	if err := a.c.setState(to); err != nil {
		a.c.logger.ErrorContext(ctx, "containment: state transition refused",
			"incident_id", a.record.ID,
			"to", to,
			"error", err,
		)
		a.span.RecordError(err)
	}
}

func (a *attempt) resolve(ctx context.Context, outcome models.IncidentOutcome) {
	if err := a.record.Resolve(outcome); err != nil {
		a.c.logger.ErrorContext(ctx, "containment: failed to resolve incident record",
			"incident_id", a.record.ID,
			"outcome", outcome,
			"error", err,
		)
	}
}

// persist hands the record to the recorder. The escalation outcome is
// already decided, so a recorder failure is only logged.
func (c *Controller) persist(ctx context.Context, rec *models.Incident) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.WarnContext(ctx, "containment: failed to record incident",
			"incident_id", rec.ID,
			"error", err,
		)
	}
}
