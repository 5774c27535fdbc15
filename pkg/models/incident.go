// Package models defines the records the fault core persists for
// postmortem analysis.
//
// Incident Model:
//
// An [Incident] is created when crash containment accepts a fatal failure
// and is updated once the handoff resolves. It records the originating
// cause, which steps ran, and which processes were terminated or spared,
// so that an operator can reconstruct a failure-of-failure after the
// machine restarts.
//
// An Incident flows through a small lifecycle:
//
//	pending → handoff_complete
//	        → hard_halt
//
// Both outcomes are terminal. The [Incident.IsTerminal] method identifies
// them.
package models

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// IncidentSchemaVersion identifies the current schema version of the
// Incident model. Increment it on breaking changes to the JSON layout so
// stored reports from older kernels can still be told apart.
const IncidentSchemaVersion = 1

// IncidentOutcome is the resolution of an incident.
type IncidentOutcome string

const (
	// IncidentPending indicates the handoff is still in progress. This is
	// the initial outcome set by [NewIncident].
	IncidentPending IncidentOutcome = "pending"

	// IncidentHandoffComplete indicates the standby kernel took over with
	// user memory preserved. This is a terminal outcome.
	IncidentHandoffComplete IncidentOutcome = "handoff_complete"

	// IncidentHardHalt indicates the handoff could not complete and the
	// machine halted. This is a terminal outcome.
	IncidentHardHalt IncidentOutcome = "hard_halt"
)

// String returns the string representation of the outcome.
func (o IncidentOutcome) String() string {
	return string(o)
}

// Valid reports whether the outcome is one of the recognized values.
func (o IncidentOutcome) Valid() bool {
	switch o {
	case IncidentPending, IncidentHandoffComplete, IncidentHardHalt:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the outcome is final.
func (o IncidentOutcome) IsTerminal() bool {
	return o == IncidentHandoffComplete || o == IncidentHardHalt
}

// Incident is the postmortem record of one crash containment attempt.
type Incident struct {
	// ID is the unique identifier of the incident (UUID v4).
	ID string `json:"id"`

	// SchemaVersion is [IncidentSchemaVersion] at the time of writing.
	SchemaVersion int `json:"schema_version"`

	// Code is the taxonomy code of the originating failure, underneath any
	// retry-exhausted wrapper.
	Code string `json:"code"`

	// Subsystem is the subsystem that raised the originating failure.
	Subsystem string `json:"subsystem"`

	// Operation is the logical operation that failed, if known.
	Operation string `json:"operation,omitempty"`

	// Cause is the full error text of the originating failure.
	Cause string `json:"cause"`

	// Errno is the external failure code of the originating failure.
	Errno int `json:"errno"`

	// Outcome is the resolution of the incident.
	Outcome IncidentOutcome `json:"outcome"`

	// FailedStep names the handoff step that forced a hard halt. Empty
	// unless Outcome is hard_halt.
	FailedStep string `json:"failed_step,omitempty"`

	// StepError is the error reported by FailedStep.
	StepError string `json:"step_error,omitempty"`

	// Regions is the number of non-kernel memory regions found, and
	// Preserved the number successfully snapshotted.
	Regions   int `json:"regions"`
	Preserved int `json:"preserved"`

	// ConsentRequired records whether terminations needed user consent.
	ConsentRequired bool `json:"consent_required"`

	// Terminated and Spared list the PIDs killed as a consequence of the
	// failure and those kept alive because consent was withheld.
	Terminated []int `json:"terminated,omitempty"`
	Spared     []int `json:"spared,omitempty"`

	// StartTime is when containment accepted the failure.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the incident reached a terminal outcome.
	EndTime *time.Time `json:"end_time,omitempty"`

	// Metadata carries extra diagnostics, such as the fallback strategy
	// failures that preceded the escalation.
	Metadata map[string]any `json:"metadata"`
}

// NewIncident creates a pending incident for cause with a generated UUID
// and a UTC start time.
func NewIncident(cause error) (*Incident, error) {
	if cause == nil {
		return nil, errors.New("models: incident cause must not be nil")
	}
	inc := &Incident{
		ID:            uuid.New().String(),
		SchemaVersion: IncidentSchemaVersion,
		Cause:         cause.Error(),
		Errno:         int(kerr.ErrnoOf(cause)),
		Outcome:       IncidentPending,
		StartTime:     time.Now().UTC(),
		Metadata:      make(map[string]any),
	}
	if root, ok := kerr.RootCause(cause); ok {
		inc.Code = root.Code.String()
		inc.Subsystem = string(root.Code.Subsystem())
		inc.Operation = root.Context.Operation
		inc.Errno = int(root.Errno())
		for k, v := range root.Details {
			inc.Metadata[k] = v
		}
	}
	return inc, nil
}

// Clone returns a copy of the incident that shares no slices, map or time
// pointer with the original. Metadata values themselves are not copied.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Terminated = slices.Clone(i.Terminated)
	cp.Spared = slices.Clone(i.Spared)
	cp.Metadata = maps.Clone(i.Metadata)
	if i.EndTime != nil {
		end := *i.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// Resolve records a terminal outcome and stamps the end time. Resolving an
// incident twice is an error.
func (i *Incident) Resolve(outcome IncidentOutcome) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("models: %q is not a terminal incident outcome", outcome)
	}
	if i.Outcome.IsTerminal() {
		return fmt.Errorf("models: incident %s already resolved as %q", i.ID, i.Outcome)
	}
	now := time.Now().UTC()
	i.Outcome = outcome
	i.EndTime = &now
	return nil
}

// Validate checks that required fields are present and consistent.
func (i *Incident) Validate() error {
	if i.ID == "" {
		return errors.New("models: incident ID is required")
	}
	if i.Cause == "" {
		return errors.New("models: incident cause is required")
	}
	if !i.Outcome.Valid() {
		return fmt.Errorf("models: invalid incident outcome %q", i.Outcome)
	}
	if i.StartTime.IsZero() {
		return errors.New("models: incident start time is required")
	}
	if i.Outcome.IsTerminal() && i.EndTime == nil {
		return fmt.Errorf("models: resolved incident %s has no end time", i.ID)
	}
	if i.Outcome == IncidentHardHalt && i.FailedStep == "" {
		return errors.New("models: hard halt incident must name the failed step")
	}
	if i.Preserved > i.Regions {
		return fmt.Errorf("models: preserved regions (%d) exceed regions found (%d)", i.Preserved, i.Regions)
	}
	return nil
}

// IsTerminal reports whether the incident has been resolved.
func (i *Incident) IsTerminal() bool {
	return i.Outcome.IsTerminal()
}

// Duration returns the time from acceptance to resolution, or to now if
// the incident is still pending. Returns zero if StartTime is zero.
func (i *Incident) Duration() time.Duration {
	if i.StartTime.IsZero() {
		return 0
	}
	if i.EndTime != nil {
		return i.EndTime.Sub(i.StartTime)
	}
	return time.Since(i.StartTime)
}
