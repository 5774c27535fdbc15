package containment

import (
	"context"
	"time"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
)

// PID identifies a user process.
type PID int

// Region is a contiguous range of physical memory.
type Region struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`

	// Owner is the process the region belongs to, or zero for shared
	// memory.
	Owner PID `json:"owner,omitempty"`

	// Kernel marks the kernel's own reserved region, which is not
	// preserved across a handoff.
	Kernel bool `json:"kernel,omitempty"`
}

// Incident is a fatal failure presented to the controller.
type Incident struct {
	// Cause is the failure. Its root taxonomy error must classify as fatal.
	Cause error

	// Exhausted is set by the caller once every retry and fallback path for
	// the failure has been tried.
	Exhausted bool

	// Victims are the processes that must be killed as a consequence of
	// the failure, such as the owner of a faulted device queue.
	Victims []PID
}

// Step names a phase of the handoff sequence. A [HaltReport] names the step
// that failed.
type Step string

const (
	StepQuiesce  Step = "quiesce"
	StepPreserve Step = "preserve"
	StepConsent  Step = "consent"
	StepStandby  Step = "standby"
	StepHandoff  Step = "handoff"
)

// HandoffRequest describes a pending kernel replacement. It is created
// only by the controller and lives for one attempt.
type HandoffRequest struct {
	// ID identifies the attempt; it matches the incident record ID.
	ID string `json:"id"`

	// Reason is the originating failure.
	Reason error `json:"-"`

	// Regions lists every non-kernel region that was preserved.
	Regions []Region `json:"regions"`

	// ConsentRequired is true when the terminations below needed the
	// user's explicit agreement.
	ConsentRequired bool `json:"consent_required"`

	// Terminate lists processes the standby kernel must not resume.
	Terminate []PID `json:"terminate,omitempty"`

	// Spared lists victims the user chose to keep. They are resumed by the
	// standby kernel like any other process.
	Spared []PID `json:"spared,omitempty"`
}

// HaltReport preserves the originating cause of a hard halt for
// postmortem.
type HaltReport struct {
	IncidentID string
	Cause      error
	Step       Step
	StepErr    error
	Duration   time.Duration
}

// Result reports how an escalation resolved.
type Result struct {
	State    State
	Request  *HandoffRequest
	Halt     *HaltReport
	Incident *models.Incident
	Duration time.Duration
}

// MemoryMap enumerates and snapshots physical memory. Preserve must be
// safe to call concurrently for distinct regions and must not allocate
// through the fallback chain.
type MemoryMap interface {
	Regions(ctx context.Context) ([]Region, error)
	Preserve(ctx context.Context, r Region) error
}

// ConsentPrompt asks the user whether a process may be terminated.
type ConsentPrompt interface {
	Confirm(ctx context.Context, pid PID, reason error) (bool, error)
}

// Firmware is the boot layer holding the standby kernel image.
type Firmware interface {
	StandbyImageAvailable(ctx context.Context) bool
	Handoff(ctx context.Context, req *HandoffRequest) error
}

// Recorder persists incident records. Failures to record are logged and
// never change the outcome of an escalation.
type Recorder interface {
	Record(ctx context.Context, inc *models.Incident) error
}

// bypassConsent lists the failures whose victims are terminated without
// asking. It holds only device hardware failure, where the victims' device
// state is unsalvageable. Out-of-memory is not on the list, even after the
// fallback chain is exhausted.
var bypassConsent = map[kerr.Code]struct{}{
	kerr.CodeHardwareFailure: {},
}

// BypassesConsent reports whether victims of a failure with code c are
// terminated without user consent.
func BypassesConsent(c kerr.Code) bool {
	_, ok := bypassConsent[c]
	return ok
}
