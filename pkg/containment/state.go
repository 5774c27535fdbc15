// Package containment is the last-resort controller that keeps a fatal
// kernel failure from halting the machine.
//
// # Handoff Lifecycle
//
// A [Controller] is a small finite state machine. The [State] type is its
// current position and every transition is validated against the
// [validTransitions] matrix:
//
//	Running → AttemptingHandoff → HandoffComplete
//	                            → HardHalt
//
// Running moves to AttemptingHandoff only for a failure that classifies as
// fatal and whose local retry and fallback paths are already exhausted.
// While attempting handoff the controller closes the admission gate,
// preserves every non-kernel memory region, settles which processes must
// die (asking the user unless the failure is on the consent bypass list),
// and transfers control to a standby kernel image. If any step cannot
// complete the controller moves to HardHalt, the only state allowed to stop
// the machine.
//
// # Thread Safety
//
// State is protected by a mutex and exactly one escalation can win the
// Running to AttemptingHandoff transition. Concurrent callers receive an
// admission-closed error.
//
// # OpenTelemetry Integration
//
// Escalations create an OpenTelemetry span named "containment.Escalate"
// under the scope
// "github.com/StricklySoft/stricklysoft-faultcore/pkg/containment".
package containment

// State is the containment state of the kernel.
type State string

const (
	// StateRunning is the normal state. The kernel accepts work and no
	// handoff is in progress.
	StateRunning State = "running"

	// StateAttemptingHandoff indicates a fatal failure was accepted and the
	// controller is quiescing, snapshotting and handing off.
	StateAttemptingHandoff State = "attempting_handoff"

	// StateHandoffComplete indicates the standby kernel took over with user
	// memory intact. This is a terminal state.
	StateHandoffComplete State = "handoff_complete"

	// StateHardHalt indicates the handoff was provably impossible and the
	// machine stopped. This is a terminal state.
	StateHardHalt State = "hard_halt"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized states.
func (s State) Valid() bool {
	switch s {
	case StateRunning, StateAttemptingHandoff, StateHandoffComplete, StateHardHalt:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateHandoffComplete || s == StateHardHalt
}

// validTransitions defines the allowed state transitions. Transitions not
// present are rejected by [ValidTransition].
//
//	Running           → AttemptingHandoff
//	AttemptingHandoff → HandoffComplete, HardHalt
var validTransitions = map[State][]State{
	StateRunning:           {StateAttemptingHandoff},
	StateAttemptingHandoff: {StateHandoffComplete, StateHardHalt},
}

// ValidTransition reports whether moving from one state to another is
// allowed. Same-state transitions are always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
