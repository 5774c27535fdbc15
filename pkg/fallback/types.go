package fallback

import (
	"context"
	"time"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// Strategy is one step of the allocation fallback chain. Strategies run
// strictly in declaration order.
type Strategy int

const (
	// StrategyPrimary allocates from free memory.
	StrategyPrimary Strategy = iota
	// StrategySwapOut frees memory by paging out cold pages.
	StrategySwapOut
	// StrategyReclaim terminates a low-priority victim and takes its memory.
	StrategyReclaim
	// StrategyEmergencyFail gives up and reports out-of-memory.
	StrategyEmergencyFail
)

// Strategies returns every strategy in the order the chain tries them.
func Strategies() []Strategy {
	return []Strategy{StrategyPrimary, StrategySwapOut, StrategyReclaim, StrategyEmergencyFail}
}

// String returns the strategy name used in logs and metrics labels.
func (s Strategy) String() string {
	switch s {
	case StrategyPrimary:
		return "primary"
	case StrategySwapOut:
		return "swap_out"
	case StrategyReclaim:
		return "reclaim"
	case StrategyEmergencyFail:
		return "emergency_fail"
	}
	return "unknown"
}

// PID identifies a process.
type PID int

// Request describes the memory being acquired.
type Request struct {
	// Kind names the consumer (e.g., "page_table", "user_heap").
	Kind string `json:"kind"`

	// Pages is the number of pages requested.
	Pages int `json:"pages"`

	// Requester is the process the memory is for. The requester is never
	// chosen as a reclaim victim. Zero means the kernel itself.
	Requester PID `json:"requester"`
}

// Grant is memory handed out by the memory manager.
type Grant struct {
	Base  uint64 `json:"base"`
	Pages int    `json:"pages"`
}

// Process is one entry of a victim snapshot.
type Process struct {
	PID PID `json:"pid"`

	// Priority is the scheduling priority. Lower values are less important
	// and are reclaimed first.
	Priority int `json:"priority"`

	// LastRun is when the process last held a CPU.
	LastRun time.Time `json:"last_run"`

	// Terminable is false for processes that must never be killed, such as
	// init or a driver host.
	Terminable bool `json:"terminable"`
}

// MemoryManager performs the allocation strategies. Implementations return
// taxonomy errors; a failure classified retryable is retried before the
// chain moves on.
type MemoryManager interface {
	Allocate(ctx context.Context, req Request) (Grant, error)
	SwapOut(ctx context.Context, req Request) (Grant, error)
	ReclaimFrom(ctx context.Context, victim Process, req Request) (Grant, error)
}

// ProcessTable is the process manager's view used for victim selection.
// VictimSnapshot must return a consistent copy taken under the process
// manager's own locking.
type ProcessTable interface {
	VictimSnapshot(ctx context.Context) ([]Process, error)
}

// Failure records why one strategy did not satisfy a request.
type Failure struct {
	Strategy Strategy `json:"strategy"`
	Err      error    `json:"-"`
}

// Outcome reports how a request was resolved.
type Outcome struct {
	// Grant is the memory obtained. It is zero when Strategy is
	// StrategyEmergencyFail.
	Grant Grant

	// Strategy is the strategy that resolved the request.
	Strategy Strategy

	// Victim is the process reclaimed from, set only for StrategyReclaim.
	Victim *Process

	// Failures lists the strategies that failed, in the order tried.
	Failures []Failure
}

// Degraded reports whether the request needed anything beyond the primary
// strategy.
func (o Outcome) Degraded() bool {
	return o.Strategy != StrategyPrimary
}

func failureCodes(fs []Failure) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Strategy.String()+"="+kerr.GetCode(f.Err).String())
	}
	return out
}
