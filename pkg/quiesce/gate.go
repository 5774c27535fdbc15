// Package quiesce implements the kernel-wide admission gate consulted by
// every entry point that can originate a fatal error.
//
// The gate is one atomically-checked state word. While the kernel runs
// normally the gate is open and [Gate.Admit] costs a single atomic load.
// Crash containment closes the gate with [Gate.Quiesce] before it
// snapshots memory; new fallible work then blocks until the handoff
// resolves, either reopening the gate ([Gate.Resume]) or halting it for
// good ([Gate.Halt]).
package quiesce

import (
	"context"
	"sync"
	"sync/atomic"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// State is the admission state of a [Gate].
type State int32

const (
	// StateOpen admits new work.
	StateOpen State = iota
	// StateQuiescing blocks new work until the handoff resolves.
	StateQuiescing
	// StateHalted refuses new work permanently.
	StateHalted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateQuiescing:
		return "quiescing"
	case StateHalted:
		return "halted"
	}
	return "unknown"
}

// Gate is the admission barrier. The zero value is not usable; create one
// with [New] or use the process-wide [Global] gate.
type Gate struct {
	state atomic.Int32

	// mu serializes state changes and guards released. Admit only takes
	// it on the slow path.
	mu       sync.Mutex
	released chan struct{}
}

var global = New()

// Global returns the process-wide gate shared by every subsystem.
func Global() *Gate {
	return global
}

// New creates an open gate.
func New() *Gate {
	return &Gate{}
}

// State returns the current admission state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Admit returns nil when new fallible work may start. While the gate is
// quiescing, Admit blocks until the handoff resolves or ctx is done. Once
// the gate has halted, Admit returns a [kerr.CodeAdmissionClosed] error.
func (g *Gate) Admit(ctx context.Context) error {
	for {
		switch State(g.state.Load()) {
		case StateOpen:
			return nil
		case StateHalted:
			return kerr.AdmissionClosed("kernel halted")
		}

		g.mu.Lock()
		st := State(g.state.Load())
		ch := g.released
		g.mu.Unlock()

		if st != StateQuiescing {
			continue
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return kerr.Canceled(ctx.Err()).WithContext("quiesce.admit", 0)
		}
	}
}

// TryAdmit is the non-blocking form of [Gate.Admit] for callers that may
// not sleep, such as interrupt handlers.
func (g *Gate) TryAdmit() error {
	switch State(g.state.Load()) {
	case StateOpen:
		return nil
	case StateQuiescing:
		return kerr.AdmissionClosed("kernel quiescing for handoff")
	}
	return kerr.AdmissionClosed("kernel halted")
}

// Quiesce closes the gate to new work. It returns false if the gate was
// not open, which means another handoff already owns it.
func (g *Gate) Quiesce() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if State(g.state.Load()) != StateOpen {
		return false
	}
	g.released = make(chan struct{})
	g.state.Store(int32(StateQuiescing))
	return true
}

// Resume reopens a quiescing gate and wakes blocked callers.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if State(g.state.Load()) != StateQuiescing {
		return
	}
	g.state.Store(int32(StateOpen))
	close(g.released)
}

// Halt closes the gate permanently and wakes blocked callers, who then
// observe the halted state.
func (g *Gate) Halt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := State(g.state.Load())
	g.state.Store(int32(StateHalted))
	if prev == StateQuiescing {
		close(g.released)
	}
}
