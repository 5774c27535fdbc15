// Package resource provides state-typed handles for kernel resources.
//
// Every legal state of a resource kind is its own Go type, and each type
// has only the methods that state permits: a [ClosedFile] has no Read, a
// [FaultedFile] has nothing but its cause and Release. Operations absent
// from a state cannot be called because they do not exist.
//
// Transitions consume the handle they are called on and return a handle
// of the new state. Go cannot forbid reuse of a consumed value, so each
// resource owns a generation counter and each handle remembers the
// generation it was issued for. A transition advances the generation
// exactly once; any later use of the old handle returns a
// [kerr.CodeStaleHandle] error and never reaches the underlying driver.
// This guarantees at most one live handle per resource at any time.
//
// A transition that fails always yields a Faulted handle together with the
// error, so a caller is never left holding nothing or holding a handle that
// looks valid but is not.
//
// Work that would reach a driver or the filesystem first passes the
// admission gate selected by the [recovery.Option] values given at Claim or
// Open. While the kernel quiesces for a handoff such calls block; once it
// halts they fail with [kerr.CodeAdmissionClosed]. A refused transition
// does not run and the handle stays live. Close and Release are never
// refused, so resources can always be given back.
package resource

import (
	"context"
	"sync"

	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
)

// slot is the shared state of one resource across all of its handles.
type slot struct {
	mu  sync.RWMutex
	gen uint64
}

// ticket binds a handle to the generation it was issued for. The zero
// ticket belongs to no resource and is never live.
type ticket struct {
	s   *slot
	gen uint64
}

func newTicket() ticket {
	return ticket{s: &slot{}}
}

// admit consults g before new work reaches a driver. A nil gate admits
// everything.
func admit(ctx context.Context, g *quiesce.Gate) error {
	if g == nil {
		return nil
	}
	return g.Admit(ctx)
}

// use runs fn while the handle is live. Concurrent uses of the same live
// handle may overlap; a transition waits for them to finish.
func (t ticket) use(fn func()) bool {
	if t.s == nil {
		return false
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.gen != t.gen {
		return false
	}
	fn()
	return true
}

// consume advances the generation if the handle is still live and returns
// the ticket for the successor handle. fn runs under the exclusive lock
// before the generation advances, so no operation on the old handle can
// interleave with the transition.
func (t ticket) consume(fn func()) (ticket, bool) {
	if t.s == nil {
		return ticket{}, false
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.gen != t.gen {
		return ticket{}, false
	}
	if fn != nil {
		fn()
	}
	t.s.gen++
	return ticket{s: t.s, gen: t.s.gen}, true
}

// live reports whether the handle has not been consumed.
func (t ticket) live() bool {
	if t.s == nil {
		return false
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.gen == t.gen
}
