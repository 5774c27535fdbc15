// Package faultinject provides process-wide fault-injection flags for
// exercising recovery paths under test.
//
// Every flag is a single atomic word: disabled at boot, toggled by test
// harnesses, and read on every relevant fallible entry point. Reads never
// block or allocate, so they are safe from interrupt context.
package faultinject

import (
	"sync/atomic"
)

// Point identifies one injection site.
type Point int

const (
	// AllocPrimary fails the primary allocation strategy with out-of-memory.
	AllocPrimary Point = iota
	// AllocSwapOut fails the swap-out strategy with out-of-memory.
	AllocSwapOut
	// AllocReclaim fails the reclaim strategy with out-of-memory.
	AllocReclaim
	// DeviceBusy makes device submissions report busy.
	DeviceBusy
	// FileReopen fails reopening a closed file handle.
	FileReopen
	// SnapshotFailure fails preservation of user memory during handoff.
	SnapshotFailure
	// StandbyImageMissing hides the standby kernel image.
	StandbyImageMissing

	numPoints
)

var pointNames = [numPoints]string{
	AllocPrimary:        "alloc_primary",
	AllocSwapOut:        "alloc_swap_out",
	AllocReclaim:        "alloc_reclaim",
	DeviceBusy:          "device_busy",
	FileReopen:          "file_reopen",
	SnapshotFailure:     "snapshot_failure",
	StandbyImageMissing: "standby_image_missing",
}

// String returns the point name.
func (p Point) String() string {
	if p < 0 || p >= numPoints {
		return "unknown"
	}
	return pointNames[p]
}

var flags [numPoints]atomic.Bool

// Enable arms the injection point.
func Enable(p Point) {
	if p >= 0 && p < numPoints {
		flags[p].Store(true)
	}
}

// Disable disarms the injection point.
func Disable(p Point) {
	if p >= 0 && p < numPoints {
		flags[p].Store(false)
	}
}

// Active reports whether the injection point is armed.
func Active(p Point) bool {
	if p < 0 || p >= numPoints {
		return false
	}
	return flags[p].Load()
}

// Reset disarms every injection point.
func Reset() {
	for i := range flags {
		flags[i].Store(false)
	}
}

// Set arms p and returns a function that restores its previous value.
// Intended for tests:
//
//	defer faultinject.Set(faultinject.FileReopen)()
func Set(p Point) (restore func()) {
	prev := Active(p)
	Enable(p)
	return func() {
		if !prev {
			Disable(p)
		}
	}
}
