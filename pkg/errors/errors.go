// Package errors defines the closed error taxonomy of the kernel fault core
// and the classification policy over it. Every fallible kernel operation,
// in every subsystem, returns an [*Error] whose [Code] is one variant of
// this taxonomy.
//
// # Taxonomy
//
// Codes are grouped by contributing subsystem:
//
//   - MEM_xxx: memory manager (out of memory, invalid address, ...)
//   - PROC_xxx: process manager (not found, zombie, table full, ...)
//   - FS_xxx: filesystem service
//   - DEV_xxx: device drivers (busy, timeout, hardware failure, ...)
//   - IPC_xxx: inter-process communication (buffer full, ...)
//   - EXEC_xxx: program loader
//   - PARAM_001, NOTIMPL_001: invalid parameter, not implemented
//   - CORE_xxx: produced by the fault core itself (retry exhausted,
//     canceled, stale handle, admission closed, handoff failed)
//
// # Classification
//
// [IsFatal] and [IsRetryable] are total, side-effect free predicates, and
// [Decide] maps every error to exactly one [Decision]. The predicates list
// every code explicitly; the package verifies at initialization that the
// policy table, both predicates and [Codes] agree, so an unclassified
// variant stops the kernel from booting instead of surfacing at runtime.
//
// # User-visible codes
//
// [ErrnoOf] maps any error to a stable POSIX-style [Errno] for the syscall
// boundary.
//
// # Usage
//
//	err := errors.New(errors.CodeDeviceBusy, "ata0 queue saturated")
//
//	switch errors.Decide(err) {
//	case errors.DecisionRetryable:
//	    // hand to recovery.Do
//	case errors.DecisionFatal:
//	    // escalate once local fallbacks are exhausted
//	}
package errors
