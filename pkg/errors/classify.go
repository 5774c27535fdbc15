package errors

import (
	"errors"
	"fmt"
)

// Decision is the recovery path chosen for an error value. Every code in
// the taxonomy maps to exactly one Decision.
type Decision int

const (
	// DecisionPropagate returns the error unchanged so a higher layer can
	// decide. It is also the decision for errors outside the taxonomy.
	DecisionPropagate Decision = iota

	// DecisionLogAndContinue absorbs the error near its origin after
	// emitting a log event.
	DecisionLogAndContinue

	// DecisionRetryable hands the failure to the retry orchestrator.
	DecisionRetryable

	// DecisionTerminateOwner terminates only the process that owns the
	// failing operation, recording the cause for its supervisor.
	DecisionTerminateOwner

	// DecisionFatal escalates to crash containment once every local
	// retry and fallback path has been exhausted.
	DecisionFatal
)

// String returns the decision name used in logs and metrics labels.
func (d Decision) String() string {
	switch d {
	case DecisionPropagate:
		return "propagate"
	case DecisionLogAndContinue:
		return "log_and_continue"
	case DecisionRetryable:
		return "retryable"
	case DecisionTerminateOwner:
		return "terminate_owner"
	case DecisionFatal:
		return "fatal"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// policy is the classification entry registered for one code.
type policy struct {
	decision Decision
	errno    Errno
	message  string
}

// policies is the central dispatch table keyed by variant identity. It is
// checked for completeness against [Codes] when the package initializes.
var policies = map[Code]policy{
	CodeOutOfMemory:            {DecisionFatal, ENOMEM, "out of memory"},
	CodeInvalidAddress:         {DecisionTerminateOwner, EFAULT, "invalid address"},
	CodeMemoryPermissionDenied: {DecisionTerminateOwner, EACCES, "memory permission denied"},
	CodeAlreadyMapped:          {DecisionPropagate, EEXIST, "already mapped"},
	CodeNotMapped:              {DecisionPropagate, EFAULT, "not mapped"},
	CodeAlignment:              {DecisionPropagate, EINVAL, "misaligned address or length"},

	CodeInvalidPID:            {DecisionPropagate, EINVAL, "invalid process id"},
	CodeProcessNotFound:       {DecisionPropagate, ESRCH, "process not found"},
	CodeZombie:                {DecisionLogAndContinue, ESRCH, "zombie process"},
	CodeMaxProcesses:          {DecisionPropagate, EAGAIN, "process table full"},
	CodeInsufficientPrivilege: {DecisionPropagate, EPERM, "insufficient privilege"},
	CodeProcessTimeout:        {DecisionRetryable, ETIMEDOUT, "process did not respond"},
	CodeRogueProcess:          {DecisionTerminateOwner, EPERM, "rogue process detected"},
	CodeProcessIPC:            {DecisionPropagate, EIO, "process ipc failure"},

	CodeServiceNotFound:     {DecisionPropagate, ENOENT, "service not found"},
	CodeServiceStart:        {DecisionPropagate, EIO, "service failed to start"},
	CodeServiceStop:         {DecisionLogAndContinue, EIO, "service failed to stop"},
	CodeServiceNoResponse:   {DecisionRetryable, ETIMEDOUT, "service did not respond"},
	CodeServicePrivilege:    {DecisionPropagate, EPERM, "insufficient service privilege"},
	CodeServiceInvalidState: {DecisionPropagate, EINVAL, "service in invalid state"},
	CodeServiceConflict:     {DecisionPropagate, EBUSY, "service conflict"},
	CodeServiceUnregistered: {DecisionPropagate, ESRCH, "service not registered"},

	CodeFileNotFound:         {DecisionPropagate, ENOENT, "file not found"},
	CodeFilePermissionDenied: {DecisionPropagate, EACCES, "file permission denied"},
	CodeFileExists:           {DecisionPropagate, EEXIST, "file exists"},
	CodeIsDirectory:          {DecisionPropagate, EISDIR, "is a directory"},
	CodeNotDirectory:         {DecisionPropagate, ENOTDIR, "not a directory"},
	CodeFileIO:               {DecisionPropagate, EIO, "filesystem i/o error"},
	CodeNoSpace:              {DecisionPropagate, ENOSPC, "no space left"},
	CodeReadOnly:             {DecisionPropagate, EROFS, "read-only filesystem"},
	CodeTooManyOpenFiles:     {DecisionPropagate, EMFILE, "too many open files"},
	CodeFileTooBig:           {DecisionPropagate, EFBIG, "file too big"},
	CodeFSNotSupported:       {DecisionPropagate, EOPNOTSUPP, "operation not supported by filesystem"},

	CodeDeviceBusy:         {DecisionRetryable, EBUSY, "device busy"},
	CodeDeviceTimeout:      {DecisionRetryable, ETIMEDOUT, "device timeout"},
	CodeHardwareFailure:    {DecisionFatal, EIO, "hardware failure"},
	CodeDeviceNotFound:     {DecisionPropagate, ENODEV, "device not found"},
	CodeDeviceDisconnected: {DecisionLogAndContinue, ENXIO, "device disconnected"},
	CodeDeviceUnsupported:  {DecisionPropagate, EOPNOTSUPP, "operation not supported by device"},
	CodeDriverLoad:         {DecisionLogAndContinue, ENODEV, "driver load failure"},

	CodeDeviceInvalidOperation:    {DecisionPropagate, EINVAL, "invalid device operation"},
	CodeDeviceCommunicationLost:   {DecisionLogAndContinue, EIO, "device communication lost"},
	CodeDeviceResourceUnavailable: {DecisionPropagate, EAGAIN, "device resource unavailable"},

	CodeBufferFull:  {DecisionRetryable, EAGAIN, "ipc buffer full"},
	CodeBufferEmpty: {DecisionPropagate, EAGAIN, "ipc buffer empty"},
	CodeNoEndpoint:  {DecisionPropagate, ESRCH, "ipc endpoint not found"},

	CodeExecFormat:      {DecisionPropagate, ENOEXEC, "invalid executable format"},
	CodeExecUnsupported: {DecisionPropagate, ENOEXEC, "unsupported executable type"},
	CodeExecSegmentLoad: {DecisionTerminateOwner, ENOEXEC, "segment load failure"},
	CodeExecSymbol:      {DecisionTerminateOwner, ENOEXEC, "symbol resolution failure"},
	CodeExecTruncated:   {DecisionPropagate, ENOEXEC, "executable truncated"},

	CodeInvalidParam:   {DecisionPropagate, EINVAL, "invalid parameter"},
	CodeNotImplemented: {DecisionPropagate, ENOSYS, "not implemented"},

	CodeExhausted:       {DecisionPropagate, ETIMEDOUT, "retry attempts exhausted"},
	CodeCanceled:        {DecisionPropagate, ECANCELED, "operation canceled"},
	CodeStaleHandle:     {DecisionPropagate, EBADF, "stale resource handle"},
	CodeAdmissionClosed: {DecisionPropagate, ESHUTDOWN, "admission closed"},
	CodeHandoffFailed:   {DecisionFatal, EIO, "kernel handoff failed"},
}

// fatal reports whether a code is unrecoverable at its origin. Every code
// has an explicit arm; there is deliberately no default. The second
// result is false only for values outside the taxonomy.
func fatal(c Code) (bool, bool) {
	switch c {
	case CodeOutOfMemory, CodeHardwareFailure, CodeHandoffFailed:
		return true, true
	case CodeInvalidAddress, CodeMemoryPermissionDenied, CodeAlreadyMapped,
		CodeNotMapped, CodeAlignment,
		CodeInvalidPID, CodeProcessNotFound, CodeZombie, CodeMaxProcesses,
		CodeInsufficientPrivilege, CodeProcessTimeout, CodeRogueProcess,
		CodeProcessIPC,
		CodeServiceNotFound, CodeServiceStart, CodeServiceStop,
		CodeServiceNoResponse, CodeServicePrivilege, CodeServiceInvalidState,
		CodeServiceConflict, CodeServiceUnregistered,
		CodeFileNotFound, CodeFilePermissionDenied, CodeFileExists,
		CodeIsDirectory, CodeNotDirectory, CodeFileIO, CodeNoSpace,
		CodeReadOnly, CodeTooManyOpenFiles, CodeFileTooBig, CodeFSNotSupported,
		CodeDeviceBusy, CodeDeviceTimeout, CodeDeviceNotFound,
		CodeDeviceDisconnected, CodeDeviceUnsupported, CodeDriverLoad,
		CodeDeviceInvalidOperation, CodeDeviceCommunicationLost,
		CodeDeviceResourceUnavailable,
		CodeBufferFull, CodeBufferEmpty, CodeNoEndpoint,
		CodeExecFormat, CodeExecUnsupported, CodeExecSegmentLoad,
		CodeExecSymbol, CodeExecTruncated,
		CodeInvalidParam, CodeNotImplemented,
		CodeExhausted, CodeCanceled, CodeStaleHandle, CodeAdmissionClosed:
		return false, true
	}
	return false, false
}

// retryable reports whether a failure with this code is transient. Every
// code has an explicit arm; there is deliberately no default.
// CodeExhausted is never retryable, whatever its cause.
func retryable(c Code) (bool, bool) {
	switch c {
	case CodeDeviceBusy, CodeDeviceTimeout, CodeBufferFull, CodeProcessTimeout,
		CodeServiceNoResponse:
		return true, true
	case CodeOutOfMemory, CodeInvalidAddress, CodeMemoryPermissionDenied,
		CodeAlreadyMapped, CodeNotMapped, CodeAlignment,
		CodeInvalidPID, CodeProcessNotFound, CodeZombie, CodeMaxProcesses,
		CodeInsufficientPrivilege, CodeRogueProcess, CodeProcessIPC,
		CodeServiceNotFound, CodeServiceStart, CodeServiceStop,
		CodeServicePrivilege, CodeServiceInvalidState, CodeServiceConflict,
		CodeServiceUnregistered,
		CodeFileNotFound, CodeFilePermissionDenied, CodeFileExists,
		CodeIsDirectory, CodeNotDirectory, CodeFileIO, CodeNoSpace,
		CodeReadOnly, CodeTooManyOpenFiles, CodeFileTooBig, CodeFSNotSupported,
		CodeHardwareFailure, CodeDeviceNotFound, CodeDeviceDisconnected,
		CodeDeviceUnsupported, CodeDriverLoad, CodeDeviceInvalidOperation,
		CodeDeviceCommunicationLost, CodeDeviceResourceUnavailable,
		CodeBufferEmpty, CodeNoEndpoint,
		CodeExecFormat, CodeExecUnsupported, CodeExecSegmentLoad,
		CodeExecSymbol, CodeExecTruncated,
		CodeInvalidParam, CodeNotImplemented,
		CodeExhausted, CodeCanceled, CodeStaleHandle, CodeAdmissionClosed,
		CodeHandoffFailed:
		return false, true
	}
	return false, false
}

func init() {
	if err := checkCompleteness(); err != nil {
		panic(err)
	}
}

// checkCompleteness verifies that every code has a policy entry, an arm in
// both predicates, and that the predicates agree with the table. A failure
// here is a build defect; the kernel must not boot with it.
func checkCompleteness() error {
	if len(policies) != len(codes) {
		return fmt.Errorf("errors: %d policies registered for %d codes", len(policies), len(codes))
	}
	for _, c := range codes {
		p, ok := policies[c]
		if !ok {
			return fmt.Errorf("errors: code %s has no policy", c)
		}
		f, ok := fatal(c)
		if !ok {
			return fmt.Errorf("errors: code %s has no fatal arm", c)
		}
		r, ok := retryable(c)
		if !ok {
			return fmt.Errorf("errors: code %s has no retryable arm", c)
		}
		if f != (p.decision == DecisionFatal) {
			return fmt.Errorf("errors: code %s fatal arm disagrees with decision %s", c, p.decision)
		}
		if r != (p.decision == DecisionRetryable) {
			return fmt.Errorf("errors: code %s retryable arm disagrees with decision %s", c, p.decision)
		}
	}
	return nil
}

// IsFatal reports whether err is a taxonomy error whose variant is
// unrecoverable at its origin. Errors outside the taxonomy are not fatal.
// Classification never fails and has no side effects.
func IsFatal(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	f, _ := fatal(e.Code)
	return f
}

// IsRetryable reports whether err is a taxonomy error whose variant is
// transient. An [CodeExhausted] error is never retryable, regardless of
// the classification of its cause.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	r, _ := retryable(e.Code)
	return r
}

// Decide returns the recovery decision for err. Errors outside the
// taxonomy, including nil, are propagated.
func Decide(err error) Decision {
	e, ok := AsError(err)
	if !ok {
		return DecisionPropagate
	}
	return e.Decision()
}

// HasLocalFallback reports whether a fatal code still has a local recovery
// path to try before crash containment. Out-of-memory goes through the
// allocation fallback chain; any other fatal failure has nothing left to
// try once it is raised.
func HasLocalFallback(c Code) bool {
	return c == CodeOutOfMemory
}

// RootCause returns the taxonomy error underneath any chain of
// [CodeExhausted] and [CodeCanceled] wrappers. It is the error crash
// containment inspects when deciding whether a failure is fatal once
// local recovery has given up. If err holds no taxonomy error, RootCause
// returns nil and false.
func RootCause(err error) (*Error, bool) {
	e, ok := AsError(err)
	for ok && (e.Code == CodeExhausted || e.Code == CodeCanceled) {
		var inner *Error
		if !errors.As(e.Cause, &inner) {
			return e, true
		}
		e = inner
	}
	return e, ok
}
