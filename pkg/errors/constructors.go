package errors

import (
	"fmt"
	"strconv"
)

// New creates a new Error with the specified code and message. An empty
// message is replaced by the code's registered description.
//
// Example:
//
//	err := errors.New(errors.CodeDeviceBusy, "ata0 command queue full")
func New(code Code, message string) *Error {
	if message == "" {
		message = policies[code].message
	}
	return &Error{
		Code:    code,
		Message: message,
		Context: Context{Subsystem: code.Subsystem()},
	}
}

// Newf creates a new Error with the specified code and formatted message.
//
// Example:
//
//	err := errors.Newf(errors.CodeProcessNotFound, "pid %d not found", pid)
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a taxonomy code. The wrapped error
// becomes the Cause of the new error. If err is nil, Wrap returns nil.
//
// Example:
//
//	if err := disk.Flush(ctx); err != nil {
//	    return errors.Wrap(err, errors.CodeFileIO, "flush failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Cause = err
	return e
}

// Wrapf wraps an existing error with a formatted message. If err is nil,
// Wrapf returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// InvalidParam creates a new invalid-parameter error.
func InvalidParam(message string) *Error {
	return New(CodeInvalidParam, message)
}

// NotImplemented creates a new not-implemented error for the operation.
func NotImplemented(op string) *Error {
	return New(CodeNotImplemented, op+" is not implemented").WithContext(op, 0)
}

// Exhausted creates the terminal error returned when a retry loop used up
// its attempt budget. The last failure is preserved as the cause.
func Exhausted(cause error, attempts int) *Error {
	e := New(CodeExhausted, "gave up after "+strconv.Itoa(attempts)+" attempts")
	e.Cause = cause
	return e.WithDetail("attempts", attempts)
}

// Canceled creates the error returned when work was abandoned because its
// owner went away.
func Canceled(cause error) *Error {
	e := New(CodeCanceled, "")
	e.Cause = cause
	return e
}

// StaleHandle creates the error returned when a consumed handle is used.
func StaleHandle(resource string) *Error {
	return Newf(CodeStaleHandle, "handle to %s was consumed by an earlier transition", resource)
}

// AdmissionClosed creates the error returned while the kernel is quiescing
// for handoff or has halted.
func AdmissionClosed(reason string) *Error {
	return New(CodeAdmissionClosed, reason)
}
