package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error.
// Returns the Error and true if successful, nil and false otherwise.
// This function traverses the error chain using errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Warn("kernel error", "code", e.Code, "op", e.Context.Operation)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error.
// If the error is not an *Error or is nil, returns an empty string.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
// Returns false if the error is nil or not an *Error.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// InSubsystem reports whether err is a taxonomy error contributed by the
// given subsystem.
func InSubsystem(err error, s Subsystem) bool {
	e, ok := AsError(err)
	return ok && e.Code.Subsystem() == s
}

// IsExhausted checks if the error is a retry-exhausted error.
func IsExhausted(err error) bool {
	return HasCode(err, CodeExhausted)
}

// IsOutOfMemory checks if the error is an out-of-memory error.
func IsOutOfMemory(err error) bool {
	return HasCode(err, CodeOutOfMemory)
}

// IsStaleHandle checks if the error reports use of a consumed handle.
func IsStaleHandle(err error) bool {
	return HasCode(err, CodeStaleHandle)
}

// IsCoreError checks if the error was produced by the fault core itself
// (CORE_xxx) rather than by a subsystem.
func IsCoreError(err error) bool {
	return InSubsystem(err, SubsystemCore)
}
