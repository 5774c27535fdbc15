package errors

import (
	"errors"
	"fmt"
)

// Context is the logical origin of an error: which subsystem raised it,
// which operation was running, and which attempt of that operation failed.
// It deliberately carries no source-file diagnostics; the taxonomy code
// already identifies the failure and the context identifies the work.
type Context struct {
	// Subsystem is the subsystem that originated the failure.
	Subsystem Subsystem `json:"subsystem"`

	// Operation names the logical operation (e.g., "mm.map", "fs.read").
	Operation string `json:"operation,omitempty"`

	// Attempt is the zero-based attempt index when the operation runs
	// under a retry loop, or zero for a single-shot operation.
	Attempt int `json:"attempt"`
}

// Error is a kernel error value: one variant of the closed taxonomy plus
// the context in which it was raised. It implements the standard error
// interface and supports errors.Is / errors.As through [Error.Unwrap].
//
// Error values are pure data. They are created at the failure site and
// consumed by the first handler that classifies them; nothing in this
// package mutates an Error after construction.
type Error struct {
	// Code is the taxonomy variant (e.g., "MEM_001").
	Code Code

	// Message is a short human-readable description. It must not carry
	// user memory contents or addresses belonging to other processes.
	Message string

	// Cause is the underlying error, if any. For [CodeExhausted] it is
	// the last failure observed by the retry loop.
	Cause error

	// Context records the logical origin of the failure.
	Context Context

	// Details carries additional structured data for diagnostics, such
	// as the strategy failures recorded by the allocation fallback chain.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of this error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code. This lets
// callers compare against sentinel values built with [New]:
//
//	if errors.Is(err, kerr.New(kerr.CodeDeviceBusy, "")) { ... }
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Decision returns the recovery decision for this error's code.
func (e *Error) Decision() Decision {
	return policies[e.Code].decision
}

// Errno returns the externally documented failure code for this error.
// An exhausted error reports the code of the failure it gave up on, so a
// busy device stays EBUSY and a failed allocation stays ENOMEM after
// retries. Codes outside the taxonomy report [EIO].
func (e *Error) Errno() Errno {
	for e.Code == CodeExhausted {
		var inner *Error
		if !errors.As(e.Cause, &inner) {
			break
		}
		e = inner
	}
	if p, ok := policies[e.Code]; ok {
		return p.errno
	}
	return EIO
}

// WithContext returns a copy of the error with the given logical origin.
// The original error is not modified.
func (e *Error) WithContext(op string, attempt int) *Error {
	c := e.clone()
	c.Context = Context{
		Subsystem: e.Code.Subsystem(),
		Operation: op,
		Attempt:   attempt,
	}
	return c
}

// WithDetails returns a new Error with the specified details added.
// The original error is not modified.
func (e *Error) WithDetails(details map[string]any) *Error {
	c := e.clone()
	c.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		c.Details[k] = v
	}
	for k, v := range details {
		c.Details[k] = v
	}
	return c
}

// WithDetail returns a new Error with a single detail key-value pair added.
// The original error is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

func (e *Error) clone() *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: e.Context,
		Details: e.Details,
	}
}

// Format implements fmt.Formatter for detailed error output.
// Use %v for standard output, %+v for detailed output including the
// origin context and the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if e.Context.Operation != "" {
				fmt.Fprintf(s, ", Op: %q, Attempt: %d", e.Context.Operation, e.Context.Attempt)
			}
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
