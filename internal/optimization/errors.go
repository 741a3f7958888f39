package optimization

import (
	"errors"
	"fmt"
)

// Sentinel conditions of the search engine. Local, expected conditions
// (ErrInvalidMove) are absorbed within a step; systemic conditions
// (ErrExhaustedMoveSpace, ErrInconsistentState) terminate the run.
var (
	// ErrInvalidMove indicates a move whose preconditions are not met,
	// e.g. a deletion requested for a species with zero atoms present.
	// Callers treat it as "try a different pick", not as fatal.
	ErrInvalidMove = errors.New("move preconditions not met")

	// ErrExhaustedMoveSpace indicates that no valid move of the requested
	// kind exists anywhere in the configuration. Fatal for the current run.
	ErrExhaustedMoveSpace = errors.New("no valid move of the requested kind exists")

	// ErrInconsistentState indicates a violated cache invariant, e.g. a
	// rollback producing a feature cache that disagrees with a from-scratch
	// recomputation. Always fatal.
	ErrInconsistentState = errors.New("cached state inconsistent with configuration")
)

// Error represents a search error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Step is the step index at which the error occurred, if known.
	Step int
	// Energy is the last-known-good energy, if known.
	Energy float64
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithStep records the step index and last-known-good energy on the error.
func (e *Error) WithStep(step int, energy float64) *Error {
	e.Step = step
	e.Energy = energy
	return e
}

// NewError creates a new search error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// NewErrorf creates a new search error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsSearchError checks if an error is of type Error.
// If the error is a search error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsSearchError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
