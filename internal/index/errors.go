package index

import (
	"errors"
	"fmt"
)

// Kind classifies an index failure so callers can tell "nothing found" from
// "the backend call failed" and from "the input was never valid".
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindUnavailable  Kind = "backend_unavailable"
)

// Error wraps an index failure with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("index %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("index %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or the empty Kind when err is
// not an index error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

func invalidInput(op, format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: fmt.Errorf(format, args...)}
}

func unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}
