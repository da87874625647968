package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("conversation: validation failed")
	ErrNotFound    = errors.New("conversation: not found")
	ErrPersistence = errors.New("conversation: persistence failed")
)

// ValidationError names the field that broke an invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("conversation: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError reports a write that did not take effect. When NotFound
// is set the write matched no row; it then matches ErrNotFound as well as
// ErrPersistence.
type PersistenceError struct {
	Op       string
	NotFound bool
	Err      error
}

// NotFoundError builds the error for a write that affected zero rows.
func NotFoundError(op string) error {
	return &PersistenceError{Op: op, NotFound: true}
}

// WriteError wraps a failed write. cause may be nil.
func WriteError(op string, cause error) error {
	return &PersistenceError{Op: op, Err: cause}
}

func (e *PersistenceError) Error() string {
	switch {
	case e.NotFound:
		return fmt.Sprintf("conversation: %s: no rows affected", e.Op)
	case e.Err != nil:
		return fmt.Sprintf("conversation: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("conversation: %s failed", e.Op)
	}
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence || (e.NotFound && target == ErrNotFound)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
