package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("reminder not found")
	ErrPersistence        = errors.New("persistence error")
	ErrSchedulingDegraded = errors.New("reminder saved but not scheduled")
)

// ValidationError describes malformed user input. It always matches
// ErrValidation and is recoverable by re-prompting.
type ValidationError struct {
	Field   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("invalid %s: %s (example: %s)", e.Field, e.Reason, e.Example)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError wraps a failed store write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persist " + e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func NotFound(userID, id string) error {
	return fmt.Errorf("%w: user=%s id=%s", ErrNotFound, userID, id)
}
