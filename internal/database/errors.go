package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id or username has no record.
	ErrNotFound = errors.New("not found")

	// ErrUserExists is returned when registering a taken username.
	ErrUserExists = errors.New("user already exists")

	// ErrSchemeMismatch is returned when a store holds fingerprints of a
	// different algorithm or length than the one requested.
	ErrSchemeMismatch = errors.New("fingerprint scheme mismatch")

	// ErrStore matches every *StoreError via errors.Is.
	ErrStore = errors.New("store error")
)

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrStore so callers can test the kind without a type assertion.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Wrap returns nil for a nil err, err unchanged if it is already a StoreError
// or one of the package sentinels, and a new StoreError otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserExists) || errors.Is(err, ErrSchemeMismatch) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
