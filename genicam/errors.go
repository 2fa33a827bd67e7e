package genicam

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a feature name is not in the node map
	ErrNotFound = errors.New("feature not found")

	// ErrNotAvailable is returned when a feature exists but is not
	// implemented or not available in the current state
	ErrNotAvailable = errors.New("feature not available")

	// ErrNotReadable is returned when reading a write-only or unavailable feature
	ErrNotReadable = errors.New("feature not readable")

	// ErrNotWritable is returned when writing a read-only or locked feature
	ErrNotWritable = errors.New("feature not writable")

	// ErrOutOfRange is returned when a value violates a feature's bounds,
	// increment, or symbolic entries
	ErrOutOfRange = errors.New("value out of range")

	// ErrWrongKind is returned when a feature is accessed as the wrong type
	ErrWrongKind = errors.New("feature is of a different kind")
)

// AccessError records a failed feature access
type AccessError struct {
	// Feature is the name of the node
	Feature string

	// Op is the operation, e.g. "get", "set", "execute"
	Op string

	// Err is one of the package's error values, possibly wrapped with detail
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Feature, e.Err)
}

// Unwrap allows errors.Is(err, ErrNotWritable) and friends
func (e *AccessError) Unwrap() error {
	return e.Err
}

func accessErr(feature, op string, err error) error {
	return &AccessError{Feature: feature, Op: op, Err: err}
}
