package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSnapshot marks an upload that is not parseable JSON.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	// ErrStoreFailure marks any error surfaced by the repository.
	ErrStoreFailure = errors.New("store failure")
	// ErrNotFound is returned when a member or import cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict is returned when a key already names another member's import.
	ErrIdempotencyConflict = errors.New("idempotency key already used for another member")
)

// MalformedSnapshotError names the upload that failed to parse.
type MalformedSnapshotError struct {
	Source string
	Err    error
}

func (e *MalformedSnapshotError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("malformed snapshot: %v", e.Err)
	}
	return fmt.Sprintf("malformed snapshot %q: %v", e.Source, e.Err)
}

func (e *MalformedSnapshotError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrMalformedSnapshot without losing the cause chain.
func (e *MalformedSnapshotError) Is(target error) bool { return target == ErrMalformedSnapshot }

// StoreError carries the failed repository operation. Error returns the
// underlying message untouched so callers can surface it as-is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return ErrStoreFailure.Error()
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

// storeErr wraps a repository error unless it already carries a domain meaning.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreFailure) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
