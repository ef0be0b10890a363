package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any statement is issued.
	ErrValidation = errors.New("validation failed")

	// ErrNoFields is returned by Update when no effective field was supplied.
	ErrNoFields = fmt.Errorf("%w: no fields supplied for update", ErrValidation)

	// ErrNotFound is returned by the strict service paths for an unknown id.
	ErrNotFound = errors.New("item not found")
)

// StorageError reports a failed connection or statement.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
