package offline

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("queue item not found")
	ErrOffline       = errors.New("backend is not reachable")
	ErrInvalidReport = errors.New("invalid report")
)

// StorageError is returned when the persistent store could not be read
// or written. The in-memory state is left unchanged.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// permanentError marks a failure that retrying cannot fix, such as an
// undecodable payload.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
