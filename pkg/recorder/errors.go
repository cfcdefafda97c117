package recorder

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrStorage matches every StorageError through errors.Is.
	ErrStorage = errors.New("recorder: storage error")

	// ErrSessionOpen is returned when opening a session while another one
	// is still open.
	ErrSessionOpen = errors.New("recorder: a session is already open")

	// ErrSessionClosed is returned when appending to a finalized session.
	ErrSessionClosed = errors.New("recorder: session closed")
)

// StorageError reports a failed filesystem operation on a recording.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("recorder: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
