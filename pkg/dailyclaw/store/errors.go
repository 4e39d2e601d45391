package store

import (
	"errors"
	"fmt"
)

// ErrInvalidKey is returned when a chat id or collection name cannot address
// a document.
var ErrInvalidKey = errors.New("store: invalid document key")

// StorageError reports a failure of the underlying medium (unreadable,
// unwritable or corrupt document). It is never retried by the store.
type StorageError struct {
	Op   string // "read", "decode", "encode", "write"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err (or anything it wraps) is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
