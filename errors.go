package duramap

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound matches any *KeyNotFoundError via errors.Is.
var ErrKeyNotFound = errors.New("duramap: key not found")

// KeyNotFoundError reports which key a lookup, delete or pop missed.
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("duramap: key %q not found", e.Key)
}

func (e *KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }

// AdapterError wraps a storage adapter failure with the operation that hit
// it. Nothing is retried here: a failure between the value write and the
// version bump is reported as-is, and callers own idempotent retry of the
// whole operation.
type AdapterError struct {
	Op  string // "write", "delete", "pop", "setdefault", "read_all", "read_version"
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("duramap: storage %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
