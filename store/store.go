// Package store defines the durable storage abstraction behind duramap.
//
// An adapter owns one keyspace on some external system: the encoded entries
// plus a version counter that is bumped on every change to them. Adapters
// MUST be byte-for-byte transparent — ReadAll must return exactly the []byte
// previously passed to WriteOne for each key, with no prepended metadata,
// transcoding, or mutation. Keyspaces on the same physical store MUST be
// isolated from each other, version counter included.
//
// The counter MUST exist with value 1 from construction onward, so a fresh
// mapping over previously written data always observes a version greater
// than its unset state and performs its initial load.
package store

import (
	"context"
	"errors"
)

// Version is a point on a keyspace's update counter. It only grows.
// The zero value means "unset": either a mapping that has never synced or a
// store whose counter is missing.
type Version int64

// After reports whether v supersedes other. A mirror synced at other is
// stale exactly when the durable version is After it; since counters start
// at 1, this single comparison also covers the unset (zero) states.
func (v Version) After(other Version) bool { return v > other }

// ErrNotFound reports that a key is absent from the keyspace. Adapters
// return it (possibly wrapped) from DeleteOne, Pop and anything else that
// requires the key to exist, and MUST NOT bump the version in that case.
var ErrNotFound = errors.New("store: key not found")

// Store is the minimal adapter contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// WriteOne stores value under key and bumps the version, as atomically
	// as the backend allows.
	WriteOne(ctx context.Context, key string, value []byte) error

	// DeleteOne removes key and bumps the version. A missing key is
	// ErrNotFound and MUST NOT bump.
	DeleteOne(ctx context.Context, key string) error

	// ReadAll returns the full keyspace contents. The returned map is owned
	// by the caller.
	ReadAll(ctx context.Context) (map[string][]byte, error)

	// ReadVersion returns the current version, or 0 when the counter is
	// missing.
	ReadVersion(ctx context.Context) (Version, error)
}

// Popper is implemented by adapters that can read-and-delete atomically.
// A missing key is ErrNotFound with no bump.
type Popper interface {
	Pop(ctx context.Context, key string) ([]byte, error)
}

// Defaulter is implemented by adapters with an atomic get-or-create.
// SetDefault returns the value that survives: the existing one
// (created=false, no bump) or def freshly written (created=true, bumped).
type Defaulter interface {
	SetDefault(ctx context.Context, key string, def []byte) (value []byte, created bool, err error)
}
