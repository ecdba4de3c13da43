package duramap

import (
	"context"

	c "github.com/unkn0wn-root/duramap/codec"
	st "github.com/unkn0wn-root/duramap/store"
)

type Dict[V any] = Map[V] // just an alias -> duramap.Dict[Flag] or duramap.Map[Flag]

// Map is the high-level, storage-agnostic versioned mapping API.
// It mirrors one keyspace of a durable store in memory and refreshes the
// mirror whenever the store's version counter outruns the last synced
// version. V is the caller's value type; serialization is handled by a
// pluggable Codec[V].
//
// Reads resync conditionally (skipped under ManualSync); every write
// resyncs before returning, so an instance always observes its own writes.
type Map[V any] interface {
	// Reads
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Item(ctx context.Context, key string) (V, error)
	Contains(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
	Snapshot(ctx context.Context) (map[string]V, error)

	// Writes
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
	Pop(ctx context.Context, key string) (V, error)
	PopDefault(ctx context.Context, key string, def V) (V, error)
	SetDefault(ctx context.Context, key string, def V) (V, error)

	// Synchronization
	Sync(ctx context.Context) error
	LastSynced() st.Version
}

// Options tune the behavior of the mapping.
// Only Store is required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Store st.Store

	Codec      c.Codec[V] // nil => codec.JSON[V]
	Legacy     c.Codec[V] // optional fallback codec for encoding migrations
	Logger     Logger     // if nil, NopLogger is used
	Hooks      Hooks      // if nil, NopHooks is used
	ManualSync bool       // true => reads never resync; only Sync and own writes refresh
}

// New builds the mapping and performs its initial load. The load is
// conditional like every sync: a store that was never written (version 0)
// contributes nothing.
func New[V any](ctx context.Context, opts Options[V]) (Map[V], error) {
	return newVMap[V](ctx, opts)
}
