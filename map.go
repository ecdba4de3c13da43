package duramap

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	c "github.com/unkn0wn-root/duramap/codec"
	"github.com/unkn0wn-root/duramap/counter"
	st "github.com/unkn0wn-root/duramap/store"
)

// vmap is the Map implementation: a typed in-process mirror of one
// keyspace, plus the version it was last synced at. The RWMutex covers the
// mirror and lastSynced only; cross-instance coordination runs entirely
// through the store's version counter.
type vmap[V any] struct {
	store      st.Store
	codec      c.Chain[V]
	log        Logger
	hooks      Hooks
	manualSync bool

	mu         sync.RWMutex
	mirror     map[string]V
	lastSynced st.Version
}

func newVMap[V any](ctx context.Context, opts Options[V]) (*vmap[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("duramap: store is required")
	}

	m := &vmap[V]{
		store:      opts.Store,
		manualSync: opts.ManualSync,
		mirror:     map[string]V{},
	}

	// defaults
	m.log = coalesce[Logger](opts.Logger, NopLogger{})
	m.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	primary := opts.Codec
	if primary == nil {
		primary = c.JSON[V]{}
	}
	m.codec = c.Chain[V]{Primary: primary, Legacy: opts.Legacy}

	if err := m.sync(ctx, true); err != nil {
		return nil, err
	}
	return m, nil
}

// sync refreshes the mirror when the durable version has moved past
// lastSynced. force bypasses the ManualSync gate only; the version
// comparison still decides whether anything is reloaded.
func (m *vmap[V]) sync(ctx context.Context, force bool) error {
	if m.manualSync && !force {
		return nil
	}

	durable, err := m.store.ReadVersion(ctx)
	if err != nil {
		return &AdapterError{Op: "read_version", Err: err}
	}

	m.mu.RLock()
	last := m.lastSynced
	m.mu.RUnlock()
	if !durable.After(last) {
		return nil
	}

	raw, err := m.store.ReadAll(ctx)
	if err != nil {
		return &AdapterError{Op: "read_all", Err: err}
	}

	var legacy []string
	fresh := make(map[string]V, len(raw))
	for k, b := range raw {
		v, fellBack, err := m.codec.DecodeFallback(b)
		if err != nil {
			return err
		}
		if fellBack {
			legacy = append(legacy, k)
		}
		fresh[k] = v
	}

	m.mu.Lock()
	if !durable.After(m.lastSynced) {
		// a concurrent sync installed an equal-or-newer mirror while we
		// were loading; keep it
		m.mu.Unlock()
		return nil
	}
	from := m.lastSynced
	m.mirror = fresh
	// lastSynced becomes the version read BEFORE the reload: a write
	// landing between the two reads costs one redundant reload, never a
	// missed one
	m.lastSynced = durable
	m.mu.Unlock()

	m.log.Debug("mirror reloaded", Fields{"keys": len(fresh), "version": int64(durable)})
	m.hooks.Reloaded(len(fresh), durable)
	for _, k := range legacy {
		m.hooks.LegacyDecode(k)
	}
	if from != 0 && int64(durable-from) >= counter.ReseedGap {
		m.hooks.VersionJump(from, durable)
	}
	return nil
}

func (m *vmap[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := m.sync(ctx, false); err != nil {
		return zero, false, err
	}
	m.mu.RLock()
	v, ok := m.mirror[key]
	m.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

func (m *vmap[V]) Item(ctx context.Context, key string) (V, error) {
	v, ok, err := m.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, &KeyNotFoundError{Key: key}
	}
	return v, nil
}

func (m *vmap[V]) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *vmap[V]) Len(ctx context.Context) (int, error) {
	if err := m.sync(ctx, false); err != nil {
		return 0, err
	}
	m.mu.RLock()
	n := len(m.mirror)
	m.mu.RUnlock()
	return n, nil
}

// Snapshot returns a copy of the mirror; mutating it does not touch the
// mapping. Compare snapshots with maps.Equal for plain-map equality.
func (m *vmap[V]) Snapshot(ctx context.Context) (map[string]V, error) {
	if err := m.sync(ctx, false); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := maps.Clone(m.mirror)
	m.mu.RUnlock()
	return out, nil
}

func (m *vmap[V]) Set(ctx context.Context, key string, value V) error {
	b, err := m.codec.Encode(value)
	if err != nil {
		return err
	}
	if err := m.store.WriteOne(ctx, key, b); err != nil {
		return &AdapterError{Op: "write", Err: err}
	}
	return m.sync(ctx, true)
}

func (m *vmap[V]) Delete(ctx context.Context, key string) error {
	err := m.store.DeleteOne(ctx, key)
	if errors.Is(err, st.ErrNotFound) {
		return &KeyNotFoundError{Key: key}
	}
	if err != nil {
		return &AdapterError{Op: "delete", Err: err}
	}
	return m.sync(ctx, true)
}

func (m *vmap[V]) Pop(ctx context.Context, key string) (V, error) {
	var zero V
	if p, ok := m.store.(st.Popper); ok {
		b, err := p.Pop(ctx, key)
		if errors.Is(err, st.ErrNotFound) {
			return zero, &KeyNotFoundError{Key: key}
		}
		if err != nil {
			return zero, &AdapterError{Op: "pop", Err: err}
		}
		v, fellBack, err := m.codec.DecodeFallback(b)
		if err != nil {
			return zero, err
		}
		if fellBack {
			m.hooks.LegacyDecode(key)
		}
		if err := m.sync(ctx, true); err != nil {
			return zero, err
		}
		return v, nil
	}

	// Read-then-delete for stores without an atomic pop. Losing the delete
	// race is tolerated: the value was read, and the winner's delete bumped
	// the version just the same.
	v, err := m.Item(ctx, key)
	if err != nil {
		return zero, err
	}
	if err := m.store.DeleteOne(ctx, key); err != nil && !errors.Is(err, st.ErrNotFound) {
		return zero, &AdapterError{Op: "pop", Err: err}
	}
	if err := m.sync(ctx, true); err != nil {
		return zero, err
	}
	return v, nil
}

func (m *vmap[V]) PopDefault(ctx context.Context, key string, def V) (V, error) {
	v, err := m.Pop(ctx, key)
	var nf *KeyNotFoundError
	if errors.As(err, &nf) {
		return def, nil
	}
	return v, err
}

// SetDefault returns the value that survives: the existing one, or def
// freshly written. The version is bumped only when the key was created.
func (m *vmap[V]) SetDefault(ctx context.Context, key string, def V) (V, error) {
	var zero V
	b, err := m.codec.Encode(def)
	if err != nil {
		return zero, err
	}

	if d, ok := m.store.(st.Defaulter); ok {
		got, created, err := d.SetDefault(ctx, key, b)
		if err != nil {
			return zero, &AdapterError{Op: "setdefault", Err: err}
		}
		v := def
		if !created {
			var fellBack bool
			v, fellBack, err = m.codec.DecodeFallback(got)
			if err != nil {
				return zero, err
			}
			if fellBack {
				m.hooks.LegacyDecode(key)
			}
		}
		if err := m.sync(ctx, true); err != nil {
			return zero, err
		}
		return v, nil
	}

	// Check-then-write for stores without an atomic get-or-create. A
	// concurrent creator can win between the two steps; the next sync
	// surfaces whichever value landed last.
	if v, ok, err := m.Get(ctx, key); err != nil {
		return zero, err
	} else if ok {
		return v, nil
	}
	if err := m.store.WriteOne(ctx, key, b); err != nil {
		return zero, &AdapterError{Op: "setdefault", Err: err}
	}
	if err := m.sync(ctx, true); err != nil {
		return zero, err
	}
	return def, nil
}

func (m *vmap[V]) Sync(ctx context.Context) error {
	return m.sync(ctx, true)
}

// LastSynced returns the version of the last installed mirror. Purely
// observational; no I/O.
func (m *vmap[V]) LastSynced() st.Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSynced
}
