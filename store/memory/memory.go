// Package memory provides an in-process store.Store for tests and
// single-process use.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/duramap/store"
)

// Memory holds the entries and the version counter in process memory. It
// implements the full contract including both atomic extensions, and serves
// as the reference implementation of the bump semantics: the version moves
// exactly when the data changes.
//
// Instances sharing one *Memory see each other's writes, so it also backs
// multi-instance tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
	version store.Version
}

var (
	_ store.Store     = (*Memory)(nil)
	_ store.Popper    = (*Memory)(nil)
	_ store.Defaulter = (*Memory)(nil)
)

// New returns an empty keyspace with its counter seeded to 1.
func New() *Memory {
	return &Memory{entries: make(map[string][]byte), version: 1}
}

func (m *Memory) WriteOne(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
	m.version++
	return nil
}

func (m *Memory) DeleteOne(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.entries, key)
	m.version++
	return nil
}

func (m *Memory) ReadAll(_ context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.entries))
	for k, v := range m.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (m *Memory) ReadVersion(_ context.Context) (store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, nil
}

// Pop removes key and returns its value in one step.
func (m *Memory) Pop(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(m.entries, key)
	m.version++
	return v, nil
}

// SetDefault returns the existing value untouched, or installs def and
// bumps when the key is new.
func (m *Memory) SetDefault(_ context.Context, key string, def []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[key]; ok {
		return append([]byte(nil), v...), false, nil
	}
	m.entries[key] = append([]byte(nil), def...)
	m.version++
	return append([]byte(nil), def...), true, nil
}
