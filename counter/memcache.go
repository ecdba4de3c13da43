package counter

import (
	"context"
	"strconv"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheClient is the subset of *memcache.Client the counter needs.
// It is an interface so deployments can wrap the client with
// instrumentation or server discovery.
type MemcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Add(item *memcache.Item) error
	Increment(key string, delta uint64) (uint64, error)
}

var _ MemcacheClient = (*memcache.Client)(nil)

// Memcache is a Counter living in memcached, the canonical evictable
// backend: memcached may drop the key under memory pressure at any time,
// which is exactly the loss Touch recovers from.
//
// Values are stored in ASCII because memcached only increments textual
// numbers.
type Memcache struct {
	mc  MemcacheClient
	key string
}

var _ Counter = (*Memcache)(nil)

// NewMemcache creates a memcached-backed counter at the given key.
func NewMemcache(client MemcacheClient, key string) *Memcache {
	return &Memcache{mc: client, key: key}
}

// Value returns the current value. A missing or evicted key is treated as 0.
func (m *Memcache) Value(_ context.Context) (int64, error) {
	it, err := m.mc.Get(m.key)
	if err == memcache.ErrCacheMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(it.Value), 10, 64)
}

func (m *Memcache) Incr(_ context.Context) (int64, bool, error) {
	v, err := m.mc.Increment(m.key, 1)
	if err == memcache.ErrCacheMiss {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int64(v), true, nil
}

func (m *Memcache) Create(_ context.Context, value int64) (bool, error) {
	err := m.mc.Add(&memcache.Item{
		Key:   m.key,
		Value: strconv.AppendInt(nil, value, 10),
	})
	if err == memcache.ErrNotStored {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
