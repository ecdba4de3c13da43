package counter

import (
	"context"
	"sync"
)

// Local is an in-process Counter. It gives a single process full counter
// semantics, including eviction via Delete, which makes it the reference
// implementation for tests and the default for stores that are not shared
// between processes anyway. Cross-instance invalidation needs a shared
// implementation such as Redis or Memcache.
type Local struct {
	mu     sync.Mutex
	v      int64
	exists bool
}

var _ Counter = (*Local)(nil)

// NewLocal returns an empty Local counter. It does not exist until Create
// is called, mirroring the shared implementations.
func NewLocal() *Local { return &Local{} }

func (l *Local) Value(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.exists {
		return 0, nil
	}
	return l.v, nil
}

func (l *Local) Incr(_ context.Context) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.exists {
		return 0, false, nil
	}
	l.v++
	return l.v, true, nil
}

func (l *Local) Create(_ context.Context, value int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exists {
		return false, nil
	}
	l.v = value
	l.exists = true
	return true, nil
}

// Delete drops the counter, simulating an eviction.
func (l *Local) Delete() {
	l.mu.Lock()
	l.exists = false
	l.v = 0
	l.mu.Unlock()
}
