// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/duramap"
//	"github.com/unkn0wn-root/duramap/hooks/async"
//	"github.com/unkn0wn-root/duramap/sloghooks"
//	"github.com/unkn0wn-root/duramap/store/redis"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ReloadEvery:       10, // sample logs: ~every 10th reload
//	    LegacyDecodeEvery: 100,
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	m, _ := duramap.New[User](ctx, duramap.Options[User]{
//	    Store: store,
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/duramap"
	"github.com/unkn0wn-root/duramap/store"
)

type Hooks struct {
	inner duramap.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ duramap.Hooks = (*Hooks)(nil)

func New(inner duramap.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Reloaded(keys int, v store.Version) { h.try(func() { h.inner.Reloaded(keys, v) }) }
func (h *Hooks) VersionJump(from, to store.Version) { h.try(func() { h.inner.VersionJump(from, to) }) }
func (h *Hooks) LegacyDecode(key string)            { h.try(func() { h.inner.LegacyDecode(key) }) }
