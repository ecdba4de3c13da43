package duramap

import (
	"github.com/unkn0wn-root/duramap/store"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them after every reload, outside its locks.
type Hooks interface {
	// The mirror was replaced after a version change.
	Reloaded(keys int, version store.Version)

	// The durable version advanced by at least counter.ReseedGap between
	// two syncs - the observable shadow of a lost-and-reseeded counter.
	// Never fired for the initial load.
	VersionJump(from, to store.Version)

	// The legacy codec served a decode the primary could not.
	// Fires per key per reload for as long as old-format values remain.
	LegacyDecode(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Reloaded(int, store.Version)              {}
func (NopHooks) VersionJump(store.Version, store.Version) {}
func (NopHooks) LegacyDecode(string)                      {}
