package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/duramap"
	"github.com/unkn0wn-root/duramap/store"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ReloadEvery       uint64
	LegacyDecodeEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	reloadCtr atomic.Uint64
	legacyCtr atomic.Uint64
}

var _ duramap.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Reloaded(keys int, version store.Version) {
	if h.l == nil || !sample(h.opts.ReloadEvery, &h.reloadCtr) {
		return
	}
	h.l.Debug("duramap.reloaded",
		"keys", keys,
		"version", int64(version))
}

// VersionJump is rare and high-signal, so it is never sampled.
func (h *Hooks) VersionJump(from, to store.Version) {
	if h.l == nil {
		return
	}
	h.l.Warn("duramap.version_jump",
		"from", int64(from),
		"to", int64(to),
		"msg", "version counter was likely evicted and reseeded")
}

func (h *Hooks) LegacyDecode(key string) {
	if h.l == nil || !sample(h.opts.LegacyDecodeEvery, &h.legacyCtr) {
		return
	}
	h.l.Info("duramap.legacy_decode",
		"key", h.redact(key))
}
