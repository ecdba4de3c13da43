// Package badger provides a store.Store backed by a Badger database.
//
// Entries live under a <keyspace>/ prefix with the version counter in a
// sibling key, and every mutation commits the data change and the bump in
// one transaction — of the bundled adapters this is the one with genuinely
// atomic write+bump.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	bdg "github.com/dgraph-io/badger/v3"

	"github.com/unkn0wn-root/duramap/counter"
	"github.com/unkn0wn-root/duramap/store"
)

var (
	ErrNilDB       = errors.New("badger store: nil db")
	ErrNoKeyspace  = errors.New("badger store: empty keyspace")
	ErrBadKeyspace = errors.New("badger store: keyspace must not contain '/'")
)

// Badger mirrors one keyspace as keys under <keyspace>/, with the version
// counter at <keyspace>:last_updated (outside the entry prefix). Keyspaces
// must not contain '/' so their prefixes cannot shadow each other.
type Badger struct {
	db     *bdg.DB
	prefix string
	verKey []byte
	ownsDB bool

	// highest version this adapter has observed; reseed base should the
	// counter key ever be removed
	watermark atomic.Int64
}

var (
	_ store.Store     = (*Badger)(nil)
	_ store.Popper    = (*Badger)(nil)
	_ store.Defaulter = (*Badger)(nil)
)

type Config struct {
	Keyspace string
}

// New wraps an existing Badger database. The version counter is created
// with value 1 when missing, so a fresh instance over existing entries
// still performs its initial load.
func New(db *bdg.DB, cfg Config) (*Badger, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if cfg.Keyspace == "" {
		return nil, ErrNoKeyspace
	}
	if strings.ContainsRune(cfg.Keyspace, '/') {
		return nil, ErrBadKeyspace
	}

	s := &Badger{
		db:     db,
		prefix: cfg.Keyspace + "/",
		verKey: []byte(cfg.Keyspace + ":last_updated"),
	}

	var cur int64
	err := s.db.Update(func(txn *bdg.Txn) error {
		item, err := txn.Get(s.verKey)
		if errors.Is(err, bdg.ErrKeyNotFound) {
			cur = 1
			return txn.Set(s.verKey, encodeVersion(1))
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		cur, err = decodeVersion(b)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: seed version counter: %w", err)
	}
	s.observe(cur)
	return s, nil
}

// Open opens (or creates) a Badger database at dir with default options and
// its own logging silenced, then wraps it. The returned store owns the
// database; Close releases it.
func Open(dir string, cfg Config) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("badger store: dir is required")
	}
	opts := bdg.DefaultOptions(dir)
	opts.Logger = nil

	db, err := bdg.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open db: %w", err)
	}
	s, err := New(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Close releases the database only when this store opened it.
func (s *Badger) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Badger) entryKey(key string) []byte { return []byte(s.prefix + key) }

// observe raises the watermark to v; it never lowers it.
func (s *Badger) observe(v int64) {
	for {
		cur := s.watermark.Load()
		if v <= cur || s.watermark.CompareAndSwap(cur, v) {
			return
		}
	}
}

// update runs fn in a read-write transaction, retrying optimistic-conflict
// aborts. All mutations here touch the version key, so concurrent callers
// conflict routinely and the retry is part of normal operation.
func (s *Badger) update(fn func(txn *bdg.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, bdg.ErrConflict) {
			return err
		}
	}
}

// bumpTxn advances the version inside txn and returns the new value. A
// missing counter restarts at watermark+gap, same protocol as counter.Touch.
func (s *Badger) bumpTxn(txn *bdg.Txn) (int64, error) {
	var next int64
	item, err := txn.Get(s.verKey)
	switch {
	case errors.Is(err, bdg.ErrKeyNotFound):
		next = s.watermark.Load() + counter.ReseedGap
	case err != nil:
		return 0, err
	default:
		b, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		cur, err := decodeVersion(b)
		if err != nil {
			return 0, err
		}
		next = cur + 1
	}
	return next, txn.Set(s.verKey, encodeVersion(next))
}

func (s *Badger) WriteOne(_ context.Context, key string, value []byte) error {
	var v int64
	err := s.update(func(txn *bdg.Txn) error {
		if err := txn.Set(s.entryKey(key), value); err != nil {
			return err
		}
		var err error
		v, err = s.bumpTxn(txn)
		return err
	})
	if err != nil {
		return err
	}
	s.observe(v)
	return nil
}

func (s *Badger) DeleteOne(_ context.Context, key string) error {
	ek := s.entryKey(key)
	var v int64
	err := s.update(func(txn *bdg.Txn) error {
		// Badger's Delete does not report missing keys; read first so a
		// no-op delete does not bump.
		if _, err := txn.Get(ek); err != nil {
			return err
		}
		if err := txn.Delete(ek); err != nil {
			return err
		}
		var err error
		v, err = s.bumpTxn(txn)
		return err
	})
	if errors.Is(err, bdg.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	s.observe(v)
	return nil
}

func (s *Badger) ReadAll(_ context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *bdg.Txn) error {
		opts := bdg.DefaultIteratorOptions
		opts.Prefix = []byte(s.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[strings.TrimPrefix(string(item.Key()), s.prefix)] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Badger) ReadVersion(_ context.Context) (store.Version, error) {
	var v int64
	err := s.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get(s.verKey)
		if errors.Is(err, bdg.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		v, err = decodeVersion(b)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.observe(v)
	return store.Version(v), nil
}

// Pop reads, deletes and bumps in one transaction.
func (s *Badger) Pop(_ context.Context, key string) ([]byte, error) {
	ek := s.entryKey(key)
	var (
		v   int64
		val []byte
	)
	err := s.update(func(txn *bdg.Txn) error {
		item, err := txn.Get(ek)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(ek); err != nil {
			return err
		}
		v, err = s.bumpTxn(txn)
		return err
	})
	if errors.Is(err, bdg.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.observe(v)
	return val, nil
}

// SetDefault returns the existing value, or installs def and bumps when the
// key is new — all in one transaction.
func (s *Badger) SetDefault(_ context.Context, key string, def []byte) ([]byte, bool, error) {
	ek := s.entryKey(key)
	var (
		v       int64
		val     []byte
		created bool
	)
	err := s.update(func(txn *bdg.Txn) error {
		created = false
		item, err := txn.Get(ek)
		if err == nil {
			val, err = item.ValueCopy(nil)
			return err
		}
		if !errors.Is(err, bdg.ErrKeyNotFound) {
			return err
		}

		created = true
		val = append([]byte(nil), def...)
		if err := txn.Set(ek, def); err != nil {
			return err
		}
		v, err = s.bumpTxn(txn)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.observe(v)
	}
	return val, created, nil
}

func encodeVersion(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeVersion(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("badger store: malformed version value (%d bytes)", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
