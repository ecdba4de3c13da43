// Package sqlite provides a store.Store backed by a relational table
// through database/sql.
//
// Entries live in one shared table keyed by (keyspace, key); the version
// counter is an injected counter.Counter and therefore lives in a different
// system than the rows. "Write value + bump version" is consequently not
// atomic here: a crash between the two leaves either an unbumped write
// (invisible to other instances until the next bump) or a bump with no
// write (one spurious reload). Callers own idempotent retry; backends that
// can do better (Redis, Badger) do.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/duramap"
	"github.com/unkn0wn-root/duramap/counter"
	"github.com/unkn0wn-root/duramap/store"
)

var (
	ErrNilDB      = errors.New("sqlite store: nil db")
	ErrNoKeyspace = errors.New("sqlite store: empty keyspace")
)

const schema = `
CREATE TABLE IF NOT EXISTS duramap_entries (
	keyspace TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    BLOB NOT NULL,
	PRIMARY KEY (keyspace, key)
)`

// Store mirrors one keyspace as rows in the duramap_entries table.
type Store struct {
	db       *sql.DB
	keyspace string
	ctr      counter.Counter
	log      duramap.Logger
	ownsDB   bool

	// highest version this adapter has observed; reseed base after a
	// counter eviction
	lastSeen atomic.Int64
}

var (
	_ store.Store     = (*Store)(nil)
	_ store.Popper    = (*Store)(nil)
	_ store.Defaulter = (*Store)(nil)
)

type Config struct {
	Keyspace string
	// Counter holds the keyspace's version. Leave nil for a process-local
	// counter: correct on one instance, but other processes never observe
	// the bumps, so shared deployments should inject a Redis or Memcache
	// counter.
	Counter counter.Counter
	Logger  duramap.Logger
}

// New wraps an existing database. The duramap_entries table must already
// exist (Open creates it for the bundled SQLite driver); the version
// counter is created with value 1 when missing, so a fresh instance over
// existing rows still performs its initial load.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if cfg.Keyspace == "" {
		return nil, ErrNoKeyspace
	}
	log := cfg.Logger
	if log == nil {
		log = duramap.NopLogger{}
	}
	ctr := cfg.Counter
	if ctr == nil {
		ctr = counter.NewLocal()
		log.Warn("no version counter configured; using process-local counter, other instances will not see invalidations",
			duramap.Fields{"keyspace": cfg.Keyspace})
	}

	s := &Store{db: db, keyspace: cfg.Keyspace, ctr: ctr, log: log}
	if _, err := ctr.Create(ctx, 1); err != nil {
		return nil, fmt.Errorf("seed version counter: %w", err)
	}
	if _, err := s.ReadVersion(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens (or creates) a SQLite database at path, ensures the schema,
// and wraps it. The returned store owns the connection; Close releases it.
func Open(ctx context.Context, path string, cfg Config) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: path is required")
	}

	// modernc's driver takes pragmas as _pragma=name(value) pairs and runs
	// them on every new connection.
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s, err := New(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Close releases the database only when this store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// observe raises the watermark to v; it never lowers it.
func (s *Store) observe(v int64) {
	for {
		cur := s.lastSeen.Load()
		if v <= cur || s.lastSeen.CompareAndSwap(cur, v) {
			return
		}
	}
}

// bump advances the version counter, recreating it at watermark+gap when it
// has been lost.
func (s *Store) bump(ctx context.Context) error {
	v, reseeded, err := counter.Touch(ctx, s.ctr, s.lastSeen.Load())
	if err != nil {
		return err
	}
	if reseeded {
		s.log.Warn("version counter lost; reseeded",
			duramap.Fields{"keyspace": s.keyspace, "version": v})
	}
	s.observe(v)
	return nil
}

func (s *Store) WriteOne(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO duramap_entries (keyspace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (keyspace, key) DO UPDATE SET value = excluded.value`,
		s.keyspace, key, value)
	if err != nil {
		return err
	}
	return s.bump(ctx)
}

func (s *Store) DeleteOne(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM duramap_entries WHERE keyspace = ? AND key = ?`,
		s.keyspace, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return s.bump(ctx)
}

func (s *Store) ReadAll(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM duramap_entries WHERE keyspace = ?`, s.keyspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) ReadVersion(ctx context.Context) (store.Version, error) {
	v, err := s.ctr.Value(ctx)
	if err != nil {
		return 0, err
	}
	s.observe(v)
	return store.Version(v), nil
}

// Pop reads and deletes in one transaction; the bump still happens after
// commit, with the same gap as every other mutation here.
func (s *Store) Pop(ctx context.Context, key string) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM duramap_entries WHERE keyspace = ? AND key = ?`,
		s.keyspace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, store.ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM duramap_entries WHERE keyspace = ? AND key = ?`,
		s.keyspace, key); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := s.bump(ctx); err != nil {
		return nil, err
	}
	return value, nil
}

// SetDefault inserts def unless the key exists and returns the surviving
// row, bumping only on insert.
func (s *Store) SetDefault(ctx context.Context, key string, def []byte) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO duramap_entries (keyspace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (keyspace, key) DO NOTHING`,
		s.keyspace, key, def)
	if err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}

	var value []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM duramap_entries WHERE keyspace = ? AND key = ?`,
		s.keyspace, key).Scan(&value); err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	created := n == 1
	if created {
		if err := s.bump(ctx); err != nil {
			return nil, false, err
		}
	}
	return value, created, nil
}
