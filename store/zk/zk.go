// Package zk provides a store.Store backed by a ZooKeeper node tree.
//
// Each key is one child node beneath a base path. The version counter is
// process-local: this instance's own writes bump it directly, and a watch
// pump bumps it when other instances mutate the tree. ReadVersion is
// therefore free of I/O, and instances number versions independently —
// which is all the mapping needs, since it only ever compares an adapter's
// version against what it last saw from that same adapter.
//
// Watches are one-shot, so the pump re-arms them after every delivery. Own
// writes trip the watches too; the extra bump costs one redundant reload.
package zk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gozk "github.com/go-zookeeper/zk"

	"github.com/unkn0wn-root/duramap"
	"github.com/unkn0wn-root/duramap/store"
)

var (
	ErrNilConn = errors.New("zk store: nil connection")
	ErrBadPath = errors.New("zk store: path must be absolute and not end with '/'")
	ErrBadKey  = errors.New("zk store: key must not contain '/'")
)

// retry bounds for create/set races with other instances
const writeAttempts = 3

// ZK mirrors one keyspace as the children of a base path.
type ZK struct {
	conn *gozk.Conn
	base string
	log  duramap.Logger

	version atomic.Int64

	mu    sync.Mutex
	armed map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ store.Store     = (*ZK)(nil)
	_ store.Popper    = (*ZK)(nil)
	_ store.Defaulter = (*ZK)(nil)
)

type Config struct {
	// Path is the absolute base path owning the keyspace, e.g.
	// "/duramap/settings". Created (with parents) when missing.
	Path   string
	Logger duramap.Logger
}

// New validates cfg, ensures the base path exists and starts the watch
// pump. Close stops the pump; the connection stays with the caller — close
// the store before the connection.
func New(conn *gozk.Conn, cfg Config) (*ZK, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	if !strings.HasPrefix(cfg.Path, "/") || strings.HasSuffix(cfg.Path, "/") {
		return nil, ErrBadPath
	}
	log := cfg.Logger
	if log == nil {
		log = duramap.NopLogger{}
	}

	if err := ensurePath(conn, cfg.Path); err != nil {
		return nil, fmt.Errorf("zk store: ensure path: %w", err)
	}

	s := &ZK{
		conn:  conn,
		base:  cfg.Path,
		log:   log,
		armed: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
	s.version.Store(1)

	s.wg.Add(1)
	go s.pumpChildren()
	return s, nil
}

// Close stops the watch pump. Safe to call multiple times.
func (s *ZK) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func ensurePath(conn *gozk.Conn, path string) error {
	var cur string
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		cur += "/" + p
		_, err := conn.Create(cur, nil, 0, gozk.WorldACL(gozk.PermAll))
		if err != nil && !errors.Is(err, gozk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

func (s *ZK) nodePath(key string) string { return s.base + "/" + key }

func (s *ZK) bump() { s.version.Add(1) }

func (s *ZK) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// pumpChildren holds a children watch on the base path for the lifetime of
// the store, bumping the local version whenever it fires.
func (s *ZK) pumpChildren() {
	defer s.wg.Done()
	for {
		_, _, ch, err := s.conn.ChildrenW(s.base)
		if err != nil {
			if s.closing() {
				return
			}
			s.log.Warn("children watch failed", duramap.Fields{"path": s.base, "error": err.Error()})
			select {
			case <-s.done:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-s.done:
			return
		case <-ch:
			s.bump()
		}
	}
}

// pumpData keeps a data watch alive on one child until the node goes away
// or the store closes. The children watch does not fire for data changes,
// so without this, updates to existing keys from other instances would go
// unnoticed.
func (s *ZK) pumpData(key string, ch <-chan gozk.Event) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.armed, key)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.done:
			return
		case <-ch:
			s.bump()
		}

		_, _, next, err := s.conn.GetW(s.nodePath(key))
		if err != nil {
			if !errors.Is(err, gozk.ErrNoNode) && !s.closing() {
				s.log.Warn("data watch failed", duramap.Fields{"path": s.nodePath(key), "error": err.Error()})
			}
			return
		}
		ch = next
	}
}

// arm starts a data watch pump for key unless one is already running.
// Returns the node's current data.
func (s *ZK) arm(key string) ([]byte, error) {
	s.mu.Lock()
	_, running := s.armed[key]
	if !running {
		s.armed[key] = struct{}{}
	}
	s.mu.Unlock()

	if running {
		data, _, err := s.conn.Get(s.nodePath(key))
		return data, err
	}

	data, _, ch, err := s.conn.GetW(s.nodePath(key))
	if err != nil {
		s.mu.Lock()
		delete(s.armed, key)
		s.mu.Unlock()
		return nil, err
	}
	s.wg.Add(1)
	go s.pumpData(key, ch)
	return data, nil
}

func (s *ZK) WriteOne(_ context.Context, key string, value []byte) error {
	if strings.ContainsRune(key, '/') {
		return ErrBadKey
	}
	path := s.nodePath(key)
	for i := 0; i < writeAttempts; i++ {
		_, err := s.conn.Set(path, value, -1)
		if err == nil {
			s.bump()
			return nil
		}
		if !errors.Is(err, gozk.ErrNoNode) {
			return err
		}
		_, err = s.conn.Create(path, value, 0, gozk.WorldACL(gozk.PermAll))
		if err == nil {
			s.bump()
			return nil
		}
		if !errors.Is(err, gozk.ErrNodeExists) {
			return err
		}
		// Lost the create race; the node exists now, retry the set.
	}
	return fmt.Errorf("zk store: write contention on %s", path)
}

func (s *ZK) DeleteOne(_ context.Context, key string) error {
	if strings.ContainsRune(key, '/') {
		return ErrBadKey
	}
	err := s.conn.Delete(s.nodePath(key), -1)
	if errors.Is(err, gozk.ErrNoNode) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	s.bump()
	return nil
}

func (s *ZK) ReadAll(_ context.Context) (map[string][]byte, error) {
	children, _, err := s.conn.Children(s.base)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(children))
	for _, child := range children {
		data, err := s.arm(child)
		if errors.Is(err, gozk.ErrNoNode) {
			// Deleted between the children listing and the read.
			continue
		}
		if err != nil {
			return nil, err
		}
		out[child] = data
	}
	return out, nil
}

func (s *ZK) ReadVersion(_ context.Context) (store.Version, error) {
	return store.Version(s.version.Load()), nil
}

// Pop reads then deletes. Losing the delete race to another instance is
// tolerated: the value was read, and the other side's delete bumped the
// tree just the same.
func (s *ZK) Pop(_ context.Context, key string) ([]byte, error) {
	if strings.ContainsRune(key, '/') {
		return nil, ErrBadKey
	}
	path := s.nodePath(key)
	data, _, err := s.conn.Get(path)
	if errors.Is(err, gozk.ErrNoNode) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.conn.Delete(path, -1); err != nil && !errors.Is(err, gozk.ErrNoNode) {
		return nil, err
	}
	s.bump()
	return data, nil
}

// SetDefault is a bounded get-or-create: read wins if the node exists,
// otherwise create; on a lost create race, read again.
func (s *ZK) SetDefault(_ context.Context, key string, def []byte) ([]byte, bool, error) {
	if strings.ContainsRune(key, '/') {
		return nil, false, ErrBadKey
	}
	path := s.nodePath(key)
	for i := 0; i < writeAttempts; i++ {
		data, _, err := s.conn.Get(path)
		if err == nil {
			return data, false, nil
		}
		if !errors.Is(err, gozk.ErrNoNode) {
			return nil, false, err
		}
		_, err = s.conn.Create(path, def, 0, gozk.WorldACL(gozk.PermAll))
		if err == nil {
			s.bump()
			return append([]byte(nil), def...), true, nil
		}
		if !errors.Is(err, gozk.ErrNodeExists) {
			return nil, false, err
		}
		// Lost the create race; the next read returns the winner's value.
	}
	return nil, false, fmt.Errorf("zk store: setdefault contention on %s", path)
}
