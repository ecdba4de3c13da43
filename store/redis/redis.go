// Package redis provides a store.Store backed by a Redis hash.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/duramap/counter"
	"github.com/unkn0wn-root/duramap/store"
)

var (
	ErrNilClient  = errors.New("redis store: nil client")
	ErrNoKeyspace = errors.New("redis store: empty keyspace")
)

// Each mutation runs as one Lua script so the data change and the version
// bump commit atomically. The bump recreates an evicted counter at
// watermark+gap, which is counter.Touch's recovery protocol pushed into the
// script; the seed travels as an ARGV because scripts cannot see adapter
// state.
//
// KEYS[1] is the hash, KEYS[2] the version key.

const bumpLua = `
local function bump(seed)
  if redis.call('EXISTS', KEYS[2]) == 1 then
    return redis.call('INCR', KEYS[2])
  end
  redis.call('SET', KEYS[2], seed)
  return tonumber(seed)
end
`

var (
	// ARGV: key, value, seed -> version
	writeScript = goredis.NewScript(bumpLua + `
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return bump(ARGV[3])
`)

	// ARGV: key, seed -> false when absent (no bump), else version
	deleteScript = goredis.NewScript(bumpLua + `
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
  return false
end
return bump(ARGV[2])
`)

	// ARGV: key, seed -> false when absent (no bump), else {version, value}
	popScript = goredis.NewScript(bumpLua + `
local val = redis.call('HGET', KEYS[1], ARGV[1])
if val == false then
  return false
end
redis.call('HDEL', KEYS[1], ARGV[1])
return {bump(ARGV[2]), val}
`)

	// ARGV: key, default, seed -> {version, created, surviving value};
	// bumps only when the key was created
	setDefaultScript = goredis.NewScript(bumpLua + `
local val = redis.call('HGET', KEYS[1], ARGV[1])
if val ~= false then
  local v = tonumber(redis.call('GET', KEYS[2]) or '0')
  return {v, 0, val}
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return {bump(ARGV[3]), 1, ARGV[2]}
`)
)

// Redis mirrors one keyspace as a hash at <keyspace>, with the version
// counter at <keyspace>:last_updated. Keyspaces isolate by key name.
type Redis struct {
	rdb     goredis.UniversalClient
	hashKey string
	verKey  string

	// highest version this adapter has observed; reseed base after a
	// counter eviction
	watermark atomic.Int64
}

var (
	_ store.Store     = (*Redis)(nil)
	_ store.Popper    = (*Redis)(nil)
	_ store.Defaulter = (*Redis)(nil)
)

type Config struct {
	Client   goredis.UniversalClient
	Keyspace string
}

// New validates cfg and ensures the version counter exists (SETNX 1), so a
// fresh instance over existing data performs its initial load even when the
// counter was lost.
func New(ctx context.Context, cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Keyspace == "" {
		return nil, ErrNoKeyspace
	}

	s := &Redis{
		rdb:     cfg.Client,
		hashKey: cfg.Keyspace,
		verKey:  cfg.Keyspace + ":last_updated",
	}
	if err := s.rdb.SetNX(ctx, s.verKey, 1, 0).Err(); err != nil {
		return nil, err
	}
	if _, err := s.ReadVersion(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Redis) keys() []string { return []string{s.hashKey, s.verKey} }

func (s *Redis) seed() int64 { return s.watermark.Load() + counter.ReseedGap }

// observe raises the watermark to v; it never lowers it.
func (s *Redis) observe(v int64) {
	for {
		cur := s.watermark.Load()
		if v <= cur || s.watermark.CompareAndSwap(cur, v) {
			return
		}
	}
}

// version extracts the leading version from a script reply and records it.
func (s *Redis) version(res interface{}) (int64, []interface{}, error) {
	switch r := res.(type) {
	case int64:
		s.observe(r)
		return r, nil, nil
	case []interface{}:
		if len(r) == 0 {
			break
		}
		v, ok := r[0].(int64)
		if !ok {
			break
		}
		s.observe(v)
		return v, r[1:], nil
	}
	return 0, nil, fmt.Errorf("redis store: unexpected script reply %T", res)
}

func (s *Redis) WriteOne(ctx context.Context, key string, value []byte) error {
	res, err := writeScript.Run(ctx, s.rdb, s.keys(), key, value, s.seed()).Result()
	if err != nil {
		return err
	}
	_, _, err = s.version(res)
	return err
}

func (s *Redis) DeleteOne(ctx context.Context, key string) error {
	res, err := deleteScript.Run(ctx, s.rdb, s.keys(), key, s.seed()).Result()
	if err == goredis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, _, err = s.version(res)
	return err
}

func (s *Redis) ReadAll(ctx context.Context) (map[string][]byte, error) {
	kv, err := s.rdb.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(kv))
	for k, v := range kv {
		out[k] = []byte(v)
	}
	return out, nil
}

func (s *Redis) ReadVersion(ctx context.Context) (store.Version, error) {
	v, err := s.rdb.Get(ctx, s.verKey).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.observe(v)
	return store.Version(v), nil
}

func (s *Redis) Pop(ctx context.Context, key string) ([]byte, error) {
	res, err := popScript.Run(ctx, s.rdb, s.keys(), key, s.seed()).Result()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_, rest, err := s.version(res)
	if err != nil {
		return nil, err
	}
	if len(rest) != 1 {
		return nil, fmt.Errorf("redis store: unexpected pop reply length %d", len(rest)+1)
	}
	val, ok := rest[0].(string)
	if !ok {
		return nil, fmt.Errorf("redis store: unexpected pop payload %T", rest[0])
	}
	return []byte(val), nil
}

func (s *Redis) SetDefault(ctx context.Context, key string, def []byte) ([]byte, bool, error) {
	res, err := setDefaultScript.Run(ctx, s.rdb, s.keys(), key, def, s.seed()).Result()
	if err != nil {
		return nil, false, err
	}
	_, rest, err := s.version(res)
	if err != nil {
		return nil, false, err
	}
	if len(rest) != 2 {
		return nil, false, fmt.Errorf("redis store: unexpected setdefault reply length %d", len(rest)+1)
	}
	created, ok := rest[0].(int64)
	if !ok {
		return nil, false, fmt.Errorf("redis store: unexpected created flag %T", rest[0])
	}
	val, ok := rest[1].(string)
	if !ok {
		return nil, false, fmt.Errorf("redis store: unexpected setdefault payload %T", rest[1])
	}
	return []byte(val), created == 1, nil
}
