package counter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrIfExists increments only when the key is present. A plain INCR would
// silently recreate a deleted counter at 1, hiding the eviction from the
// recovery protocol; the guard turns it into an explicit "absent" reply.
var incrIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('INCR', KEYS[1])
end
return false
`)

// Redis is a Counter stored in a single Redis string key, shared across
// processes.
type Redis struct {
	rdb redis.UniversalClient
	key string
}

var _ Counter = (*Redis)(nil)

// NewRedis creates a Redis-backed counter at the given key.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	return &Redis{rdb: client, key: key}
}

// Value returns the current value. A missing key is treated as 0.
func (r *Redis) Value(ctx context.Context) (int64, error) {
	v, err := r.rdb.Get(ctx, r.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (r *Redis) Incr(ctx context.Context) (int64, bool, error) {
	res, err := incrIfExists.Run(ctx, r.rdb, []string{r.key}).Result()
	if err == redis.Nil {
		// Lua false comes back as a nil reply: the counter is absent.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, ok := res.(int64)
	if !ok {
		return 0, false, fmt.Errorf("counter: unexpected INCR reply %T", res)
	}
	return v, true, nil
}

func (r *Redis) Create(ctx context.Context, value int64) (bool, error) {
	return r.rdb.SetNX(ctx, r.key, value, 0).Result()
}
