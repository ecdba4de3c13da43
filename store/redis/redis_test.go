package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/duramap/counter"
	"github.com/unkn0wn-root/duramap/store"
)

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{Keyspace: "x"}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("err=%v, want ErrNilClient", err)
	}
	if _, err := New(ctx, Config{Client: goredis.NewClient(&goredis.Options{})}); !errors.Is(err, ErrNoKeyspace) {
		t.Fatalf("err=%v, want ErrNoKeyspace", err)
	}
}

// testClient connects to the Redis named by DURAMAP_TEST_REDIS_ADDR and
// skips the test when none is available.
func testClient(t *testing.T) goredis.UniversalClient {
	t.Helper()
	addr := os.Getenv("DURAMAP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DURAMAP_TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	return rdb
}

func newTestStore(t *testing.T, rdb goredis.UniversalClient, suffix string) *Redis {
	t.Helper()
	ctx := context.Background()
	keyspace := fmt.Sprintf("duramap:test:%s%s", strings.ReplaceAll(t.Name(), "/", ":"), suffix)

	clean := func() {
		_ = rdb.Del(context.Background(), keyspace, keyspace+":last_updated").Err()
	}
	clean()
	t.Cleanup(clean)

	s, err := New(ctx, Config{Client: rdb, Keyspace: keyspace})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mustVersion(t *testing.T, s *Redis) store.Version {
	t.Helper()
	v, err := s.ReadVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestRedisContract(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testClient(t), "")

	if v := mustVersion(t, s); v != 1 {
		t.Fatalf("fresh keyspace version=%d, want 1", v)
	}

	if err := s.WriteOne(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteOne(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if v := mustVersion(t, s); v != 3 {
		t.Fatalf("version=%d after two writes, want 3", v)
	}

	all, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || !bytes.Equal(all["a"], []byte("1")) || !bytes.Equal(all["b"], []byte("2")) {
		t.Fatalf("ReadAll=%q", all)
	}

	if err := s.DeleteOne(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if v := mustVersion(t, s); v != 4 {
		t.Fatalf("version=%d after delete, want 4", v)
	}
	if err := s.DeleteOne(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delete of missing key: err=%v, want ErrNotFound", err)
	}
	if v := mustVersion(t, s); v != 4 {
		t.Fatalf("version=%d after failed delete, want 4", v)
	}

	got, err := s.Pop(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("2")) {
		t.Fatalf("popped %q, want 2", got)
	}
	if v := mustVersion(t, s); v != 5 {
		t.Fatalf("version=%d after pop, want 5", v)
	}
	if _, err := s.Pop(ctx, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pop of missing key: err=%v, want ErrNotFound", err)
	}

	val, created, err := s.SetDefault(ctx, "c", []byte("def"))
	if err != nil {
		t.Fatal(err)
	}
	if !created || !bytes.Equal(val, []byte("def")) {
		t.Fatalf("setdefault create: val=%q created=%v", val, created)
	}
	if v := mustVersion(t, s); v != 6 {
		t.Fatalf("version=%d after setdefault create, want 6", v)
	}

	val, created, err = s.SetDefault(ctx, "c", []byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if created || !bytes.Equal(val, []byte("def")) {
		t.Fatalf("setdefault existing: val=%q created=%v, want def/false", val, created)
	}
	if v := mustVersion(t, s); v != 6 {
		t.Fatalf("version=%d after no-op setdefault, want 6", v)
	}
}

func TestRedisCounterEvictionRecovery(t *testing.T) {
	ctx := context.Background()
	rdb := testClient(t)
	s := newTestStore(t, rdb, "")

	if err := s.WriteOne(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteOne(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	// watermark is 3 now; evict the counter out from under the adapter.
	if err := rdb.Del(ctx, s.verKey).Err(); err != nil {
		t.Fatal(err)
	}
	if v := mustVersion(t, s); v != 0 {
		t.Fatalf("version=%d with evicted counter, want 0", v)
	}

	if err := s.WriteOne(ctx, "c", []byte("3")); err != nil {
		t.Fatal(err)
	}
	if v := mustVersion(t, s); v != store.Version(3+counter.ReseedGap) {
		t.Fatalf("version=%d after reseeding write, want %d", v, 3+counter.ReseedGap)
	}

	// Old and new data both survive the counter loss.
	all, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ReadAll has %d keys after recovery, want 3", len(all))
	}
}

func TestRedisKeyspaceIsolation(t *testing.T) {
	ctx := context.Background()
	rdb := testClient(t)
	a := newTestStore(t, rdb, ":a")
	b := newTestStore(t, rdb, ":b")

	if err := a.WriteOne(ctx, "k", []byte("va")); err != nil {
		t.Fatal(err)
	}
	if v := mustVersion(t, b); v != 1 {
		t.Fatalf("keyspace b version=%d after write to a, want 1", v)
	}
	all, err := b.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("keyspace b sees %d keys from a", len(all))
	}
}
