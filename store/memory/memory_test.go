package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/duramap/store"
)

func version(t *testing.T, m *Memory) store.Version {
	t.Helper()
	v, err := m.ReadVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCounterSeededToOne(t *testing.T) {
	m := New()
	if v := version(t, m); v != 1 {
		t.Fatalf("fresh store version=%d, want 1", v)
	}
}

func TestWriteAndDeleteBumpVersion(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.WriteOne(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if v := version(t, m); v != 2 {
		t.Fatalf("after write version=%d, want 2", v)
	}

	if err := m.DeleteOne(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if v := version(t, m); v != 3 {
		t.Fatalf("after delete version=%d, want 3", v)
	}
}

func TestDeleteMissingDoesNotBump(t *testing.T) {
	ctx := context.Background()
	m := New()

	err := m.DeleteOne(ctx, "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if v := version(t, m); v != 1 {
		t.Fatalf("version=%d after failed delete, want 1", v)
	}
}

func TestReadAllReturnsDetachedCopies(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.WriteOne(ctx, "a", []byte("payload")); err != nil {
		t.Fatal(err)
	}

	got, err := m.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got["a"][0] = 'X'
	got["b"] = []byte("intruder")

	again, err := m.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 || !bytes.Equal(again["a"], []byte("payload")) {
		t.Fatalf("store mutated through ReadAll result: %q", again)
	}
}

func TestPopRemovesAndBumps(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.WriteOne(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}

	v, err := m.Pop(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Fatalf("popped %q, want %q", v, "1")
	}
	if ver := version(t, m); ver != 3 {
		t.Fatalf("version=%d after pop, want 3", ver)
	}

	if _, err := m.Pop(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pop of missing key: err=%v, want ErrNotFound", err)
	}
	if ver := version(t, m); ver != 3 {
		t.Fatalf("version=%d after failed pop, want 3", ver)
	}
}

func TestSetDefaultBumpsOnlyOnCreate(t *testing.T) {
	ctx := context.Background()
	m := New()

	v, created, err := m.SetDefault(ctx, "k", []byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	if !created || !bytes.Equal(v, []byte("first")) {
		t.Fatalf("create: v=%q created=%v", v, created)
	}
	if ver := version(t, m); ver != 2 {
		t.Fatalf("version=%d after create, want 2", ver)
	}

	v, created, err = m.SetDefault(ctx, "k", []byte("second"))
	if err != nil {
		t.Fatal(err)
	}
	if created || !bytes.Equal(v, []byte("first")) {
		t.Fatalf("existing key: v=%q created=%v, want first/false", v, created)
	}
	if ver := version(t, m); ver != 2 {
		t.Fatalf("version=%d after no-op setdefault, want 2", ver)
	}
}
