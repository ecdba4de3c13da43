// Package duramap implements a typed mapping mirrored from a durable
// key/value store. Reads are served from an in-process mirror; a monotonic
// version counter kept next to the data decides when the mirror is stale,
// so invalidation travels by version arithmetic rather than TTLs.
//
// Components:
//   - store.Store: durable byte mapping plus version counter (memory,
//     redis, sqlite, badger, zk adapters bundled).
//   - codec.Codec[V]: (de)serializes V <-> []byte. Wrapped in a
//     codec.Chain with an optional legacy decoder for format migrations.
//   - counter.Counter: standalone version counters for adapters whose
//     backend keeps the counter in a separate system (e.g. sqlite+redis).
//
// Consistency:
//
// Every mutation bumps the durable version; every read first compares the
// durable version against the mirror's and reloads the whole keyspace when
// it has moved. Writers therefore read their own writes, and other
// instances converge on their next read. A counter evicted by the backend
// is reseeded far above any version a live instance can have observed, so
// losing the counter forces reloads instead of masking writes.
//
// Usage:
//
//	m, err := duramap.New[Flag](ctx, duramap.Options[Flag]{
//		Store: store,
//	})
//	...
//	_ = m.Set(ctx, "checkout.v2", Flag{Enabled: true})
//	f, ok, _ := m.Get(ctx, "checkout.v2")
package duramap
