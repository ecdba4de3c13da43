// Package counter maintains the shared version counters that invalidate
// duramap mirrors.
//
// A counter is a plain integer living in some shared system (Redis,
// memcached, process memory). Unlike the mirror's backing store, the counter
// may be evicted or deleted underneath running instances; Touch implements
// the recovery protocol for that case.
package counter

import (
	"context"
	"errors"
)

// ReseedGap is the jump applied when a lost counter is recreated. A
// recovering instance reseeds to its last observed version plus this gap,
// large enough that versions handed out before the loss (and not yet seen
// by the recovering instance) are very unlikely to reach past the new seed.
const ReseedGap = 1000

// Counter is an atomic integer shared between instances. Implementations
// report "absent" explicitly instead of erroring, so callers branch on the
// result rather than on fault types.
type Counter interface {
	// Value returns the current value. A missing counter reports 0.
	Value(ctx context.Context) (int64, error)
	// Incr atomically increments and returns the new value.
	// ok is false when the counter does not exist; that is not an error.
	Incr(ctx context.Context) (v int64, ok bool, err error)
	// Create atomically creates the counter with the given value.
	// ok is false when another party created it first.
	Create(ctx context.Context, value int64) (ok bool, err error)
}

// ErrLost reports that the counter vanished again between a lost Create
// race and the follow-up Incr. The window is narrow and the condition
// transient; callers that care retry the whole operation.
var ErrLost = errors.New("counter: lost during recovery")

// Touch strictly increases the counter, recreating it when it has been
// evicted or deleted. base is the highest version the caller has observed;
// the recreated counter starts at base+ReseedGap so everything handed out
// before the loss stays in the past. reseeded reports that the recovery
// path ran, whether this call recreated the counter or lost that race to
// another instance.
//
// One race is deliberately left open: if the counter is deleted after the
// lost Create race and before the follow-up Incr, Touch returns ErrLost
// rather than looping. At worst a retry causes one extra premature
// invalidation; it can never lose data.
func Touch(ctx context.Context, c Counter, base int64) (v int64, reseeded bool, err error) {
	v, ok, err := c.Incr(ctx)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return v, false, nil
	}

	seed := base + ReseedGap
	created, err := c.Create(ctx, seed)
	if err != nil {
		return 0, false, err
	}
	if created {
		return seed, true, nil
	}

	// Another instance recreated the counter first; increment as usual.
	v, ok, err = c.Incr(ctx)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, true, ErrLost
	}
	return v, true, nil
}
