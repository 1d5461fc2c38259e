// Package hostlock provides the single host-level advisory lock that guards
// install/update command bodies from concurrent invocation. It is deliberately
// a thin CLI-layer concern: sysroot.Manager itself never acquires a lock, so
// callers that already hold one (or choose not to) can drive it directly.
package hostlock

import (
	"context"

	"github.com/tinythings/bootr/catalog"
	"github.com/tinythings/bootr/lock"
	"github.com/tinythings/bootr/lock/flock"
)

// New returns a Locker for cat's fixed lock file ($ROOT/system/.lock).
func New(cat catalog.Catalog) lock.Locker {
	return flock.New(cat.LockFile())
}

// WithLock acquires the host lock, runs fn, and releases it, propagating
// whichever error (acquisition or fn's) occurs first.
func WithLock(ctx context.Context, cat catalog.Catalog, fn func(ctx context.Context) error) error {
	l := New(cat)
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck

	return fn(ctx)
}
