// Package lock provides mutual exclusion between provisioning runs,
// teardown and GC, within and across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrBusy is returned by TryWith when the lock is held elsewhere.
var ErrBusy = errors.New("lock held by another operation")

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// TryWith runs fn while holding l. It never waits: a held lock yields ErrBusy.
func TryWith(ctx context.Context, l Locker, fn func() error) error {
	ok, err := l.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("try lock: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}
