// Package flock implements lock.Locker on flock(2) lock files.
package flock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/sparklane/sparklane/lock"
)

const pollInterval = 100 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock guards one lock file. A one-slot channel serializes goroutines
// sharing the same *Lock; flock(2) on a fresh descriptor per acquisition
// serializes separate *Lock values and separate processes.
type Lock struct {
	path string
	slot chan struct{}
	held *flock.Flock
}

// New returns a Lock on path. The file is created on first acquisition,
// so its directory must already exist.
func New(path string) *Lock {
	return &Lock{path: path, slot: make(chan struct{}, 1)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Lock blocks until the lock is held or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for %s: %w", l.path, ctx.Err())
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, pollInterval)
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		<-l.slot
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.held = fl
	return nil
}

// TryLock never waits. It reports false when another holder has the lock.
func (l *Lock) TryLock(context.Context) (bool, error) {
	select {
	case l.slot <- struct{}{}:
	default:
		return false, nil
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		<-l.slot
		if err != nil {
			return false, fmt.Errorf("flock %s: %w", l.path, err)
		}
		return false, nil
	}
	l.held = fl
	return true, nil
}

// Unlock releases the lock. Unlocking a free Lock is a no-op.
func (l *Lock) Unlock(context.Context) error {
	fl := l.held
	l.held = nil
	var err error
	if fl != nil {
		err = fl.Unlock()
	}
	select {
	case <-l.slot:
	default:
	}
	if err != nil {
		return fmt.Errorf("unflock %s: %w", l.path, err)
	}
	return nil
}
