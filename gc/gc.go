// Package gc sweeps host resources that no registry record accounts for.
package gc

import (
	"context"

	"github.com/sparklane/sparklane/lock"
)

// Module is one participant in a GC cycle. S is the snapshot type its
// ReadDB produces and its Resolve consumes.
type Module[S any] struct {
	Name string

	// Locker keeps two GC runs from sweeping the same resources at once.
	// A busy lock aborts the cycle.
	Locker lock.Locker

	// ReadDB snapshots the registry and the host. Called with the lock held.
	ReadDB func(ctx context.Context) (S, error)

	// Resolve returns the IDs to collect. others holds every module's
	// snapshot keyed by Name, for cross-module checks.
	Resolve func(snap S, others map[string]any) []string

	// Collect removes the given IDs. Called with the lock held.
	Collect func(ctx context.Context, ids []string) error
}
