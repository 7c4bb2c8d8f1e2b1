// Package network manages the host-side device each guest NIC is bound to.
package network

import "context"

// Network creates and removes per-instance host devices.
type Network interface {
	Type() string

	// Attach ensures a device called name exists and is up. created is
	// false when the device was already present, in which case the caller
	// does not own it and must not remove it on rollback.
	Attach(ctx context.Context, name string) (created bool, err error)
	// Detach removes the device. A missing device is not an error.
	Detach(ctx context.Context, name string) error
}
