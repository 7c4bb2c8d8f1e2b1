// Package hypervisor defines the microVM backend used by the provisioning
// pipeline.
package hypervisor

import (
	"context"
	"errors"
)

var (
	// ErrLaunchFailed is returned when the hypervisor process could not be
	// started or exited non-zero. Its text is safe to show to callers.
	ErrLaunchFailed = errors.New("hypervisor failed to start for this instance")
	// ErrNotFound is returned when an instance has no hypervisor process.
	ErrNotFound = errors.New("VM not found")
)

// VMSpec is everything a backend needs to describe one guest. Per-instance
// host paths (socket, console log, boot config) are derived from ID by the
// backend's config.
type VMSpec struct {
	ID        string
	RootDrive string
	TapName   string
	MAC       string
}

// Hypervisor manages the hypervisor process of one instance at a time.
type Hypervisor interface {
	Type() string

	// Configure writes the boot config for spec.
	Configure(ctx context.Context, spec *VMSpec) error
	// Launch starts the hypervisor for id and blocks until it exits.
	// onStart, if non-nil, is called with the process PID once it runs.
	// A non-zero exit is reported as ErrLaunchFailed.
	Launch(ctx context.Context, id string, onStart func(pid int)) error
	// Stop asks the guest to shut down, then escalates to signals.
	Stop(ctx context.Context, id string) error
}
