// Package mount exposes an instance's root image on the host so code and
// the boot script can be written into it.
package mount

import "context"

// Mounter attaches a disk image at a host directory.
type Mounter interface {
	Type() string

	// Mount creates dir if needed and mounts image on it.
	Mount(ctx context.Context, image, dir string) error
	// Sync flushes writes under dir to the backing image.
	Sync(ctx context.Context, dir string) error
	// Unmount detaches dir. A dir that is not mounted is not an error.
	Unmount(ctx context.Context, dir string) error
}
