// Package loop mounts images through the host's mount(8) with a loop device.
package loop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/projecteru2/core/log"
	"golang.org/x/sys/unix"

	"github.com/sparklane/sparklane/mount"
)

const typ = "loop"

// compile-time interface check.
var _ mount.Mounter = (*Loop)(nil)

// Loop shells out to mount/umount. The binaries are fields so tests and
// unusual hosts can point them elsewhere.
type Loop struct {
	MountBin   string
	UnmountBin string
}

// New returns a Loop using mount and umount from PATH.
func New() *Loop {
	return &Loop{MountBin: "mount", UnmountBin: "umount"}
}

func (l *Loop) Type() string { return typ }

// Mount runs `mount -o loop <image> <dir>`.
// A mount dir created here is removed again if the mount fails.
func (l *Loop) Mount(ctx context.Context, image, dir string) error {
	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create mount dir %s: %w", dir, err)
	}
	out, err := exec.CommandContext(ctx, l.MountBin, "-o", "loop", image, dir).CombinedOutput() //nolint:gosec
	if err != nil {
		if os.IsNotExist(statErr) {
			_ = os.Remove(dir)
		}
		return fmt.Errorf("mount %s on %s: %s: %w", image, dir, bytes.TrimSpace(out), err)
	}
	log.WithFunc("loop.Mount").Infof(ctx, "mounted %s on %s", image, dir)
	return nil
}

// Sync runs syncfs(2) on the filesystem holding dir, pushing dirty pages
// through the loop device into the image file.
func (l *Loop) Sync(_ context.Context, dir string) error {
	f, err := os.Open(dir) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	defer f.Close() //nolint:errcheck
	if err := unix.Syncfs(int(f.Fd())); err != nil {
		return fmt.Errorf("syncfs %s: %w", dir, err)
	}
	return nil
}

// Unmount runs `umount <dir>`.
func (l *Loop) Unmount(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	out, err := exec.CommandContext(ctx, l.UnmountBin, dir).CombinedOutput() //nolint:gosec
	if err != nil {
		if notMounted(out) {
			return nil
		}
		return fmt.Errorf("umount %s: %s: %w", dir, bytes.TrimSpace(out), err)
	}
	return nil
}

func notMounted(out []byte) bool {
	return bytes.Contains(out, []byte("not mounted")) || bytes.Contains(out, []byte("no mount point"))
}
