package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// AtomicWriteFile replaces path with data in one rename. The hypervisor and
// the guest init never see a half-written boot config or script.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := fillAndClose(tmp, data, perm); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish %s: %w", path, err)
	}
	if err := SyncParentDir(dir); err != nil {
		return fmt.Errorf("sync dir of %s: %w", path, err)
	}
	return nil
}

// fillAndClose always closes f.
func fillAndClose(f *os.File, data []byte, perm os.FileMode) error {
	_, err := f.Write(data)
	if err == nil {
		err = f.Chmod(perm)
	}
	if err == nil {
		err = f.Sync()
	}
	return errors.Join(err, f.Close())
}

// AtomicWriteJSON writes v as indented JSON with a trailing newline.
func AtomicWriteJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return AtomicWriteFile(path, append(data, '\n'), perm)
}

// SyncParentDir fsyncs dir so a renamed entry survives a crash. File
// systems that cannot sync directories are tolerated.
func SyncParentDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // managed runtime directory
	if err != nil {
		return err
	}
	defer d.Close() //nolint:errcheck
	err = d.Sync()
	for _, ok := range []error{syscall.EINVAL, syscall.ENOTSUP, syscall.EBADF} {
		if errors.Is(err, ok) {
			return nil
		}
	}
	return err
}
