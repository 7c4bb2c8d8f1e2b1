package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.sh")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	require.NoError(t, AtomicWriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(got))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]int{"vcpu_count": 1}, 0o600))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"vcpu_count\": 1\n}\n", string(got))
}

func TestCopyFileRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "base.img"), filepath.Join(dir, "a.img")
	require.NoError(t, os.WriteFile(src, []byte("base"), 0o600))

	require.NoError(t, CopyFile(src, dst, 0o600))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "base", string(got))

	assert.Error(t, CopyFile(src, dst, 0o600))
	assert.Error(t, CopyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "b.img"), 0o600))
	assert.NoFileExists(t, filepath.Join(dir, "b.img"))
}

func TestScans(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"mnt-a", "mnt-b", "other", "mnt-"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, d), 0o750))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.img"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.raw"), nil, 0o600))

	assert.ElementsMatch(t, []string{"a", "b"}, ScanPrefixedDirs(filepath.Join(dir, "mnt-")))
	assert.Equal(t, []string{"x"}, ScanFileStems(dir, ".img"))
	assert.ElementsMatch(t, []string{"mnt-a", "mnt-b", "other", "mnt-"}, ScanSubdirs(dir))
	assert.Empty(t, ScanSubdirs(filepath.Join(dir, "missing")))
}

func TestFilterUnreferenced(t *testing.T) {
	refs := map[string]struct{}{"a": {}}
	skip := map[string]struct{}{"c": {}}
	assert.Equal(t, []string{"b"}, FilterUnreferenced([]string{"a", "b", "c"}, refs, skip))
}

func TestWaitFor(t *testing.T) {
	n := 0
	require.NoError(t, WaitFor(context.Background(), time.Second, time.Millisecond, func() (bool, error) {
		n++
		return n == 3, nil
	}))
	assert.Equal(t, 3, n)

	err := WaitFor(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func() (bool, error) { return false, nil })
	assert.ErrorContains(t, err, "timeout")
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fc.pid")
	require.NoError(t, WritePIDFile(path, os.Getpid()))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsProcessAlive(pid))
	assert.False(t, IsProcessAlive(0))
}
