package flock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparklane/sparklane/lock"
)

func TestTryLockExcludesOtherHolders(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inst.lock")
	a, b := New(path), New(path)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder on the same file must be refused")

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock(ctx))
}

func TestLockHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inst.lock")
	holder := New(path)
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := New(path).Lock(ctx)
	assert.Error(t, err)
}

func TestTryWith(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gc.lock")
	l := New(path)

	ran := false
	require.NoError(t, lock.TryWith(ctx, l, func() error {
		ran = true
		err := lock.TryWith(ctx, New(path), func() error { return nil })
		assert.ErrorIs(t, err, lock.ErrBusy)
		return nil
	}))
	assert.True(t, ran)

	boom := errors.New("boom")
	assert.ErrorIs(t, lock.TryWith(ctx, l, func() error { return boom }), boom)
}
