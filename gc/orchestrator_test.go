package gc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparklane/sparklane/lock/flock"
)

type snap struct{ ids []string }

func testModule(t *testing.T, name string, ids []string, collected *[]string) Module[snap] {
	return Module[snap]{
		Name:   name,
		Locker: flock.New(filepath.Join(t.TempDir(), name+".lock")),
		ReadDB: func(context.Context) (snap, error) { return snap{ids: ids}, nil },
		Resolve: func(s snap, others map[string]any) []string {
			assert.Contains(t, others, name)
			return s.ids
		},
		Collect: func(_ context.Context, ids []string) error {
			*collected = append(*collected, ids...)
			return nil
		},
	}
}

func TestRunCollectsResolvedTargets(t *testing.T) {
	var a, b []string
	o := New()
	Register(o, testModule(t, "a", []string{"x", "y"}, &a))
	Register(o, testModule(t, "b", nil, &b))

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, []string{"x", "y"}, a)
	assert.Empty(t, b)
}

func TestRunAbortsWhenLockBusy(t *testing.T) {
	ctx := context.Background()
	var collected []string
	m := testModule(t, "a", []string{"x"}, &collected)

	holder := flock.New(m.Locker.(*flock.Lock).Path())
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer holder.Unlock(ctx) //nolint:errcheck

	o := New()
	Register(o, m)
	err = o.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock busy")
	assert.Empty(t, collected)
}

func TestRunAbortsOnSnapshotError(t *testing.T) {
	var collected []string
	m := testModule(t, "a", []string{"x"}, &collected)
	m.ReadDB = func(context.Context) (snap, error) { return snap{}, errors.New("disk gone") }

	o := New()
	Register(o, m)
	err := o.Run(context.Background())
	require.ErrorContains(t, err, "disk gone")
	assert.Empty(t, collected)
}

func TestRunJoinsCollectErrors(t *testing.T) {
	var collected []string
	m := testModule(t, "a", []string{"x"}, &collected)
	m.Collect = func(context.Context, []string) error { return errors.New("boom") }

	o := New()
	Register(o, m)
	err := o.Run(context.Background())
	require.ErrorContains(t, err, "a: boom")
}
