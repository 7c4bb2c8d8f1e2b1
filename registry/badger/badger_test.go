package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSingleKeyOperations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.Exists(ctx, "instance:a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "instance:a")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.NoError(t, s.Insert(ctx, "instance:a", []byte("one")))
	require.NoError(t, s.Insert(ctx, "instance:b", []byte("two")))
	require.NoError(t, s.Insert(ctx, "vm:a", []byte("marker")))

	v, err := s.Get(ctx, "instance:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	kvs, err := s.ScanPrefix(ctx, registry.InstancePrefix)
	require.NoError(t, err)
	assert.Equal(t, []registry.KV{
		{Key: "instance:a", Value: []byte("one")},
		{Key: "instance:b", Value: []byte("two")},
	}, kvs)

	require.NoError(t, s.Delete(ctx, "instance:a"))
	ok, err = s.Exists(ctx, "instance:a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, key := range []string{"", "instance:", "bogus:x", "fancy-fox"} {
		t.Run(fmt.Sprintf("key=%q", key), func(t *testing.T) {
			_, err := s.Exists(ctx, key)
			assert.ErrorIs(t, err, registry.ErrInvalidKey)
			assert.ErrorIs(t, s.Insert(ctx, key, []byte("x")), registry.ErrInvalidKey)
			assert.False(t, registry.IsRetryable(s.Insert(ctx, key, []byte("x"))))
		})
	}

	_, err := s.ScanPrefix(ctx, "nope")
	assert.ErrorIs(t, err, registry.ErrInvalidKey)
}

func testInstance(id, sub string) *types.Instance {
	return &types.Instance{
		ID:            id,
		Subdomain:     sub,
		Port:          8080,
		BuildCommands: []string{"echo hi"},
		RunCommand:    "python app.py",
		CreatedAt:     time.Now().UTC(),
	}
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	inst := testInstance("id-1", "quick-fox")
	require.NoError(t, registry.Reserve(ctx, s, inst))

	got, err := registry.GetInstance(ctx, s, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "quick-fox", got.Subdomain)
	assert.Equal(t, "python app.py", got.RunCommand)

	owner, err := s.Get(ctx, registry.SubdomainKey("quick-fox"))
	require.NoError(t, err)
	assert.Equal(t, "id-1", string(owner))

	// Same ID again.
	assert.ErrorIs(t, registry.Reserve(ctx, s, testInstance("id-1", "slow-fox")), registry.ErrExists)
	// Same subdomain, other ID.
	err = registry.Reserve(ctx, s, testInstance("id-2", "quick-fox"))
	assert.ErrorIs(t, err, registry.ErrSubdomainTaken)
	assert.ErrorIs(t, err, registry.ErrExists)
	ok, err := s.Exists(ctx, registry.InstanceKey("id-2"))
	require.NoError(t, err)
	assert.False(t, ok, "failed reservation must not write")

	// A vm marker alone blocks the ID.
	require.NoError(t, s.Insert(ctx, registry.VMKey("id-3"), []byte("{}")))
	assert.ErrorIs(t, registry.Reserve(ctx, s, testInstance("id-3", "golden-car")), registry.ErrExists)
}

func TestReserveConcurrentSameSubdomain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := registry.Reserve(ctx, s, testInstance(fmt.Sprintf("id-%d", i), "nimble-octopus"))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errorsIsAny(err, registry.ErrExists, registry.ErrConflict), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	kvs, err := s.ScanPrefix(ctx, registry.InstancePrefix)
	require.NoError(t, err)
	assert.Len(t, kvs, 1)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, registry.Reserve(ctx, s, testInstance("id-1", "cooked-gold")))
	require.NoError(t, registry.Release(ctx, s, "id-1", "cooked-gold"))

	ids, err := registry.InstanceIDs(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ok, err := s.Exists(ctx, registry.SubdomainKey("cooked-gold"))
	require.NoError(t, err)
	assert.False(t, ok)

	// The name is reusable after release.
	require.NoError(t, registry.Reserve(ctx, s, testInstance("id-2", "cooked-gold")))
	// Releasing a stale owner leaves the new owner's name alone.
	require.NoError(t, registry.Release(ctx, s, "id-1", "cooked-gold"))
	ok, err = s.Exists(ctx, registry.SubdomainKey("cooked-gold"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVMMarker(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, registry.PutVM(ctx, s, &types.VM{ID: "id-1", State: types.VMStateRunning, Tap: "tapid-1"}))
	require.NoError(t, registry.UpdateVM(ctx, s, "id-1", func(vm *types.VM) {
		vm.State = types.VMStateStopped
	}))
	vm, err := registry.GetVM(ctx, s, "id-1")
	require.NoError(t, err)
	assert.Equal(t, types.VMStateStopped, vm.State)
	assert.Equal(t, "tapid-1", vm.Tap)

	assert.ErrorIs(t, registry.UpdateVM(ctx, s, "missing", func(*types.VM) {}), registry.ErrNotFound)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, registry.Reserve(ctx, s, testInstance("id-1", "simple-waste")))
	require.NoError(t, registry.PutVM(ctx, s, &types.VM{ID: "id-1", State: types.VMStateRunning}))
	require.NoError(t, registry.Purge(ctx, s, "id-1"))

	for _, key := range []string{registry.InstanceKey("id-1"), registry.VMKey("id-1")} {
		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	owner, err := s.Get(ctx, registry.SubdomainKey("simple-waste"))
	require.NoError(t, err)
	assert.Equal(t, "id-1", string(owner), "a served name stays reserved")

	err = registry.Reserve(ctx, s, testInstance("id-2", "simple-waste"))
	assert.ErrorIs(t, err, registry.ErrSubdomainTaken)

	// Purging again is a no-op.
	assert.NoError(t, registry.Purge(ctx, s, "id-1"))
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
