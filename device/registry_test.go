package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softcam/pkg"
)

func TestRegistry_Create(t *testing.T) {
	r := NewRegistry(WithMaxDevices(2))
	assert.Equal(t, 2, r.MaxDevices())

	id0, err := r.Create("", testCaps())
	require.NoError(t, err)
	id1, err := r.Create("front", testCaps())
	require.NoError(t, err)
	assert.Equal(t, ID(0), id0)
	assert.Equal(t, ID(1), id1)

	_, err = r.Create("extra", testCaps())
	assert.ErrorIs(t, err, pkg.ErrCapacityExceeded)

	d, err := r.Lookup(id0)
	require.NoError(t, err)
	assert.Equal(t, "softcam0", d.Name)
	assert.Equal(t, StateCreated, d.State())

	d, err = r.Lookup(id1)
	require.NoError(t, err)
	assert.Equal(t, "front", d.Name)
}

func TestRegistry_CreateInvalid(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("bad", Capabilities{MaxResolution: Resolution{640, 480}})
	assert.ErrorIs(t, err, pkg.ErrInvalidFormat)

	_, err = r.Create("bad", testCaps(), WithQueueCapacity(0))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.Zero(t, r.Len())

	id, err := r.Create("", testCaps())
	require.NoError(t, err)
	assert.Equal(t, ID(0), id)
}

func TestRegistry_IDsNotReused(t *testing.T) {
	r := NewRegistry(WithMaxDevices(1))

	seen := map[ID]bool{}
	for i := 0; i < 5; i++ {
		id, err := r.Create("", testCaps())
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
		require.NoError(t, r.Destroy(id, false))
	}
	assert.Zero(t, r.Len())
}

func TestRegistry_Destroy(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Destroy(42, false), pkg.ErrNotFound)

	id, err := r.Create("", testCaps())
	require.NoError(t, err)
	d, err := r.Lookup(id)
	require.NoError(t, err)
	configure(t, d, 16, 16)
	require.NoError(t, d.StreamOn())

	assert.ErrorIs(t, r.Destroy(id, false), pkg.ErrInvalidState)
	assert.Equal(t, 1, r.Len())

	errs := make(chan error, 1)
	go func() {
		_, err := d.Dequeue(context.Background(), 0)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, r.Destroy(id, true))
	assert.ErrorIs(t, <-errs, pkg.ErrCancelled)
	assert.Equal(t, StateDestroyed, d.State())

	_, err = r.Lookup(id)
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.ErrorIs(t, r.Destroy(id, true), pkg.ErrNotFound)
}

func TestRegistry_Devices(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 4; i++ {
		_, err := r.Create("", testCaps())
		require.NoError(t, err)
	}
	require.NoError(t, r.Destroy(1, false))

	var ids []ID
	for _, d := range r.Devices() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []ID{0, 2, 3}, ids)
}

func TestRegistry_DeviceDefaults(t *testing.T) {
	var mu sync.Mutex
	var changes []State
	r := NewRegistry(WithDeviceDefaults(
		WithQueueCapacity(2),
		WithPolicy(PolicyReject),
		WithOnStateChange(func(_ ID, _, new State) {
			mu.Lock()
			changes = append(changes, new)
			mu.Unlock()
		}),
	))

	id, err := r.Create("", testCaps(), WithQueueCapacity(3))
	require.NoError(t, err)
	d, err := r.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Queue().Capacity())
	assert.Equal(t, PolicyReject, d.Queue().Policy())

	configure(t, d, 16, 16)
	require.NoError(t, r.Destroy(id, false))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConfigured, StateDestroyed}, changes)
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create("", testCaps())
	require.NoError(t, err)
	d, err := r.Lookup(id)
	require.NoError(t, err)
	configure(t, d, 16, 16)
	require.NoError(t, d.StreamOn())

	require.NoError(t, r.Close())
	assert.Zero(t, r.Len())
	assert.Equal(t, StateDestroyed, d.State())

	_, err = r.Create("", testCaps())
	assert.ErrorIs(t, err, pkg.ErrClosed)
	require.NoError(t, r.Close())
}

func TestRegistry_ConcurrentCreateDestroy(t *testing.T) {
	r := NewRegistry(WithMaxDevices(4))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := r.Create("", testCaps())
				if err != nil {
					assert.ErrorIs(t, err, pkg.ErrCapacityExceeded)
					continue
				}
				assert.NoError(t, r.Destroy(id, false))
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
