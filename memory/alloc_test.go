package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonots/cupy/internal/driver/simdriver"
	"github.com/sonots/cupy/memory"
)

func TestAllocFailsWithoutDefaultDeviceOrCurrentAllocator(t *testing.T) {
	memory.SetCurrentAllocator(nil)
	memory.SetDefaultDevice(nil, 0)

	_, err := memory.Alloc(context.Background(), 64)
	require.ErrorIs(t, err, memory.ErrNoDefaultDevice)
}

func TestAllocUsesDefaultDeviceWhenNoAllocatorInstalled(t *testing.T) {
	memory.SetCurrentAllocator(nil)
	drv := simdriver.New(simdriver.WithCapacity(0, 1<<20))
	memory.SetDefaultDevice(drv, 0)
	defer memory.SetDefaultDevice(nil, 0)

	p, err := memory.Alloc(context.Background(), 64)
	require.NoError(t, err)
	require.False(t, p.IsNil())
	require.NoError(t, p.Release(context.Background()))
}

func TestSetCurrentAllocatorRedirectsAlloc(t *testing.T) {
	defer memory.SetCurrentAllocator(nil)

	drv := simdriver.New(simdriver.WithCapacity(0, 1<<20))
	pool := memory.NewSingleDevicePool(drv, 0)
	memory.SetCurrentAllocator(pool.Malloc)

	p, err := memory.Alloc(context.Background(), 128)
	require.NoError(t, err)
	require.NotZero(t, pool.UsedBytes(), "Alloc must have routed through the installed pool")
	require.NoError(t, p.Release(context.Background()))
}
