package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonots/cupy/internal/driver/simdriver"
	"github.com/sonots/cupy/memory"
)

func TestMultiDevicePoolDispatchesByActiveDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(
		simdriver.WithCapacity(0, 1<<20),
		simdriver.WithCapacity(1, 1<<20),
	)
	m := memory.NewMultiDevicePool(drv)

	drv.SetDevice(0)
	p0, err := m.Malloc(ctx, 256)
	require.NoError(t, err)

	drv.SetDevice(1)
	p1, err := m.Malloc(ctx, 256)
	require.NoError(t, err)

	require.Equal(t, 0, p0.DeviceID())
	require.Equal(t, 1, p1.DeviceID())
	require.NotSame(t, m.Pool(0), m.Pool(1))

	require.NoError(t, p0.Release(ctx))
	require.NoError(t, p1.Release(ctx))
}

func TestMultiDevicePoolTotalBytesSumsAcrossDevices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(
		simdriver.WithCapacity(0, 1<<20),
		simdriver.WithCapacity(1, 1<<20),
	)
	m := memory.NewMultiDevicePool(drv)

	_, err := m.MallocOnDevice(ctx, 0, 512)
	require.NoError(t, err)
	_, err = m.MallocOnDevice(ctx, 1, 1024)
	require.NoError(t, err)

	require.EqualValues(t, 1536, m.TotalBytes())
}
