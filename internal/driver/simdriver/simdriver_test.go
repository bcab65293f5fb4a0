package simdriver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonots/cupy/internal/driver"
	"github.com/sonots/cupy/internal/driver/simdriver"
)

func TestMallocFreeRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 4096))

	addr, err := drv.Malloc(ctx, 0, 1024)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, drv.Free(ctx, 0, addr))
	require.Error(t, drv.Free(ctx, 0, addr), "freeing an already-freed address must fail")
}

func TestMallocFailsOverCapacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 1024))

	_, err := drv.Malloc(ctx, 0, 2048)
	require.ErrorIs(t, err, driver.ErrOutOfMemory)
}

func TestInjectOOMForcesExactlyNFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 4096))
	drv.InjectOOM(0, 2)

	_, err := drv.Malloc(ctx, 0, 256)
	require.ErrorIs(t, err, driver.ErrOutOfMemory)
	_, err = drv.Malloc(ctx, 0, 256)
	require.ErrorIs(t, err, driver.ErrOutOfMemory)

	_, err = drv.Malloc(ctx, 0, 256)
	require.NoError(t, err, "injected OOM must not apply beyond the requested count")
}

func TestCopyFromHostAndBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 4096))

	addr, err := drv.Malloc(ctx, 0, 4)
	require.NoError(t, err)
	require.NoError(t, drv.CopyFromHost(ctx, addr, []byte{1, 2, 3, 4}))

	out := make([]byte, 4)
	require.NoError(t, drv.CopyToHost(ctx, out, addr))
	require.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestMemset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 4096))

	addr, err := drv.Malloc(ctx, 0, 4)
	require.NoError(t, err)
	require.NoError(t, drv.Memset(ctx, addr, 0xAB, 4))

	out := make([]byte, 4)
	require.NoError(t, drv.CopyToHost(ctx, out, addr))
	require.Equal(t, []byte{0xAB, 0xAB, 0xAB, 0xAB}, out)
}

func TestCanAccessPeerAndEnable(t *testing.T) {
	t.Parallel()
	drv := simdriver.New()

	ok, err := drv.CanAccessPeer(0, 1)
	require.NoError(t, err)
	require.True(t, ok)

	drv.SetDevice(0)
	require.NoError(t, drv.EnablePeerAccess(1))
	require.True(t, drv.PeerEnabled(0, 1))
	require.False(t, drv.PeerEnabled(1, 0))
}

func TestLaunchKernelRecordsDistinctIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := simdriver.New()

	require.NoError(t, drv.LaunchKernel(ctx, "sort_i32", 0, 10, nil))
	require.NoError(t, drv.LaunchKernel(ctx, "sort_i32", 0, 10, nil))

	calls := drv.Kernels()
	require.Len(t, calls, 2)
	require.NotEqual(t, calls[0].ID, calls[1].ID)
}
