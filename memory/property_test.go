package memory_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonots/cupy/internal/driver/simdriver"
	"github.com/sonots/cupy/memory"
)

// TestRandomMallocFreeSequencePreservesByteAccounting runs a small
// randomized sequence of allocations and frees and checks, after every
// step, the byte-accounting invariant that UsedBytes+FreeBytes==TotalBytes
// and that TotalBytes never shrinks on its own (it only shrinks via an
// explicit FreeAllBlocks).
func TestRandomMallocFreeSequencePreservesByteAccounting(t *testing.T) {
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 16<<20))
	pool := memory.NewSingleDevicePool(drv, 0, memory.WithUnit(64))

	rng := rand.New(rand.NewPCG(1, 2))
	var live []memory.Pointer
	var lastTotal uint64

	for i := 0; i < 500; i++ {
		if len(live) == 0 || rng.IntN(2) == 0 {
			n := uint64(rng.IntN(2048) + 1)
			p, err := pool.Malloc(ctx, n)
			require.NoError(t, err)
			live = append(live, p)
		} else {
			idx := rng.IntN(len(live))
			p := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			require.NoError(t, p.Release(ctx))
		}

		require.Equal(t, pool.UsedBytes()+pool.FreeBytes(), pool.TotalBytes())
		require.GreaterOrEqual(t, pool.TotalBytes(), lastTotal, "total retained bytes must never shrink without an explicit FreeAllBlocks")
		lastTotal = pool.TotalBytes()
	}

	for _, p := range live {
		require.NoError(t, p.Release(ctx))
	}
	require.EqualValues(t, 0, pool.UsedBytes())
	require.Equal(t, pool.FreeBytes(), pool.TotalBytes())

	require.NoError(t, pool.FreeAllBlocks(ctx))
}

// TestRandomMallocAddressesAreAlwaysUnitAligned checks invariant 7: every
// address malloc(n>0) returns is a multiple of the pool's unit.
func TestRandomMallocAddressesAreAlwaysUnitAligned(t *testing.T) {
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(0, 16<<20))
	const unit = 128
	pool := memory.NewSingleDevicePool(drv, 0, memory.WithUnit(unit))

	rng := rand.New(rand.NewPCG(7, 9))
	for i := 0; i < 200; i++ {
		n := uint64(rng.IntN(4096) + 1)
		p, err := pool.Malloc(ctx, n)
		require.NoError(t, err)
		require.Zero(t, p.Address()%unit, "address %d must be a multiple of the unit %d", p.Address(), unit)
		require.NoError(t, p.Release(ctx))
	}
}
