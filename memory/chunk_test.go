package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonots/cupy/internal/driver/simdriver"
)

func TestSplitExactSizeReturnsUnchangedChunk(t *testing.T) {
	drv := simdriver.New()
	ra, err := newRawAllocation(context.Background(), drv, 0, 512)
	require.NoError(t, err)

	c := newChunk(ra, 0, 512, 0)
	head, tail := split(c, 512, nil, DefaultUnit)
	require.Same(t, c, head)
	require.Nil(t, tail)
}

func TestSplitLinksNeighborsAndInsertsTail(t *testing.T) {
	drv := simdriver.New()
	ra, err := newRawAllocation(context.Background(), drv, 0, 1024)
	require.NoError(t, err)

	c := newChunk(ra, 0, 1024, 0)
	a := newArena(4)
	head, tail := split(c, 256, a, 256)

	require.NotNil(t, tail)
	require.Equal(t, uint64(256), head.size)
	require.Equal(t, uint64(768), tail.size)
	require.Same(t, tail, head.next)
	require.Same(t, head, tail.prev)
	require.Equal(t, 1, a.count())
}

func TestMergeRestoresSingleChunkAcrossBoundary(t *testing.T) {
	drv := simdriver.New()
	ra, err := newRawAllocation(context.Background(), drv, 0, 1024)
	require.NoError(t, err)

	whole := newChunk(ra, 0, 1024, 0)
	a := newArena(4)
	head, tail := split(whole, 256, a, 256)

	merged := merge(head, tail)
	require.Equal(t, uint64(0), merged.offset)
	require.Equal(t, uint64(1024), merged.size)
	require.True(t, merged.wholeParent())
}

func TestWholeParentReportsNoNeighbors(t *testing.T) {
	drv := simdriver.New()
	ra, err := newRawAllocation(context.Background(), drv, 0, 256)
	require.NoError(t, err)

	c := newChunk(ra, 0, 256, 0)
	require.True(t, c.wholeParent())

	a := newArena(4)
	head, tail := split(c, 128, a, 128)
	require.False(t, head.wholeParent())
	require.False(t, tail.wholeParent())
}
