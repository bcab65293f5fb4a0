package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonots/cupy/internal/driver/simdriver"
)

func TestEnsurePeerAccessEnablesOnceAndCaches(t *testing.T) {
	ctx := context.Background()
	drv := simdriver.New()

	key := peerKey{owner: 0, peer: 1}
	peerAccessMu.Lock()
	delete(peerAccessChecked, key)
	peerAccessMu.Unlock()

	ensurePeerAccess(ctx, drv, 0, 1)
	require.True(t, drv.PeerEnabled(0, 1))

	peerAccessMu.Lock()
	ok, known := peerAccessChecked[key]
	peerAccessMu.Unlock()
	require.True(t, known)
	require.True(t, ok)
}

func TestEnsurePeerAccessRestoresActiveDevice(t *testing.T) {
	ctx := context.Background()
	drv := simdriver.New()
	drv.SetDevice(7)

	key := peerKey{owner: 7, peer: 9}
	peerAccessMu.Lock()
	delete(peerAccessChecked, key)
	peerAccessMu.Unlock()

	ensurePeerAccess(ctx, drv, 7, 9)
	require.Equal(t, 7, drv.GetDevice())
}

func TestEnsurePeerAccessSkipsSameDevice(t *testing.T) {
	ctx := context.Background()
	drv := simdriver.New()
	ensurePeerAccess(ctx, drv, 3, 3)
	require.False(t, drv.PeerEnabled(3, 3))
}
