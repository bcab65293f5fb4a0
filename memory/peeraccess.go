package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sonots/cupy/internal/driver"
)

// peerKey identifies one (owner device, peer device) pair already examined
// for peer access.
type peerKey struct{ owner, peer int }

var (
	peerAccessMu      sync.Mutex
	peerAccessChecked = map[peerKey]bool{}
)

// ensurePeerAccess makes sure peer access from ownerDevice to peerDevice has
// been attempted at most once for the process lifetime (positive and
// negative results are both cached and never retried, per the spec). Any
// failure — the query itself, or EnablePeerAccess — is silent: the
// subsequent copy is left to fail on its own if the path is truly
// unusable.
func ensurePeerAccess(ctx context.Context, dev driver.Device, ownerDevice, peerDevice int) {
	if dev == nil || ownerDevice == peerDevice {
		return
	}
	key := peerKey{owner: ownerDevice, peer: peerDevice}

	peerAccessMu.Lock()
	_, known := peerAccessChecked[key]
	peerAccessMu.Unlock()
	if known {
		return
	}

	ok, err := dev.CanAccessPeer(ownerDevice, peerDevice)
	if err != nil {
		slog.Default().Debug("peer access query failed", "owner", ownerDevice, "peer", peerDevice, "err", err)
		ok = false
	}

	peerAccessMu.Lock()
	peerAccessChecked[key] = ok
	peerAccessMu.Unlock()

	if !ok {
		return
	}

	prev := dev.GetDevice()
	dev.SetDevice(ownerDevice)
	defer dev.SetDevice(prev)

	if err := dev.EnablePeerAccess(peerDevice); err != nil {
		slog.Default().Debug("enable peer access failed", "owner", ownerDevice, "peer", peerDevice, "err", err)
	}
}
