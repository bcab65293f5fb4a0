package memory

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sonots/cupy/internal/driver"
)

// poolRegistry lets a PooledMemory hold a weak reference to the pool that
// produced it: it stores pools by an opaque id rather than a direct
// pointer, so that a PooledMemory whose pool has already been dropped (and
// deregistered itself via its own finalizer) degrades to a silent no-op on
// release instead of resurrecting — or double-freeing into — a dead pool.
// This is the "non-owning handle validated against a registry" strategy
// the distilled spec's design notes call out as one valid language-neutral
// approach.
var (
	poolRegistryMu sync.Mutex
	poolRegistry   = map[uint64]*SingleDevicePool{}
	nextPoolID     atomic.Uint64
)

func registerPool(p *SingleDevicePool) uint64 {
	id := nextPoolID.Add(1)
	poolRegistryMu.Lock()
	poolRegistry[id] = p
	poolRegistryMu.Unlock()
	runtime.SetFinalizer(p, func(p *SingleDevicePool) {
		poolRegistryMu.Lock()
		delete(poolRegistry, id)
		poolRegistryMu.Unlock()
	})
	return id
}

func lookupPool(id uint64) *SingleDevicePool {
	poolRegistryMu.Lock()
	defer poolRegistryMu.Unlock()
	return poolRegistry[id]
}

// PooledMemory is the pool-path memory owner: it holds a weak reference
// back to the pool that produced it plus the chunk it wraps, and returns
// the chunk to the pool on destruction — either an explicit Free call or,
// if the caller drops its last reference without calling Free, a
// runtime-finalizer-driven release (see the pool's rawAllocWithRetry,
// which provokes exactly this by calling runtime.GC()).
type PooledMemory struct {
	poolID uint64
	c      *chunk

	freed atomic.Bool
}

func newPooledMemory(poolID uint64, c *chunk) *PooledMemory {
	pm := &PooledMemory{poolID: poolID, c: c}
	runtime.SetFinalizer(pm, (*PooledMemory).release)
	return pm
}

func (pm *PooledMemory) device_() driver.Device { return pm.c.parent.device_() }
func (pm *PooledMemory) deviceID_() int         { return pm.c.parent.deviceID_() }
func (pm *PooledMemory) baseAddress() uint64    { return pm.c.address() }
func (pm *PooledMemory) byteSize() uint64       { return pm.c.size }

// Free returns the underlying chunk to its pool immediately, rather than
// waiting for the garbage collector to run pm's finalizer. Safe to call
// more than once; only the first call has any effect.
func (pm *PooledMemory) Free() error {
	return pm.release()
}

func (pm *PooledMemory) release() error {
	if !pm.freed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(pm, nil)
	pool := lookupPool(pm.poolID)
	if pool == nil {
		// Pool already dropped; degrade to a no-op rather than reaching
		// into memory that may no longer be valid.
		return nil
	}
	return pool.free(pm.c.address(), pm.c.size)
}
