package memory

import (
	"context"
	"sync"

	"github.com/sonots/cupy/internal/driver"
)

// MultiDevicePool is the facade in front of one SingleDevicePool per
// device id, lazily constructing each pool the first time its device is
// touched. It is the generalization of the teacher's single global mheap
// to "one heap per device": where the teacher has exactly one mheap for
// the whole process, a MultiDevicePool dispatches by driver.GetDevice()
// so that callers never have to track which pool belongs to which device
// themselves.
type MultiDevicePool struct {
	driver driver.Device

	mu    sync.Mutex
	pools map[int]*SingleDevicePool
	opts  []PoolOption
}

// NewMultiDevicePool constructs a facade over dev. opts are applied to
// every per-device pool it lazily creates.
func NewMultiDevicePool(dev driver.Device, opts ...PoolOption) *MultiDevicePool {
	return &MultiDevicePool{
		driver: dev,
		pools:  map[int]*SingleDevicePool{},
		opts:   opts,
	}
}

// poolFor returns (lazily creating) the pool for deviceID.
func (m *MultiDevicePool) poolFor(deviceID int) *SingleDevicePool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[deviceID]
	if !ok {
		p = NewSingleDevicePool(m.driver, deviceID, m.opts...)
		m.pools[deviceID] = p
	}
	return p
}

// Malloc dispatches to the pool for the device currently active on the
// underlying driver (driver.GetDevice()).
func (m *MultiDevicePool) Malloc(ctx context.Context, n uint64) (Pointer, error) {
	return m.poolFor(m.driver.GetDevice()).Malloc(ctx, n)
}

// MallocOnDevice is the explicit-device variant of Malloc, for callers
// that do not want to rely on the driver's ambient current-device state.
func (m *MultiDevicePool) MallocOnDevice(ctx context.Context, deviceID int, n uint64) (Pointer, error) {
	return m.poolFor(deviceID).Malloc(ctx, n)
}

// Pool returns the lazily-created pool for deviceID, for callers that
// need direct access to accounting methods (UsedBytes, FreeAllBlocks, ...).
func (m *MultiDevicePool) Pool(deviceID int) *SingleDevicePool {
	return m.poolFor(deviceID)
}

// FreeAllBlocks runs FreeAllBlocks on every pool the facade has ever
// created, stopping at the first error.
func (m *MultiDevicePool) FreeAllBlocks(ctx context.Context) error {
	m.mu.Lock()
	pools := make([]*SingleDevicePool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		if err := p.FreeAllBlocks(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TotalBytes sums TotalBytes() across every pool the facade has created.
func (m *MultiDevicePool) TotalBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, p := range m.pools {
		total += p.TotalBytes()
	}
	return total
}
