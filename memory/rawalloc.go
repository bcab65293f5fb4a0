package memory

import (
	"context"
	"sync"

	"github.com/sonots/cupy/internal/driver"
)

// RawAllocation owns exactly one physical device allocation: acquired via
// one driver.Malloc call, released by exactly one matching driver.Free
// call. It is the leaf of the ownership hierarchy — a Chunk (pooled path)
// or a Pointer (unpooled path) holds the only reference to it.
type RawAllocation struct {
	device   driver.Device
	deviceID int
	base     uint64
	size     uint64

	once sync.Once
}

// newRawAllocation acquires a fresh device allocation of size bytes. A
// zero-size request never calls the driver and produces a RawAllocation
// with base 0, per the data model invariant.
func newRawAllocation(ctx context.Context, dev driver.Device, deviceID int, size uint64) (*RawAllocation, error) {
	if size == 0 {
		return &RawAllocation{device: dev, deviceID: deviceID}, nil
	}
	addr, err := dev.Malloc(ctx, deviceID, size)
	if err != nil {
		return nil, err
	}
	return &RawAllocation{device: dev, deviceID: deviceID, base: addr, size: size}, nil
}

// release frees the underlying device allocation exactly once; subsequent
// calls (e.g. a finalizer racing an explicit Free) are no-ops.
func (r *RawAllocation) release(ctx context.Context) error {
	if r.size == 0 {
		return nil
	}
	var err error
	r.once.Do(func() {
		err = r.device.Free(ctx, r.deviceID, r.base)
	})
	return err
}

func (r *RawAllocation) device_() driver.Device { return r.device }
func (r *RawAllocation) deviceID_() int         { return r.deviceID }
func (r *RawAllocation) baseAddress() uint64    { return r.base }
func (r *RawAllocation) byteSize() uint64       { return r.size }
