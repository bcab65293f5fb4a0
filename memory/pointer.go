package memory

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sonots/cupy/internal/driver"
)

// owner is whatever backs a Pointer's address space: either a raw,
// unpooled RawAllocation or a pooled PooledMemory. It lets Pointer forward
// device/driver queries without caring which path produced it.
type owner interface {
	device_() driver.Device
	deviceID_() int
	baseAddress() uint64
	byteSize() uint64
}

// Pointer is a value carrying (owning allocation handle, absolute address
// within it), plus pointer arithmetic and the device/host copy contract.
// It is the allocator's public return type and the only thing downstream
// callers (e.g. sortdispatch) hold on to.
type Pointer struct {
	own  owner
	addr uint64
}

// newPointer wraps own at its base address.
func newPointer(own owner) Pointer {
	return Pointer{own: own, addr: own.baseAddress()}
}

// IsNil reports whether p was never assigned an owner (the zero Pointer).
func (p Pointer) IsNil() bool { return p.own == nil }

// Address returns the absolute device address this pointer refers to.
func (p Pointer) Address() uint64 {
	if p.own == nil {
		return 0
	}
	return p.addr
}

// DeviceID returns the device this pointer's memory lives on.
func (p Pointer) DeviceID() int {
	if p.own == nil {
		return 0
	}
	return p.own.deviceID_()
}

func (p Pointer) device() driver.Device {
	if p.own == nil {
		return nil
	}
	return p.own.device_()
}

// Release returns p's backing memory: to its pool if p was produced by a
// SingleDevicePool/MultiDevicePool/Alloc-with-pool, or straight back to
// the driver if p wraps an unpooled raw allocation. Safe to call more
// than once; the zero Pointer's Release is a no-op.
func (p Pointer) Release(ctx context.Context) error {
	switch o := p.own.(type) {
	case nil:
		return nil
	case *PooledMemory:
		return o.Free()
	case *RawAllocation:
		return o.release(ctx)
	default:
		return nil
	}
}

// Add returns a new Pointer offset by n bytes within the same owner.
func (p Pointer) Add(n uint64) Pointer { return Pointer{own: p.own, addr: p.addr + n} }

// Sub returns a new Pointer offset backward by n bytes within the same
// owner.
func (p Pointer) Sub(n uint64) Pointer { return Pointer{own: p.own, addr: p.addr - n} }

// AddInPlace offsets p forward by n bytes in place.
func (p *Pointer) AddInPlace(n uint64) { p.addr += n }

// SubInPlace offsets p backward by n bytes in place.
func (p *Pointer) SubInPlace(n uint64) { p.addr -= n }

// Memset fills the first n bytes at p with value. A zero-length request is
// a no-op and issues no driver call.
func (p Pointer) Memset(ctx context.Context, value byte, n uint64) error {
	if n == 0 {
		return nil
	}
	return p.device().Memset(ctx, p.addr, value, n)
}

// MemsetAsync is the stream-qualified variant of Memset. A nil stream
// means the current stream of ctx (driver.CurrentStream).
func (p Pointer) MemsetAsync(ctx context.Context, value byte, n uint64, stream *driver.Stream) error {
	if n == 0 {
		return nil
	}
	if stream == nil {
		stream = driver.CurrentStream(ctx)
	}
	return p.device().MemsetAsync(ctx, p.addr, value, n, stream)
}

// CopyFromDevice copies n bytes from src (which may live on a different
// device) into p, enabling peer access between the two devices first if
// needed. A zero-length request is a no-op.
func (p Pointer) CopyFromDevice(ctx context.Context, src Pointer, n uint64) error {
	return p.CopyFromDeviceAsync(ctx, src, n, nil)
}

// CopyFromDeviceAsync is the stream-qualified variant of CopyFromDevice.
func (p Pointer) CopyFromDeviceAsync(ctx context.Context, src Pointer, n uint64, stream *driver.Stream) error {
	if n == 0 {
		return nil
	}
	if src.DeviceID() != p.DeviceID() {
		ensurePeerAccess(ctx, p.device(), src.DeviceID(), p.DeviceID())
	}
	if stream == nil {
		stream = driver.CurrentStream(ctx)
	}
	return p.device().MemcpyAsync(ctx, p.addr, src.addr, n, driver.DeviceToDevice, stream)
}

// CopyFromHost copies len(src) bytes from the host buffer src into p.
func (p Pointer) CopyFromHost(ctx context.Context, src []byte) error {
	return p.CopyFromHostAsync(ctx, src, nil)
}

// CopyFromHostAsync is the stream-qualified variant of CopyFromHost. The
// async path assumes src is pinned host memory for correctness but does
// not verify it, per the spec.
func (p Pointer) CopyFromHostAsync(ctx context.Context, src []byte, stream *driver.Stream) error {
	if len(src) == 0 {
		return nil
	}
	if stream == nil {
		stream = driver.CurrentStream(ctx)
	}
	return p.device().CopyFromHostAsync(ctx, p.addr, src, stream)
}

// CopyToHost copies len(dst) bytes from p into the host buffer dst.
func (p Pointer) CopyToHost(ctx context.Context, dst []byte) error {
	return p.CopyToHostAsync(ctx, dst, nil)
}

// CopyToHostAsync is the stream-qualified variant of CopyToHost.
func (p Pointer) CopyToHostAsync(ctx context.Context, dst []byte, stream *driver.Stream) error {
	if len(dst) == 0 {
		return nil
	}
	if stream == nil {
		stream = driver.CurrentStream(ctx)
	}
	return p.device().CopyToHostAsync(ctx, dst, p.addr, stream)
}

// CopyFrom is a polymorphic convenience that dispatches to CopyFromDevice
// or CopyFromHost depending on the dynamic type of mem, which must be a
// Pointer or a []byte.
func (p Pointer) CopyFrom(ctx context.Context, mem any, n uint64) error {
	return p.CopyFromAsync(ctx, mem, n, nil)
}

// CopyFromAsync is the stream-qualified variant of CopyFrom.
func (p Pointer) CopyFromAsync(ctx context.Context, mem any, n uint64, stream *driver.Stream) error {
	switch v := mem.(type) {
	case Pointer:
		return p.CopyFromDeviceAsync(ctx, v, n, stream)
	case []byte:
		if n < uint64(len(v)) {
			v = v[:n]
		}
		return p.CopyFromHostAsync(ctx, v, stream)
	default:
		return errors.Errorf("memory: CopyFrom: unsupported source type %T", mem)
	}
}
