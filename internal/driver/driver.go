// Package driver specifies the minimal GPU runtime surface that the caching
// memory allocator consumes. It is the external collaborator described by
// the allocator's design: device selection, raw synchronous malloc/free,
// memcpy/memset, and peer access. No implementation in this package talks to
// real hardware; see simdriver for the in-process simulation used by tests
// and the example binary.
package driver

import (
	"context"
	"unsafe"

	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned by Malloc when the device refuses an
// allocation because it is out of memory. Callers use errors.Is against
// this sentinel; all other Malloc/Free errors are opaque and propagate
// unchanged.
var ErrOutOfMemory = errors.New("driver: out of memory")

// MemcpyKind identifies the direction of a copy issued through Device.
type MemcpyKind int

const (
	// Default lets the driver infer the direction from the two addresses.
	Default MemcpyKind = iota
	HostToDevice
	DeviceToHost
	DeviceToDevice
)

func (k MemcpyKind) String() string {
	switch k {
	case HostToDevice:
		return "HostToDevice"
	case DeviceToHost:
		return "DeviceToHost"
	case DeviceToDevice:
		return "DeviceToDevice"
	default:
		return "Default"
	}
}

// Stream is an opaque handle to an ordered execution timeline on a device.
// Two Streams are the same timeline iff they are the same pointer; a nil
// *Stream denotes the device's default/null stream.
type Stream struct {
	// device is informational only; it is not consulted for stream
	// identity, which is always pointer identity (see the distilled
	// spec's design note on weak stream identity).
	device int
	name   string
}

// NewStream returns a fresh Stream handle bound to device. name is only
// used for diagnostics.
func NewStream(device int, name string) *Stream {
	return &Stream{device: device, name: name}
}

// Pointer returns the opaque integer identity a driver call expects to see
// for async operations on this stream.
func (s *Stream) Pointer() uintptr {
	if s == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(s))
}

func (s *Stream) String() string {
	if s == nil {
		return "<default-stream>"
	}
	if s.name != "" {
		return s.name
	}
	return "<stream>"
}

type currentStreamKey struct{}

// WithStream returns a context that carries s as the "current stream" for
// any call beneath it that consults CurrentStream.
func WithStream(ctx context.Context, s *Stream) context.Context {
	return context.WithValue(ctx, currentStreamKey{}, s)
}

// CurrentStream returns the stream installed by WithStream, or nil (the
// default stream) if none was installed.
func CurrentStream(ctx context.Context) *Stream {
	s, _ := ctx.Value(currentStreamKey{}).(*Stream)
	return s
}

// Device is the small API surface the allocator consumes from a GPU
// runtime. All methods are synchronous unless named *Async, in which case
// they enqueue work on the given stream and return immediately.
type Device interface {
	// Malloc performs a synchronous, host-blocking raw allocation on
	// deviceID and returns its base address. It returns ErrOutOfMemory
	// (wrapped) if the device cannot satisfy the request.
	Malloc(ctx context.Context, deviceID int, size uint64) (address uint64, err error)

	// Free releases a raw allocation previously returned by Malloc.
	// Freeing an unknown address is a programmer error.
	Free(ctx context.Context, deviceID int, address uint64) error

	Memcpy(ctx context.Context, dst, src uint64, n uint64, kind MemcpyKind) error
	MemcpyAsync(ctx context.Context, dst, src uint64, n uint64, kind MemcpyKind, stream *Stream) error

	Memset(ctx context.Context, address uint64, value byte, n uint64) error
	MemsetAsync(ctx context.Context, address uint64, value byte, n uint64, stream *Stream) error

	// CopyFromHost/CopyToHost move bytes between a host buffer and a
	// device address. The Async variants assume the host buffer is
	// pinned; this is not verified.
	CopyFromHost(ctx context.Context, dst uint64, src []byte) error
	CopyFromHostAsync(ctx context.Context, dst uint64, src []byte, stream *Stream) error
	CopyToHost(ctx context.Context, dst []byte, src uint64) error
	CopyToHostAsync(ctx context.Context, dst []byte, src uint64, stream *Stream) error

	GetDevice() int
	SetDevice(id int)

	CanAccessPeer(a, b int) (bool, error)
	EnablePeerAccess(peer int) error
}

// KernelLauncher is an optional capability a Device may implement so that a
// peripheral dispatch layer (see the sortdispatch package) can record that a
// kernel "ran" without this package knowing anything about kernels. It is
// deliberately outside Device: the allocator itself never launches kernels.
type KernelLauncher interface {
	LaunchKernel(ctx context.Context, name string, address uint64, n int, stream *Stream) error
}
