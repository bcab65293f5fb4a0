package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sonots/cupy/internal/driver"
)

// AllocFunc is the shape every allocator this package can swap in front
// of — a SingleDevicePool, a MultiDevicePool, or a caller's own
// unpooled passthrough — conforms to.
type AllocFunc func(ctx context.Context, n uint64) (Pointer, error)

// currentAllocator is the process-wide swappable allocation entry point,
// the Go rendering of the distilled spec's "current allocator"
// indirection: library code calls Alloc, never a concrete pool method
// directly, so a caller can redirect every future allocation (e.g. to a
// MultiDevicePool, or back to an unpooled raw allocator) without touching
// call sites.
var currentAllocator atomic.Pointer[AllocFunc]

var (
	defaultDeviceMu sync.Mutex
	defaultDevice   driver.Device
	defaultDeviceID int
)

// ErrNoDefaultDevice is returned by Alloc when no current allocator has
// been installed and SetDefaultDevice has never been called either.
var ErrNoDefaultDevice = errors.New("memory: no default device configured")

// SetCurrentAllocator installs f as the function Alloc dispatches to. A
// nil f reverts to the unpooled default allocator (see rawAlloc below).
func SetCurrentAllocator(f AllocFunc) {
	if f == nil {
		currentAllocator.Store(nil)
		return
	}
	currentAllocator.Store(&f)
}

// SetDefaultDevice configures the device rawAlloc (the fallback used when
// no pooling allocator has been installed) talks to.
func SetDefaultDevice(dev driver.Device, deviceID int) {
	defaultDeviceMu.Lock()
	defer defaultDeviceMu.Unlock()
	defaultDevice = dev
	defaultDeviceID = deviceID
}

// Alloc is the package's single public allocation entry point: it
// dispatches to whatever AllocFunc SetCurrentAllocator last installed,
// falling back to an unpooled raw allocation against the default device
// configured via SetDefaultDevice.
func Alloc(ctx context.Context, n uint64) (Pointer, error) {
	if f := currentAllocator.Load(); f != nil {
		return (*f)(ctx, n)
	}
	return rawAlloc(ctx, n)
}

// rawAlloc is the non-caching fallback allocator: every call goes
// straight to the driver and every Pointer it returns must be released
// via its owning RawAllocation's lifetime (there is no pool to return it
// to), matching the spec's "Default Memory Pointer" unpooled path.
func rawAlloc(ctx context.Context, n uint64) (Pointer, error) {
	defaultDeviceMu.Lock()
	dev, deviceID := defaultDevice, defaultDeviceID
	defaultDeviceMu.Unlock()

	if dev == nil {
		return Pointer{}, ErrNoDefaultDevice
	}
	ra, err := newRawAllocation(ctx, dev, deviceID, n)
	if err != nil {
		return Pointer{}, err
	}
	return newPointer(ra), nil
}
