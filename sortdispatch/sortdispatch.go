// Package sortdispatch is a small peripheral client of the memory
// package: it stages a host buffer onto a device, dispatches to a
// dtype-keyed sort kernel, and copies the result back. It exists to give
// the allocator's Pointer/allocator-interface surface a real consumer,
// the same role the teacher's own downstream packages play for its
// runtime internals.
package sortdispatch

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sonots/cupy/dtype"
	"github.com/sonots/cupy/internal/driver"
	"github.com/sonots/cupy/memory"
)

// Allocator is the slice of an allocator Sort needs: either a
// *memory.SingleDevicePool or a *memory.MultiDevicePool satisfies it
// without this package depending on which one the caller chose.
type Allocator interface {
	Malloc(ctx context.Context, n uint64) (memory.Pointer, error)
}

// kernelNames maps an element kind to the name of the kernel that sorts
// it; a driver.KernelLauncher never sees dtype.Kind directly, only the
// resolved name.
var kernelNames = map[dtype.Kind]string{
	dtype.Int32:   "sort_i32",
	dtype.Int64:   "sort_i64",
	dtype.Float32: "sort_f32",
	dtype.Float64: "sort_f64",
}

// Sort copies host (interpreted as n elements of kind) onto a device
// buffer obtained from alloc, dispatches the matching sort kernel through
// launcher, copies the sorted bytes back into host, and releases the
// device buffer. host is sorted in place.
func Sort(ctx context.Context, alloc Allocator, launcher driver.KernelLauncher, host []byte, kind dtype.Kind, n int) error {
	want := kind.Size() * n
	if len(host) != want {
		return errors.Errorf("sortdispatch: buffer is %d bytes, want %d for %d %s elements", len(host), want, n, kind)
	}
	if n == 0 {
		return nil
	}

	name, ok := kernelNames[kind]
	if !ok {
		return errors.Errorf("sortdispatch: no kernel registered for %s", kind)
	}

	ptr, err := alloc.Malloc(ctx, uint64(want))
	if err != nil {
		return errors.Wrap(err, "sortdispatch: allocating staging buffer")
	}
	defer ptr.Release(ctx)

	stream := driver.CurrentStream(ctx)
	if err := ptr.CopyFromHostAsync(ctx, host, stream); err != nil {
		return errors.Wrap(err, "sortdispatch: staging input")
	}
	if err := launcher.LaunchKernel(ctx, name, ptr.Address(), n, stream); err != nil {
		return errors.Wrap(err, "sortdispatch: launching kernel")
	}
	if err := ptr.CopyToHostAsync(ctx, host, stream); err != nil {
		return errors.Wrap(err, "sortdispatch: reading back result")
	}
	return nil
}
