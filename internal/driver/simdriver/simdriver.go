// Package simdriver is an in-process, goroutine-safe simulation of
// driver.Device. It backs every simulated device with a plain byte slab and
// a bump pointer over it, which is enough to give the caching allocator
// above it real addresses to split, merge, and copy between, without
// touching actual hardware.
//
// simdriver is not a teaching example of how to write a GPU driver; its
// Malloc/Free are simply a capacity check and a bump allocator. Its only
// job is to make the allocator's test suite and cmd/cupydemo runnable.
package simdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sonots/cupy/internal/driver"
)

// deviceState is the simulated backing store for one device.
type deviceState struct {
	mu       sync.Mutex
	capacity uint64
	used     uint64
	slab     map[uint64][]byte // address -> live allocation bytes
	nextAddr uint64
	oomLeft  int // remaining forced-OOM responses for Malloc
}

// Driver is a driver.Device simulating one or more devices in host memory.
type Driver struct {
	mu      sync.Mutex
	active  int
	devices map[int]*deviceState
	peers   map[[2]int]bool

	kernelsMu sync.Mutex
	kernels   []KernelCall
}

// KernelCall records one LaunchKernel invocation for assertions in tests.
// ID is a fresh identifier per call so a test (or a log line) can refer to
// one specific launch even when several carry the same name and address.
type KernelCall struct {
	ID      uuid.UUID
	Name    string
	Address uint64
	N       int
	Stream  string
}

// Option configures a new Driver.
type Option func(*Driver)

// WithCapacity sets the simulated byte capacity of a device. Devices default
// to 64 MiB if never configured.
func WithCapacity(deviceID int, bytes uint64) Option {
	return func(d *Driver) {
		d.stateFor(deviceID).capacity = bytes
	}
}

const defaultCapacity = 64 << 20

// New returns a simulated driver with device 0 active.
func New(opts ...Option) *Driver {
	d := &Driver{devices: map[int]*deviceState{}, peers: map[[2]int]bool{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) stateFor(id int) *deviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.devices[id]
	if !ok {
		s = &deviceState{capacity: defaultCapacity, slab: map[uint64][]byte{}, nextAddr: 1 << 20}
		d.devices[id] = s
	}
	return s
}

// InjectOOM makes the next n calls to Malloc on deviceID fail with
// driver.ErrOutOfMemory regardless of remaining capacity, after which
// Malloc resumes behaving normally. It exists to drive the OOM-retry
// scenario deterministically in tests.
func (d *Driver) InjectOOM(deviceID int, n int) {
	s := d.stateFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oomLeft = n
}

func (d *Driver) Malloc(ctx context.Context, deviceID int, size uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := d.stateFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.oomLeft > 0 {
		s.oomLeft--
		return 0, errors.Wrapf(driver.ErrOutOfMemory, "simdriver: forced OOM on device %d", deviceID)
	}
	if s.used+size > s.capacity {
		return 0, errors.Wrapf(driver.ErrOutOfMemory, "simdriver: device %d has %d bytes free, wanted %d", deviceID, s.capacity-s.used, size)
	}

	addr := s.nextAddr
	s.nextAddr += size
	s.used += size
	s.slab[addr] = make([]byte, size)
	return addr, nil
}

func (d *Driver) Free(ctx context.Context, deviceID int, address uint64) error {
	s := d.stateFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.slab[address]
	if !ok {
		return errors.Errorf("simdriver: free of unknown address %#x on device %d", address, deviceID)
	}
	s.used -= uint64(len(buf))
	delete(s.slab, address)
	return nil
}

func (d *Driver) bytesAt(deviceID int, address, n uint64) ([]byte, error) {
	s := d.stateFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for base, buf := range s.slab {
		if address >= base && address+n <= base+uint64(len(buf)) {
			off := address - base
			return buf[off : off+n], nil
		}
	}
	return nil, errors.Errorf("simdriver: address %#x..%#x not within any live allocation on device %d", address, address+n, deviceID)
}

func (d *Driver) Memcpy(ctx context.Context, dst, src uint64, n uint64, kind driver.MemcpyKind) error {
	return d.MemcpyAsync(ctx, dst, src, n, kind, nil)
}

func (d *Driver) MemcpyAsync(ctx context.Context, dst, src uint64, n uint64, kind driver.MemcpyKind, stream *driver.Stream) error {
	if n == 0 {
		return nil
	}
	dev := d.GetDevice()
	dstBuf, err := d.bytesAt(dev, dst, n)
	if err != nil {
		return err
	}
	srcBuf, err := d.bytesAt(dev, src, n)
	if err != nil {
		return err
	}
	copy(dstBuf, srcBuf)
	return nil
}

func (d *Driver) Memset(ctx context.Context, address uint64, value byte, n uint64) error {
	return d.MemsetAsync(ctx, address, value, n, nil)
}

func (d *Driver) MemsetAsync(ctx context.Context, address uint64, value byte, n uint64, stream *driver.Stream) error {
	if n == 0 {
		return nil
	}
	buf, err := d.bytesAt(d.GetDevice(), address, n)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = value
	}
	return nil
}

func (d *Driver) CopyFromHost(ctx context.Context, dst uint64, src []byte) error {
	return d.CopyFromHostAsync(ctx, dst, src, nil)
}

func (d *Driver) CopyFromHostAsync(ctx context.Context, dst uint64, src []byte, stream *driver.Stream) error {
	if len(src) == 0 {
		return nil
	}
	buf, err := d.bytesAt(d.GetDevice(), dst, uint64(len(src)))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

func (d *Driver) CopyToHost(ctx context.Context, dst []byte, src uint64) error {
	return d.CopyToHostAsync(ctx, dst, src, nil)
}

func (d *Driver) CopyToHostAsync(ctx context.Context, dst []byte, src uint64, stream *driver.Stream) error {
	if len(dst) == 0 {
		return nil
	}
	buf, err := d.bytesAt(d.GetDevice(), src, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, buf)
	return nil
}

func (d *Driver) GetDevice() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Driver) SetDevice(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = id
}

func (d *Driver) peerKey(a, b int) [2]int { return [2]int{a, b} }

func (d *Driver) CanAccessPeer(a, b int) (bool, error) {
	// Simulated topology: every distinct device pair can access each
	// other; a device can always "access" itself trivially (callers
	// short-circuit that case before asking).
	return a != b, nil
}

func (d *Driver) EnablePeerAccess(peer int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := d.peerKey(d.active, peer)
	d.peers[key] = true
	return nil
}

// PeerEnabled reports whether EnablePeerAccess(peer) has been called while
// owner was active. Test-only introspection.
func (d *Driver) PeerEnabled(owner, peer int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[d.peerKey(owner, peer)]
}

// LaunchKernel implements driver.KernelLauncher by recording the call for
// later assertions; it performs no actual computation.
func (d *Driver) LaunchKernel(ctx context.Context, name string, address uint64, n int, stream *driver.Stream) error {
	d.kernelsMu.Lock()
	defer d.kernelsMu.Unlock()
	d.kernels = append(d.kernels, KernelCall{ID: uuid.New(), Name: name, Address: address, N: n, Stream: fmt.Sprint(stream)})
	return nil
}

// Kernels returns a snapshot of every LaunchKernel call observed so far.
func (d *Driver) Kernels() []KernelCall {
	d.kernelsMu.Lock()
	defer d.kernelsMu.Unlock()
	out := make([]KernelCall, len(d.kernels))
	copy(out, d.kernels)
	return out
}

var _ driver.Device = (*Driver)(nil)
var _ driver.KernelLauncher = (*Driver)(nil)
