// Command cupydemo exercises the caching allocator end to end against the
// in-process simulated driver: it allocates across a handful of simulated
// streams, frees every other allocation (each is a whole parent, so no
// split or merge occurs), then runs sortdispatch.Sort over a small buffer
// and logs the pool's accounting. It is a smoke test a human can run, not a benchmark.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/sonots/cupy/dtype"
	"github.com/sonots/cupy/internal/driver"
	"github.com/sonots/cupy/internal/driver/simdriver"
	"github.com/sonots/cupy/memory"
	"github.com/sonots/cupy/sortdispatch"
)

func main() {
	device := flag.Int("device", 0, "device id to run on")
	streams := flag.Int("streams", 2, "number of simulated streams to allocate across")
	flag.Parse()

	if err := run(*device, *streams); err != nil {
		slog.Error("cupydemo failed", "err", err)
		os.Exit(1)
	}
}

func run(device, numStreams int) error {
	ctx := context.Background()
	drv := simdriver.New(simdriver.WithCapacity(device, 8<<20))
	drv.SetDevice(device)

	pool := memory.NewSingleDevicePool(drv, device)
	memory.SetCurrentAllocator(pool.Malloc)

	ptrs := make([]memory.Pointer, 0, numStreams*3)
	for s := 0; s < numStreams; s++ {
		stream := driver.NewStream(device, fmt.Sprintf("stream-%d", s))
		sctx := driver.WithStream(ctx, stream)
		for i := 0; i < 3; i++ {
			p, err := memory.Alloc(sctx, uint64(1024*(i+1)))
			if err != nil {
				return err
			}
			ptrs = append(ptrs, p)
		}
	}

	slog.Info("allocated", "used_bytes", pool.UsedBytes(), "total_bytes", pool.TotalBytes())

	for i, p := range ptrs {
		if i%2 == 0 {
			if err := p.Release(ctx); err != nil {
				return err
			}
		}
	}

	slog.Info("freed every other allocation", "free_blocks", pool.NFreeBlocks(), "used_bytes", pool.UsedBytes())

	data := []int32{5, 3, 1, 4, 2}
	buf := int32sToBytes(data)
	if err := sortdispatch.Sort(ctx, pool, drv, buf, dtype.Int32, len(data)); err != nil {
		return err
	}

	for _, call := range drv.Kernels() {
		slog.Info("kernel launched", "id", call.ID, "name", call.Name, "n", call.N)
	}

	if err := pool.FreeAllBlocks(ctx); err != nil {
		return err
	}
	slog.Info("done", "total_bytes", pool.TotalBytes())
	return nil
}

func int32sToBytes(xs []int32) []byte {
	buf := make([]byte, len(xs)*4)
	for i, x := range xs {
		u := uint32(x)
		buf[i*4+0] = byte(u)
		buf[i*4+1] = byte(u >> 8)
		buf[i*4+2] = byte(u >> 16)
		buf[i*4+3] = byte(u >> 24)
	}
	return buf
}
