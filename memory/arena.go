package memory

// arena is the per-stream growable vector of size bins described by the
// spec: bin index i holds free chunks whose rounded size falls in
// ((i)*unit, (i+1)*unit]. Arenas only grow; they are never shrunk below
// their high-water mark, mirroring the teacher's class_to_size tables in
// msize.go (there fixed at compile time; here grown with append since the
// spec calls for unbounded bin growth instead of a fixed class table).
//
// Bins are plain slices used as stacks: insert appends, and the best-fit
// scan in pool.go pops from the end, which gives the spec's required
// last-in-first-out tie-break "for free" instead of needing an explicit
// intrusive free-list link on chunk.
type arena struct {
	bins [][]*chunk
}

func newArena(initialBins int) *arena {
	return &arena{bins: make([][]*chunk, initialBins)}
}

// ensure grows a so that bin index i is valid to index into.
func (a *arena) ensure(i int) {
	if i < len(a.bins) {
		return
	}
	grown := make([][]*chunk, i+1)
	copy(grown, a.bins)
	a.bins = grown
}

// insert appends c to the bin matching its (already rounded) size.
func (a *arena) insert(c *chunk, unit uint64) {
	i := binIndex(c.size, unit)
	a.ensure(i)
	a.bins[i] = append(a.bins[i], c)
}

// popBestFit scans bins starting at i for the first non-empty one and pops
// its tail (LIFO) chunk. ok is false if every bin from i onward is empty.
func (a *arena) popBestFit(i int) (c *chunk, ok bool) {
	for j := i; j < len(a.bins); j++ {
		n := len(a.bins[j])
		if n == 0 {
			continue
		}
		c = a.bins[j][n-1]
		a.bins[j] = a.bins[j][:n-1]
		return c, true
	}
	return nil, false
}

// remove deletes c from whichever bin currently holds it. It is used by the
// pool's coalescing path, which must pull a known free neighbor out of its
// bin before merging it away. Reports whether c was found.
func (a *arena) remove(c *chunk, unit uint64) bool {
	i := binIndex(c.size, unit)
	if i >= len(a.bins) {
		return false
	}
	bin := a.bins[i]
	for idx, cand := range bin {
		if cand == c {
			a.bins[i] = append(bin[:idx], bin[idx+1:]...)
			return true
		}
	}
	return false
}

// forEachWholeParent calls fn for every free chunk in a that is the sole
// occupant of its parent allocation (see chunk.wholeParent), removing it
// from its bin. Used by FreeAllBlocks.
func (a *arena) forEachWholeParent(fn func(c *chunk)) {
	for i, bin := range a.bins {
		kept := bin[:0]
		for _, c := range bin {
			if c.wholeParent() {
				fn(c)
				continue
			}
			kept = append(kept, c)
		}
		a.bins[i] = kept
	}
}

// count and bytes walk every chunk currently free in a; used by the pool's
// O(#chunks) accounting queries.
func (a *arena) count() int {
	n := 0
	for _, bin := range a.bins {
		n += len(bin)
	}
	return n
}

func (a *arena) totalBytes() uint64 {
	var total uint64
	for _, bin := range a.bins {
		for _, c := range bin {
			total += c.size
		}
	}
	return total
}
