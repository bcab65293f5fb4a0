package memory

import "github.com/sonots/cupy/internal/invariant"

// chunk is the allocator's internal bookkeeping node: a contiguous subrange
// of a parent RawAllocation. Chunks carved out of the same parent are
// linked into a doubly-linked "neighbor list" ordered by offset so that
// free/split/merge can find a chunk's physical neighbors in O(1) — this is
// the direct descendant of the teacher's intrusive mspan list links in
// mcentral.go, generalized from "list of spans in one size class" to "list
// of chunks in one parent allocation".
type chunk struct {
	parent *RawAllocation

	offset uint64
	size   uint64

	streamTag streamTag
	inUse     bool

	// neighbor list: physical adjacency within parent, ordered by offset.
	prev, next *chunk
}

func (c *chunk) address() uint64 { return c.parent.baseAddress() + c.offset }

// newChunk constructs a chunk with no neighbor links; callers splice it
// into the appropriate neighbor list themselves.
func newChunk(parent *RawAllocation, offset, size uint64, tag streamTag) *chunk {
	invariant.Check(size >= 1, "chunk size must be >= 1, got %d", size)
	invariant.Check(offset+size <= parent.byteSize(), "chunk [%d,%d) exceeds parent size %d", offset, offset+size, parent.byteSize())
	return &chunk{parent: parent, offset: offset, size: size, streamTag: tag}
}

// split divides a free chunk c into a head of exactly n bytes (returned to
// the caller) and, if anything remains, a tail chunk re-entered into arena
// at tailArena. n must be a positive multiple of unit and no larger than
// c.size. If n == c.size, c is returned unchanged as head with a nil tail.
func split(c *chunk, n uint64, tailArena *arena, unit uint64) (head, tail *chunk) {
	invariant.Check(!c.inUse, "split called on an in-use chunk")
	invariant.Check(n > 0 && n <= c.size, "split size %d out of range for chunk of size %d", n, c.size)
	invariant.Check(n%unit == 0, "split size %d is not a multiple of unit %d", n, unit)

	if n == c.size {
		return c, nil
	}

	head = newChunk(c.parent, c.offset, n, c.streamTag)
	tail = newChunk(c.parent, c.offset+n, c.size-n, c.streamTag)

	head.prev = c.prev
	head.next = tail
	tail.prev = head
	tail.next = c.next

	if head.prev != nil {
		head.prev.next = head
	}
	if tail.next != nil {
		tail.next.prev = tail
	}

	if tailArena != nil {
		tailArena.insert(tail, unit)
	}
	return head, tail
}

// merge combines two free, same-stream, adjacent chunks a (= b.prev) and b
// of the same parent into one chunk spanning both. The caller must have
// already removed a and b from their free-list bins before calling merge,
// and is responsible for inserting the result back into a bin afterwards.
func merge(a, b *chunk) *chunk {
	invariant.Check(!a.inUse && !b.inUse, "merge requires both chunks to be free")
	invariant.Check(a.next == b, "merge requires a.next == b")
	invariant.Check(a.parent == b.parent, "merge requires chunks from the same parent")
	invariant.Check(a.streamTag == b.streamTag, "merge requires matching stream tags")

	m := newChunk(a.parent, a.offset, a.size+b.size, a.streamTag)
	m.prev = a.prev
	m.next = b.next
	if m.prev != nil {
		m.prev.next = m
	}
	if m.next != nil {
		m.next.prev = m
	}
	return m
}

// wholeParent reports whether c is the sole chunk carved from its parent
// allocation — i.e. it has never been split and has no neighbors. Such a
// chunk's entire backing allocation can be handed back to the driver.
func (c *chunk) wholeParent() bool { return c.prev == nil && c.next == nil }
