package storage

import "sync/atomic"

// ringAllocAlign is the cache-line size every ring allocation is rounded
// up to, ALLOC_ALIGN_SIZE in the original.
const ringAllocAlign = 64

// dramRootDir is the default directory DRAM-backed ring allocators map
// their extent under, matching the original's DRAM_ROOT_DIR_NAME.
const dramRootDir = "/dev/shm/temp_log"

func alignSize(size uint64) uint64 {
	return (size + ringAllocAlign - 1) &^ (ringAllocAlign - 1)
}

// RingAllocator is a sequential, CAS-advancing allocator over a single
// mmap'd extent: each Allocate bumps a cursor by the (aligned) requested
// size and wraps back to the start when the extent is exhausted.
// Deallocate is a no-op — space is only ever reclaimed by wraparound, so
// callers must ensure nothing still reachable lives in the region about to
// be overwritten (the log manager achieves this by sizing the extent at
// twice the expected live-data volume, as the original does).
type RingAllocator struct {
	fd       *FileDescriptor
	cursor   atomic.Uint64 // offset into fd.Bytes(), not a pointer
	startOff uint64
}

// NewRingAllocator opens (or reuses) an extent under dir sized to hold
// roughly 2x expectedAmount tuples of tupleSize bytes each, with a 1 GiB
// floor matching the original's std::max(..., 1024UL*1024*1024).
func NewRingAllocator(dir string, tupleSize, expectedAmount uint64) (*RingAllocator, error) {
	size := alignSize(tupleSize) * expectedAmount * 2
	const oneGiB = 1024 * 1024 * 1024
	if size < oneGiB {
		size = oneGiB
	}
	fd, err := OpenFileDescriptor(dir, AllocateFileName(), size)
	if err != nil {
		return nil, err
	}
	return &RingAllocator{fd: fd}, nil
}

// NewDRAMRingAllocator opens a ring allocator under the default DRAM root
// (/dev/shm/temp_log), the teacher's and original's default for
// non-PMEM-backed runs.
func NewDRAMRingAllocator(tupleSize, expectedAmount uint64) (*RingAllocator, error) {
	return NewRingAllocator(dramRootDir, tupleSize, expectedAmount)
}

// Allocate reserves size bytes (rounded up to a cache line) and returns
// the byte offset into Range() at which they start, plus a slice view of
// exactly those bytes. It wraps to the extent's start once the cursor
// would run past the end.
func (r *RingAllocator) Allocate(size uint64) (offset uint64, block []byte) {
	size = alignSize(size)
	total := r.fd.TotalSize()

	for {
		cur := r.cursor.Load()
		next := cur + size
		start := cur
		if next > total {
			start = r.startOff
			next = start + size
		}
		if r.cursor.CompareAndSwap(cur, next) {
			return start, r.fd.Bytes()[start : start+size]
		}
	}
}

// Deallocate is a no-op: the ring allocator only reclaims space by
// wrapping around, never by explicit free.
func (r *RingAllocator) Deallocate(offset, size uint64) {}

// Range returns the full backing extent.
func (r *RingAllocator) Range() []byte { return r.fd.Bytes() }

// Close releases the backing extent.
func (r *RingAllocator) Close() error { return r.fd.Close() }
