package storage

import "sync/atomic"

// ScatteredAllocator hands out individually-placed, cache-line-aligned
// blocks from a single extent with a bump pointer and never reuses space:
// Deallocate is a no-op, matching the original DRAMAllocator's
// allocate-only, GC-free model. Unlike RingAllocator it never wraps —
// callers size the extent for the run's expected peak, and Allocate
// reports exhaustion rather than silently overwriting live data.
type ScatteredAllocator struct {
	fd     *FileDescriptor
	cursor atomic.Uint64
}

// NewScatteredAllocator opens (or reuses) an extent of exactly size bytes
// under dir.
func NewScatteredAllocator(dir string, size uint64) (*ScatteredAllocator, error) {
	fd, err := OpenFileDescriptor(dir, AllocateFileName(), size)
	if err != nil {
		return nil, err
	}
	return &ScatteredAllocator{fd: fd}, nil
}

// Allocate reserves size bytes (cache-line aligned) and returns their
// offset and a view into them. ok is false once the extent is exhausted.
func (s *ScatteredAllocator) Allocate(size uint64) (offset uint64, block []byte, ok bool) {
	size = alignSize(size)
	total := s.fd.TotalSize()
	for {
		cur := s.cursor.Load()
		next := cur + size
		if next > total {
			return 0, nil, false
		}
		if s.cursor.CompareAndSwap(cur, next) {
			return cur, s.fd.Bytes()[cur:next], true
		}
	}
}

// Deallocate is a no-op: space is reclaimed only by recreating the extent.
func (s *ScatteredAllocator) Deallocate(offset, size uint64) {}

// Range returns the full backing extent.
func (s *ScatteredAllocator) Range() []byte { return s.fd.Bytes() }

// Close releases the backing extent.
func (s *ScatteredAllocator) Close() error { return s.fd.Close() }
