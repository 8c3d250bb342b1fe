package logstore

import "fmt"

// LogSpace is a thread's private slice of a ring log: three offsets into
// the shared extent, start <= cursor <= end. Writes append at cursor and
// advance it; the space never wraps on its own; a thread is handed a new
// LogSpace by the manager once its current one fills up.
type LogSpace struct {
	start, cursor, end uint64
}

// NewLogSpace returns a space spanning [start, end) with cursor at start.
func NewLogSpace(start, end uint64) LogSpace {
	return LogSpace{start: start, cursor: start, end: end}
}

// Start returns the space's first valid offset.
func (s LogSpace) Start() uint64 { return s.start }

// Cursor returns the offset the next Append will write at.
func (s LogSpace) Cursor() uint64 { return s.cursor }

// End returns the offset one past the space's last valid byte.
func (s LogSpace) End() uint64 { return s.end }

// Remaining reports how many bytes are left before the space is full.
func (s LogSpace) Remaining() uint64 { return s.end - s.cursor }

// Append writes tuple's encoded bytes into buf at the space's cursor and
// advances it, returning the offset the tuple was written at. It fails if
// the space has insufficient room; the caller (the log manager) is
// responsible for rotating to a fresh LogSpace in that case.
func (s *LogSpace) Append(buf []byte, tuple LogTuple) (offset uint64, err error) {
	size := uint64(tuple.EncodedSize())
	if s.Remaining() < size {
		return 0, fmt.Errorf("logstore: log space exhausted (need %d, have %d)", size, s.Remaining())
	}
	off := s.cursor
	// buf[off:off] has zero length but capacity end-off >= size (checked
	// above), so Encode appends in place without reallocating.
	tuple.Encode(buf[off:off:s.end])
	s.cursor += size
	return off, nil
}
