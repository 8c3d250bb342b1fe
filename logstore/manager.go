package logstore

import (
	"fmt"
	"sync"

	"github.com/sharedcode/ccbench/storage"
)

// spaceSize is the size handed to each newly rotated LogSpace.
const spaceSize = 4 << 20 // 4 MiB

// Manager owns the ring-allocated extent the log lives in and hands out
// LogSpaces to worker threads, rotating a thread to a fresh space once its
// current one fills. Grounded on the teacher's TransactionLog, which
// likewise owns the single backing file and rotates when its buffer fills
// (there by wall-clock hour, here by byte capacity since this log is an
// in-memory/PMEM ring rather than a file-per-hour rotation).
type Manager struct {
	ring *storage.RingAllocator

	mu     sync.Mutex
	spaces map[int]*LogSpace // per-thread active space, keyed by thread id
}

// NewManager opens a ring-allocated log extent under dir.
func NewManager(dir string, expectedThreads uint64) (*Manager, error) {
	ring, err := storage.NewRingAllocator(dir, spaceSize, expectedThreads)
	if err != nil {
		return nil, err
	}
	return &Manager{ring: ring, spaces: make(map[int]*LogSpace)}, nil
}

// spaceFor returns threadID's active LogSpace, allocating one from the
// ring if the thread has none yet.
func (m *Manager) spaceFor(threadID int) *LogSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.spaces[threadID]; ok {
		return s
	}
	offset, _ := m.ring.Allocate(spaceSize)
	s := NewLogSpace(offset, offset+spaceSize)
	m.spaces[threadID] = &s
	return &s
}

// Append writes tuple into threadID's active log space, rotating to a
// fresh space from the ring if the current one has no room.
func (m *Manager) Append(threadID int, tuple LogTuple) (offset uint64, err error) {
	space := m.spaceFor(threadID)
	buf := m.ring.Range()
	offset, err = space.Append(buf, tuple)
	if err == nil {
		return offset, nil
	}

	m.mu.Lock()
	newOffset, _ := m.ring.Allocate(spaceSize)
	fresh := NewLogSpace(newOffset, newOffset+spaceSize)
	m.spaces[threadID] = &fresh
	m.mu.Unlock()

	offset, err = fresh.Append(buf, tuple)
	if err != nil {
		return 0, fmt.Errorf("logstore: tuple larger than a log space (%d bytes): %w", tuple.EncodedSize(), err)
	}
	return offset, nil
}

// ReadAt decodes the LogTuple starting at offset in the backing extent.
func (m *Manager) ReadAt(offset uint64) (LogTuple, int, error) {
	buf := m.ring.Range()
	if offset >= uint64(len(buf)) {
		return LogTuple{}, 0, fmt.Errorf("logstore: offset %d out of range", offset)
	}
	return Decode(buf[offset:])
}

// Close releases the backing extent.
func (m *Manager) Close() error { return m.ring.Close() }
