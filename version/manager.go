// Package version implements fixed-size version header allocation:
// allocate a header-sized slot from DRAM or PMEM and release it once no
// reader can still be looking at it. None of the cc protocols allocate
// from it.
package version

import (
	"fmt"
	"sync"

	"github.com/sharedcode/ccbench/storage"
)

// Ref identifies an allocated version header as an offset into the
// manager's backing extent.
type Ref uint64

// Manager allocates and releases fixed-size version header slots.
// Grounded on spec.md's allocate_version/deallocate_version contract and
// the original's DRAMVersionManager/PMEMVersionManager split (both just
// parameterize the same allocation scheme by backing medium, so one Go
// type serves both by taking whichever storage directory the host
// configures).
type Manager struct {
	scattered  *storage.ScatteredAllocator
	headerSize uint64

	mu   sync.Mutex
	free []Ref // freed slots available for reuse
}

// NewManager opens a manager with room for roughly expectedAmount headers
// of headerSize bytes under dir (a DRAM path such as /dev/shm/... or a
// PMEM mount, depending on which the host configured).
func NewManager(dir string, headerSize, expectedAmount uint64) (*Manager, error) {
	extent := headerSize * expectedAmount
	const floor = 16 << 20 // 16 MiB
	if extent < floor {
		extent = floor
	}
	sc, err := storage.NewScatteredAllocator(dir, extent)
	if err != nil {
		return nil, err
	}
	return &Manager{scattered: sc, headerSize: headerSize}, nil
}

// AllocateVersion reserves a version header slot, preferring a
// previously-deallocated one over extending the extent.
func (m *Manager) AllocateVersion() (Ref, []byte, error) {
	m.mu.Lock()
	if n := len(m.free); n > 0 {
		ref := m.free[n-1]
		m.free = m.free[:n-1]
		m.mu.Unlock()
		return ref, m.slotAt(ref), nil
	}
	m.mu.Unlock()
	offset, block, ok := m.scattered.Allocate(m.headerSize)
	if !ok {
		return 0, nil, fmt.Errorf("version: extent exhausted")
	}
	return Ref(offset), block, nil
}

// DeallocateVersion returns ref's slot to the free list for reuse. It
// reports false if ref does not look like a slot this manager handed out.
func (m *Manager) DeallocateVersion(ref Ref) bool {
	if uint64(ref)%m.headerSize != 0 || uint64(ref) >= uint64(len(m.scattered.Range())) {
		return false
	}
	m.mu.Lock()
	m.free = append(m.free, ref)
	m.mu.Unlock()
	return true
}

// slotAt returns the header-sized window at ref.
func (m *Manager) slotAt(ref Ref) []byte {
	return m.scattered.Range()[uint64(ref) : uint64(ref)+m.headerSize]
}

// At returns the bytes backing ref, for reads of an already-allocated slot.
func (m *Manager) At(ref Ref) []byte {
	return m.slotAt(ref)
}

// Close releases the backing extent.
func (m *Manager) Close() error { return m.scattered.Close() }
