package record

import "sync"

// CourierHeader is the virtual header Courier attaches to a record: just
// a read/write lock, held for the transaction's lifetime like TPL's, but
// whose presence in the header exists mainly to give the record a stable
// identity (its address) for ThreadBuffer's deferred-persist event map.
// Grounded on spec.md §3's "a virtual header keyed by record address,
// used by the deferred-persist map".
type CourierHeader struct {
	mu sync.RWMutex
}

// LockWrite blocks until the exclusive lock is held.
func (h *CourierHeader) LockWrite() { h.mu.Lock() }

// TryLockWrite attempts to acquire the exclusive lock without blocking.
func (h *CourierHeader) TryLockWrite() bool { return h.mu.TryLock() }

// UnlockWrite releases the exclusive lock.
func (h *CourierHeader) UnlockWrite() { h.mu.Unlock() }

// LockRead blocks until a shared lock is held.
func (h *CourierHeader) LockRead() { h.mu.RLock() }

// TryLockRead attempts to acquire a shared lock without blocking.
func (h *CourierHeader) TryLockRead() bool { return h.mu.TryRLock() }

// UnlockRead releases a shared lock.
func (h *CourierHeader) UnlockRead() { h.mu.RUnlock() }
