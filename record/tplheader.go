package record

import (
	"sync"
	"sync/atomic"
)

// TPLHeader is the control block Two-Phase Locking attaches to a record:
// a single read/write lock, held for the transaction's entire lifetime
// once acquired and released only at commit/abort. Grounded on the
// original's thread::RWLock-based cc::tpl::DataTupleHeader; Go's
// sync.RWMutex already provides the same shared/exclusive semantics, so no
// custom spinlock is needed here (unlike Romulus's CRWWP, which needs
// reader-registration the standard RWMutex doesn't expose).
type TPLHeader struct {
	mu          sync.RWMutex
	writeLocked atomic.Bool
}

// LockWrite blocks until the exclusive lock is held.
func (h *TPLHeader) LockWrite() {
	h.mu.Lock()
	h.writeLocked.Store(true)
}

// TryLockWrite attempts to acquire the exclusive lock without blocking.
func (h *TPLHeader) TryLockWrite() bool {
	if h.mu.TryLock() {
		h.writeLocked.Store(true)
		return true
	}
	return false
}

// UnlockWrite releases the exclusive lock.
func (h *TPLHeader) UnlockWrite() {
	h.writeLocked.Store(false)
	h.mu.Unlock()
}

// IsLockedWrite reports whether the exclusive lock currently appears
// held. Advisory only: the result can be stale the instant it is read, so
// callers use it to skip an obviously-futile try_lock, never as a
// correctness check.
func (h *TPLHeader) IsLockedWrite() bool { return h.writeLocked.Load() }

// LockRead blocks until a shared lock is held.
func (h *TPLHeader) LockRead() { h.mu.RLock() }

// TryLockRead attempts to acquire a shared lock without blocking.
func (h *TPLHeader) TryLockRead() bool { return h.mu.TryRLock() }

// UnlockRead releases a shared lock.
func (h *TPLHeader) UnlockRead() { h.mu.RUnlock() }
