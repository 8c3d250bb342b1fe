package record

import (
	"sync"
	"sync/atomic"
)

// OCCNUMAHeader is the control block Optimistic Concurrency Control with
// NUMA-aware versioning attaches to a record: an atomically-updated write
// timestamp used at validation time, plus a read/write lock held only
// briefly during the install phase of a commit (not for the whole
// transaction, unlike TPL). Grounded on the original's
// cc::occ_numa::DataTupleHeader (std::atomic<uint64_t> wts_ +
// std::shared_mutex).
type OCCNUMAHeader struct {
	wts atomic.Uint64
	mu  sync.RWMutex
}

// NewOCCNUMAHeader returns a header with write timestamp wts.
func NewOCCNUMAHeader(wts uint64) *OCCNUMAHeader {
	h := &OCCNUMAHeader{}
	h.wts.Store(wts)
	return h
}

// Wts returns the current write timestamp.
func (h *OCCNUMAHeader) Wts() uint64 { return h.wts.Load() }

// CompareAndSwapWts atomically updates the write timestamp from old to
// new, reporting false (wts unchanged) if the current value is not old.
// cc/occnuma's install phase calls it under the exclusive lock to bump
// wts, retrying until it succeeds.
func (h *OCCNUMAHeader) CompareAndSwapWts(old, new uint64) bool {
	return h.wts.CompareAndSwap(old, new)
}

// LockWrite blocks until the exclusive install-phase lock is held.
func (h *OCCNUMAHeader) LockWrite() { h.mu.Lock() }

// TryLockWrite attempts to acquire the exclusive lock without blocking.
func (h *OCCNUMAHeader) TryLockWrite() bool { return h.mu.TryLock() }

// UnlockWrite releases the exclusive lock.
func (h *OCCNUMAHeader) UnlockWrite() { h.mu.Unlock() }

// LockRead blocks until a shared lock is held.
func (h *OCCNUMAHeader) LockRead() { h.mu.RLock() }

// TryLockRead attempts to acquire a shared lock without blocking.
func (h *OCCNUMAHeader) TryLockRead() bool { return h.mu.TryRLock() }

// UnlockRead releases a shared lock.
func (h *OCCNUMAHeader) UnlockRead() { h.mu.RUnlock() }
