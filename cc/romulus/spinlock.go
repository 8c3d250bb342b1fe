package romulus

import (
	"runtime"
	"sync/atomic"
)

// clPad is the number of uint64 slots between two threads' arrival-array
// entries, enough to keep them on separate cache lines and avoid false
// sharing between readers arriving/departing concurrently.
const clPad = 128 / 8

const (
	notReading uint64 = 0
	reading    uint64 = 1
)

// spinLock is a ticket-free exclusive lock: writers CAS 0->2 to acquire,
// readers only ever check is_locked. Grounded directly on the original's
// CRWWPSpinLock::SpinLock; the 128-byte alignment is simulated with
// clPad-sized striding on the caller's arrival array rather than a
// language-level alignas, since Go has no portable equivalent.
type spinLock struct {
	writers atomic.Int32
}

func (s *spinLock) isLocked() bool { return s.writers.Load() != 0 }

func (s *spinLock) tryLock() bool {
	return s.writers.CompareAndSwap(0, 2)
}

func (s *spinLock) lock() {
	for !s.tryLock() {
		runtime.Gosched()
	}
}

func (s *spinLock) unlock() {
	s.writers.Store(0)
}

// readerArrivals is the per-thread arrival array CRWWPSpinLock uses to
// let readers announce presence without taking the writer's lock.
// Grounded on the original's RIStaticPerThread; Go has no thread-local
// tid, so callers pass their own worker index explicitly instead of the
// original's thread::get_max_tid()-sized global table.
type readerArrivals struct {
	states []atomic.Uint64 // len == maxThreads*clPad
}

func newReaderArrivals(maxThreads int) *readerArrivals {
	return &readerArrivals{states: make([]atomic.Uint64, maxThreads*clPad)}
}

func (r *readerArrivals) arrive(tid int)  { r.states[tid*clPad].Store(reading) }
func (r *readerArrivals) depart(tid int)  { r.states[tid*clPad].Store(notReading) }
func (r *readerArrivals) isEmpty() bool {
	for i := 0; i < len(r.states); i += clPad {
		if r.states[i].Load() != notReading {
			return false
		}
	}
	return true
}

// CRWWPSpinLock is a single global lock serialising Romulus's commit
// phase: many readers proceed concurrently via the arrival array, while a
// writer excludes new readers immediately and then waits for any already
// in flight to depart before mutating main. Grounded on the original's
// cc::romulus::CRWWPSpinLock.
type CRWWPSpinLock struct {
	sp *spinLock
	ri *readerArrivals
}

// NewCRWWPSpinLock returns a lock sized for up to maxThreads concurrent
// reader arrivals.
func NewCRWWPSpinLock(maxThreads int) *CRWWPSpinLock {
	return &CRWWPSpinLock{sp: &spinLock{}, ri: newReaderArrivals(maxThreads)}
}

// ExclusiveLock blocks until the writer's lock is held and every
// in-flight reader has departed.
func (l *CRWWPSpinLock) ExclusiveLock() {
	l.sp.lock()
	for !l.ri.isEmpty() {
		runtime.Gosched()
	}
}

// TryExclusiveLock attempts to acquire the writer's lock without waiting
// for readers to drain.
func (l *CRWWPSpinLock) TryExclusiveLock() bool { return l.sp.tryLock() }

// ExclusiveUnlock releases the writer's lock.
func (l *CRWWPSpinLock) ExclusiveUnlock() { l.sp.unlock() }

// SharedLock registers tid as an in-flight reader, retrying the
// arrive/check/depart dance if a writer raced in between.
func (l *CRWWPSpinLock) SharedLock(tid int) {
	for {
		l.ri.arrive(tid)
		if !l.sp.isLocked() {
			return
		}
		l.ri.depart(tid)
		for l.sp.isLocked() {
			runtime.Gosched()
		}
	}
}

// SharedUnlock departs tid as a reader.
func (l *CRWWPSpinLock) SharedUnlock(tid int) { l.ri.depart(tid) }

// WaitForReaders spins until every reader has departed.
func (l *CRWWPSpinLock) WaitForReaders() {
	for !l.ri.isEmpty() {
		runtime.Gosched()
	}
}
