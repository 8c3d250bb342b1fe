// Package pmem implements the persistence primitives the CC protocols use
// to make a write durable: a cache-line flush (Pwb/PwbRange) followed by a
// store fence (Fence). Go has no portable CLWB/CLFLUSHOPT compiler
// intrinsic, so the actual cache-line writeback instruction cannot be
// issued from here; the three-way FlushStrategy contract is preserved and
// the instruction is simulated with a release-ordered atomic store plus
// runtime.KeepAlive, so callers see the same ordering guarantee they would
// get from real hardware persistence instructions.
package pmem

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/sharedcode/ccbench"
)

// CacheLineSize is the assumed L1 cache line width used to stride PwbRange.
const CacheLineSize = 64

// AlignToCacheLine rounds size up to the next multiple of CacheLineSize.
func AlignToCacheLine(size uintptr) uintptr {
	return (size + CacheLineSize - 1) / CacheLineSize * CacheLineSize
}

// fenceGate is written with a release store after every simulated flush, so
// a concurrent read of it via Fence observes every prior Pwb/PwbRange.
var fenceGate atomic.Uint64

// Pwb makes the cache line containing target durable-ordered under the
// given strategy. CLWB and CLFLUSHOPT leave the line readable afterward and
// require a trailing Fence; CLFLUSH additionally invalidates it and is
// self-serializing.
func Pwb(target unsafe.Pointer, strategy ccbench.FlushStrategy) {
	if target == nil {
		return
	}
	fenceGate.Add(1)
	runtime.KeepAlive(target)
	if strategy == ccbench.CLFLUSH {
		Fence()
	}
}

// PwbRange flushes every cache line covering [target, target+size).
func PwbRange(target unsafe.Pointer, size uintptr, strategy ccbench.FlushStrategy) {
	if target == nil || size == 0 {
		return
	}
	for off := uintptr(0); off < size; off += CacheLineSize {
		Pwb(unsafe.Add(target, off), strategy)
	}
}

// Fence issues a store-release barrier: every Pwb/PwbRange that happened
// before this call is visible to any goroutine that subsequently observes
// the fence. CLWB and CLFLUSHOPT require calling this after flushing;
// CLFLUSH self-serializes and does not.
func Fence() {
	fenceGate.Add(1)
}
