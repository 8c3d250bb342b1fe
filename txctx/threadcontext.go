// Package txctx implements the per-thread and per-transaction scratch
// state the CC protocols (chiefly Courier) use to stage writes before
// persisting them: DelayUpdateEvent coalescing, ThreadBuffer/ThreadContext,
// and TxContext's read/write-set bookkeeping.
package txctx

import (
	"math/rand"

	"github.com/sharedcode/ccbench/logstore"
)

// ThreadContext is created once per worker thread (at worker start) and
// destroyed at worker exit: a ThreadBuffer, a randomly chosen page index
// used for NUMA/stripe selection, and an optional currently-reserved
// LogSpace the worker is actively writing into. cc/courier stages its
// writes in a per-transaction ThreadBuffer of its own, not in this one.
// Grounded on the original's thread_local ThreadContext
// (thread_buffer_ptr + page_idx + log_space).
type ThreadContext struct {
	Buffer   *ThreadBuffer
	PageIdx  uint64
	LogSpace *logstore.LogSpace
}

// NewThreadContext creates a ThreadContext with a fresh, empty
// ThreadBuffer and a page index drawn from rng. A nil rng uses a source
// seeded with 1, so every context built that way gets the same page index.
func NewThreadContext(rng *rand.Rand) *ThreadContext {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &ThreadContext{
		Buffer:  NewThreadBuffer(),
		PageIdx: rng.Uint64(),
	}
}
