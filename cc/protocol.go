// Package cc defines the shared Protocol contract every concurrent
// control variant (tpl, occnuma, romulus, courier) implements, and the
// Executor façade that binds one to a transaction. Grounded on the
// teacher's common.Transaction (Begin/Phase1Commit/Phase2Commit/Rollback,
// guarded by a phaseDone state field) for the lifecycle shape; the four
// concrete protocols live in their own sub-packages since each attaches a
// differently-shaped DataTupleHeader to its records.
package cc

import (
	"fmt"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/txctx"
)

// Protocol is the state machine every CC variant implements against a raw
// AbKey/byte-slice surface; record.* header types and index.Index
// instantiations are internal to each implementation.
type Protocol interface {
	// Read copies the record's full payload into out, returning false if
	// key is absent or the protocol aborts the read (OCC-NUMA validation,
	// a failed try_lock, ...).
	Read(tx *txctx.TxContext, key ccbench.AbKey, out []byte) (bool, error)
	// Update buffers or installs newData under the protocol's rules.
	Update(tx *txctx.TxContext, key ccbench.AbKey, newData []byte) (bool, error)
	// Insert succeeds only if key is not already present.
	Insert(tx *txctx.TxContext, key ccbench.AbKey, data []byte) (bool, error)
	// Delete removes key, deferred to commit time for some protocols.
	Delete(tx *txctx.TxContext, key ccbench.AbKey) (bool, error)
	// Scan copies up to n consecutive keys' payloads starting at key into
	// out, returning the number copied.
	Scan(tx *txctx.TxContext, key ccbench.AbKey, n int, out [][]byte) (int, error)
	// Commit validates, flushes the log, publishes writes. false means a
	// conflict was detected and the caller must Abort then retry.
	Commit(tx *txctx.TxContext) (bool, error)
	// Abort discards a transaction's writes and releases any held locks.
	Abort(tx *txctx.TxContext) error
	// Recover replays a decoded tail of the write-ahead log, reconciling
	// whatever a crash between a staged write and its Commit tuple could
	// have left unresolved, and returns the number of entries it
	// reconciled. A trailing run with no terminating Commit belongs to a
	// transaction that never reached durability and is discarded rather
	// than replayed. This is the stubbed, testable hook spec.md's expanded
	// scope names in place of the original's recovery/recovery.h
	// RecoveryManager dispatch (NoReserve/Reserve) — not a full
	// crash-recovery implementation, which assumes PMEM-resident state
	// this benchmark harness's in-process index does not model.
	Recover(entries []logstore.LogTuple) (int, error)
}

// Executor is a thin façade binding one Protocol instance to one
// in-flight transaction's TxContext. Every operation after a false return
// leaves the Executor in a state where Abort is the only legal next call
// besides Reset, matching the original's phaseDone guard.
type Executor struct {
	protocol Protocol
	tx       *txctx.TxContext
	done     bool
}

// NewExecutor binds protocol to a freshly-begun transaction.
func NewExecutor(protocol Protocol) *Executor {
	return &Executor{protocol: protocol, tx: txctx.NewTxContext()}
}

// Begin is a no-op beyond the implicit construction-time TxContext;
// exposed so callers mirror the original's explicit begin/clean_up
// lifecycle even though Go's constructor already did the work.
func (e *Executor) Begin() {}

func (e *Executor) checkNotDone() error {
	if e.done {
		return fmt.Errorf("cc: executor already committed or aborted; call Reset first")
	}
	return nil
}

// Read implements the Executor contract.
func (e *Executor) Read(key ccbench.AbKey, out []byte) (bool, error) {
	if err := e.checkNotDone(); err != nil {
		return false, err
	}
	return e.protocol.Read(e.tx, key, out)
}

// Update implements the Executor contract.
func (e *Executor) Update(key ccbench.AbKey, newData []byte) (bool, error) {
	if err := e.checkNotDone(); err != nil {
		return false, err
	}
	return e.protocol.Update(e.tx, key, newData)
}

// Insert implements the Executor contract.
func (e *Executor) Insert(key ccbench.AbKey, data []byte) (bool, error) {
	if err := e.checkNotDone(); err != nil {
		return false, err
	}
	return e.protocol.Insert(e.tx, key, data)
}

// Delete implements the Executor contract.
func (e *Executor) Delete(key ccbench.AbKey) (bool, error) {
	if err := e.checkNotDone(); err != nil {
		return false, err
	}
	return e.protocol.Delete(e.tx, key)
}

// Scan implements the Executor contract.
func (e *Executor) Scan(key ccbench.AbKey, n int, out [][]byte) (int, error) {
	if err := e.checkNotDone(); err != nil {
		return 0, err
	}
	return e.protocol.Scan(e.tx, key, n, out)
}

// Commit implements the Executor contract.
func (e *Executor) Commit() (bool, error) {
	if err := e.checkNotDone(); err != nil {
		return false, err
	}
	ok, err := e.protocol.Commit(e.tx)
	if err == nil {
		e.done = true
	}
	return ok, err
}

// Abort implements the Executor contract.
func (e *Executor) Abort() error {
	if err := e.protocol.Abort(e.tx); err != nil {
		return err
	}
	e.done = true
	return nil
}

// Reset reinitializes the Executor's TxContext for another attempt,
// reusing its backing slices.
func (e *Executor) Reset() {
	e.tx.Reset()
	e.done = false
}

// TxContext exposes the bound transaction's scratch state, for callers
// (the scheduler) that need to inspect read/write sets across retries.
func (e *Executor) TxContext() *txctx.TxContext { return e.tx }

// Recover runs the bound Protocol's log-replay recovery hook; it is
// independent of any in-flight transaction and may be called on a fresh
// Executor before any operation.
func (e *Executor) Recover(entries []logstore.LogTuple) (int, error) {
	return e.protocol.Recover(entries)
}
