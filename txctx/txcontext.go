package txctx

import "github.com/sharedcode/ccbench"

// Status is a transaction's commit-readiness state: whether it needs to
// write anything at all, or can commit as a no-op. Grounded on the
// teacher's itemActionTracker action-outcome table, generalized from its
// per-item ForAdd/ForUpdate/ForRemove/Get states down to the single
// transaction-wide signal spec.md's TxContext specifies.
type Status int

const (
	// Pass means the transaction touched nothing and can commit trivially.
	Pass Status = iota
	// NeedWrite means the transaction has staged writes that must be
	// installed/persisted at commit.
	NeedWrite
)

// TxContext is an Executor's per-transaction scratch space: created on
// begin, freed on clean_up after commit/abort/reset. It carries the
// read and write sets plus the Aborted flag each protocol's Commit
// checks.
type TxContext struct {
	Status Status

	// ReadSet and WriteSet record every AbKey this transaction touched,
	// in touch order. cc/tpl and cc/courier walk WriteSet at Commit to log
	// each written key; cc/occnuma and cc/romulus keep their own per-key
	// state instead.
	ReadSet  []ccbench.AbKey
	WriteSet []ccbench.AbKey

	// Aborted is set by any operation that determines the transaction
	// cannot commit (e.g. a failed try_lock or a validation mismatch).
	Aborted bool
}

// NewTxContext returns a fresh, empty TxContext.
func NewTxContext() *TxContext {
	return &TxContext{Status: Pass}
}

// RecordRead appends key to the read set; Status is left unchanged (Pass
// until a write occurs).
func (tx *TxContext) RecordRead(key ccbench.AbKey) {
	tx.ReadSet = append(tx.ReadSet, key)
}

// RecordWrite appends key to the write set and flips Status to NeedWrite.
func (tx *TxContext) RecordWrite(key ccbench.AbKey) {
	tx.WriteSet = append(tx.WriteSet, key)
	tx.Status = NeedWrite
}

// Abort marks the transaction as unable to commit. Each protocol's Commit
// checks this before attempting the commit protocol.
func (tx *TxContext) Abort() { tx.Aborted = true }

// Reset clears a TxContext for reuse across a retry, without
// reallocating its backing slices.
func (tx *TxContext) Reset() {
	tx.Status = Pass
	tx.ReadSet = tx.ReadSet[:0]
	tx.WriteSet = tx.WriteSet[:0]
	tx.Aborted = false
}
