// Package occnuma implements Optimistic Concurrency Control with
// NUMA-aware versioning: readers never lock, they snapshot a record's
// write-timestamp around the payload copy and let commit-time validation
// reject any transaction whose snapshot turned out stale. Grounded on
// spec.md §4.2.2 and the original's concurrent_control/include/occ_numa
// headers (record.OCCNUMAHeader's atomic wts + shared_mutex pairing).
package occnuma

import (
	"fmt"
	"sync"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/index"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/record"
	"github.com/sharedcode/ccbench/storage"
	"github.com/sharedcode/ccbench/txctx"
)

type tuple = record.IndexTuple[record.OCCNUMAHeader]

// pendingWrite is a staged update/delete/insert payload, installed only
// once Commit's validation phase passes (insert is already installed by
// the time it is staged — see Insert — so it carries no data and exists
// only so Commit's log phase can tag it LabelInsert).
type pendingWrite struct {
	data   []byte // nil for a pending delete or a staged insert
	delete bool
	insert bool
}

// txState is the per-transaction bookkeeping OCC-NUMA needs that doesn't
// fit TxContext's protocol-agnostic shape: the wts snapshot taken at each
// read, and staged writes awaiting validation.
type txState struct {
	readWts map[ccbench.AbKey]uint64
	writes  map[ccbench.AbKey]pendingWrite
}

// Protocol is the OCC-NUMA CC implementation.
type Protocol struct {
	idx   index.Index[ccbench.AbKey, *tuple]
	bodys *storage.ScatteredAllocator
	log   *logstore.Manager

	// mu guards states: a single Protocol instance is shared across
	// worker goroutines, each driving a different *txctx.TxContext, so
	// the map itself needs protection from concurrent read/write even
	// though each txState's fields are only ever touched by the one
	// goroutine that owns its transaction.
	mu     sync.Mutex
	states map[*txctx.TxContext]*txState
}

// New constructs an empty OCC-NUMA protocol instance.
func New(bodys *storage.ScatteredAllocator, log *logstore.Manager) *Protocol {
	return &Protocol{
		idx:    index.NewHashMap[ccbench.AbKey, *tuple](),
		bodys:  bodys,
		log:    log,
		states: make(map[*txctx.TxContext]*txState),
	}
}

func (p *Protocol) stateFor(tx *txctx.TxContext) *txState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[tx]
	if !ok {
		s = &txState{readWts: make(map[ccbench.AbKey]uint64), writes: make(map[ccbench.AbKey]pendingWrite)}
		p.states[tx] = s
	}
	return s
}

// Read snapshots wts, copies the payload, then re-checks wts: if a
// concurrent writer installed a new version mid-copy the read is torn and
// the transaction aborts immediately rather than risk validating a
// corrupt value later.
func (p *Protocol) Read(tx *txctx.TxContext, key ccbench.AbKey, out []byte) (bool, error) {
	s := p.stateFor(tx)
	if w, staged := s.writes[key]; staged && !w.insert {
		if w.delete {
			return false, nil
		}
		copy(out, w.data)
		return true, nil
	}

	it, ok := p.idx.Read(key)
	if !ok {
		return false, nil
	}
	before := it.Header.Wts()
	copy(out, p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)])
	after := it.Header.Wts()
	if before != after {
		tx.Abort()
		return false, nil
	}
	s.readWts[key] = before
	tx.RecordRead(key)
	return true, nil
}

// Update stages newData without touching the record; the header lock is
// only taken during Commit's install phase.
func (p *Protocol) Update(tx *txctx.TxContext, key ccbench.AbKey, newData []byte) (bool, error) {
	if !p.idx.Contain(key) {
		return false, nil
	}
	p.stateFor(tx).writes[key] = pendingWrite{data: append([]byte(nil), newData...)}
	tx.RecordWrite(key)
	return true, nil
}

// Insert allocates and publishes the new record immediately: a key that
// does not yet exist has no concurrent readers to invalidate, so there is
// nothing to defer to commit except staging the log tuple Commit emits.
func (p *Protocol) Insert(tx *txctx.TxContext, key ccbench.AbKey, data []byte) (bool, error) {
	if p.idx.Contain(key) {
		return false, nil
	}
	off, block, ok := p.bodys.Allocate(uint64(len(data)))
	if !ok {
		return false, fmt.Errorf("occnuma: insert %v: %w", key, ccbench.Error{Code: ccbench.AllocatorExhausted})
	}
	copy(block, data)
	it := record.NewIndexTuple(key.TypeTag, uint32(len(data)), record.NewOCCNUMAHeader(0), off)
	if !p.idx.Insert(key, &it) {
		return false, nil
	}
	p.stateFor(tx).writes[key] = pendingWrite{insert: true}
	tx.RecordWrite(key)
	return true, nil
}

// Delete stages a pending delete, applied at Commit after validation.
func (p *Protocol) Delete(tx *txctx.TxContext, key ccbench.AbKey) (bool, error) {
	if !p.idx.Contain(key) {
		return false, nil
	}
	p.stateFor(tx).writes[key] = pendingWrite{delete: true}
	tx.RecordWrite(key)
	return true, nil
}

// Scan degenerates to a single-key lookup: HashMap indexes expose no
// ordered iteration, matching spec.md's note that range scans are a
// BPTreeIndex-only capability.
func (p *Protocol) Scan(tx *txctx.TxContext, key ccbench.AbKey, n int, out [][]byte) (int, error) {
	ok, err := p.Read(tx, key, out[0])
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// Commit re-validates every read's wts, then installs staged writes under
// each record's exclusive lock, bumping wts monotonically before logging
// a Commit record.
func (p *Protocol) Commit(tx *txctx.TxContext) (bool, error) {
	s := p.stateFor(tx)
	p.mu.Lock()
	delete(p.states, tx)
	p.mu.Unlock()

	if tx.Aborted {
		return false, p.abortLocked(s)
	}
	if tx.Status != txctx.NeedWrite {
		return true, nil
	}

	// Validation phase: every read must still reflect the version it was
	// taken against.
	for key, wts := range s.readWts {
		it, ok := p.idx.Read(key)
		if !ok || it.Header.Wts() != wts {
			return false, nil
		}
	}

	// Write phase: install staged writes under each record's exclusive
	// lock, in no fixed order (s.writes is a map), bumping wts to
	// invalidate concurrent optimistic readers.
	for key, w := range s.writes {
		it, ok := p.idx.Read(key)
		if !ok {
			continue
		}
		if w.insert {
			// Already installed by Insert under no contention; only the
			// log tuple is still owed.
			extra := append([]byte(nil), p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)]...)
			if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelInsert, Key: key, Size: it.DataSize, Offset: uint32(it.BodyRef), ExtraInfo: extra}); err != nil {
				return false, err
			}
			continue
		}
		it.Header.LockWrite()
		if w.delete {
			p.idx.Remove(key)
			it.Header.UnlockWrite()
			if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelDelete, Key: key}); err != nil {
				return false, err
			}
			continue
		}
		copy(p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)], w.data)
		old := it.Header.Wts()
		for !it.Header.CompareAndSwapWts(old, old+1) {
			old = it.Header.Wts()
		}
		it.Header.UnlockWrite()
		extra := append([]byte(nil), p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)]...)
		if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelUpdate, Key: key, Size: it.DataSize, Offset: uint32(it.BodyRef), ExtraInfo: extra}); err != nil {
			return false, err
		}
	}

	if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelCommit}); err != nil {
		return false, err
	}
	return true, nil
}

// Abort discards every staged write without touching the index; reads
// never took a lock so there is nothing to release beyond local state.
func (p *Protocol) Abort(tx *txctx.TxContext) error {
	s := p.stateFor(tx)
	p.mu.Lock()
	delete(p.states, tx)
	p.mu.Unlock()
	return p.abortLocked(s)
}

func (p *Protocol) abortLocked(s *txState) error {
	s.writes = make(map[ccbench.AbKey]pendingWrite)
	s.readWts = make(map[ccbench.AbKey]uint64)
	return nil
}

// Recover replays entries (decoded in log order) against the in-memory
// index, the same consistency check tpl.Protocol.Recover performs: OCC-NUMA
// also installs writes under the record's exclusive lock before logging
// them, so there is nothing left to redo, only to validate. A trailing run
// with no terminating Commit belongs to a transaction that never
// validated and is discarded.
func (p *Protocol) Recover(entries []logstore.LogTuple) (int, error) {
	recovered := 0
	var staged []logstore.LogTuple
	for _, e := range entries {
		if e.Label != logstore.LabelCommit {
			staged = append(staged, e)
			continue
		}
		for _, s := range staged {
			switch s.Label {
			case logstore.LabelInsert, logstore.LabelUpdate:
				if !p.idx.Contain(s.Key) {
					return recovered, fmt.Errorf("occnuma: recover: committed key %v missing from index", s.Key)
				}
			case logstore.LabelDelete:
				if p.idx.Contain(s.Key) {
					return recovered, fmt.Errorf("occnuma: recover: committed delete of %v still present", s.Key)
				}
			}
			recovered++
		}
		staged = staged[:0]
	}
	return recovered, nil
}
