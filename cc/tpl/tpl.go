// Package tpl implements Two-Phase Locking: acquire every lock a
// transaction needs (shared for reads, exclusive for writes) and hold
// them all until commit, then release in one phase. Grounded on
// spec.md §4.2.1 and the original's concurrent_control/include/tpl
// headers; the growing-phase/shrinking-phase split is simulated by never
// releasing a lock early, matching strict two-phase locking rather than
// the relaxed variant.
package tpl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/cache"
	"github.com/sharedcode/ccbench/index"
	"github.com/sharedcode/ccbench/lock"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/pmem"
	"github.com/sharedcode/ccbench/record"
	"github.com/sharedcode/ccbench/storage"
	"github.com/sharedcode/ccbench/txctx"
)

type tuple = record.IndexTuple[record.TPLHeader]

// hotCacheCapacity bounds the lookaside cache's size; it is a fraction of
// any realistic workload's key space, so it only ever holds the records
// under active contention.
const hotCacheCapacity = 4096

// Protocol is the Two-Phase Locking CC implementation: an Index of
// AbKey->IndexTuple[TPLHeader], a body allocator, and a log manager every
// committed write is recorded to before its locks are released.
type Protocol struct {
	idx   index.Index[ccbench.AbKey, *tuple]
	bodys *storage.ScatteredAllocator
	log   *logstore.Manager

	// hot is a lookaside in front of idx: a cheap check before the Index
	// lookup for whichever keys were resolved most recently, never a
	// source of truth on its own (a miss always falls through to idx, and
	// the two are kept in lockstep by resolveLocked/idx.Remove).
	hot *cache.Cache[ccbench.AbKey, *tuple]

	// mu guards every per-transaction bookkeeping map below: a single
	// Protocol instance is shared across worker goroutines, each driving a
	// different *txctx.TxContext, so the maps themselves (not the
	// txctx-owned state they key by) need protection from concurrent
	// read/write.
	mu sync.Mutex

	// heldLocks tracks, per transaction, the keys this Executor currently
	// holds a lock for and whether it is the write lock, in acquisition
	// order, so Abort/Commit release in reverse acquisition order — the
	// strict two-phase rule.
	heldLocks map[*txctx.TxContext][]lockEntry

	// pendingDeletes tracks, per transaction, the keys Delete has
	// exclusively locked for removal, applied against idx only once
	// Commit confirms the transaction is durable.
	pendingDeletes map[*txctx.TxContext]map[ccbench.AbKey]bool

	// pendingInserts tracks, per transaction, the keys Insert staged this
	// transaction (a fresh key, or a reinsert over this same transaction's
	// own pending delete), so Commit can tag their log tuple LabelInsert
	// instead of LabelUpdate.
	pendingInserts map[*txctx.TxContext]map[ccbench.AbKey]bool

	// locker and lease are set only in distributed mode (NewDistributed):
	// a Redis-backed cross-process exclusion on top of the in-process
	// header lock above, for deployments where workers are separate OS
	// processes rather than goroutines of one, sharing no memory to hold
	// a *record.TPLHeader in.
	locker       *lock.Locker
	lease        time.Duration
	crossProcess map[*txctx.TxContext][]*lock.LockKey
}

type lockEntry struct {
	key       ccbench.AbKey
	header    *record.TPLHeader
	exclusive bool
}

// New constructs an empty TPL protocol instance.
func New(bodys *storage.ScatteredAllocator, log *logstore.Manager) *Protocol {
	return &Protocol{
		idx:            index.NewHashMap[ccbench.AbKey, *tuple](),
		bodys:          bodys,
		log:            log,
		hot:            cache.New[ccbench.AbKey, *tuple](hotCacheCapacity),
		heldLocks:      make(map[*txctx.TxContext][]lockEntry),
		pendingDeletes: make(map[*txctx.TxContext]map[ccbench.AbKey]bool),
		pendingInserts: make(map[*txctx.TxContext]map[ccbench.AbKey]bool),
	}
}

// NewDistributed builds a TPL protocol that additionally serializes
// Insert and Delete against locker's Redis backend, each hold expiring
// after lease if this process dies before releasing it — the mode a
// deployment running workers as separate OS processes needs, since those
// share no memory to hold a *record.TPLHeader in.
func NewDistributed(bodys *storage.ScatteredAllocator, log *logstore.Manager, locker *lock.Locker, lease time.Duration) *Protocol {
	p := New(bodys, log)
	p.locker = locker
	p.lease = lease
	p.crossProcess = make(map[*txctx.TxContext][]*lock.LockKey)
	return p
}

func (p *Protocol) track(tx *txctx.TxContext, key ccbench.AbKey, h *record.TPLHeader, exclusive bool) {
	p.mu.Lock()
	p.heldLocks[tx] = append(p.heldLocks[tx], lockEntry{key: key, header: h, exclusive: exclusive})
	p.mu.Unlock()
}

// resolveLocked looks key up through the hot cache, falling through to and
// repopulating from idx on a miss.
func (p *Protocol) resolveLocked(key ccbench.AbKey) (*tuple, bool) {
	if it, ok := p.hot.Get(key); ok {
		return it, true
	}
	it, ok := p.idx.Read(key)
	if ok {
		p.hot.Add(key, it)
	}
	return it, ok
}

// Read acquires (or reuses) a shared lock on key and copies its payload.
// Any lock this transaction already holds on key, shared or exclusive,
// is reused.
func (p *Protocol) Read(tx *txctx.TxContext, key ccbench.AbKey, out []byte) (bool, error) {
	it, ok := p.resolveLocked(key)
	if !ok {
		return false, nil
	}
	p.mu.Lock()
	held := false
	for _, e := range p.heldLocks[tx] {
		if e.key == key {
			held = true
			break
		}
	}
	p.mu.Unlock()
	if !held {
		if !it.Header.TryLockRead() {
			tx.Abort()
			return false, nil
		}
		p.track(tx, key, it.Header, false)
	}
	tx.RecordRead(key)
	copy(out, p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)])
	return true, nil
}

// Update acquires (or reuses) an exclusive lock on key and writes newData
// in place; the write is logged at Commit. A key this transaction holds
// only a shared lock on is not upgraded: the try-lock fails and the
// transaction aborts.
func (p *Protocol) Update(tx *txctx.TxContext, key ccbench.AbKey, newData []byte) (bool, error) {
	it, ok := p.resolveLocked(key)
	if !ok {
		return false, nil
	}
	p.mu.Lock()
	held := false
	for _, e := range p.heldLocks[tx] {
		if e.key == key && e.exclusive {
			held = true
			break
		}
	}
	p.mu.Unlock()
	if !held {
		if !it.Header.TryLockWrite() {
			tx.Abort()
			return false, nil
		}
		p.track(tx, key, it.Header, true)
	}
	tx.RecordWrite(key)
	copy(p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)], newData)
	return true, nil
}

// Insert allocates a new record body and index entry, exclusively locked
// for the remainder of the transaction. Reinserting a key this same
// transaction staged a Delete for earlier is legal: the key is still
// present in idx (Delete defers removal to Commit) and the exclusive lock
// is already held, so Insert reuses both instead of allocating a new
// record, and drops the staged delete.
func (p *Protocol) Insert(tx *txctx.TxContext, key ccbench.AbKey, data []byte) (bool, error) {
	p.mu.Lock()
	pendingDelete := p.pendingDeletes[tx][key]
	p.mu.Unlock()

	if pendingDelete {
		it, ok := p.resolveLocked(key)
		if !ok {
			return false, nil
		}
		copy(p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)], data)
		p.mu.Lock()
		delete(p.pendingDeletes[tx], key)
		p.markInsertedLocked(tx, key)
		p.mu.Unlock()
		tx.RecordWrite(key)
		return true, nil
	}

	if p.idx.Contain(key) {
		return false, nil
	}
	if p.locker != nil {
		ok, err := p.acquireCrossProcess(tx, key)
		if err != nil || !ok {
			return false, err
		}
	}
	off, block, ok := p.bodys.Allocate(uint64(len(data)))
	if !ok {
		return false, fmt.Errorf("tpl: insert %v: %w", key, ccbench.Error{Code: ccbench.AllocatorExhausted})
	}
	copy(block, data)
	header := &record.TPLHeader{}
	header.LockWrite()
	it := record.NewIndexTuple(key.TypeTag, uint32(len(data)), header, off)
	if !p.idx.Insert(key, &it) {
		header.UnlockWrite()
		return false, nil
	}
	p.hot.Add(key, &it)
	p.track(tx, key, header, true)
	p.mu.Lock()
	p.markInsertedLocked(tx, key)
	p.mu.Unlock()
	tx.RecordWrite(key)
	return true, nil
}

// markInsertedLocked records key as staged by Insert this transaction.
// Caller must hold p.mu.
func (p *Protocol) markInsertedLocked(tx *txctx.TxContext, key ccbench.AbKey) {
	if p.pendingInserts[tx] == nil {
		p.pendingInserts[tx] = make(map[ccbench.AbKey]bool)
	}
	p.pendingInserts[tx][key] = true
}

// Delete exclusively locks key for removal, applied against idx only once
// Commit confirms the transaction is durable.
func (p *Protocol) Delete(tx *txctx.TxContext, key ccbench.AbKey) (bool, error) {
	it, ok := p.resolveLocked(key)
	if !ok {
		return false, nil
	}
	if !it.Header.TryLockWrite() {
		tx.Abort()
		return false, nil
	}
	if p.locker != nil {
		ok, err := p.acquireCrossProcess(tx, key)
		if err != nil || !ok {
			it.Header.UnlockWrite()
			return false, err
		}
	}
	p.track(tx, key, it.Header, true)
	p.mu.Lock()
	if p.pendingDeletes[tx] == nil {
		p.pendingDeletes[tx] = make(map[ccbench.AbKey]bool)
	}
	p.pendingDeletes[tx][key] = true
	p.mu.Unlock()
	tx.RecordWrite(key)
	return true, nil
}

// acquireCrossProcess attempts the distributed lock for key, remembering
// it for release at Commit/Abort. A no-op if this Protocol was built with
// New rather than NewDistributed.
func (p *Protocol) acquireCrossProcess(tx *txctx.TxContext, key ccbench.AbKey) (bool, error) {
	lk := p.locker.CreateLockKeys(key.String())[0]
	ok, err := p.locker.Lock(context.Background(), p.lease, lk)
	if err != nil || !ok {
		return ok, err
	}
	p.mu.Lock()
	p.crossProcess[tx] = append(p.crossProcess[tx], lk)
	p.mu.Unlock()
	return true, nil
}

func (p *Protocol) releaseCrossProcess(tx *txctx.TxContext) {
	if p.locker == nil {
		return
	}
	p.mu.Lock()
	lks := p.crossProcess[tx]
	delete(p.crossProcess, tx)
	p.mu.Unlock()
	if len(lks) > 0 {
		p.locker.Unlock(context.Background(), lks...)
	}
}

// Scan reads only the record at key into out[0], taking a shared lock on
// it as Read does, and returns 1 on success; n is not used and no other
// key is visited.
func (p *Protocol) Scan(tx *txctx.TxContext, key ccbench.AbKey, n int, out [][]byte) (int, error) {
	// TPL has no native ordered iteration; HashMap indexes don't expose
	// one either, so scan degenerates to a single-key lookup, matching
	// spec.md's note that range scans are a BPTreeIndex-only capability.
	ok, err := p.Read(tx, key, out[0])
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// Commit logs every write this transaction made, fences, then releases
// all held locks in reverse acquisition order.
func (p *Protocol) Commit(tx *txctx.TxContext) (bool, error) {
	if tx.Aborted {
		return false, p.Abort(tx)
	}
	p.mu.Lock()
	entries := p.heldLocks[tx]
	deletes := p.pendingDeletes[tx]
	inserts := p.pendingInserts[tx]
	delete(p.heldLocks, tx)
	delete(p.pendingDeletes, tx)
	delete(p.pendingInserts, tx)
	p.mu.Unlock()

	if tx.Status == txctx.NeedWrite {
		// WriteSet can repeat a key (e.g. Update then Update again, or
		// Delete then a reinserting Insert): dedupe so each key logs
		// exactly one tuple reflecting its final staged effect.
		seen := make(map[ccbench.AbKey]bool, len(tx.WriteSet))
		for _, key := range tx.WriteSet {
			if seen[key] {
				continue
			}
			seen[key] = true

			it, ok := p.idx.Read(key)
			label := logstore.LabelUpdate
			switch {
			case inserts[key]:
				label = logstore.LabelInsert
			case !ok || deletes[key]:
				label = logstore.LabelDelete
			}
			tuple := logstore.LogTuple{Label: label, Key: key}
			if ok && label != logstore.LabelDelete {
				tuple.Size = it.DataSize
				tuple.Offset = uint32(it.BodyRef)
				tuple.ExtraInfo = append([]byte(nil), p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)]...)
			}
			if _, err := p.log.Append(0, tuple); err != nil {
				return false, err
			}
		}
		if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelCommit, Key: tx.WriteSet[0]}); err != nil {
			return false, err
		}
		pmem.Fence()
		for key := range deletes {
			p.idx.Remove(key)
			p.hot.Remove(key)
		}
	}
	releaseReverse(entries)
	p.releaseCrossProcess(tx)
	return true, nil
}

// Abort releases every lock this transaction holds and logs nothing. A
// record this transaction inserted stays in the index with its body:
// Abort does not undo a successful Insert. A pending Delete is discarded
// rather than applied.
func (p *Protocol) Abort(tx *txctx.TxContext) error {
	p.mu.Lock()
	entries := p.heldLocks[tx]
	delete(p.heldLocks, tx)
	delete(p.pendingDeletes, tx)
	delete(p.pendingInserts, tx)
	p.mu.Unlock()
	releaseReverse(entries)
	p.releaseCrossProcess(tx)
	return nil
}

// Recover replays entries (decoded in log order) against the in-memory
// index: every key a committed Insert/Update touched is expected present,
// every key a committed Delete touched is expected absent. TPL installs
// writes into the index and body store at Update/Insert time rather than
// at Commit, so this is a consistency check against already-applied
// state, not a reconstruction of it — a stubbed, testable stand-in for
// replaying against PMEM-resident state after a real restart.
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
					return recovered, fmt.Errorf("tpl: recover: committed key %v missing from index", s.Key)
				}
			case logstore.LabelDelete:
				if p.idx.Contain(s.Key) {
					return recovered, fmt.Errorf("tpl: recover: committed delete of %v still present", s.Key)
				}
			}
			recovered++
		}
		staged = staged[:0]
	}
	return recovered, nil
}

// releaseReverse unlocks entries in reverse acquisition order, the strict
// two-phase locking rule: a transaction's shrinking phase undoes its
// growing phase.
func releaseReverse(entries []lockEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.exclusive {
			e.header.UnlockWrite()
		} else {
			e.header.UnlockRead()
		}
	}
}
