// Package courier implements the deferred-persistence protocol: writes
// take the record's header lock and mutate its body immediately, but the
// actual cache-line flush is staged in a ThreadBuffer keyed by header
// identity and only issued once, as a single coalesced range per touched
// record, when the transaction commits. Grounded on spec.md §4.2.4 and
// the original's concurrent_control/include/concurrent_control/courier
// headers (set_data + DelayUpdateEvent union-of-ranges staging).
package courier

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/index"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/pmem"
	"github.com/sharedcode/ccbench/record"
	"github.com/sharedcode/ccbench/storage"
	"github.com/sharedcode/ccbench/txctx"
)

type tuple = record.IndexTuple[record.CourierHeader]

type lockEntry struct {
	key       ccbench.AbKey
	header    *record.CourierHeader
	exclusive bool
}

type txState struct {
	buffer   *txctx.ThreadBuffer
	refToKey map[txctx.HeaderRef]ccbench.AbKey
	held     []lockEntry
	deleted  map[ccbench.AbKey]bool
	inserted map[ccbench.AbKey]bool
}

// Protocol is the Courier CC implementation.
type Protocol struct {
	idx   index.Index[ccbench.AbKey, *tuple]
	bodys *storage.ScatteredAllocator
	log   *logstore.Manager
	strat ccbench.FlushStrategy

	mu     sync.Mutex
	states map[*txctx.TxContext]*txState
}

// New constructs an empty Courier protocol instance.
func New(bodys *storage.ScatteredAllocator, log *logstore.Manager, strat ccbench.FlushStrategy) *Protocol {
	return &Protocol{
		idx:    index.NewHashMap[ccbench.AbKey, *tuple](),
		bodys:  bodys,
		log:    log,
		strat:  strat,
		states: make(map[*txctx.TxContext]*txState),
	}
}

func (p *Protocol) stateFor(tx *txctx.TxContext) *txState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[tx]
	if !ok {
		s = &txState{
			buffer:   txctx.NewThreadBuffer(),
			refToKey: make(map[txctx.HeaderRef]ccbench.AbKey),
			deleted:  make(map[ccbench.AbKey]bool),
			inserted: make(map[ccbench.AbKey]bool),
		}
		p.states[tx] = s
	}
	return s
}

func headerRefOf(h *record.CourierHeader) txctx.HeaderRef {
	return txctx.HeaderRef(uintptr(unsafe.Pointer(h)))
}

func (s *txState) track(key ccbench.AbKey, h *record.CourierHeader, exclusive bool) {
	for _, e := range s.held {
		if e.key == key {
			return
		}
	}
	s.held = append(s.held, lockEntry{key: key, header: h, exclusive: exclusive})
}

// Read acquires a shared lock on key (reused if already held by this
// transaction) and copies its payload; unrelated records are never
// blocked by this or any other transaction's writes.
func (p *Protocol) Read(tx *txctx.TxContext, key ccbench.AbKey, out []byte) (bool, error) {
	s := p.stateFor(tx)
	it, ok := p.idx.Read(key)
	if !ok {
		return false, nil
	}
	held := false
	for _, e := range s.held {
		if e.key == key {
			held = true
			break
		}
	}
	if !held {
		if !it.Header.TryLockRead() {
			tx.Abort()
			return false, nil
		}
		s.track(key, it.Header, false)
	}
	tx.RecordRead(key)
	copy(out, p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)])
	return true, nil
}

// Update takes the record's exclusive lock, writes newData into its body
// immediately, and stages (or extends) a DelayUpdateEvent covering the
// written range so the actual flush is deferred to Commit. An exclusive
// lock this transaction already holds is reused; a key it holds only a
// shared lock on is not upgraded (the try-lock fails and it aborts).
func (p *Protocol) Update(tx *txctx.TxContext, key ccbench.AbKey, newData []byte) (bool, error) {
	s := p.stateFor(tx)
	it, ok := p.idx.Read(key)
	if !ok {
		return false, nil
	}
	held := false
	for _, e := range s.held {
		if e.key == key && e.exclusive {
			held = true
			break
		}
	}
	if !held {
		if !it.Header.TryLockWrite() {
			tx.Abort()
			return false, nil
		}
		s.track(key, it.Header, true)
	}
	copy(p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)], newData)

	ref := headerRefOf(it.Header)
	s.refToKey[ref] = key
	s.buffer.Stage(ref, 0, it.DataSize)
	tx.RecordWrite(key)
	return true, nil
}

// Insert allocates a new record body and header, exclusively locked for
// the remainder of the transaction, and stages its full range for flush.
// Reinserting a key this same transaction staged a Delete for earlier is
// legal: the key is still present in idx (Delete defers removal to
// Commit) and its exclusive lock is already held, so Insert reuses both
// instead of allocating a new record, and drops the staged delete.
func (p *Protocol) Insert(tx *txctx.TxContext, key ccbench.AbKey, data []byte) (bool, error) {
	s := p.stateFor(tx)
	existing, exists := p.idx.Read(key)
	if exists && !s.deleted[key] {
		return false, nil
	}
	if exists {
		delete(s.deleted, key)
		copy(p.bodys.Range()[existing.BodyRef:existing.BodyRef+uint64(existing.DataSize)], data)
		ref := headerRefOf(existing.Header)
		s.refToKey[ref] = key
		s.buffer.Stage(ref, 0, existing.DataSize)
		s.inserted[key] = true
		tx.RecordWrite(key)
		return true, nil
	}

	off, block, ok := p.bodys.Allocate(uint64(len(data)))
	if !ok {
		return false, fmt.Errorf("courier: insert %v: %w", key, ccbench.Error{Code: ccbench.AllocatorExhausted})
	}
	copy(block, data)
	header := &record.CourierHeader{}
	header.LockWrite()
	it := record.NewIndexTuple(key.TypeTag, uint32(len(data)), header, off)
	if !p.idx.Insert(key, &it) {
		header.UnlockWrite()
		return false, nil
	}
	s.track(key, header, true)

	ref := headerRefOf(header)
	s.refToKey[ref] = key
	s.buffer.Stage(ref, 0, uint32(len(data)))
	s.inserted[key] = true
	tx.RecordWrite(key)
	return true, nil
}

// Delete exclusively locks key; removal is performed at Commit.
func (p *Protocol) Delete(tx *txctx.TxContext, key ccbench.AbKey) (bool, error) {
	s := p.stateFor(tx)
	it, ok := p.idx.Read(key)
	if !ok {
		return false, nil
	}
	if !it.Header.TryLockWrite() {
		tx.Abort()
		return false, nil
	}
	s.track(key, it.Header, true)
	s.deleted[key] = true
	tx.RecordWrite(key)
	return true, nil
}

// Scan degenerates to a single-key lookup: HashMap indexes expose no
// ordered iteration.
func (p *Protocol) Scan(tx *txctx.TxContext, key ccbench.AbKey, n int, out [][]byte) (int, error) {
	ok, err := p.Read(tx, key, out[0])
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// Commit logs every write, appends a Commit tuple, issues one
// pwb_range per touched record covering its coalesced union range, a
// single trailing fence, clears the event map, then releases every held
// lock in reverse acquisition order.
func (p *Protocol) Commit(tx *txctx.TxContext) (bool, error) {
	s := p.stateFor(tx)
	p.mu.Lock()
	delete(p.states, tx)
	p.mu.Unlock()

	if tx.Aborted {
		releaseReverse(s.held)
		return false, nil
	}
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

			if s.deleted[key] {
				if err := p.appendLog(logstore.LogTuple{Label: logstore.LabelDelete, Key: key}); err != nil {
					return false, err
				}
				p.idx.Remove(key)
				continue
			}
			it, ok := p.idx.Read(key)
			if !ok {
				continue
			}
			label := logstore.LabelUpdate
			if s.inserted[key] {
				label = logstore.LabelInsert
			}
			extra := append([]byte(nil), p.bodys.Range()[it.BodyRef:it.BodyRef+uint64(it.DataSize)]...)
			if err := p.appendLog(logstore.LogTuple{Label: label, Key: key, Size: it.DataSize, Offset: uint32(it.BodyRef), ExtraInfo: extra}); err != nil {
				return false, err
			}
		}
		if err := p.appendLog(logstore.LogTuple{Label: logstore.LabelCommit}); err != nil {
			return false, err
		}

		for ref, event := range s.buffer.Entries() {
			key, ok := s.refToKey[ref]
			if !ok {
				continue
			}
			it, ok := p.idx.Read(key)
			if !ok {
				continue
			}
			base := unsafe.Pointer(&p.bodys.Range()[it.BodyRef])
			pmem.PwbRange(unsafe.Add(base, event.Offset), uintptr(event.Size), p.strat)
		}
		pmem.Fence()
		s.buffer.Clear()
	}

	releaseReverse(s.held)
	return true, nil
}

// Abort releases every lock this transaction holds, without installing
// or logging anything.
func (p *Protocol) Abort(tx *txctx.TxContext) error {
	s := p.stateFor(tx)
	p.mu.Lock()
	delete(p.states, tx)
	p.mu.Unlock()
	releaseReverse(s.held)
	return nil
}

// Recover replays entries (decoded in log order) against the in-memory
// index. Courier's deferred step is the pwb_range flush, not the body
// write or the index update, both of which already happened by the time
// Commit logs them, so — as with tpl and occnuma — this validates
// already-applied state rather than redoing it. A trailing run with no
// terminating Commit belongs to a transaction whose writes were never
// flushed and is discarded.
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
					return recovered, fmt.Errorf("courier: recover: committed key %v missing from index", s.Key)
				}
			case logstore.LabelDelete:
				if p.idx.Contain(s.Key) {
					return recovered, fmt.Errorf("courier: recover: committed delete of %v still present", s.Key)
				}
			}
			recovered++
		}
		staged = staged[:0]
	}
	return recovered, nil
}

func (p *Protocol) appendLog(t logstore.LogTuple) error {
	_, err := p.log.Append(0, t)
	return err
}

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
