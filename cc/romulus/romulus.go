// Package romulus implements the double-copy Romulus protocol: every
// record has a main and backup payload slot, readers take a cheap shared
// admission via the CRWWP spinlock's arrival array, and a committing
// writer excludes new readers, drains in-flight ones, copies main into
// backup, installs the new main, and clears its staged-header chain.
// Grounded on spec.md §4.2.3 and the original's concurrent_control/
// include/concurrent_control/romulus_log headers.
package romulus

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/index"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/pmem"
	"github.com/sharedcode/ccbench/record"
	"github.com/sharedcode/ccbench/txctx"
)

type tuple = record.RomulusIndexTuple[[]byte]

type pendingWrite struct {
	data   []byte
	delete bool
}

type txState struct {
	tid    int
	writes map[ccbench.AbKey]pendingWrite
}

// Protocol is the Romulus CC implementation: a CRWWP-guarded index of
// double-buffered record payloads, a shared staged-header chain built up
// during the commit phase, and the flush strategy used to make each
// copy-back durable.
type Protocol struct {
	idx   index.Index[ccbench.AbKey, *tuple]
	lock  *CRWWPSpinLock
	log   *logstore.Manager
	chain logstore.LogChunkChain
	strat ccbench.FlushStrategy

	mu     sync.Mutex
	states map[*txctx.TxContext]*txState
}

// New constructs an empty Romulus protocol instance sized for up to
// maxThreads concurrent worker threads.
func New(log *logstore.Manager, strat ccbench.FlushStrategy, maxThreads int) *Protocol {
	return &Protocol{
		idx:    index.NewHashMap[ccbench.AbKey, *tuple](),
		lock:   NewCRWWPSpinLock(maxThreads),
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
		// Reuse the lowest tid no live transaction holds, so tids stay
		// below the number of concurrently open transactions.
		used := make(map[int]bool, len(p.states))
		for _, st := range p.states {
			used[st.tid] = true
		}
		tid := 0
		for used[tid] {
			tid++
		}
		s = &txState{tid: tid, writes: make(map[ccbench.AbKey]pendingWrite)}
		p.states[tx] = s
	}
	return s
}

// Read takes shared admission for the duration of the copy, so a
// concurrent commit cannot install a new main mid-read.
func (p *Protocol) Read(tx *txctx.TxContext, key ccbench.AbKey, out []byte) (bool, error) {
	s := p.stateFor(tx)
	if w, staged := s.writes[key]; staged {
		if w.delete {
			return false, nil
		}
		copy(out, w.data)
		return true, nil
	}

	p.lock.SharedLock(s.tid)
	defer p.lock.SharedUnlock(s.tid)

	it, ok := p.idx.Read(key)
	if !ok {
		return false, nil
	}
	copy(out, it.Data.Get())
	tx.RecordRead(key)
	return true, nil
}

// Update stages newData; it is only copied into the record's main slot
// during Commit's exclusive phase.
func (p *Protocol) Update(tx *txctx.TxContext, key ccbench.AbKey, newData []byte) (bool, error) {
	if !p.idx.Contain(key) {
		return false, nil
	}
	p.stateFor(tx).writes[key] = pendingWrite{data: append([]byte(nil), newData...)}
	tx.RecordWrite(key)
	return true, nil
}

// Insert installs both copies immediately: a key with no prior readers
// has nothing a concurrent commit phase could be racing against.
func (p *Protocol) Insert(tx *txctx.TxContext, key ccbench.AbKey, data []byte) (bool, error) {
	if p.idx.Contain(key) {
		return false, nil
	}
	rt := record.NewRomulusTuple(append([]byte(nil), data...))
	it := record.NewRomulusIndexTuple(rt)
	if !p.idx.Insert(key, &it) {
		return false, nil
	}
	tx.RecordWrite(key)
	return true, nil
}

// Delete stages a pending delete, applied at Commit.
func (p *Protocol) Delete(tx *txctx.TxContext, key ccbench.AbKey) (bool, error) {
	if !p.idx.Contain(key) {
		return false, nil
	}
	p.stateFor(tx).writes[key] = pendingWrite{delete: true}
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

// Commit acquires the CRWWP exclusive lock, drains in-flight readers,
// copies each modified record's main into its backup, fences, installs
// the new main, fences again, clears the staged-header chain, and
// releases the lock.
func (p *Protocol) Commit(tx *txctx.TxContext) (bool, error) {
	s := p.stateFor(tx)
	p.mu.Lock()
	delete(p.states, tx)
	p.mu.Unlock()

	if tx.Aborted {
		return false, nil
	}
	if tx.Status != txctx.NeedWrite {
		return true, nil
	}

	p.lock.ExclusiveLock()
	defer p.lock.ExclusiveUnlock()

	for key, w := range s.writes {
		it, ok := p.idx.Read(key)
		if !ok {
			continue
		}
		headerRef := uintptr(unsafe.Pointer(it.Data))
		p.chain.Append(headerRef)

		if w.delete {
			p.idx.Remove(key)
			if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelDelete, Key: key}); err != nil {
				return false, err
			}
			continue
		}

		it.Data.BackUp()
		pmem.Pwb(unsafe.Pointer(it.Data.Backup()), p.strat)
		pmem.Fence()

		it.Data.Set(w.data)
		pmem.Pwb(unsafe.Pointer(it.Data.Main()), p.strat)
		pmem.Fence()

		if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelUpdate, Key: key, Size: uint32(len(w.data))}); err != nil {
			return false, err
		}
	}

	if _, err := p.log.Append(0, logstore.LogTuple{Label: logstore.LabelCommit}); err != nil {
		return false, err
	}
	p.chain.Clear()
	return true, nil
}

// Abort discards staged writes; reads only ever held a brief shared
// admission, already released by the time Abort can be called.
func (p *Protocol) Abort(tx *txctx.TxContext) error {
	p.mu.Lock()
	delete(p.states, tx)
	p.mu.Unlock()
	return nil
}

// Recover first walks the staged-header chain, restoring main from backup
// for every header a crash could have interrupted between BackUp and
// Clear — the chain only holds entries for a commit that never finished,
// since a successful Commit clears it. It then replays entries the same
// way tpl.Protocol.Recover does, validating committed writes against the
// index rather than redoing them (Romulus, like tpl and occnuma, installs
// before logging).
func (p *Protocol) Recover(entries []logstore.LogTuple) (int, error) {
	restored := 0
	p.chain.Walk(func(headerRef uintptr) {
		t := (*record.RomulusTuple[[]byte])(unsafe.Pointer(headerRef))
		t.RestoreFromBackup()
		restored++
	})
	p.chain.Clear()

	recovered := 0
	var staged []logstore.LogTuple
	for _, e := range entries {
		if e.Label != logstore.LabelCommit {
			staged = append(staged, e)
			continue
		}
		for _, s := range staged {
			switch s.Label {
			case logstore.LabelUpdate:
				if !p.idx.Contain(s.Key) {
					return restored + recovered, fmt.Errorf("romulus: recover: committed key %v missing from index", s.Key)
				}
			case logstore.LabelDelete:
				if p.idx.Contain(s.Key) {
					return restored + recovered, fmt.Errorf("romulus: recover: committed delete of %v still present", s.Key)
				}
			}
			recovered++
		}
		staged = staged[:0]
	}
	return restored + recovered, nil
}
