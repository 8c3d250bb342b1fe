package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/cc"
	"github.com/sharedcode/ccbench/cc/tpl"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/storage"
	"github.com/sharedcode/ccbench/txctx"
)

func newTPLProtocol(t *testing.T) cc.Protocol {
	t.Helper()
	dir := t.TempDir()
	bodys, err := storage.NewScatteredAllocator(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewScatteredAllocator: %v", err)
	}
	t.Cleanup(func() { bodys.Close() })

	logDir := dir + "/log"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	log, err := logstore.NewManager(logDir, 4)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	return tpl.New(bodys, log)
}

func TestPool_RunsEveryTaskToCompletion(t *testing.T) {
	protocol := newTPLProtocol(t)
	const workerCount = 5

	source := func(workerID int) (cc.Protocol, TxFunc, bool) {
		key := ccbench.NewAbKey(1, uint64(workerID))
		return protocol, func(tc *txctx.ThreadContext, ex *cc.Executor) ccbench.TaskError {
			ok, err := ex.Insert(key, []byte("x"))
			if err != nil || !ok {
				return ccbench.TaskErrorAssertFault
			}
			if ok, err := ex.Commit(); err != nil || !ok {
				return ccbench.TaskErrorAssertFault
			}
			return ccbench.TaskErrorNone
		}, true
	}

	pool := NewPool(workerCount, 5, nil)
	if err := pool.Run(context.Background(), singleShot(source)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pool.Stats.Committed.Load() != workerCount {
		t.Errorf("Committed = %d, expected %d", pool.Stats.Committed.Load(), workerCount)
	}
}

func TestPool_RetriesUntilCommit(t *testing.T) {
	protocol := newTPLProtocol(t)
	key := ccbench.NewAbKey(1, 1)

	var attempts atomic.Int64
	source := func(workerID int) (cc.Protocol, TxFunc, bool) {
		if workerID != 0 {
			return nil, nil, false
		}
		return protocol, func(tc *txctx.ThreadContext, ex *cc.Executor) ccbench.TaskError {
			if attempts.Add(1) == 1 {
				return ccbench.TaskErrorRetry
			}
			ok, err := ex.Insert(key, []byte("x"))
			if err != nil || !ok {
				return ccbench.TaskErrorAssertFault
			}
			if ok, err := ex.Commit(); err != nil || !ok {
				return ccbench.TaskErrorAssertFault
			}
			return ccbench.TaskErrorNone
		}, true
	}

	pool := NewPool(1, 5, nil)
	if err := pool.Run(context.Background(), singleShot(source)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pool.Stats.Committed.Load() != 1 {
		t.Errorf("Committed = %d, expected 1", pool.Stats.Committed.Load())
	}
	if pool.Stats.Retried.Load() != 1 {
		t.Errorf("Retried = %d, expected 1", pool.Stats.Retried.Load())
	}
}

func TestPool_RetryLimitExhaustionReturnsError(t *testing.T) {
	protocol := newTPLProtocol(t)

	source := func(workerID int) (cc.Protocol, TxFunc, bool) {
		if workerID != 0 {
			return nil, nil, false
		}
		return protocol, func(tc *txctx.ThreadContext, ex *cc.Executor) ccbench.TaskError {
			return ccbench.TaskErrorRetry
		}, true
	}

	pool := NewPool(1, 3, nil)
	err := pool.Run(context.Background(), singleShot(source))
	if err == nil {
		t.Fatalf("expected retry-limit exhaustion to return an error")
	}
}

func TestPool_PreStopEndsWorkerCleanly(t *testing.T) {
	protocol := newTPLProtocol(t)

	source := func(workerID int) (cc.Protocol, TxFunc, bool) {
		if workerID != 0 {
			return nil, nil, false
		}
		return protocol, func(tc *txctx.ThreadContext, ex *cc.Executor) ccbench.TaskError {
			return ccbench.TaskErrorPreStop
		}, true
	}

	pool := NewPool(1, 5, nil)
	if err := pool.Run(context.Background(), singleShot(source)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pool.Stats.Aborted.Load() != 1 {
		t.Errorf("Aborted = %d, expected 1", pool.Stats.Aborted.Load())
	}
}

func TestCyclicBarrier_ReleasesAllPartiesAndIsReusable(t *testing.T) {
	const parties = 4
	var tripped atomic.Int64
	b := NewCyclicBarrier(parties, func() { tripped.Add(1) })

	for round := 0; round < 2; round++ {
		done := make(chan struct{}, parties)
		for i := 0; i < parties; i++ {
			go func() {
				b.Await()
				done <- struct{}{}
			}()
		}
		for i := 0; i < parties; i++ {
			<-done
		}
	}
	if tripped.Load() != 2 {
		t.Errorf("onTrip ran %d times, expected 2", tripped.Load())
	}
}

// singleShot wraps a Source so each worker id is only ever asked once,
// since the Sources above hand out a transaction on every call. Workers
// call it concurrently, so the asked set is guarded by a mutex.
func singleShot(source Source) Source {
	var mu sync.Mutex
	asked := make(map[int]bool)
	return func(workerID int) (cc.Protocol, TxFunc, bool) {
		mu.Lock()
		already := asked[workerID]
		asked[workerID] = true
		mu.Unlock()
		if already {
			return nil, nil, false
		}
		return source(workerID)
	}
}
