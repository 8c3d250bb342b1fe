// Package scheduler drives a workload's transactions against a CC engine
// with a pool of worker goroutines: each worker owns one ThreadContext,
// pulls transaction bodies from a Source, retries on TaskErrorRetry up to
// a limit, and cooperates with its peers through the TaskError barrier
// family. Grounded on teacher taskrunner.go (errgroup.Group + SetLimit)
// for the worker pool shape and spec.md §4.8 for the per-worker loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/cc"
	"github.com/sharedcode/ccbench/txctx"
	"golang.org/x/sync/errgroup"
)

// TxFunc is one transaction attempt's body: it issues Executor operations
// and returns the TaskError sum value describing what happened. tc is the
// calling worker's ThreadContext, reused across every transaction that
// worker runs.
type TxFunc func(tc *txctx.ThreadContext, ex *cc.Executor) ccbench.TaskError

// Source hands worker workerID its next transaction, or reports there is
// none left (ok == false), at which point the worker exits. The workload
// generator behind Source is an external collaborator, out of this
// package's scope.
type Source func(workerID int) (protocol cc.Protocol, body TxFunc, ok bool)

// Barriers bundles the four rendezvous points spec.md §4.8 names. Barrier
// excludes the coordinator (workers only); the Time/EndTime/Clock variants
// include it, sized for workerCount+1 parties.
type Barriers struct {
	Barrier        *CyclicBarrier
	TimeBarrier    *CyclicBarrier
	EndTimeBarrier *CyclicBarrier
	ClockBarrier   *CyclicBarrier
}

// NewBarriers builds a Barriers set for a pool of workerCount workers.
// onTimeStart/onTimeStop/onClock run once per round, on whichever
// goroutine completes that round, before any party is released — the
// hooks a coordinator uses to start/stop a timer or decide whether a
// ClockBarrier round should trigger early shutdown.
func NewBarriers(workerCount int, onTimeStart, onTimeStop, onClock func()) *Barriers {
	return &Barriers{
		Barrier:        NewCyclicBarrier(workerCount, nil),
		TimeBarrier:    NewCyclicBarrier(workerCount+1, onTimeStart),
		EndTimeBarrier: NewCyclicBarrier(workerCount+1, onTimeStop),
		ClockBarrier:   NewCyclicBarrier(workerCount+1, onClock),
	}
}

// Stats counts transaction outcomes across every worker, safe for
// concurrent updates from the pool's worker goroutines.
type Stats struct {
	Committed atomic.Int64
	Retried   atomic.Int64
	Aborted   atomic.Int64
}

// Pool runs a fixed number of worker goroutines against a Source,
// bounded by errgroup.Group like the teacher's TaskRunner, with an
// added per-transaction retry limit and barrier cooperation.
type Pool struct {
	workerCount int
	retryLimit  int
	barriers    *Barriers
	Stats       Stats
}

// NewPool builds a pool of workerCount workers, each allowed up to
// retryLimit attempts per transaction before it is treated as a fault.
func NewPool(workerCount, retryLimit int, barriers *Barriers) *Pool {
	if barriers == nil {
		barriers = NewBarriers(workerCount, nil, nil, nil)
	}
	return &Pool{workerCount: workerCount, retryLimit: retryLimit, barriers: barriers}
}

// Run starts workerCount workers pulling from source until every worker's
// Source is exhausted or PreStop is signalled, returning the first
// error any worker produced (an AssertFault or a retry-limit exhaustion).
func (p *Pool) Run(ctx context.Context, source Source) error {
	eg, ctx := errgroup.WithContext(ctx)
	for id := 0; id < p.workerCount; id++ {
		id := id
		eg.Go(func() error {
			return p.runWorker(ctx, id, source)
		})
	}
	return eg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int, source Source) error {
	tc := txctx.NewThreadContext(nil)

	for {
		if ctx.Err() != nil {
			return nil
		}
		protocol, body, ok := source(id)
		if !ok {
			return nil
		}

		if err := p.runTransaction(tc, protocol, body); err != nil {
			if errors.Is(err, errPreStop) {
				return nil
			}
			return err
		}
	}
}

// errPreStop is runTransaction's signal to runWorker that the body
// returned TaskErrorPreStop: the worker exits without pulling more work.
var errPreStop = errors.New("scheduler: pre-stop")

// runTransaction drives a single transaction body through its
// retry/abort/barrier loop until it commits, is dropped via PreStop, or
// exhausts its retry budget.
func (p *Pool) runTransaction(tc *txctx.ThreadContext, protocol cc.Protocol, body TxFunc) error {
	ex := cc.NewExecutor(protocol)
	attempts := 0

	for {
		result := body(tc, ex)
		switch {
		case result == ccbench.TaskErrorNone:
			p.Stats.Committed.Add(1)
			return nil

		case result == ccbench.TaskErrorRetry:
			p.Stats.Retried.Add(1)
			ex.Abort()
			attempts++
			if attempts >= p.retryLimit {
				p.Stats.Aborted.Add(1)
				return fmt.Errorf("scheduler: transaction exceeded retry limit (%d attempts)", attempts)
			}
			ex.Reset()

		case result == ccbench.TaskErrorAssertFault:
			return fmt.Errorf("scheduler: transaction reported an invariant fault")

		case result == ccbench.TaskErrorPreStop:
			p.Stats.Aborted.Add(1)
			ex.Abort()
			return errPreStop

		case result.IsBarrier():
			p.await(result)

		default:
			return fmt.Errorf("scheduler: unrecognized TaskError %v", result)
		}
	}
}

func (p *Pool) await(result ccbench.TaskError) {
	switch result {
	case ccbench.TaskErrorBarrier:
		p.barriers.Barrier.Await()
	case ccbench.TaskErrorTimeBarrier:
		p.barriers.TimeBarrier.Await()
	case ccbench.TaskErrorEndTimeBarrier:
		p.barriers.EndTimeBarrier.Await()
	case ccbench.TaskErrorClockBarrier:
		p.barriers.ClockBarrier.Await()
	}
}
