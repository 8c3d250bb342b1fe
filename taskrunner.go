package ccbench

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner is a thin wrapper over errgroup.Group used to spin up a bounded
// number of worker goroutines and await their completion.
type TaskRunner struct {
	eg      *errgroup.Group
	context context.Context
}

// NewTaskRunner creates a task runner. maxThreadCount bounds concurrently
// running tasks; 0 or negative means no limit.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	if maxThreadCount > 0 {
		eg.SetLimit(maxThreadCount)
	}
	return &TaskRunner{eg: eg, context: ctx2}
}

// GetContext returns the runner's (cancellable-on-first-error) context.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go spins up a goroutine to run task.
func (tr *TaskRunner) Go(task func() error) {
	tr.eg.Go(task)
}

// Wait blocks until all spun-up tasks complete, returning the first error.
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
