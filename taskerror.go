package ccbench

// TaskError is the sum value a transaction body returns to the worker loop
// that drives it. It replaces the original coroutine-yielded control value
// with a plain returned tag the scheduler inspects and loops on.
type TaskError int

const (
	// TaskErrorNone means the transaction committed normally.
	TaskErrorNone TaskError = iota
	// TaskErrorRetry means the transaction hit a recoverable conflict; the
	// worker re-executes it with the same parameters.
	TaskErrorRetry
	// TaskErrorAssertFault means an invariant was breached; the worker stops
	// and scheduler.Pool.Run returns an error. The pool neither logs the
	// fault nor terminates the process.
	TaskErrorAssertFault
	// TaskErrorPreStop means the coordinator requested shutdown; the worker
	// drains in-flight work and exits without picking up new transactions.
	TaskErrorPreStop
	// TaskErrorBarrier joins a barrier with other worker threads (excludes
	// the coordinator).
	TaskErrorBarrier
	// TaskErrorTimeBarrier joins a barrier that includes the coordinator,
	// who starts timing once all workers have arrived.
	TaskErrorTimeBarrier
	// TaskErrorEndTimeBarrier joins a barrier that includes the coordinator,
	// who stops timing once all workers have arrived.
	TaskErrorEndTimeBarrier
	// TaskErrorClockBarrier joins a barrier that includes the coordinator,
	// who both times and may interrupt the run.
	TaskErrorClockBarrier
)

// String renders the TaskError as its symbolic name, for logging.
func (e TaskError) String() string {
	switch e {
	case TaskErrorNone:
		return "None"
	case TaskErrorRetry:
		return "Retry"
	case TaskErrorAssertFault:
		return "AssertFault"
	case TaskErrorPreStop:
		return "PreStop"
	case TaskErrorBarrier:
		return "Barrier"
	case TaskErrorTimeBarrier:
		return "TimeBarrier"
	case TaskErrorEndTimeBarrier:
		return "EndTimeBarrier"
	case TaskErrorClockBarrier:
		return "ClockBarrier"
	default:
		return "Unknown"
	}
}

// IsBarrier reports whether e is one of the barrier-family control values
// (a coordination signal, not an error).
func (e TaskError) IsBarrier() bool {
	switch e {
	case TaskErrorBarrier, TaskErrorTimeBarrier, TaskErrorEndTimeBarrier, TaskErrorClockBarrier:
		return true
	default:
		return false
	}
}
