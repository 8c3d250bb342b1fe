package ccbench

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// jitterRNG is the random source used for sleep jitter.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the RNG used for sleep jitter. Useful for
// deterministic tests.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Sleep blocks for the given duration or until ctx is done, whichever
// happens first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// RandomSleepWithUnit sleeps for a random multiple (1..4) of the given unit
// duration, a jitter for spreading out conflicting retries. No package in
// this module calls it.
func RandomSleepWithUnit(ctx context.Context, unit time.Duration) {
	mult := time.Duration(jitterRNG.Intn(5))
	if mult == 0 {
		mult = 1
	}
	d := mult * unit
	slog.Debug("sleep jitter", "multiplier", mult, "unit", unit, "duration", d)
	Sleep(ctx, d)
}

// RandomSleep sleeps for a random duration between 20ms and 80ms.
func RandomSleep(ctx context.Context) {
	RandomSleepWithUnit(ctx, 20*time.Millisecond)
}
