package syncer

import "time"

// Scheduler abstracts timer creation so the debounced gap-fill can be driven
// deterministically in tests without a real clock.
type Scheduler interface {
	// AfterFunc runs fn after d elapses and returns a handle to cancel it.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from firing.
	Stop() bool
}

// realScheduler backs Scheduler with the runtime timer wheel.
type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
