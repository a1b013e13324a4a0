// Package clock abstracts wall-clock time so timers and schedules can be
// driven deterministically in tests.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used by timers, schedules and the buffer
// channel's provenance window.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It returns false if the call has
	// already fired or been stopped.
	Stop() bool
}

// Real is the wall clock.
type Real struct {
	clockwork.Clock
}

// New returns the wall clock.
func New() Real { return Real{Clock: clockwork.NewRealClock()} }

func (r Real) AfterFunc(d time.Duration, f func()) Timer {
	return r.Clock.AfterFunc(d, f)
}
