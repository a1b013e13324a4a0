// Package clocktest provides a manually advanced clock.Clock for tests,
// built on clockwork's fake clock.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/specialistvlad/tickgraph/internal/clock"
)

// Clock is a fake clock. Timers fire synchronously, on the goroutine
// calling Advance, in deadline order. Timers due at the same instant fire
// in the order they were armed.
type Clock struct {
	fake *clockwork.FakeClock

	mu    sync.Mutex
	seq   int
	armed map[*timer]struct{}
}

type timer struct {
	c     *Clock
	due   time.Time
	seq   int
	f     func()
	inner clockwork.Timer
	// hit is closed once the fake clock expires the timer.
	hit chan struct{}
}

var _ clock.Clock = (*Clock)(nil)

// New returns a fake clock set to start.
func New(start time.Time) *Clock {
	return &Clock{fake: clockwork.NewFakeClockAt(start), armed: make(map[*timer]struct{})}
}

// Fake exposes the underlying clockwork clock.
func (c *Clock) Fake() *clockwork.FakeClock { return c.fake }

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return c.fake.Now() }

// AfterFunc registers f to run once the fake time reaches now+d.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, due: c.fake.Now().Add(d), seq: c.seq, f: f, hit: make(chan struct{})}
	t.inner = c.fake.AfterFunc(d, func() { close(t.hit) })
	c.armed[t] = struct{}{}
	return t
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.armed)
}

// Advance moves the clock forward by d, firing every timer that comes due
// along the way. Timers armed by a firing callback are honoured if they
// fall inside the window.
func (c *Clock) Advance(d time.Duration) {
	target := c.fake.Now().Add(d)
	for {
		due := c.takeNext(target)
		if len(due) == 0 {
			if rest := target.Sub(c.fake.Now()); rest > 0 {
				c.fake.Advance(rest)
			}
			return
		}
		step := due[0].due.Sub(c.fake.Now())
		if step < 0 {
			step = 0
		}
		c.fake.Advance(step)
		for _, t := range due {
			<-t.hit
			t.f()
		}
	}
}

// takeNext removes and returns the armed timers sharing the earliest
// deadline, provided it is not after target.
func (c *Clock) takeNext(target time.Time) []*timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first time.Time
	for t := range c.armed {
		if first.IsZero() || t.due.Before(first) {
			first = t.due
		}
	}
	if len(c.armed) == 0 || first.After(target) {
		return nil
	}
	var due []*timer
	for t := range c.armed {
		if t.due.Equal(first) {
			due = append(due, t)
			delete(c.armed, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	return due
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	_, ok := t.c.armed[t]
	delete(t.c.armed, t)
	t.c.mu.Unlock()
	if ok {
		t.inner.Stop()
	}
	return ok
}
