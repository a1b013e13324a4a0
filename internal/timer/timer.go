// Package timer provides per-node scoped, cancellable timers.
//
// # Why Group Exists
//
// Nodes such as delays, pulses, schedules and state machines need to come
// back to life after some time has passed. They must not call their own
// Data method from a timer goroutine, and a timer must never outlive the
// node that armed it. A Group enforces both rules:
//
//   - Callbacks run through the host's post function, which serializes
//     them with evaluation ticks, and are followed by the owner's notify
//     function so the owner is re-evaluated on the next tick.
//   - Close cancels every outstanding timer and turns late firings into
//     no-ops, so a removed node can never be marked dirty.
package timer

import (
	"sync"
	"time"

	"github.com/specialistvlad/tickgraph/internal/clock"
)

// Group owns the named timers of a single node. Arming a timer under a
// name that is already armed replaces the earlier one.
type Group struct {
	clk    clock.Clock
	post   func(func())
	notify func()

	mu     sync.Mutex
	gen    uint64
	timers map[string]*entry
	closed bool
}

type entry struct {
	gen   uint64
	timer clock.Timer
}

// NewGroup creates a timer group. post runs a callback on the evaluation
// thread; when nil the callback runs inline on the timer goroutine. notify
// requests re-evaluation of the owner and may be nil.
func NewGroup(clk clock.Clock, post func(func()), notify func()) *Group {
	if post == nil {
		post = func(f func()) { f() }
	}
	if notify == nil {
		notify = func() {}
	}
	return &Group{
		clk:    clk,
		post:   post,
		notify: notify,
		timers: make(map[string]*entry),
	}
}

// After arms a one-shot timer. fn may mutate the owner's state; the owner
// is marked dirty right after fn returns.
func (g *Group) After(name string, d time.Duration, fn func()) {
	g.arm(name, d, fn, false)
}

// Every arms a repeating timer with period d.
func (g *Group) Every(name string, d time.Duration, fn func()) {
	g.arm(name, d, fn, true)
}

func (g *Group) arm(name string, d time.Duration, fn func(), repeat bool) {
	if d < 0 {
		d = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if old, ok := g.timers[name]; ok {
		old.timer.Stop()
	}
	g.gen++
	e := &entry{gen: g.gen}
	e.timer = g.clk.AfterFunc(d, g.fire(name, e.gen, d, fn, repeat))
	g.timers[name] = e
}

func (g *Group) fire(name string, gen uint64, d time.Duration, fn func(), repeat bool) func() {
	return func() {
		g.post(func() {
			g.mu.Lock()
			cur, ok := g.timers[name]
			if g.closed || !ok || cur.gen != gen {
				g.mu.Unlock()
				return
			}
			if repeat {
				cur.timer = g.clk.AfterFunc(d, g.fire(name, gen, d, fn, repeat))
			} else {
				delete(g.timers, name)
			}
			g.mu.Unlock()

			fn()
			g.notify()
		})
	}
}

// Cancel stops the named timer. It reports whether one was armed.
func (g *Group) Cancel(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.timers[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(g.timers, name)
	return true
}

// Active reports whether the named timer is armed.
func (g *Group) Active(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.timers[name]
	return ok
}

// Len returns the number of armed timers.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// CancelAll stops every armed timer and returns how many were stopped.
func (g *Group) CancelAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.timers)
	for name, e := range g.timers {
		e.timer.Stop()
		delete(g.timers, name)
	}
	return n
}

// Close cancels everything and rejects future arming.
func (g *Group) Close() int {
	n := g.CancelAll()
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return n
}

// Now returns the group's clock time.
func (g *Group) Now() time.Time {
	return g.clk.Now()
}
