package node

// Edge is the transition observed by a Latch.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "none"
	}
}

// Latch remembers the last boolean seen by an edge-sensitive node.
//
// A fresh or restored latch is unprimed: the first observation only records
// a baseline and reports EdgeNone. Every edge-sensitive node type uses a
// latch and resets it in Restore, which gives all of them the same
// behaviour after a graph load.
type Latch struct {
	last   bool
	primed bool
}

// Observe records v and reports the transition from the previous value.
func (l *Latch) Observe(v bool) Edge {
	if !l.primed {
		l.primed = true
		l.last = v
		return EdgeNone
	}
	prev := l.last
	l.last = v
	switch {
	case !prev && v:
		return EdgeRising
	case prev && !v:
		return EdgeFalling
	default:
		return EdgeNone
	}
}

// Reset forgets the baseline.
func (l *Latch) Reset() { *l = Latch{} }

// Primed reports whether a baseline has been recorded.
func (l *Latch) Primed() bool { return l.primed }

// Last returns the most recently observed value.
func (l *Latch) Last() bool { return l.last }
