// Package timing provides the time-driven node types. Each node owns its
// timers through env.Timers; callbacks only touch node state and the timer
// group marks the node dirty afterwards.
package timing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
)

const (
	TypeDelay    = "timing.delay"
	TypePulse    = "timing.pulse"
	TypeSchedule = "timing.schedule"
	TypeThrottle = "timing.throttle"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the node types with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(TypeDelay, func(env node.Env) node.Node { return NewDelay(env) })
	r.Register(TypePulse, func(env node.Env) node.Node { return NewPulse(env) })
	r.Register(TypeSchedule, func(env node.Env) node.Node { return NewSchedule(env) })
	r.Register(TypeThrottle, func(env node.Env) node.Node { return NewThrottle(env) })
}

// Duration is a time.Duration persisted as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", string(b))
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil {
		if ms < 0 {
			return fmt.Errorf("negative duration %s", string(b))
		}
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// untilDue clamps the wait before deadline to zero.
func untilDue(now, deadline time.Time) time.Duration {
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
