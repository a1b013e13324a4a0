package timing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/time/rate"
)

// ThrottleProps configure a throttle.
type ThrottleProps struct {
	Interval Duration `json:"interval"`
}

// Throttle forwards input changes at most once per Interval. A change that
// arrives too early is held and emitted when the interval allows, so the
// last value of a burst always gets through.
type Throttle struct {
	env     node.Env
	props   ThrottleProps
	limiter *rate.Limiter

	out     any
	held    any
	holding bool
}

// NewThrottle builds a one second throttle.
func NewThrottle(env node.Env) *Throttle {
	t := &Throttle{env: env, props: ThrottleProps{Interval: Duration(time.Second)}}
	t.reset()
	return t
}

func (t *Throttle) reset() {
	t.limiter = rate.NewLimiter(rate.Every(t.props.Interval.D()), 1)
	t.holding = false
	t.held = nil
}

func (t *Throttle) Ports() node.Ports {
	return node.Ports{
		Inputs:  []node.Socket{{Name: "in", Type: cty.DynamicPseudoType, Single: true}},
		Outputs: []node.Socket{node.Out("out", cty.DynamicPseudoType)},
	}
}

func (t *Throttle) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	now := t.env.Clock.Now()
	v, _ := in.First("in")
	if !value.Equal(v, t.out) {
		t.held, t.holding = v, true
	} else {
		t.holding = false
	}

	if t.holding && !t.env.Timers.Active("trailing") {
		r := t.limiter.ReserveN(now, 1)
		if wait := r.DelayFrom(now); wait > 0 {
			r.CancelAt(now)
			t.env.Timers.After("trailing", wait, func() {})
		} else {
			t.out = t.held
			t.holding = false
			t.held = nil
		}
	}
	return node.Outputs{"out": t.out}, nil
}

func (t *Throttle) Serialize() (json.RawMessage, error) { return node.Save(t.props) }

func (t *Throttle) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &t.props); err != nil {
		return err
	}
	t.env.Timers.CancelAll()
	t.reset()
	return nil
}

func (t *Throttle) Destroy() { t.env.Timers.CancelAll() }
