package timing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Queued is a value waiting to appear on the output.
type Queued struct {
	Value any       `json:"value"`
	Due   time.Time `json:"due"`
}

// DelayProps is the persisted state of a delay line. Queue and Current
// survive a restart so that a pending countdown resumes where it stopped.
type DelayProps struct {
	Delay   Duration `json:"delay"`
	Queue   []Queued `json:"queue,omitempty"`
	Current any      `json:"current,omitempty"`
}

// Delay reproduces every change of its input on the output after a fixed
// delay.
type Delay struct {
	env   node.Env
	props DelayProps

	last   any
	primed bool
}

// NewDelay builds a one second delay line.
func NewDelay(env node.Env) *Delay {
	return &Delay{env: env, props: DelayProps{Delay: Duration(time.Second)}}
}

func (d *Delay) Ports() node.Ports {
	return node.Ports{
		Inputs:  []node.Socket{{Name: "in", Type: cty.DynamicPseudoType, Single: true}},
		Outputs: []node.Socket{node.Out("out", cty.DynamicPseudoType), node.Out("pending", cty.Number)},
	}
}

func (d *Delay) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	now := d.env.Clock.Now()
	v, _ := in.First("in")

	switch {
	case !d.primed:
		d.primed = true
		d.last = v
		// With restored state the input present at load is a baseline, not
		// a change. A fresh line delays its first input like any other.
		if d.props.Current == nil && len(d.props.Queue) == 0 && v != nil {
			d.props.Queue = append(d.props.Queue, Queued{Value: v, Due: now.Add(d.props.Delay.D())})
		}
	case !value.Equal(v, d.last):
		d.last = v
		d.props.Queue = append(d.props.Queue, Queued{Value: v, Due: now.Add(d.props.Delay.D())})
	}

	for len(d.props.Queue) > 0 && !d.props.Queue[0].Due.After(now) {
		d.props.Current = d.props.Queue[0].Value
		d.props.Queue = d.props.Queue[1:]
	}

	if len(d.props.Queue) > 0 {
		if !d.env.Timers.Active("due") {
			d.env.Timers.After("due", untilDue(now, d.props.Queue[0].Due), func() {})
		}
	} else {
		d.env.Timers.Cancel("due")
	}

	return node.Outputs{"out": d.props.Current, "pending": len(d.props.Queue)}, nil
}

func (d *Delay) Serialize() (json.RawMessage, error) { return node.Save(d.props) }

// Restore loads the queue. Its timer is re-armed on the next evaluation
// from the persisted deadlines.
func (d *Delay) Restore(raw json.RawMessage) error {
	d.props.Queue = nil
	if err := node.Load(raw, &d.props); err != nil {
		return err
	}
	d.primed = false
	d.last = nil
	d.env.Timers.CancelAll()
	return nil
}

func (d *Delay) Destroy() { d.env.Timers.CancelAll() }
