package timing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// PulseProps is the persisted state of a pulse shaper.
type PulseProps struct {
	Duration  Duration `json:"duration"`
	Retrigger bool     `json:"retrigger,omitempty"`
	// Until is the end of the running pulse; zero when idle.
	Until time.Time `json:"until,omitempty"`
}

// Pulse turns a rising edge on "trigger" into a true output lasting
// Duration, then drops back to false.
type Pulse struct {
	env   node.Env
	props PulseProps
	latch node.Latch
}

// NewPulse builds a one second pulse shaper.
func NewPulse(env node.Env) *Pulse {
	return &Pulse{env: env, props: PulseProps{Duration: Duration(time.Second)}}
}

func (p *Pulse) Ports() node.Ports {
	return node.Ports{
		Inputs:  []node.Socket{{Name: "trigger", Type: cty.Bool, Single: true}},
		Outputs: []node.Socket{node.Out("out", cty.Bool)},
	}
}

func (p *Pulse) active(now time.Time) bool {
	return !p.props.Until.IsZero() && now.Before(p.props.Until)
}

func (p *Pulse) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	now := p.env.Clock.Now()
	raw, _ := in.First("trigger")
	edge := p.latch.Observe(value.Truthy(raw))

	if edge == node.EdgeRising && (!p.active(now) || p.props.Retrigger) {
		p.props.Until = now.Add(p.props.Duration.D())
		p.env.Timers.Cancel("end")
	}

	if p.active(now) {
		if !p.env.Timers.Active("end") {
			p.env.Timers.After("end", untilDue(now, p.props.Until), func() {})
		}
		return node.Outputs{"out": true}, nil
	}
	p.props.Until = time.Time{}
	return node.Outputs{"out": false}, nil
}

func (p *Pulse) Serialize() (json.RawMessage, error) { return node.Save(p.props) }

// Restore keeps a persisted pulse running until its end time. The trigger
// latch starts unprimed, so a trigger that is already high does not start a
// new pulse.
func (p *Pulse) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &p.props); err != nil {
		return err
	}
	p.latch.Reset()
	p.env.Timers.CancelAll()
	return nil
}

func (p *Pulse) Destroy() { p.env.Timers.CancelAll() }
