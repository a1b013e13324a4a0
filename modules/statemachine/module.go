// Package statemachine provides a finite state machine node with event
// transitions and per-state timeouts.
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/specialistvlad/tickgraph/modules/timing"
	"github.com/zclconf/go-cty/cty"
)

// TypeName is the registered node type.
const TypeName = "statemachine"

// Any matches every source state in a transition.
const Any = "*"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the node type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(TypeName, func(env node.Env) node.Node { return &Machine{env: env} })
}

// StateDef describes one state. A state with a Timeout moves to Next once
// it has been active that long.
type StateDef struct {
	Timeout timing.Duration `json:"timeout,omitempty"`
	Next    string          `json:"next,omitempty"`
}

// Transition moves From to To when Event arrives.
type Transition struct {
	From  string `json:"from"`
	Event string `json:"event"`
	To    string `json:"to"`
}

// Props is the persisted state of a machine. Current and EnteredAt are
// saved so a restart resumes the running state and its timeout.
type Props struct {
	Initial     string              `json:"initial"`
	States      map[string]StateDef `json:"states"`
	Transitions []Transition        `json:"transitions,omitempty"`
	Current     string              `json:"current,omitempty"`
	EnteredAt   time.Time           `json:"enteredAt,omitempty"`
}

// Machine is the state machine node.
//
// Events arrive as string values on the "event" socket. A value counts as
// an event when it differs from the value seen on the same connection in
// the previous evaluation; the first evaluation after load only records a
// baseline, as does the "reset" latch.
type Machine struct {
	env   node.Env
	props Props

	events   []any
	primed   bool
	reset    node.Latch
	previous string
}

func (m *Machine) Ports() node.Ports {
	return node.Ports{
		Inputs: []node.Socket{
			node.In("event", cty.String),
			{Name: "reset", Type: cty.Bool, Single: true},
		},
		Outputs: []node.Socket{
			node.Out("state", cty.String),
			node.Out("previous", cty.String),
			node.Out("changed", cty.Bool),
		},
	}
}

func (m *Machine) enter(state string, at time.Time) {
	if state == m.props.Current {
		return
	}
	m.env.Logger.Debug("State transition.", "from", m.props.Current, "to", state)
	m.previous = m.props.Current
	m.props.Current = state
	m.props.EnteredAt = at
	m.env.Timers.Cancel("timeout")
}

func (m *Machine) fire(event string, at time.Time) {
	for _, tr := range m.props.Transitions {
		if tr.Event == event && (tr.From == m.props.Current || tr.From == Any) {
			m.enter(tr.To, at)
			return
		}
	}
	m.env.Logger.Debug("Event ignored in current state.", "state", m.props.Current, "event", event)
}

func (m *Machine) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	if m.props.Initial == "" {
		return nil, fmt.Errorf("initial state is required")
	}
	if _, ok := m.props.States[m.props.Initial]; !ok && len(m.props.States) > 0 {
		return nil, fmt.Errorf("initial state '%s' is not defined", m.props.Initial)
	}

	now := m.env.Clock.Now()
	start := m.props.Current
	if m.props.Current == "" {
		m.enter(m.props.Initial, now)
	}

	raw, _ := in.First("reset")
	if m.reset.Observe(value.Truthy(raw)) == node.EdgeRising {
		m.enter(m.props.Initial, now)
	}

	events := in["event"]
	if m.primed {
		for i, ev := range events {
			if i < len(m.events) && value.Equal(ev, m.events[i]) {
				continue
			}
			if name, ok := ev.(string); ok && name != "" {
				m.fire(name, now)
			}
		}
	}
	m.events = append(m.events[:0], events...)
	m.primed = true

	// Follow elapsed timeouts, possibly several when the node slept.
	for range len(m.props.States) + 1 {
		def := m.props.States[m.props.Current]
		if def.Timeout <= 0 || def.Next == "" {
			break
		}
		deadline := m.props.EnteredAt.Add(def.Timeout.D())
		if now.Before(deadline) {
			if !m.env.Timers.Active("timeout") {
				m.env.Timers.After("timeout", deadline.Sub(now), func() {})
			}
			break
		}
		m.enter(def.Next, deadline)
	}

	changed := m.props.Current != start
	if changed {
		m.env.Notify()
	}
	return node.Outputs{
		"state":    m.props.Current,
		"previous": m.previous,
		"changed":  changed,
	}, nil
}

// State returns the active state.
func (m *Machine) State() string { return m.props.Current }

func (m *Machine) Serialize() (json.RawMessage, error) { return node.Save(m.props) }

func (m *Machine) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &m.props); err != nil {
		return err
	}
	m.env.Timers.CancelAll()
	m.events = nil
	m.primed = false
	m.reset.Reset()
	return nil
}

func (m *Machine) Destroy() { m.env.Timers.CancelAll() }
