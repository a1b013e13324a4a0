// Package device provides the node types that mirror and drive external
// devices through the host's device driver.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

const (
	TypeAction = "device.action"
	TypeState  = "device.state"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the node types with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(TypeAction, func(env node.Env) node.Node { return NewAction(env) })
	r.Register(TypeState, func(env node.Env) node.Node { return &State{env: env} })
}

// ActionProps is the persisted state of an action. Status is the last
// result reported by the device, kept so the node shows "last known"
// state after a restart.
type ActionProps struct {
	Device  string         `json:"device"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
	Status  map[string]any `json:"status,omitempty"`
}

// Action sends Command to Device on every rising edge of "trigger".
//
// The call runs on its own goroutine and its result is applied through
// env.Post. Triggers are ignored until the graph has settled after load,
// and while a previous call for this node is still in flight. A failed
// call is logged and leaves Status unchanged.
type Action struct {
	env   node.Env
	props ActionProps
	latch node.Latch

	ctx    context.Context
	cancel context.CancelFunc

	inflight bool
	lastErr  string
	sent     int
}

// NewAction builds an action node.
func NewAction(env node.Env) *Action {
	ctx, cancel := context.WithCancel(context.Background())
	return &Action{env: env, ctx: ctx, cancel: cancel}
}

func (a *Action) Ports() node.Ports {
	return node.Ports{
		Inputs: []node.Socket{
			{Name: "trigger", Type: cty.Bool, Single: true},
			{Name: "args", Type: cty.DynamicPseudoType, Single: true},
		},
		Outputs: []node.Socket{
			node.Out("status", cty.DynamicPseudoType),
			node.Out("busy", cty.Bool),
			node.Out("error", cty.String),
			node.Out("sent", cty.Number),
		},
	}
}

func (a *Action) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	raw, _ := in.First("trigger")
	edge := a.latch.Observe(value.Truthy(raw))

	if edge == node.EdgeRising {
		switch {
		case !a.env.Settled():
			a.env.Logger.Debug("Ignoring trigger before the graph settled.")
		case a.inflight:
			a.env.Logger.Debug("Ignoring trigger while a command is in flight.")
		case a.env.Devices == nil:
			a.lastErr = "no device driver configured"
			a.env.Logger.Warn("Device command skipped.", "error", a.lastErr)
		default:
			args := maps.Clone(a.props.Args)
			if extra, ok := in.First("args"); ok {
				if m, ok := extra.(map[string]any); ok {
					if args == nil {
						args = map[string]any{}
					}
					maps.Copy(args, m)
				}
			}
			a.send(args)
		}
	}

	return node.Outputs{
		"status": a.props.Status,
		"busy":   a.inflight,
		"error":  a.lastErr,
		"sent":   a.sent,
	}, nil
}

func (a *Action) send(args map[string]any) {
	a.inflight = true
	a.sent++
	device, command := a.props.Device, a.props.Command
	a.env.Logger.Info("Sending device command.", "device", device, "command", command)

	go func() {
		res, err := a.env.Devices.Command(a.ctx, device, command, args)
		a.env.Post(func() {
			if !a.env.Alive() {
				return
			}
			a.inflight = false
			if err != nil {
				a.lastErr = err.Error()
				a.env.Logger.Warn("Device command failed.", "device", device, "command", command, "error", err)
			} else {
				a.lastErr = ""
				a.props.Status = res
			}
			a.env.Notify()
		})
	}()
}

func (a *Action) Serialize() (json.RawMessage, error) { return node.Save(a.props) }

// Restore loads configuration and the last known status. The trigger
// latch restarts unprimed, so a trigger that is already high does not
// resend the command.
func (a *Action) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &a.props); err != nil {
		return err
	}
	a.latch.Reset()
	return nil
}

// Destroy cancels an in-flight command.
func (a *Action) Destroy() { a.cancel() }

// State mirrors the pushed state of one device.
type State struct {
	env node.Env

	mu    sync.Mutex
	props struct {
		Device string         `json:"device"`
		State  map[string]any `json:"state,omitempty"`
	}
}

func (s *State) Ports() node.Ports {
	return node.Ports{Outputs: []node.Socket{
		node.Out("state", cty.DynamicPseudoType),
		node.Out("on", cty.Bool),
	}}
}

// DeviceID implements node.DeviceListener.
func (s *State) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props.Device
}

// ApplyDeviceState merges pushed attributes into the mirrored state and
// requests evaluation.
func (s *State) ApplyDeviceState(state map[string]any) {
	s.mu.Lock()
	if s.props.State == nil {
		s.props.State = map[string]any{}
	}
	maps.Copy(s.props.State, state)
	s.mu.Unlock()
	s.env.Notify()
}

func (s *State) Data(context.Context, node.Inputs) (node.Outputs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props.Device == "" {
		return nil, fmt.Errorf("device id is required")
	}
	return node.Outputs{
		"state": maps.Clone(s.props.State),
		"on":    value.Truthy(s.props.State["on"]),
	}, nil
}

func (s *State) Serialize() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return node.Save(s.props)
}

func (s *State) Restore(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return node.Load(raw, &s.props)
}

func (s *State) Destroy() {}
