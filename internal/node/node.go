package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/clock"
	"github.com/specialistvlad/tickgraph/internal/timer"
)

// Inputs maps an input socket name to the ordered values of every
// connection terminating there. A socket that is not wired is absent.
type Inputs map[string][]any

// Outputs maps an output socket name to its value for this evaluation.
type Outputs map[string]any

// Node is a stateful unit with a transfer function.
type Node interface {
	Data(ctx context.Context, in Inputs) (Outputs, error)
	Serialize() (json.RawMessage, error)
	Restore(state json.RawMessage) error
	Destroy()
}

// Factory builds a node with default properties.
type Factory func(env Env) Node

// DeviceDriver executes commands against real devices. Calls may block;
// nodes must invoke it from a detached goroutine.
type DeviceDriver interface {
	Command(ctx context.Context, deviceID, command string, args map[string]any) (map[string]any, error)
}

// Env is the host-provided environment of a node instance.
type Env struct {
	ID      string
	Type    string
	Logger  *slog.Logger
	Clock   clock.Clock
	Timers  *timer.Group
	Channel *buffer.Channel
	Devices DeviceDriver

	// Notify requests re-evaluation on the next tick. It is safe to call
	// from any goroutine.
	Notify func()
	// Post runs f serialized with evaluation ticks. Detached I/O uses it to
	// apply results to node state.
	Post func(f func())
	// Settled reports whether the host has emitted the graph-settled signal.
	Settled func() bool
	// Alive reports whether the node is still part of the graph.
	Alive func() bool
}

// Fill replaces nil callbacks with no-ops so nodes can call them freely.
func (e Env) Fill() Env {
	if e.Logger == nil {
		e.Logger = slog.New(slog.DiscardHandler)
	}
	if e.Clock == nil {
		e.Clock = clock.New()
	}
	if e.Notify == nil {
		e.Notify = func() {}
	}
	if e.Post == nil {
		e.Post = func(f func()) { f() }
	}
	if e.Settled == nil {
		e.Settled = func() bool { return true }
	}
	if e.Alive == nil {
		e.Alive = func() bool { return true }
	}
	if e.Timers == nil {
		e.Timers = timer.NewGroup(e.Clock, e.Post, e.Notify)
	}
	if e.Channel == nil {
		e.Channel = buffer.New(e.Clock)
	}
	return e
}

// DeviceListener is implemented by nodes that mirror an external device.
// The host routes pushed device state to them.
type DeviceListener interface {
	DeviceID() string
	ApplyDeviceState(state map[string]any)
}

// ChannelWriter is implemented by nodes that publish to the buffer
// channel. Names are untagged.
type ChannelWriter interface {
	ChannelWrites() []string
}

// ChannelReader is implemented by nodes that subscribe to the buffer
// channel.
type ChannelReader interface {
	ChannelReads() []string
}

// Settable is implemented by manual source nodes the host can drive.
type Settable interface {
	SetValue(v any)
}

// Load decodes raw properties onto dst. Empty input leaves dst untouched,
// and fields absent from raw keep their current values.
func Load(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}
	return nil
}

// Save encodes properties.
func Save(src any) (json.RawMessage, error) {
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return b, nil
}

// First returns the first value wired to socket.
func (in Inputs) First(socket string) (any, bool) {
	vs, ok := in[socket]
	if !ok || len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

// Wired reports whether at least one connection terminates at socket.
func (in Inputs) Wired(socket string) bool {
	_, ok := in[socket]
	return ok
}
