package devicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/metrics"
	"github.com/specialistvlad/tickgraph/internal/node"
)

// Event names exchanged with the gateway.
const (
	EventDeviceState   = "device_state"
	EventDeviceCommand = "device_command"
	EventDeviceResult  = "device_result"
	EventBufferUpdate  = "buffer_update"

	// EventDisconnect is raised by the socket.io client itself when the
	// connection drops.
	EventDisconnect = "disconnect"
)

var (
	// ErrNotConnected is returned by Command while the gateway is unreachable.
	ErrNotConnected = errors.New("device gateway is not connected")
	// ErrClosed is returned by Command after Close.
	ErrClosed = errors.New("device bus is closed")
)

// CommandError is a failure reported by the gateway for one command.
type CommandError struct {
	Device  string
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device '%s' rejected '%s': %s", e.Device, e.Command, e.Message)
}

// StateRouter delivers pushed state to listening nodes and reports how many
// received it.
type StateRouter func(deviceID string, state map[string]any) int

type result struct {
	status map[string]any
	err    error
}

// Bus implements node.DeviceDriver over a Conn and dispatches gateway
// events.
type Bus struct {
	conn    Conn
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	pending map[string]chan result
	router  StateRouter
	closed  bool
}

var _ node.DeviceDriver = (*Bus)(nil)

// New wires the bus handlers onto conn.
func New(conn Conn, logger *slog.Logger, m *metrics.Collector) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &Bus{
		conn:    conn,
		logger:  logger.With("component", "devicebus"),
		metrics: m,
		pending: make(map[string]chan result),
	}
	conn.On(EventDeviceState, b.handleState)
	conn.On(EventDeviceResult, b.handleResult)
	conn.On(EventDisconnect, b.handleDisconnect)
	return b
}

// Route sets where pushed device state goes. Events that arrive before a
// router is set are counted and dropped.
func (b *Bus) Route(r StateRouter) {
	b.mu.Lock()
	b.router = r
	b.mu.Unlock()
}

// Command sends a command and waits for its result or for ctx to end.
func (b *Bus) Command(ctx context.Context, deviceID, command string, args map[string]any) (map[string]any, error) {
	if !b.conn.Connected() {
		b.metrics.DeviceCommand("disconnected")
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan result, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()
	// A drop between the first check and registration would otherwise
	// leave the request waiting on a result that never comes.
	if !b.conn.Connected() {
		b.metrics.DeviceCommand("disconnected")
		return nil, ErrNotConnected
	}

	if args == nil {
		args = map[string]any{}
	}
	b.logger.Debug("Sending device command.", "request_id", id, "device", deviceID, "command", command)
	b.conn.Emit(EventDeviceCommand, map[string]any{
		"id":      id,
		"device":  deviceID,
		"command": command,
		"args":    args,
	})

	select {
	case res := <-ch:
		if errors.Is(res.err, ErrNotConnected) {
			b.metrics.DeviceCommand("disconnected")
			return nil, res.err
		}
		if res.err != nil {
			var cmdErr *CommandError
			if errors.As(res.err, &cmdErr) {
				cmdErr.Device, cmdErr.Command = deviceID, command
			}
			b.metrics.DeviceCommand("failed")
			return nil, res.err
		}
		b.metrics.DeviceCommand("ok")
		return res.status, nil
	case <-ctx.Done():
		b.metrics.DeviceCommand("timeout")
		return nil, fmt.Errorf("waiting for '%s' on '%s': %w", command, deviceID, ctx.Err())
	}
}

// Mirror emits a buffer channel change to the gateway. It is meant to be
// registered with buffer.Channel.Tap.
func (b *Bus) Mirror(e buffer.Entry) {
	if !b.conn.Connected() {
		return
	}
	b.conn.Emit(EventBufferUpdate, map[string]any{
		"key":       e.Key,
		"value":     e.Value,
		"source":    e.Source,
		"timestamp": e.Timestamp,
		"retracted": e.Retracted,
	})
}

// Close fails every waiting command and closes the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.pending {
		ch <- result{err: ErrClosed}
		delete(b.pending, id)
	}
	b.mu.Unlock()
	b.conn.Close()
}

// handleDisconnect fails every waiting command. Results for them will not
// arrive on a new connection.
func (b *Bus) handleDisconnect(reason ...any) {
	b.mu.Lock()
	n := len(b.pending)
	for id, ch := range b.pending {
		ch <- result{err: ErrNotConnected}
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if n > 0 {
		b.logger.Warn("Gateway disconnected with commands in flight.", "failed", n, "reason", fmt.Sprint(reason...))
	}
}

func (b *Bus) handleState(args ...any) {
	msg, ok := firstObject(args)
	deviceID, _ := msg["device"].(string)
	state, _ := msg["state"].(map[string]any)
	if !ok || deviceID == "" || state == nil {
		b.logger.Warn("Ignoring malformed device state event.", "payload", fmt.Sprint(args...))
		b.metrics.DeviceEvent("invalid")
		return
	}

	b.mu.Lock()
	router := b.router
	b.mu.Unlock()
	if router == nil {
		b.metrics.DeviceEvent("unrouted")
		return
	}
	if n := router(deviceID, state); n == 0 {
		b.logger.Debug("No node listens for device.", "device", deviceID)
		b.metrics.DeviceEvent("unrouted")
		return
	}
	b.metrics.DeviceEvent("routed")
}

func (b *Bus) handleResult(args ...any) {
	msg, ok := firstObject(args)
	id, _ := msg["id"].(string)
	if !ok || id == "" {
		b.logger.Warn("Ignoring malformed device result.", "payload", fmt.Sprint(args...))
		return
	}

	b.mu.Lock()
	ch, waiting := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if !waiting {
		b.logger.Debug("Device result for an unknown or abandoned request.", "request_id", id)
		return
	}

	if okFlag, _ := msg["ok"].(bool); !okFlag {
		text, _ := msg["error"].(string)
		if text == "" {
			text = "unknown error"
		}
		ch <- result{err: &CommandError{Message: text}}
		return
	}
	status, _ := msg["status"].(map[string]any)
	ch <- result{status: status}
}

func firstObject(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	return m, ok
}
