package devicebus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload map[string]any
}

// fakeConn records emits and lets tests push events as the gateway would.
type fakeConn struct {
	mu        sync.Mutex
	handlers  map[string]func(...any)
	emits     chan emitted
	connected bool
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]func(...any){}, emits: make(chan emitted, 16), connected: true}
}

func (c *fakeConn) On(event string, fn func(...any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *fakeConn) Emit(event string, payload any) {
	c.emits <- emitted{event: event, payload: payload.(map[string]any)}
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
}

// drop simulates the socket losing its connection.
func (c *fakeConn) drop(reason string) {
	c.mu.Lock()
	c.connected = false
	h := c.handlers[EventDisconnect]
	c.mu.Unlock()
	if h != nil {
		h(reason)
	}
}

func (c *fakeConn) push(event string, payload any) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	h(payload)
}

func (c *fakeConn) next(t *testing.T) emitted {
	t.Helper()
	select {
	case e := <-c.emits:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("nothing emitted")
		return emitted{}
	}
}

// counter reads one labelled counter from the collector's registry.
func counter(t *testing.T, m *metrics.Collector, name, label, val string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == val {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCommand_RoundTrip(t *testing.T) {
	conn := newFakeConn()
	m := metrics.New()
	bus := New(conn, nil, m)

	type reply struct {
		status map[string]any
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		status, err := bus.Command(context.Background(), "light.hall", "turn_on", map[string]any{"level": 80})
		done <- reply{status, err}
	}()

	req := conn.next(t)
	assert.Equal(t, EventDeviceCommand, req.event)
	assert.Equal(t, "light.hall", req.payload["device"])
	assert.Equal(t, "turn_on", req.payload["command"])
	assert.Equal(t, map[string]any{"level": 80}, req.payload["args"])

	// A result for someone else's request is ignored.
	conn.push(EventDeviceResult, map[string]any{"id": "other", "ok": true})
	conn.push(EventDeviceResult, map[string]any{"id": req.payload["id"], "ok": true, "status": map[string]any{"on": true}})

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, map[string]any{"on": true}, got.status)
	assert.Equal(t, 1.0, counter(t, m, "tickgraph_devicebus_commands_total", "result", "ok"))
}

func TestCommand_GatewayError(t *testing.T) {
	conn := newFakeConn()
	bus := New(conn, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := bus.Command(context.Background(), "lock.front", "unlock", nil)
		done <- err
	}()
	req := conn.next(t)
	assert.Equal(t, map[string]any{}, req.payload["args"])
	conn.push(EventDeviceResult, map[string]any{"id": req.payload["id"], "ok": false, "error": "jammed"})

	err := <-done
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "lock.front", cmdErr.Device)
	assert.Equal(t, "device 'lock.front' rejected 'unlock': jammed", err.Error())
}

func TestCommand_ContextAndConnection(t *testing.T) {
	conn := newFakeConn()
	bus := New(conn, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := bus.Command(ctx, "d", "c", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	conn.Close()
	_, err = bus.Command(context.Background(), "d", "c", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_FailsPendingCommands(t *testing.T) {
	conn := newFakeConn()
	bus := New(conn, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := bus.Command(context.Background(), "d", "c", nil)
		done <- err
	}()
	conn.next(t)
	bus.Close()
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.True(t, conn.closed)
}

func TestDisconnect_FailsPendingCommands(t *testing.T) {
	conn := newFakeConn()
	m := metrics.New()
	bus := New(conn, nil, m)

	done := make(chan error, 1)
	go func() {
		_, err := bus.Command(context.Background(), "light.hall", "turn_on", nil)
		done <- err
	}()
	req := conn.next(t)
	conn.drop("transport close")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("command still waiting after disconnect")
	}
	assert.Equal(t, 1.0, counter(t, m, "tickgraph_devicebus_commands_total", "result", "disconnected"))

	// A late result for the dropped request is ignored.
	conn.push(EventDeviceResult, map[string]any{"id": req.payload["id"], "ok": true})
	bus.mu.Lock()
	assert.Empty(t, bus.pending)
	bus.mu.Unlock()
}

func TestDeviceState_Routing(t *testing.T) {
	conn := newFakeConn()
	m := metrics.New()
	bus := New(conn, nil, m)

	// Nothing routes yet.
	conn.push(EventDeviceState, map[string]any{"device": "sensor.hall", "state": map[string]any{"on": true}})

	var gotID string
	var gotState map[string]any
	bus.Route(func(deviceID string, state map[string]any) int {
		gotID, gotState = deviceID, state
		if deviceID == "sensor.hall" {
			return 1
		}
		return 0
	})
	conn.push(EventDeviceState, map[string]any{"device": "sensor.hall", "state": map[string]any{"on": true}})
	conn.push(EventDeviceState, map[string]any{"device": "sensor.attic", "state": map[string]any{}})
	conn.push(EventDeviceState, "garbage")

	assert.Equal(t, "sensor.attic", gotID)
	assert.Equal(t, map[string]any{}, gotState)
	assert.Equal(t, 1.0, counter(t, m, "tickgraph_devicebus_events_total", "outcome", "routed"))
	assert.Equal(t, 2.0, counter(t, m, "tickgraph_devicebus_events_total", "outcome", "unrouted"))
	assert.Equal(t, 1.0, counter(t, m, "tickgraph_devicebus_events_total", "outcome", "invalid"))
}

func TestMirror_EmitsBufferUpdates(t *testing.T) {
	conn := newFakeConn()
	bus := New(conn, nil, nil)
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	bus.Mirror(buffer.Entry{Key: "[Boolean]away", Value: true, Source: "n1", Timestamp: at})
	e := conn.next(t)
	assert.Equal(t, EventBufferUpdate, e.event)
	assert.Equal(t, "[Boolean]away", e.payload["key"])
	assert.Equal(t, true, e.payload["value"])
	assert.Equal(t, "n1", e.payload["source"])
}
