package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/specialistvlad/tickgraph/modules/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	device, command string
	args            map[string]any
}

// fakeDriver records commands and blocks each one until released.
type fakeDriver struct {
	mu      sync.Mutex
	calls   []call
	release chan error
}

func newDriver() *fakeDriver { return &fakeDriver{release: make(chan error, 8)} }

func (d *fakeDriver) Command(ctx context.Context, deviceID, command string, args map[string]any) (map[string]any, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call{deviceID, command, args})
	d.mu.Unlock()
	select {
	case err := <-d.release:
		if err != nil {
			return nil, err
		}
		return map[string]any{"on": command == "turn_on"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDriver) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

const actionDoc = `{
  "nodes": [
    {"id": "t", "type": "test.source", "properties": {"value": false}},
    {"id": "a", "type": "device.action", "properties": {"device": "lamp", "command": "turn_on", "args": {"level": 80}}}
  ],
  "connections": [{"sourceId": "t", "sourceSocket": "out", "targetId": "a", "targetSocket": "trigger"}]
}`

func newHarness(t *testing.T, d *fakeDriver) *testutil.Harness {
	return testutil.NewHarness(t, []registry.Module{testutil.ProbeModule{}, &device.Module{}}, testutil.WithDevices(d))
}

func trigger(t *testing.T, h *testutil.Harness, v bool) {
	t.Helper()
	n, ok := h.Eval.Node("t")
	require.True(t, ok)
	n.(node.Settable).SetValue(v)
	h.Settle()
}

func awaitResult(t *testing.T, h *testutil.Harness) {
	t.Helper()
	require.Eventually(t, h.Eval.HasPending, time.Second, time.Millisecond)
	h.Settle()
}

func TestAction_WaitsForSettledSignal(t *testing.T) {
	d := newDriver()
	h := newHarness(t, d)
	h.Load(actionDoc)
	h.Settle()

	trigger(t, h, true)
	assert.Empty(t, d.Calls(), "no side effect before the graph settled")

	h.Eval.MarkSettled()
	trigger(t, h, false)
	trigger(t, h, true)
	require.Len(t, d.Calls(), 1)
	assert.Equal(t, call{"lamp", "turn_on", map[string]any{"level": 80.0}}, d.Calls()[0])
	assert.Equal(t, true, h.Out("a", "busy"))

	d.release <- nil
	awaitResult(t, h)
	assert.Equal(t, false, h.Out("a", "busy"))
	assert.Equal(t, map[string]any{"on": true}, h.Out("a", "status"))
	assert.Equal(t, 1, h.Out("a", "sent"))
}

func TestAction_OverlappingTriggersAreDropped(t *testing.T) {
	d := newDriver()
	h := newHarness(t, d)
	h.Eval.MarkSettled()
	h.Load(actionDoc)
	h.Settle()

	trigger(t, h, true)
	trigger(t, h, false)
	trigger(t, h, true)
	assert.Len(t, d.Calls(), 1)

	d.release <- nil
	awaitResult(t, h)
}

func TestAction_FailureKeepsLastKnownStatus(t *testing.T) {
	d := newDriver()
	h := newHarness(t, d)
	h.Eval.MarkSettled()
	h.Load(`{
	  "nodes": [
	    {"id": "t", "type": "test.source", "properties": {"value": false}},
	    {"id": "a", "type": "device.action", "properties": {"device": "lamp", "command": "turn_on", "status": {"on": false}}}
	  ],
	  "connections": [{"sourceId": "t", "sourceSocket": "out", "targetId": "a", "targetSocket": "trigger"}]
	}`)
	h.Settle()

	trigger(t, h, true)
	d.release <- errors.New("device offline")
	awaitResult(t, h)

	assert.Equal(t, "device offline", h.Out("a", "error"))
	assert.Equal(t, map[string]any{"on": false}, h.Out("a", "status"))
	assert.Contains(t, h.Logs.String(), "Device command failed")
}

func TestAction_RestoredHighTriggerDoesNotResend(t *testing.T) {
	d := newDriver()
	h := newHarness(t, d)
	h.Eval.MarkSettled()
	h.Load(`{
	  "nodes": [
	    {"id": "t", "type": "test.source", "properties": {"value": true}},
	    {"id": "a", "type": "device.action", "properties": {"device": "lamp", "command": "turn_on", "status": {"on": true}}}
	  ],
	  "connections": [{"sourceId": "t", "sourceSocket": "out", "targetId": "a", "targetSocket": "trigger"}]
	}`)
	h.Settle()
	assert.Empty(t, d.Calls())
	assert.Equal(t, map[string]any{"on": true}, h.Out("a", "status"))
}

func TestAction_RemovedWhileInFlight(t *testing.T) {
	d := newDriver()
	h := newHarness(t, d)
	h.Eval.MarkSettled()
	h.Load(actionDoc)
	h.Settle()
	trigger(t, h, true)
	require.Len(t, d.Calls(), 1)

	require.NoError(t, h.Eval.Remove("a"))
	d.release <- nil
	time.Sleep(10 * time.Millisecond)
	_, ok := h.Eval.Output("a", "status")
	assert.False(t, ok)
}

func TestState(t *testing.T) {
	h := newHarness(t, newDriver())
	h.Load(`{"nodes": [{"id": "s", "type": "device.state", "properties": {"device": "lamp"}}]}`)
	h.Settle()
	assert.Equal(t, false, h.Out("s", "on"))

	n, _ := h.Eval.Node("s")
	l, ok := n.(node.DeviceListener)
	require.True(t, ok)
	assert.Equal(t, "lamp", l.DeviceID())

	l.ApplyDeviceState(map[string]any{"on": true, "level": 40})
	require.True(t, h.Eval.HasPending())
	h.Settle()
	assert.Equal(t, true, h.Out("s", "on"))
	assert.Equal(t, map[string]any{"on": true, "level": 40}, h.Out("s", "state"))

	raw, err := n.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `{"device": "lamp", "state": {"on": true, "level": 40}}`, string(raw))
}
