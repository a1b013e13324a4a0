package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/specialistvlad/tickgraph/internal/clock/clocktest"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/inmemorystore"
	"github.com/specialistvlad/tickgraph/internal/metrics"
	"github.com/specialistvlad/tickgraph/internal/nodestore"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/specialistvlad/tickgraph/modules/buffer"
	"github.com/specialistvlad/tickgraph/modules/device"
	"github.com/specialistvlad/tickgraph/modules/logic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lampDoc = `{
  "nodes": [
    {"id": "switch", "type": "logic.value", "properties": {"value": false}},
    {"id": "edge", "type": "logic.edge"}
  ],
  "connections": [
    {"sourceId": "switch", "sourceSocket": "out", "targetId": "edge", "targetSocket": "in"}
  ]
}`

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	logger, _ := testutil.NewLogger(t)
	opts.Registry = registry.New(&logic.Module{}, &device.Module{}, &buffer.Module{})
	opts.Logger = logger
	if opts.Clock == nil {
		opts.Clock = clocktest.New(testutil.Epoch)
	}
	s := New(opts)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func parse(t *testing.T, doc string) *graph.Document {
	t.Helper()
	d, err := graph.ParseDocument([]byte(doc))
	require.NoError(t, err)
	return d
}

func TestStart_SettlesAndRaisesSignal(t *testing.T) {
	s := newSession(t, Options{})
	assert.False(t, s.Settled())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Start(t.Context(), parse(t, lampDoc)))
	assert.True(t, s.Settled())
	assert.False(t, s.Evaluator().HasPending())

	v, _ := s.Evaluator().Output("edge", "value")
	assert.Equal(t, false, v)
	assert.Error(t, s.Start(t.Context(), parse(t, lampDoc)), "a session starts once")
}

func TestRun_TicksOnDemand(t *testing.T) {
	s := newSession(t, Options{})
	require.ErrorIs(t, s.Run(t.Context()), ErrNotStarted)
	require.NoError(t, s.Start(t.Context(), parse(t, lampDoc)))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, s.SetValue("switch", true))
	require.Eventually(t, func() bool {
		v, _ := s.Evaluator().Output("edge", "value")
		return v == true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSetValue_Errors(t *testing.T) {
	s := newSession(t, Options{})
	assert.ErrorIs(t, s.SetValue("switch", 1), ErrNotStarted)
	require.NoError(t, s.Start(t.Context(), parse(t, lampDoc)))
	assert.Error(t, s.SetValue("edge", 1))
	assert.Error(t, s.SetValue("missing", 1))
}

func TestPersistence_ResumesAcrossSessions(t *testing.T) {
	store := inmemorystore.New()

	first := newSession(t, Options{Name: "home", Store: store})
	require.NoError(t, first.Start(t.Context(), parse(t, lampDoc)))
	require.NoError(t, first.SetValue("switch", true))
	require.NoError(t, first.Settle(t.Context()))

	snaps, err := store.Load(t.Context(), "home")
	require.NoError(t, err)
	require.Contains(t, snaps, "switch")
	assert.JSONEq(t, `{"value":true}`, string(snaps["switch"].State))
	assert.Equal(t, "logic.value", snaps["switch"].Type)
	require.NoError(t, first.Close(t.Context()))

	second := newSession(t, Options{Name: "home", Store: store})
	require.NoError(t, second.Start(t.Context(), parse(t, lampDoc)))
	v, _ := second.Evaluator().Output("switch", "out")
	assert.Equal(t, true, v, "snapshot wins over document properties")

	// A resumed high level is not a rising edge.
	rising, _ := second.Evaluator().Output("edge", "rising")
	assert.Equal(t, false, rising)
}

func TestPersistence_IgnoresSnapshotOfOtherType(t *testing.T) {
	store := inmemorystore.New()
	require.NoError(t, store.Save(context.Background(), "root", nodestoreSnapshot("switch", "logic.gate", `{"value":true}`)))

	s := newSession(t, Options{Store: store})
	require.NoError(t, s.Start(t.Context(), parse(t, lampDoc)))
	v, _ := s.Evaluator().Output("switch", "out")
	assert.Equal(t, false, v)
}

func TestReload(t *testing.T) {
	store := inmemorystore.New()
	s := newSession(t, Options{Store: store})
	require.ErrorIs(t, s.Reload(t.Context(), parse(t, lampDoc)), ErrNotStarted)
	require.NoError(t, s.Start(t.Context(), parse(t, lampDoc)))
	require.NoError(t, s.SetValue("switch", true))
	require.NoError(t, s.Settle(t.Context()))
	before := s.Evaluator()

	// A cyclic document is rejected and the running graph is kept.
	cyclic := `{
	  "nodes": [{"id": "a", "type": "logic.edge"}, {"id": "b", "type": "logic.edge"}],
	  "connections": [
	    {"sourceId": "a", "sourceSocket": "value", "targetId": "b", "targetSocket": "in"},
	    {"sourceId": "b", "sourceSocket": "value", "targetId": "a", "targetSocket": "in"}
	  ]
	}`
	require.ErrorIs(t, s.Reload(t.Context(), parse(t, cyclic)), graph.ErrCyclicGraph)
	assert.Same(t, before, s.Evaluator())

	// The switch survives the reload with its live value; the edge node is dropped.
	next := `{"nodes": [{"id": "switch", "type": "logic.value", "properties": {"value": false}}]}`
	require.NoError(t, s.Reload(t.Context(), parse(t, next)))
	assert.NotSame(t, before, s.Evaluator())
	assert.True(t, s.Settled())
	v, _ := s.Evaluator().Output("switch", "out")
	assert.Equal(t, true, v)

	snaps, err := store.Load(t.Context(), "root")
	require.NoError(t, err)
	assert.NotContains(t, snaps, "edge")
}

func TestDeliverDeviceState(t *testing.T) {
	s := newSession(t, Options{})
	assert.Equal(t, 0, s.DeliverDeviceState("sensor.hall", map[string]any{"on": true}))

	doc := `{"nodes": [
	  {"id": "hall", "type": "device.state", "properties": {"device": "sensor.hall"}},
	  {"id": "attic", "type": "device.state", "properties": {"device": "sensor.attic"}}
	]}`
	require.NoError(t, s.Start(t.Context(), parse(t, doc)))
	assert.Equal(t, 1, s.DeliverDeviceState("sensor.hall", map[string]any{"on": true}))
	assert.Equal(t, 0, s.DeliverDeviceState("sensor.garage", map[string]any{"on": true}))
	require.NoError(t, s.Settle(t.Context()))

	on, _ := s.Evaluator().Output("hall", "on")
	assert.Equal(t, true, on)
	on, _ = s.Evaluator().Output("attic", "on")
	assert.Equal(t, false, on)
}

func TestBufferPublishesAreCounted(t *testing.T) {
	m := metrics.New()
	s := newSession(t, Options{Metrics: m})
	doc := `{
	  "nodes": [
	    {"id": "v", "type": "logic.value", "properties": {"value": 3}},
	    {"id": "w", "type": "buffer.set", "properties": {"name": "level"}}
	  ],
	  "connections": [{"sourceId": "v", "sourceSocket": "out", "targetId": "w", "targetSocket": "value"}]
	}`
	require.NoError(t, s.Start(t.Context(), parse(t, doc)))

	e, ok := s.Channel().Get("[Number]level")
	require.True(t, ok)
	assert.Equal(t, 3.0, e.Value)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "tickgraph_buffer_publishes_total" {
			found = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func nodestoreSnapshot(id, typ, state string) nodestore.Snapshot {
	return nodestore.Snapshot{ID: id, Type: typ, State: json.RawMessage(state)}
}
