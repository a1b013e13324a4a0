package subgraph_test

import (
	"testing"
	"time"

	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/subgraph"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outerDoc = `{
  "nodes": [
    {"id": "a", "type": "test.source", "properties": {"value": 4}},
    {"id": "local", "type": "test.collect"},
    {"id": "sub", "type": "graph.subgraph", "properties": {
      "graph": {
        "nodes": [
          {"id": "n", "type": "test.collect"},
          {"id": "t", "type": "test.later", "properties": {"delay": "1s"}}
        ]
      },
      "ports": {
        "inputs": {"exp_in": {"node": "n", "socket": "in"}},
        "outputs": {
          "exp_out": {"node": "n", "socket": "sum"},
          "fired": {"node": "t", "socket": "fired"}
        }
      }
    }},
    {"id": "c", "type": "test.collect"}
  ],
  "connections": [
    {"sourceId": "a", "sourceSocket": "out", "targetId": "local", "targetSocket": "in"},
    {"sourceId": "a", "sourceSocket": "out", "targetId": "sub", "targetSocket": "exp_in"},
    {"sourceId": "sub", "sourceSocket": "exp_out", "targetId": "c", "targetSocket": "in"}
  ]
}`

func newHarness(t *testing.T) *testutil.Harness {
	h := testutil.NewHarness(t, []registry.Module{testutil.ProbeModule{}, subgraph.Module{}})
	h.Load(outerDoc)
	return h
}

func subNode(t *testing.T, h *testutil.Harness) *subgraph.Node {
	n, ok := h.Eval.Node("sub")
	require.True(t, ok)
	return n.(*subgraph.Node)
}

func TestSubgraph_RoundTrip(t *testing.T) {
	h := newHarness(t)
	sub := subNode(t, h)
	assert.Equal(t, subgraph.Uninitialized, sub.State())
	assert.Nil(t, sub.Inner(), "the inner evaluator is created lazily")

	h.Settle()
	assert.Equal(t, subgraph.Settled, sub.State())
	assert.Equal(t, h.Out("local", "sum"), h.Out("sub", "exp_out"))
	assert.Equal(t, 4.0, h.Out("c", "sum"))

	t.Run("outer input change re-enters evaluation", func(t *testing.T) {
		src, _ := h.Eval.Node("a")
		src.(interface{ SetValue(any) }).SetValue(9)
		h.Settle()
		assert.Equal(t, 9.0, h.Out("sub", "exp_out"))
		assert.Equal(t, h.Out("local", "sum"), h.Out("sub", "exp_out"))
	})
}

func TestSubgraph_Quiescence(t *testing.T) {
	h := newHarness(t)
	first := h.Tick()
	assert.Contains(t, first.Evaluated, "sub")
	assert.True(t, h.Tick().Quiet(), "inner load must not leave the outer node dirty")
}

func TestSubgraph_InnerTimersBubbleUp(t *testing.T) {
	h := newHarness(t)
	h.Settle()
	assert.Equal(t, false, h.Out("sub", "fired"))

	h.Clock.Advance(time.Second)
	assert.True(t, h.Eval.HasPending(), "inner timer must mark the outer node dirty")

	h.Settle()
	assert.Equal(t, true, h.Out("sub", "fired"))
}

func TestSubgraph_MarkDuringEvaluationIsForwarded(t *testing.T) {
	h := newHarness(t)
	h.Settle()
	sub := subNode(t, h)

	release := sub.Hold()
	sub.Inner().MarkDirty("n")
	assert.False(t, h.Eval.HasPending(), "marks are held back while the node evaluates")

	release()
	assert.True(t, h.Eval.HasPending(), "a mark that lands before the node finishes must reach the outer graph")
	h.Settle()
	assert.False(t, sub.Inner().HasPending())
}

func TestSubgraph_PortsAndPersistence(t *testing.T) {
	h := newHarness(t)
	sub := subNode(t, h)

	ports := sub.Ports()
	require.Len(t, ports.Inputs, 1)
	assert.Equal(t, "exp_in", ports.Inputs[0].Name)
	require.Len(t, ports.Outputs, 2)
	assert.Equal(t, "exp_out", ports.Outputs[0].Name)
	assert.Equal(t, "fired", ports.Outputs[1].Name)

	h.Settle()
	raw, err := sub.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"delay":"1s"`)

	require.NoError(t, sub.Restore(raw))
	assert.Equal(t, subgraph.Uninitialized, sub.State())
	assert.Nil(t, sub.Inner())
}

func TestSubgraph_BadInnerGraphFailsOnlyTheNode(t *testing.T) {
	h := testutil.NewHarness(t, []registry.Module{testutil.ProbeModule{}, subgraph.Module{}})
	h.Load(`{
	  "nodes": [
	    {"id": "ok", "type": "test.source", "properties": {"value": 1}},
	    {"id": "sub", "type": "graph.subgraph", "properties": {"graph": {
	      "nodes": [{"id": "x", "type": "test.fail"}, {"id": "y", "type": "test.fail"}],
	      "connections": [
	        {"sourceId": "x", "sourceSocket": "out", "targetId": "y", "targetSocket": "in"},
	        {"sourceId": "y", "sourceSocket": "out", "targetId": "x", "targetSocket": "in"}
	      ]
	    }}}
	  ]
	}`)

	r := h.Tick()
	assert.Equal(t, []string{"sub"}, r.Failed)
	assert.Equal(t, 1.0, h.Out("ok", "out"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", subgraph.Uninitialized.String())
	assert.Equal(t, "initialized", subgraph.Initialized.String())
	assert.Equal(t, "evaluating", subgraph.Evaluating.String())
	assert.Equal(t, "settled", subgraph.Settled.String())
}
