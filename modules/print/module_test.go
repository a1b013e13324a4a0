package print

import (
	"bytes"
	"testing"

	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	h := testutil.NewHarness(t, []registry.Module{testutil.ProbeModule{}, &Module{Out: &out}})
	h.Load(`{
	  "nodes": [
	    {"id": "a", "type": "test.source", "properties": {"value": {"b": 2, "a": "x"}}},
	    {"id": "b", "type": "test.source", "properties": {"value": true}},
	    {"id": "p", "type": "util.print", "properties": {"label": "dbg"}}
	  ],
	  "connections": [
	    {"sourceId": "a", "sourceSocket": "out", "targetId": "p", "targetSocket": "value"},
	    {"sourceId": "b", "sourceSocket": "out", "targetId": "p", "targetSocket": "value"}
	  ]
	}`)
	h.Settle()

	assert.Equal(t, "dbg: a = x\ndbg: b = 2\ndbg: true\n", out.String())
	assert.Contains(t, h.Logs.String(), "Printing input")
}
