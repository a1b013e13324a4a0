package logic

import (
	"context"
	"encoding/json"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Edge detects transitions of its boolean input.
//
// rising, falling and changed are momentary: they are true for the tick in
// which the transition was seen and fall back to false on the next tick.
// The first value seen after construction or restore is a baseline and
// never counts as a transition.
type Edge struct {
	env   node.Env
	latch node.Latch
}

func (e *Edge) Ports() node.Ports {
	return node.Ports{
		Inputs: []node.Socket{{Name: "in", Type: cty.Bool, Single: true}},
		Outputs: []node.Socket{
			node.Out("value", cty.Bool),
			node.Out("rising", cty.Bool),
			node.Out("falling", cty.Bool),
			node.Out("changed", cty.Bool),
		},
	}
}

func (e *Edge) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	raw, _ := in.First("in")
	v := value.Truthy(raw)
	edge := e.latch.Observe(v)

	out := node.Outputs{
		"value":   v,
		"rising":  edge == node.EdgeRising,
		"falling": edge == node.EdgeFalling,
		"changed": edge != node.EdgeNone,
	}
	if edge != node.EdgeNone {
		e.env.Notify()
	}
	return out, nil
}

func (e *Edge) Serialize() (json.RawMessage, error) { return json.RawMessage("{}"), nil }

// Restore forgets the previous input so that a restored graph does not
// report a transition against stale state.
func (e *Edge) Restore(json.RawMessage) error {
	e.latch.Reset()
	return nil
}

func (e *Edge) Destroy() {}
