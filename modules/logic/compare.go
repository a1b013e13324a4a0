package logic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// CompareProps configure a comparison. B is used when the b socket is not
// wired.
type CompareProps struct {
	Op string `json:"op"`
	B  any    `json:"b,omitempty"`
}

// Compare outputs a op b.
type Compare struct {
	props CompareProps
}

func (c *Compare) Ports() node.Ports {
	return node.Ports{
		Inputs: []node.Socket{
			{Name: "a", Type: cty.DynamicPseudoType, Single: true},
			{Name: "b", Type: cty.DynamicPseudoType, Single: true},
		},
		Outputs: []node.Socket{node.Out("out", cty.Bool)},
	}
}

func (c *Compare) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	a, _ := in.First("a")
	b, ok := in.First("b")
	if !ok {
		b = c.props.B
	}

	switch c.props.Op {
	case "eq":
		return node.Outputs{"out": value.Equal(a, b)}, nil
	case "neq":
		return node.Outputs{"out": !value.Equal(a, b)}, nil
	}

	x, okA := value.Number(a)
	y, okB := value.Number(b)
	if !okA || !okB {
		return node.Outputs{"out": false}, nil
	}
	var out bool
	switch c.props.Op {
	case "gt":
		out = x > y
	case "gte":
		out = x >= y
	case "lt":
		out = x < y
	case "lte":
		out = x <= y
	default:
		return nil, fmt.Errorf("unknown compare op '%s'", c.props.Op)
	}
	return node.Outputs{"out": out}, nil
}

func (c *Compare) Serialize() (json.RawMessage, error) { return node.Save(c.props) }
func (c *Compare) Restore(raw json.RawMessage) error  { return node.Load(raw, &c.props) }
func (c *Compare) Destroy()                           {}
