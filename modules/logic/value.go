package logic

import (
	"context"
	"encoding/json"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// ValueProps is the persisted state of a manual value.
type ValueProps struct {
	Value any `json:"value"`
}

// Value is a source node the host sets directly.
type Value struct {
	env   node.Env
	props ValueProps
}

func (v *Value) Ports() node.Ports {
	return node.Ports{Outputs: []node.Socket{node.Out("out", cty.DynamicPseudoType)}}
}

func (v *Value) Data(context.Context, node.Inputs) (node.Outputs, error) {
	return node.Outputs{"out": v.props.Value}, nil
}

// SetValue replaces the value and requests evaluation.
func (v *Value) SetValue(x any) {
	v.props.Value = x
	v.env.Notify()
}

func (v *Value) Serialize() (json.RawMessage, error) { return node.Save(v.props) }
func (v *Value) Restore(raw json.RawMessage) error  { return node.Load(raw, &v.props) }
func (v *Value) Destroy()                           {}
