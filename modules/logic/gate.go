package logic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// MaxGateInputs bounds the resizable input list.
const MaxGateInputs = 32

// GateProps configure a gate.
type GateProps struct {
	Op     string `json:"op"`
	Inputs int    `json:"inputs"`
}

// Gate combines boolean inputs in0..inN-1. The input count is resizable at
// runtime; connections to removed slots are severed by the evaluator.
type Gate struct {
	env   node.Env
	props GateProps
}

// NewGate builds a two-input AND gate.
func NewGate(env node.Env) *Gate {
	return &Gate{env: env, props: GateProps{Op: "and", Inputs: 2}}
}

func slot(i int) string { return fmt.Sprintf("in%d", i) }

func (g *Gate) count() int {
	n := g.props.Inputs
	if g.props.Op == "not" {
		return 1
	}
	if n < 1 {
		n = 1
	}
	if n > MaxGateInputs {
		n = MaxGateInputs
	}
	return n
}

func (g *Gate) Ports() node.Ports {
	p := node.Ports{Outputs: []node.Socket{node.Out("out", cty.Bool)}}
	for i := 0; i < g.count(); i++ {
		p.Inputs = append(p.Inputs, node.Socket{Name: slot(i), Type: cty.Bool, Single: true})
	}
	return p
}

// SetInputs resizes the input list and requests evaluation.
func (g *Gate) SetInputs(n int) {
	g.props.Inputs = n
	g.env.Notify()
}

func (g *Gate) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	var vals []bool
	for i := 0; i < g.count(); i++ {
		raw, ok := in.First(slot(i))
		if !ok {
			continue
		}
		vals = append(vals, value.Truthy(raw))
	}

	var out bool
	switch g.props.Op {
	case "and", "nand":
		out = len(vals) > 0
		for _, v := range vals {
			out = out && v
		}
	case "or", "nor":
		for _, v := range vals {
			out = out || v
		}
	case "xor":
		for _, v := range vals {
			out = out != v
		}
	case "not":
		out = len(vals) == 0 || !vals[0]
	default:
		return nil, fmt.Errorf("unknown gate op '%s'", g.props.Op)
	}
	if g.props.Op == "nand" || g.props.Op == "nor" {
		out = !out
	}
	return node.Outputs{"out": out}, nil
}

func (g *Gate) Serialize() (json.RawMessage, error) { return node.Save(g.props) }
func (g *Gate) Restore(raw json.RawMessage) error  { return node.Load(raw, &g.props) }
func (g *Gate) Destroy()                           {}
