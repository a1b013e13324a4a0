package print

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// TypeName is the registered node type.
const TypeName = "util.print"

// Module implements the registry.Module interface for this package.
type Module struct {
	// Out receives the printed lines. Defaults to os.Stdout.
	Out io.Writer
}

// Props configure a print node.
type Props struct {
	Label string `json:"label,omitempty"`
}

// Printer writes every value arriving on "value" to its writer and the
// node log.
type Printer struct {
	env   node.Env
	out   io.Writer
	props Props
}

func (p *Printer) Ports() node.Ports {
	return node.Ports{Inputs: []node.Socket{node.In("value", cty.DynamicPseudoType)}}
}

func (p *Printer) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	label := p.props.Label
	if label == "" {
		label = p.env.ID
	}
	p.env.Logger.Info("Printing input", "label", label, "values", len(in["value"]))

	values := in["value"]
	if len(values) == 0 {
		fmt.Fprintf(p.out, "%s: (null)\n", label)
		return nil, nil
	}
	for _, v := range values {
		obj, ok := v.(map[string]any)
		if !ok {
			fmt.Fprintf(p.out, "%s: %v\n", label, v)
			continue
		}
		// Sort keys for consistent output
		for _, k := range value.SortedKeys(obj) {
			fmt.Fprintf(p.out, "%s: %s = %v\n", label, k, obj[k])
		}
	}
	return nil, nil
}

func (p *Printer) Serialize() (json.RawMessage, error) { return node.Save(p.props) }
func (p *Printer) Restore(raw json.RawMessage) error  { return node.Load(raw, &p.props) }
func (p *Printer) Destroy()                           {}

// Register registers the node type with the registry.
func (m *Module) Register(r *registry.Registry) {
	out := m.Out
	if out == nil {
		out = os.Stdout
	}
	r.Register(TypeName, func(env node.Env) node.Node { return &Printer{env: env, out: out} })
}
