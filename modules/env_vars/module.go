package env_vars

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// TypeName is the registered node type.
const TypeName = "util.env"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Props configure an environment lookup. With an empty Name only "all" is
// populated.
type Props struct {
	Name    string `json:"name,omitempty"`
	Default string `json:"default,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
}

// Env outputs process environment variables. The environment is read on
// every evaluation; it does not change on its own, so the node only
// re-runs when the host marks it dirty.
type Env struct {
	props Props
}

func (e *Env) Ports() node.Ports {
	return node.Ports{Outputs: []node.Socket{
		node.Out("value", cty.String),
		node.Out("all", cty.Map(cty.String)),
	}}
}

func (e *Env) Data(context.Context, node.Inputs) (node.Outputs, error) {
	envMap := make(map[string]any)
	for _, kv := range os.Environ() {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) == 2 && strings.HasPrefix(pair[0], e.props.Prefix) {
			envMap[pair[0]] = pair[1]
		}
	}

	v := e.props.Default
	if e.props.Name != "" {
		if got, ok := os.LookupEnv(e.props.Name); ok {
			v = got
		}
	}
	return node.Outputs{"value": v, "all": envMap}, nil
}

func (e *Env) Serialize() (json.RawMessage, error) { return node.Save(e.props) }
func (e *Env) Restore(raw json.RawMessage) error  { return node.Load(raw, &e.props) }
func (e *Env) Destroy()                           {}

// Register registers the node type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(TypeName, func(node.Env) node.Node { return &Env{} })
}
