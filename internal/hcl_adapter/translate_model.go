// This file contains the logic for translating HCL node blocks into the
// JSON-shaped graph document.

package hcl_adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func newEvalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && hclsyntaxValidName(k) {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": cty.ObjectVal(env)}}
}

func hclsyntaxValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && (r >= '0' && r <= '9' || r == '-'))
		if !ok {
			return false
		}
	}
	return true
}

// translateNode converts a node block into a NodeSpec, evaluating every
// attribute into its JSON form.
func (l *Loader) translateNode(ctx context.Context, evalCtx *hcl.EvalContext, n *nodeBlock) (graph.NodeSpec, error) {
	logger := ctxlog.FromContext(ctx).With("node_id", n.ID, "node_type", n.Type)
	logger.Debug("Translating HCL node to graph document.")

	spec := graph.NodeSpec{ID: n.ID, Type: n.Type}
	attrs, diags := n.Body.JustAttributes()
	if diags.HasErrors() {
		return spec, fmt.Errorf("node '%s': %w", n.ID, diags)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make(map[string]any, len(attrs))
	for _, name := range names {
		v, diags := attrs[name].Expr.Value(evalCtx)
		if diags.HasErrors() {
			return spec, fmt.Errorf("node '%s' attribute '%s': %w", n.ID, name, diags)
		}
		conv, err := value.FromCty(v)
		if err != nil {
			return spec, fmt.Errorf("node '%s' attribute '%s': %w", n.ID, name, err)
		}
		props[name] = conv
	}
	if len(props) == 0 {
		return spec, nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return spec, fmt.Errorf("node '%s': %w", n.ID, err)
	}
	spec.Properties = raw
	logger.Debug("Translated node properties.", "attributes", names)
	return spec, nil
}
