package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// ValidateRegistry builds one throwaway instance of every registered type
// and checks that its declared sockets are well formed and that its default
// properties survive a Serialize/Restore round trip.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, typeName := range r.Types() {
		n, err := r.Create(typeName, node.Env{ID: "validate", Logger: logger})
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		if ports, ok := node.SocketsOf(n); ok {
			errs = append(errs, checkSockets(typeName, "input", ports.Inputs)...)
			errs = append(errs, checkSockets(typeName, "output", ports.Outputs)...)
		} else {
			logger.Debug("Node type declares no sockets; connections are not type checked.", "type", typeName)
		}

		raw, err := n.Serialize()
		if err != nil {
			errs = append(errs, fmt.Sprintf("node type '%s': serialize defaults: %v", typeName, err))
		} else if !json.Valid(raw) {
			errs = append(errs, fmt.Sprintf("node type '%s': serialize produced invalid JSON", typeName))
		} else if err := n.Restore(raw); err != nil {
			errs = append(errs, fmt.Sprintf("node type '%s': restore defaults: %v", typeName, err))
		}
		n.Destroy()
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func checkSockets(typeName, kind string, sockets []node.Socket) []string {
	var errs []string
	seen := make(map[string]struct{}, len(sockets))
	for _, s := range sockets {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("node type '%s': %s socket with empty name", typeName, kind))
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Sprintf("node type '%s': duplicate %s socket '%s'", typeName, kind, s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.Type == cty.NilType {
			errs = append(errs, fmt.Sprintf("node type '%s': %s socket '%s' has no type", typeName, kind, s.Name))
		}
	}
	return errs
}
