package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/tickgraph/internal/node"
)

// ErrUnknownNodeType is returned by Create for unregistered type names.
var ErrUnknownNodeType = errors.New("unknown node type")

// Module is the interface that all node modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the node factories of a single application instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]node.Factory
}

// New creates an empty registry and registers the given modules.
func New(modules ...Module) *Registry {
	r := &Registry{factories: make(map[string]node.Factory)}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// Register binds typeName to f. Registering a name twice is a programmer
// error and panics.
func (r *Registry) Register(typeName string, f node.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		panic(fmt.Sprintf("node type '%s' already registered", typeName))
	}
	slog.Debug("Registering node type.", "type", typeName)
	r.factories[typeName] = f
}

// Has reports whether typeName is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Create builds a node of typeName with default properties. The caller is
// responsible for calling Restore with saved properties.
func (r *Registry) Create(typeName string, env node.Env) (node.Node, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownNodeType, typeName)
	}
	env.Type = typeName
	return f(env.Fill()), nil
}
