package testutil

import (
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
)

// SimpleModule is a test helper for registering a single node factory.
type SimpleModule struct {
	Type    string
	Factory node.Factory
}

// Register implements the registry.Module interface.
func (m *SimpleModule) Register(r *registry.Registry) {
	r.Register(m.Type, m.Factory)
}
