// Package logic provides the boolean and comparison node types: manual
// values, edge detection, gates and comparisons.
package logic

import (
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
)

const (
	TypeValue   = "logic.value"
	TypeEdge    = "logic.edge"
	TypeGate    = "logic.gate"
	TypeCompare = "logic.compare"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the node types with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(TypeValue, func(env node.Env) node.Node { return &Value{env: env} })
	r.Register(TypeEdge, func(env node.Env) node.Node { return &Edge{env: env} })
	r.Register(TypeGate, func(env node.Env) node.Node { return NewGate(env) })
	r.Register(TypeCompare, func(env node.Env) node.Node { return &Compare{props: CompareProps{Op: "eq"}} })
}
