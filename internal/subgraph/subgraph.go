// Package subgraph implements a node that embeds a complete inner graph
// and exposes selected inner sockets as its own.
//
// The inner graph gets its own Evaluator, created on first evaluation, with
// a dirty set separate from the outer one. Each outer evaluation injects
// the outer inputs into the mapped inner sockets, runs the inner evaluator
// until it settles and reads the mapped inner outputs back. Inner activity
// outside an outer evaluation (timers, channel updates) marks the outer
// node dirty so the next outer tick picks it up.
package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/scheduler"
	"github.com/zclconf/go-cty/cty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TypeName is the registered node type.
const TypeName = "graph.subgraph"

// DefaultMaxTicks bounds one inner settle.
const DefaultMaxTicks = 64

var tracer = otel.Tracer("github.com/specialistvlad/tickgraph/internal/subgraph")

// State is the lifecycle of the embedded evaluator.
type State int

const (
	Uninitialized State = iota
	Initialized
	Evaluating
	Settled
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Evaluating:
		return "evaluating"
	case Settled:
		return "settled"
	default:
		return "uninitialized"
	}
}

// Port addresses an inner socket.
type Port struct {
	Node   string `json:"node"`
	Socket string `json:"socket"`
}

// PortMap exposes inner sockets under outer socket names.
type PortMap struct {
	Inputs  map[string]Port `json:"inputs,omitempty"`
	Outputs map[string]Port `json:"outputs,omitempty"`
}

// Properties configure a sub-graph node.
type Properties struct {
	Graph    graph.Document `json:"graph"`
	Ports    PortMap        `json:"ports"`
	MaxTicks int            `json:"maxTicks,omitempty"`
}

// Module registers the sub-graph node type. Inner graphs resolve node
// types against the same registry, so sub-graphs may nest.
type Module struct{}

// Register implements the registry.Module interface.
func (Module) Register(r *registry.Registry) {
	r.Register(TypeName, func(env node.Env) node.Node { return New(env, r) })
}

// Node is the sub-graph node.
type Node struct {
	env   node.Env
	reg   *registry.Registry
	props Properties
	inner *scheduler.Evaluator
	state State
	// busy suppresses forwarding inner dirty marks while the outer node is
	// itself driving the inner evaluator.
	busy atomic.Bool
}

// New builds an empty sub-graph node.
func New(env node.Env, reg *registry.Registry) *Node {
	return &Node{env: env, reg: reg}
}

// State returns the current lifecycle state.
func (n *Node) State() State { return n.state }

// Inner returns the embedded evaluator, or nil before the first evaluation.
func (n *Node) Inner() *scheduler.Evaluator { return n.inner }

// Ports declares one dynamically typed socket per mapped port.
func (n *Node) Ports() node.Ports {
	var p node.Ports
	for _, name := range sortedKeys(n.props.Ports.Inputs) {
		p.Inputs = append(p.Inputs, node.In(name, cty.DynamicPseudoType))
	}
	for _, name := range sortedKeys(n.props.Ports.Outputs) {
		p.Outputs = append(p.Outputs, node.Out(name, cty.DynamicPseudoType))
	}
	return p
}

func (n *Node) init(ctx context.Context) error {
	inner := scheduler.New(scheduler.Options{
		Name:     n.env.ID,
		Registry: n.reg,
		Logger:   n.env.Logger.With("subgraph", n.env.ID),
		Clock:    n.env.Clock,
		Channel:  n.env.Channel,
		Devices:  n.env.Devices,
		OnDirty: func() {
			if !n.busy.Load() {
				n.env.Notify()
			}
		},
		Settled: n.env.Settled,
	})
	doc := n.props.Graph
	if err := inner.Load(ctx, &doc); err != nil {
		inner.Close()
		return fmt.Errorf("load inner graph: %w", err)
	}
	n.inner = inner
	n.state = Initialized
	return nil
}

// Data injects the outer inputs, settles the inner graph and returns the
// mapped inner outputs.
func (n *Node) Data(ctx context.Context, in node.Inputs) (node.Outputs, error) {
	n.busy.Store(true)
	defer n.release()

	if n.inner == nil {
		if err := n.init(ctx); err != nil {
			return nil, err
		}
	}

	for name, port := range n.props.Ports.Inputs {
		if err := n.inner.SetExternalInput(port.Node, port.Socket, in[name]); err != nil {
			n.env.Logger.Warn("Sub-graph input port points at a missing node.", "port", name, "error", err)
		}
	}

	maxTicks := n.props.MaxTicks
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}

	n.state = Evaluating
	ctx, span := tracer.Start(ctx, "subgraph.settle")
	reports, err := n.inner.RunUntilSettled(ctx, maxTicks)
	span.SetAttributes(attribute.String("node_id", n.env.ID), attribute.Int("ticks", len(reports)))
	switch {
	case errors.Is(err, scheduler.ErrNotSettled):
		span.SetStatus(codes.Error, "not settled")
		n.env.Logger.Warn("Inner graph did not settle; continuing next tick.", "max_ticks", maxTicks)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "settle failed")
		span.End()
		return nil, err
	default:
		n.state = Settled
	}
	span.End()

	out := node.Outputs{}
	for name, port := range n.props.Ports.Outputs {
		v, _ := n.inner.Output(port.Node, port.Socket)
		out[name] = v
	}
	return out, nil
}

// release ends an evaluation. A mark suppressed after the inner graph
// settled but before busy cleared is still pending in the inner evaluator,
// so the check runs after the flag drops.
func (n *Node) release() {
	n.busy.Store(false)
	if n.inner != nil && n.inner.HasPending() {
		n.env.Notify()
	}
}

// Serialize saves the port map and the live inner graph, so inner node
// state is persisted along with the outer document.
func (n *Node) Serialize() (json.RawMessage, error) {
	props := n.props
	if n.inner != nil {
		doc, err := n.inner.Document()
		if err != nil {
			return nil, err
		}
		props.Graph = *doc
	}
	return node.Save(props)
}

// Restore replaces the configuration. A running inner graph is discarded
// and rebuilt on the next evaluation.
func (n *Node) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &n.props); err != nil {
		return err
	}
	n.teardown()
	return nil
}

// Destroy closes the inner evaluator.
func (n *Node) Destroy() { n.teardown() }

func (n *Node) teardown() {
	if n.inner == nil {
		return
	}
	if err := n.inner.Close(); err != nil {
		n.env.Logger.Error("Inner graph leaked timers.", "error", err)
	}
	n.inner = nil
	n.state = Uninitialized
}

func sortedKeys(m map[string]Port) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
