package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/tickgraph/internal/dag"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// Instance is a node placed in a graph.
type Instance struct {
	ID   string
	Type string
	Node node.Node
}

// DirectEdge is an accepted socket-to-socket connection.
type DirectEdge struct {
	Connection
	// Seq is the order in which the edge was made; fan-in slices follow it.
	Seq int
}

// ChannelEdge links a buffer writer to a buffer reader of the same name.
type ChannelEdge struct {
	Name string
	From string
	To   string
}

// Graph holds node instances and their direct edges. It is safe for
// concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Instance
	ids   []string
	edges []DirectEdge
	seq   int
	pairs map[[2]string]int
	dag   *dag.Graph
	order []string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Instance),
		pairs: make(map[[2]string]int),
		dag:   dag.New(),
	}
}

// Add places a node instance in the graph.
func (g *Graph) Add(inst *Instance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[inst.ID]; ok {
		return fmt.Errorf("%w '%s'", ErrDuplicateNode, inst.ID)
	}
	g.nodes[inst.ID] = inst
	g.ids = append(g.ids, inst.ID)
	g.dag.AddNode(inst.ID)
	g.order = nil
	return nil
}

// Remove takes a node and every edge touching it out of the graph. The
// caller owns destroying the node.
func (g *Graph) Remove(id string) (*Instance, []DirectEdge, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.nodes[id]
	if !ok {
		return nil, nil, false
	}
	var removed []DirectEdge
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.SourceID == id || e.TargetID == id {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
	for pair := range g.pairs {
		if pair[0] == id || pair[1] == id {
			delete(g.pairs, pair)
		}
	}
	delete(g.nodes, id)
	for i, other := range g.ids {
		if other == id {
			g.ids = append(g.ids[:i:i], g.ids[i+1:]...)
			break
		}
	}
	g.dag.RemoveNode(id)
	g.order = nil
	return inst, removed, true
}

// Node returns the instance with the given id.
func (g *Graph) Node(id string) (*Instance, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	inst, ok := g.nodes[id]
	return inst, ok
}

// Nodes returns every instance in insertion order.
func (g *Graph) Nodes() []*Instance {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Instance, 0, len(g.ids))
	for _, id := range g.ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Edges returns every direct edge in creation order.
func (g *Graph) Edges() []DirectEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]DirectEdge(nil), g.edges...)
}

// Incoming returns the edges terminating at id, in creation order.
func (g *Graph) Incoming(id string) []DirectEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []DirectEdge
	for _, e := range g.edges {
		if e.TargetID == id {
			out = append(out, e)
		}
	}
	return out
}

// Outgoing returns the edges leaving id, in creation order.
func (g *Graph) Outgoing(id string) []DirectEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []DirectEdge
	for _, e := range g.edges {
		if e.SourceID == id {
			out = append(out, e)
		}
	}
	return out
}

// Connect validates and adds a direct edge. It rejects unknown endpoints,
// undeclared sockets, incompatible socket types, a second connection into
// a single-valued input, and any connection that would close a cycle.
func (g *Graph) Connect(c Connection) (DirectEdge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[c.SourceID]
	if !ok {
		return DirectEdge{}, connectionError(c, "source node '%s' not found", c.SourceID)
	}
	dst, ok := g.nodes[c.TargetID]
	if !ok {
		return DirectEdge{}, connectionError(c, "target node '%s' not found", c.TargetID)
	}

	srcType, err := outputType(src, c.SourceSocket)
	if err != nil {
		return DirectEdge{}, connectionError(c, "%v", err)
	}
	dstSocket, err := inputSocket(dst, c.TargetSocket)
	if err != nil {
		return DirectEdge{}, connectionError(c, "%v", err)
	}
	if !node.Compatible(srcType, dstSocket.Type) {
		return DirectEdge{}, connectionError(c, "cannot connect %s output to %s input",
			srcType.FriendlyName(), dstSocket.Type.FriendlyName())
	}
	for _, e := range g.edges {
		if e.Connection == c {
			return DirectEdge{}, connectionError(c, "already connected")
		}
		if dstSocket.Single && e.TargetID == c.TargetID && e.TargetSocket == c.TargetSocket {
			return DirectEdge{}, connectionError(c, "input '%s' accepts a single connection", c.TargetSocket)
		}
	}

	if c.SourceID == c.TargetID {
		return DirectEdge{}, &CyclicGraphError{NodeIDs: []string{c.SourceID, c.SourceID}}
	}

	pair := [2]string{c.SourceID, c.TargetID}
	if g.pairs[pair] == 0 {
		if err := g.dag.AddEdge(c.SourceID, c.TargetID); err != nil {
			return DirectEdge{}, connectionError(c, "%v", err)
		}
		if err := g.dag.DetectCycles(); err != nil {
			g.dag.RemoveEdge(c.SourceID, c.TargetID)
			var cycle *dag.CycleError
			if errors.As(err, &cycle) {
				return DirectEdge{}, &CyclicGraphError{NodeIDs: cycle.Path}
			}
			return DirectEdge{}, err
		}
	}
	g.pairs[pair]++

	g.seq++
	e := DirectEdge{Connection: c, Seq: g.seq}
	g.edges = append(g.edges, e)
	g.order = nil
	return e, nil
}

// Disconnect removes a direct edge. It reports whether the edge existed.
func (g *Graph) Disconnect(c Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnectLocked(c)
}

func (g *Graph) disconnectLocked(c Connection) bool {
	for i, e := range g.edges {
		if e.Connection != c {
			continue
		}
		g.edges = append(g.edges[:i:i], g.edges[i+1:]...)
		pair := [2]string{c.SourceID, c.TargetID}
		g.pairs[pair]--
		if g.pairs[pair] <= 0 {
			delete(g.pairs, pair)
			g.dag.RemoveEdge(c.SourceID, c.TargetID)
		}
		g.order = nil
		return true
	}
	return false
}

// Sever removes every edge whose source or target socket is no longer
// declared by its node and returns the removed edges.
func (g *Graph) Sever() []DirectEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var severed []DirectEdge
	for _, e := range append([]DirectEdge(nil), g.edges...) {
		_, srcErr := outputType(g.nodes[e.SourceID], e.SourceSocket)
		_, dstErr := inputSocket(g.nodes[e.TargetID], e.TargetSocket)
		if srcErr == nil && dstErr == nil {
			continue
		}
		g.disconnectLocked(e.Connection)
		severed = append(severed, e)
	}
	return severed
}

// Order returns the cached topological order of the direct-edge graph.
func (g *Graph) Order() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.order != nil {
		return g.order, nil
	}
	order, err := g.dag.TopologicalOrder()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, &CyclicGraphError{NodeIDs: cycle.Path}
		}
		return nil, err
	}
	g.order = order
	return order, nil
}

// ChannelEdges derives the buffer-channel links between nodes.
func (g *Graph) ChannelEdges() []ChannelEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	writers := make(map[string][]string)
	for _, id := range g.ids {
		if w, ok := g.nodes[id].Node.(node.ChannelWriter); ok {
			for _, name := range w.ChannelWrites() {
				writers[name] = append(writers[name], id)
			}
		}
	}
	var out []ChannelEdge
	for _, id := range g.ids {
		r, ok := g.nodes[id].Node.(node.ChannelReader)
		if !ok {
			continue
		}
		for _, name := range r.ChannelReads() {
			for _, from := range writers[name] {
				out = append(out, ChannelEdge{Name: name, From: from, To: id})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Document rebuilds the persistence document from the live graph.
func (g *Graph) Document() (*Document, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	doc := &Document{Nodes: make([]NodeSpec, 0, len(g.ids))}
	for _, id := range g.ids {
		inst := g.nodes[id]
		props, err := inst.Node.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serialize node '%s': %w", id, err)
		}
		typ := inst.Type
		if p, ok := inst.Node.(*node.Placeholder); ok {
			typ = p.MissingType()
		}
		doc.Nodes = append(doc.Nodes, NodeSpec{ID: id, Type: typ, Properties: props})
	}
	doc.Connections = make([]Connection, 0, len(g.edges))
	for _, e := range g.edges {
		doc.Connections = append(doc.Connections, e.Connection)
	}
	return doc, nil
}

func outputType(inst *Instance, socket string) (cty.Type, error) {
	if inst == nil {
		return cty.NilType, fmt.Errorf("node not found")
	}
	ports, ok := node.SocketsOf(inst.Node)
	if !ok {
		return cty.DynamicPseudoType, nil
	}
	s, ok := ports.Output(socket)
	if !ok {
		return cty.NilType, fmt.Errorf("node '%s' (%s) has no output socket '%s'", inst.ID, inst.Type, socket)
	}
	return s.Type, nil
}

func inputSocket(inst *Instance, socket string) (node.Socket, error) {
	if inst == nil {
		return node.Socket{}, fmt.Errorf("node not found")
	}
	ports, ok := node.SocketsOf(inst.Node)
	if !ok {
		return node.Socket{Name: socket, Type: cty.DynamicPseudoType}, nil
	}
	s, ok := ports.Input(socket)
	if !ok {
		return node.Socket{}, fmt.Errorf("node '%s' (%s) has no input socket '%s'", inst.ID, inst.Type, socket)
	}
	return s, nil
}
