package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/timer"
	"github.com/specialistvlad/tickgraph/internal/value"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/specialistvlad/tickgraph/internal/scheduler")

// Evaluator runs ticks over one graph.
type Evaluator struct {
	opts Options

	mu     sync.Mutex
	graph  *graph.Graph
	states map[string]*nodeState
	tick   uint64
	closed bool

	pendingMu sync.Mutex
	pending   map[string]struct{}

	// deferMu guards holding and deferred. Post calls made while mu is
	// held are queued and run before mu is released.
	deferMu  sync.Mutex
	holding  bool
	deferred []func()

	settled atomic.Bool
}

// nodeState is the evaluator's bookkeeping for one node instance.
type nodeState struct {
	id       string
	typ      string
	node     node.Node
	timers   *timer.Group
	logger   *slog.Logger
	outputs  node.Outputs
	external map[string][]any
	alive    atomic.Bool

	evaluations uint64
	failures    uint64
	lastErr     error
}

// New creates an empty evaluator.
func New(opts Options) *Evaluator {
	if opts.Registry == nil {
		panic("scheduler: Options.Registry is required")
	}
	opts.defaults()
	return &Evaluator{
		opts:    opts,
		graph:   graph.New(),
		states:  make(map[string]*nodeState),
		pending: make(map[string]struct{}),
	}
}

// Name returns the evaluator's label.
func (e *Evaluator) Name() string { return e.opts.Name }

// Load instantiates every node of doc, restores its properties and makes
// its connections. Unknown node types become placeholders and invalid
// connections are skipped with a warning; a direct-edge cycle rejects the
// whole document with *graph.CyclicGraphError. Every loaded node starts
// dirty.
func (e *Evaluator) Load(ctx context.Context, doc *graph.Document) error {
	if err := doc.Normalize(); err != nil {
		return err
	}

	e.lock()
	defer e.unlock()
	if e.closed {
		return ErrClosed
	}

	var added []string
	rollback := func() {
		for i := len(added) - 1; i >= 0; i-- {
			e.removeLocked(added[i])
		}
	}

	for _, spec := range doc.Nodes {
		if err := e.insertLocked(spec); err != nil {
			rollback()
			return err
		}
		added = append(added, spec.ID)
	}

	for _, c := range doc.Connections {
		if _, err := e.graph.Connect(c); err != nil {
			var cyc *graph.CyclicGraphError
			if errors.As(err, &cyc) {
				rollback()
				return err
			}
			e.opts.Logger.Warn("Skipping invalid connection.", "graph", e.opts.Name, "connection", c.String(), "error", err)
		}
	}

	if _, err := e.graph.Order(); err != nil {
		rollback()
		return err
	}
	e.opts.Logger.Debug("Graph loaded.", "graph", e.opts.Name, "nodes", len(doc.Nodes), "connections", len(e.graph.Edges()))
	return nil
}

// Insert adds a single node, for hosts that edit a live graph.
func (e *Evaluator) Insert(spec graph.NodeSpec) error {
	e.lock()
	defer e.unlock()
	if e.closed {
		return ErrClosed
	}
	return e.insertLocked(spec)
}

func (e *Evaluator) insertLocked(spec graph.NodeSpec) error {
	if _, exists := e.states[spec.ID]; exists {
		return fmt.Errorf("%w '%s'", graph.ErrDuplicateNode, spec.ID)
	}

	st := &nodeState{
		id:       spec.ID,
		typ:      spec.Type,
		outputs:  node.Outputs{},
		external: make(map[string][]any),
		logger:   e.opts.Logger.With("graph", e.opts.Name, "node_id", spec.ID, "node_type", spec.Type),
	}
	st.alive.Store(true)
	id := spec.ID
	notify := func() { e.MarkDirty(id) }
	st.timers = timer.NewGroup(e.opts.Clock, e.Post, notify)

	env := node.Env{
		ID:      id,
		Type:    spec.Type,
		Logger:  st.logger,
		Clock:   e.opts.Clock,
		Timers:  st.timers,
		Channel: e.opts.Channel,
		Devices: e.opts.Devices,
		Notify:  notify,
		Post:    e.Post,
		Settled: e.Settled,
		Alive:   st.alive.Load,
	}

	n, err := e.opts.Registry.Create(spec.Type, env)
	if errors.Is(err, registry.ErrUnknownNodeType) {
		st.logger.Warn("Unknown node type, substituting a placeholder.", "error", err)
		n = node.NewPlaceholder(spec.Type)
	} else if err != nil {
		return fmt.Errorf("create node '%s': %w", spec.ID, err)
	}
	if err := n.Restore(spec.Properties); err != nil {
		st.logger.Error("Failed to restore node properties; keeping defaults.", "error", err)
	}
	st.node = n

	if err := e.graph.Add(&graph.Instance{ID: spec.ID, Type: spec.Type, Node: n}); err != nil {
		n.Destroy()
		st.timers.Close()
		return err
	}
	e.states[spec.ID] = st
	e.MarkDirty(spec.ID)
	return nil
}

// Restore applies a saved state to a live node and marks it dirty. Hosts
// use it to layer persisted runtime snapshots over document properties.
func (e *Evaluator) Restore(id string, state json.RawMessage) error {
	e.lock()
	defer e.unlock()
	st, ok := e.states[id]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrNodeNotFound, id)
	}
	if err := st.node.Restore(state); err != nil {
		return fmt.Errorf("restore node '%s': %w", id, err)
	}
	e.MarkDirty(id)
	return nil
}

// Connect adds a direct connection to the live graph and marks the target
// dirty.
func (e *Evaluator) Connect(c graph.Connection) error {
	e.lock()
	defer e.unlock()
	if e.closed {
		return ErrClosed
	}
	if _, err := e.graph.Connect(c); err != nil {
		return err
	}
	e.MarkDirty(c.TargetID)
	return nil
}

// Disconnect removes a direct connection and marks the target dirty.
func (e *Evaluator) Disconnect(c graph.Connection) bool {
	e.lock()
	defer e.unlock()
	if !e.graph.Disconnect(c) {
		return false
	}
	e.MarkDirty(c.TargetID)
	return true
}

// Remove destroys a node, cancels its timers and drops its connections.
// Downstream consumers are marked dirty because their inputs changed.
func (e *Evaluator) Remove(id string) error {
	e.lock()
	defer e.unlock()
	if _, ok := e.states[id]; !ok {
		return fmt.Errorf("%w: '%s'", ErrNodeNotFound, id)
	}
	return e.removeLocked(id)
}

func (e *Evaluator) removeLocked(id string) error {
	st := e.states[id]
	_, removed, _ := e.graph.Remove(id)
	delete(e.states, id)
	e.pendingMu.Lock()
	delete(e.pending, id)
	e.pendingMu.Unlock()

	for _, edge := range removed {
		if edge.TargetID != id {
			e.MarkDirty(edge.TargetID)
		}
	}
	return e.destroy(st)
}

// destroy tears a node down and checks that it released its timers.
func (e *Evaluator) destroy(st *nodeState) error {
	st.alive.Store(false)
	st.node.Destroy()
	leaked := st.timers.Close()
	if leaked == 0 {
		return nil
	}
	err := &TimerLeakError{NodeID: st.id, NodeType: st.typ, Count: leaked}
	st.logger.Error("Node destroyed with armed timers.", "error", err)
	e.opts.Metrics.TimerLeak(e.opts.Name, st.typ, leaked)
	return err
}

// Close destroys every node. It returns the joined timer leaks, if any.
func (e *Evaluator) Close() error {
	e.lock()
	defer e.unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	ids := make([]string, 0, len(e.states))
	for _, inst := range e.graph.Nodes() {
		ids = append(ids, inst.ID)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if err := e.removeLocked(ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarkDirty schedules id for evaluation on the next tick. It is safe to
// call from any goroutine, including while a tick is running.
func (e *Evaluator) MarkDirty(id string) {
	e.pendingMu.Lock()
	e.pending[id] = struct{}{}
	e.pendingMu.Unlock()
	if e.opts.OnDirty != nil {
		e.opts.OnDirty()
	}
}

// HasPending reports whether any node awaits evaluation.
func (e *Evaluator) HasPending() bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending) > 0
}

func (e *Evaluator) drainPending() map[string]struct{} {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	dirty := e.pending
	e.pending = make(map[string]struct{})
	return dirty
}

// Post runs f serialized with ticks. Timer callbacks and detached I/O
// completions go through it. A call made while the evaluator is busy,
// including one from inside Data, is queued and runs before the current
// tick or edit returns.
func (e *Evaluator) Post(f func()) {
	e.deferMu.Lock()
	if e.holding {
		e.deferred = append(e.deferred, f)
		e.deferMu.Unlock()
		return
	}
	e.deferMu.Unlock()

	e.lock()
	defer e.unlock()
	if e.closed {
		return
	}
	f()
}

func (e *Evaluator) lock() {
	e.mu.Lock()
	e.deferMu.Lock()
	e.holding = true
	e.deferMu.Unlock()
}

// unlock runs the queued Post calls, including any they queue in turn, and
// releases mu.
func (e *Evaluator) unlock() {
	for {
		e.deferMu.Lock()
		queued := e.deferred
		e.deferred = nil
		if len(queued) == 0 {
			e.holding = false
			e.deferMu.Unlock()
			break
		}
		e.deferMu.Unlock()
		for _, f := range queued {
			if !e.closed {
				f()
			}
		}
	}
	e.mu.Unlock()
}

// DeliverDeviceState hands pushed device state to every node listening for
// deviceID, serialized with ticks. It returns how many nodes received it.
func (e *Evaluator) DeliverDeviceState(deviceID string, state map[string]any) int {
	e.lock()
	defer e.unlock()
	if e.closed {
		return 0
	}
	n := 0
	for _, inst := range e.graph.Nodes() {
		l, ok := inst.Node.(node.DeviceListener)
		if !ok || l.DeviceID() != deviceID {
			continue
		}
		l.ApplyDeviceState(state)
		n++
	}
	return n
}

// SetValue drives a manual source node (one implementing node.Settable).
func (e *Evaluator) SetValue(id string, v any) error {
	e.lock()
	defer e.unlock()
	st, ok := e.states[id]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrNodeNotFound, id)
	}
	settable, ok := st.node.(node.Settable)
	if !ok {
		return fmt.Errorf("%w: '%s' is a %s", ErrNotSettable, id, st.typ)
	}
	settable.SetValue(v)
	return nil
}

// NodeSnapshot is the serialized state of one node.
type NodeSnapshot struct {
	ID    string
	Type  string
	State json.RawMessage
	Err   error
}

// Snapshots serializes every node in insertion order, serialized with
// ticks and timer callbacks.
func (e *Evaluator) Snapshots() []NodeSnapshot {
	e.lock()
	defer e.unlock()
	nodes := e.graph.Nodes()
	out := make([]NodeSnapshot, 0, len(nodes))
	for _, inst := range nodes {
		state, err := inst.Node.Serialize()
		out = append(out, NodeSnapshot{ID: inst.ID, Type: inst.Type, State: state, Err: err})
	}
	return out
}

// MarkSettled raises the graph-settled signal.
func (e *Evaluator) MarkSettled() { e.settled.Store(true) }

// Settled reports whether the graph-settled signal has been raised.
func (e *Evaluator) Settled() bool {
	if e.opts.Settled != nil {
		return e.opts.Settled()
	}
	return e.settled.Load()
}

// SetExternalInput feeds values into an input socket from outside the
// graph, after any wired values. The node is marked dirty only when the
// values change. A nil slice removes the injection.
func (e *Evaluator) SetExternalInput(id, socket string, values []any) error {
	e.lock()
	defer e.unlock()
	st, ok := e.states[id]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrNodeNotFound, id)
	}
	prev, had := st.external[socket]
	if values == nil {
		if !had {
			return nil
		}
		delete(st.external, socket)
	} else {
		if had && value.Equal(prev, values) {
			return nil
		}
		st.external[socket] = append([]any(nil), values...)
	}
	e.MarkDirty(id)
	return nil
}

// Output returns the last value a node produced on socket.
func (e *Evaluator) Output(id, socket string) (any, bool) {
	e.lock()
	defer e.unlock()
	st, ok := e.states[id]
	if !ok {
		return nil, false
	}
	v, ok := st.outputs[socket]
	return v, ok
}

// Outputs returns a copy of a node's last outputs.
func (e *Evaluator) Outputs(id string) (node.Outputs, bool) {
	e.lock()
	defer e.unlock()
	st, ok := e.states[id]
	if !ok {
		return nil, false
	}
	out := make(node.Outputs, len(st.outputs))
	for k, v := range st.outputs {
		out[k] = v
	}
	return out, true
}

// Node returns the live node instance.
func (e *Evaluator) Node(id string) (node.Node, bool) {
	e.lock()
	defer e.unlock()
	st, ok := e.states[id]
	if !ok {
		return nil, false
	}
	return st.node, true
}

// Nodes returns every live instance in insertion order.
func (e *Evaluator) Nodes() []*graph.Instance {
	return e.graph.Nodes()
}

// Graph exposes the underlying graph model for read-only inspection.
func (e *Evaluator) Graph() *graph.Graph { return e.graph }

// Document serializes the live graph.
func (e *Evaluator) Document() (*graph.Document, error) {
	e.lock()
	defer e.unlock()
	return e.graph.Document()
}

// NodeStatus summarizes one node for hosts and UIs.
type NodeStatus struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Outputs     node.Outputs `json:"outputs"`
	Evaluations uint64       `json:"evaluations"`
	Failures    uint64       `json:"failures"`
	LastError   string       `json:"lastError,omitempty"`
	Placeholder bool         `json:"placeholder,omitempty"`
	Timers      int          `json:"timers"`
}

// Status returns a snapshot of every node, sorted by id.
func (e *Evaluator) Status() []NodeStatus {
	e.lock()
	defer e.unlock()
	out := make([]NodeStatus, 0, len(e.states))
	for _, st := range e.states {
		s := NodeStatus{
			ID:          st.id,
			Type:        st.typ,
			Outputs:     make(node.Outputs, len(st.outputs)),
			Evaluations: st.evaluations,
			Failures:    st.failures,
			Timers:      st.timers.Len(),
		}
		for k, v := range st.outputs {
			s.Outputs[k] = v
		}
		if st.lastErr != nil {
			s.LastError = st.lastErr.Error()
		}
		_, s.Placeholder = st.node.(*node.Placeholder)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
