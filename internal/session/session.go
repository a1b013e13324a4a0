// Package session hosts one live graph: it owns the evaluator, drives ticks
// when nodes ask for evaluation, raises the graph-settled signal after the
// initial load and persists node snapshots after every settle.
//
// Both runtime hosts (headless and interactive) are thin shells around a
// Session.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/clock"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/metrics"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/nodestore"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/scheduler"
)

// DefaultMaxTicks bounds one settle round.
const DefaultMaxTicks = 256

// ErrNotStarted is returned by operations that need a loaded graph.
var ErrNotStarted = errors.New("session has no graph loaded")

// Options configures a Session. Registry is required.
type Options struct {
	// Name labels the graph in logs, metrics and the snapshot store.
	Name     string
	Registry *registry.Registry
	Logger   *slog.Logger
	Clock    clock.Clock
	Channel  *buffer.Channel
	Devices  node.DeviceDriver
	Metrics  *metrics.Collector
	// Store receives node snapshots after every settle. Nil disables
	// persistence.
	Store nodestore.Store

	// MaxTicks bounds one settle round. Defaults to DefaultMaxTicks.
	MaxTicks int
	// Pace is the pause between settle rounds while the graph keeps
	// re-dirtying itself.
	Pace time.Duration

	// OnTick observes every tick of the live evaluator.
	OnTick func(scheduler.TickReport)
}

// Session is a long-lived graph host.
type Session struct {
	id   string
	opts Options

	// mu serializes loads, reloads and settle rounds.
	mu      sync.Mutex
	eval    atomic.Pointer[scheduler.Evaluator]
	settled atomic.Bool
	saved   map[string][]byte

	wake chan struct{}
}

// New creates an empty session.
func New(opts Options) *Session {
	if opts.Registry == nil {
		panic("session: Options.Registry is required")
	}
	if opts.Name == "" {
		opts.Name = "root"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Channel == nil {
		opts.Channel = buffer.New(opts.Clock)
	}
	if opts.MaxTicks <= 0 {
		opts.MaxTicks = DefaultMaxTicks
	}

	s := &Session{
		id:    uuid.NewString(),
		opts:  opts,
		saved: make(map[string][]byte),
		wake:  make(chan struct{}, 1),
	}
	s.opts.Logger = opts.Logger.With("session_id", s.id, "graph", opts.Name)
	if opts.Metrics != nil {
		opts.Channel.Tap(func(e buffer.Entry) {
			if e.Retracted {
				return
			}
			tag, _, _ := buffer.SplitKey(e.Key)
			opts.Metrics.BufferPublished(string(tag))
		})
	}
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Channel returns the session's buffer channel.
func (s *Session) Channel() *buffer.Channel { return s.opts.Channel }

// Evaluator returns the live evaluator, or nil before Start.
func (s *Session) Evaluator() *scheduler.Evaluator { return s.eval.Load() }

// Settled reports whether the live graph has settled since it was loaded.
func (s *Session) Settled() bool { return s.settled.Load() }

// Start loads doc, layers persisted snapshots over it and settles it. The
// graph-settled signal is raised once the initial load has settled.
func (s *Session) Start(ctx context.Context, doc *graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eval.Load() != nil {
		return errors.New("session already started")
	}
	eval, err := s.build(ctx, doc)
	if err != nil {
		return err
	}
	s.eval.Store(eval)
	return s.initialSettle(ctx, eval)
}

// Reload replaces the live graph with doc. The new document is fully
// loaded before the old graph is torn down, so a document that fails to
// load leaves the running graph untouched.
func (s *Session) Reload(ctx context.Context, doc *graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.eval.Load()
	if old == nil {
		return ErrNotStarted
	}
	// Capture the outgoing state so nodes that survive the reload resume.
	s.persistLocked(ctx, old)

	eval, err := s.build(ctx, doc)
	if err != nil {
		return fmt.Errorf("reload rejected, keeping the running graph: %w", err)
	}
	s.settled.Store(false)
	if err := old.Close(); err != nil {
		s.opts.Logger.Warn("Previous graph leaked timers on reload.", "error", err)
	}
	s.opts.Channel.Reset()
	s.eval.Store(eval)
	s.opts.Logger.Info("🔄 Graph reloaded.", "nodes", len(doc.Nodes))
	return s.initialSettle(ctx, eval)
}

func (s *Session) build(ctx context.Context, doc *graph.Document) (*scheduler.Evaluator, error) {
	eval := scheduler.New(scheduler.Options{
		Name:     s.opts.Name,
		Registry: s.opts.Registry,
		Logger:   s.opts.Logger,
		Clock:    s.opts.Clock,
		Channel:  s.opts.Channel,
		Devices:  s.opts.Devices,
		Metrics:  s.opts.Metrics,
		OnDirty:  s.poke,
		OnTick:   s.opts.OnTick,
		Settled:  s.settled.Load,
	})
	if err := eval.Load(ctx, doc); err != nil {
		_ = eval.Close()
		return nil, err
	}
	s.restoreSnapshots(ctx, eval)
	return eval, nil
}

// restoreSnapshots applies persisted state after the document properties.
// A snapshot whose node is gone or changed type is ignored.
func (s *Session) restoreSnapshots(ctx context.Context, eval *scheduler.Evaluator) {
	if s.opts.Store == nil {
		return
	}
	snaps, err := s.opts.Store.Load(ctx, s.opts.Name)
	if err != nil {
		s.opts.Logger.Error("Failed to load node snapshots; starting from document properties.", "error", err)
		return
	}
	restored := 0
	for _, inst := range eval.Nodes() {
		snap, ok := snaps[inst.ID]
		if !ok {
			continue
		}
		if snap.Type != inst.Type {
			s.opts.Logger.Warn("Ignoring snapshot saved for a different node type.", "node_id", inst.ID, "saved_type", snap.Type, "node_type", inst.Type)
			continue
		}
		if err := eval.Restore(inst.ID, snap.State); err != nil {
			s.opts.Logger.Warn("Failed to apply node snapshot.", "node_id", inst.ID, "error", err)
			continue
		}
		s.saved[inst.ID] = snap.State
		restored++
	}
	s.opts.Logger.Debug("Node snapshots applied.", "restored", restored, "stored", len(snaps))
}

func (s *Session) initialSettle(ctx context.Context, eval *scheduler.Evaluator) error {
	if err := s.settleLocked(ctx, eval); err != nil {
		return err
	}
	s.settled.Store(true)
	s.opts.Logger.Info("✅ Graph settled.", "nodes", len(eval.Nodes()))
	return nil
}

// poke wakes the run loop without blocking.
func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives ticks until ctx is done. Start must have been called.
func (s *Session) Run(ctx context.Context) error {
	if s.eval.Load() == nil {
		return ErrNotStarted
	}
	s.opts.Logger.Debug("Session loop started.")
	for {
		select {
		case <-ctx.Done():
			s.opts.Logger.Debug("Session loop stopping.", "reason", ctx.Err())
			return nil
		case <-s.wake:
		}
		if err := s.Settle(ctx); err != nil && !errors.Is(err, scheduler.ErrClosed) {
			return err
		}
		if s.opts.Pace > 0 && s.Evaluator().HasPending() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.Pace):
			}
		}
	}
}

// Settle runs ticks until nothing is pending or the tick budget runs out,
// then persists changed snapshots. A graph that keeps re-dirtying itself is
// logged and left pending for the next round.
func (s *Session) Settle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eval := s.eval.Load()
	if eval == nil {
		return ErrNotStarted
	}
	return s.settleLocked(ctx, eval)
}

func (s *Session) settleLocked(ctx context.Context, eval *scheduler.Evaluator) error {
	reports, err := eval.RunUntilSettled(ctx, s.opts.MaxTicks)
	switch {
	case errors.Is(err, scheduler.ErrNotSettled):
		s.opts.Logger.Warn("Graph did not settle within the tick budget; continuing next round.", "ticks", len(reports))
		s.poke()
	case err != nil:
		return err
	}
	s.persistLocked(ctx, eval)
	return nil
}

// persistLocked saves the snapshots that changed since the last save and
// drops those of nodes that no longer exist.
func (s *Session) persistLocked(ctx context.Context, eval *scheduler.Evaluator) {
	if s.opts.Store == nil {
		return
	}
	now := s.opts.Clock.Now()
	live := make(map[string]struct{})
	var changed []nodestore.Snapshot
	for _, snap := range eval.Snapshots() {
		live[snap.ID] = struct{}{}
		if snap.Err != nil {
			s.opts.Logger.Warn("Failed to serialize node.", "node_id", snap.ID, "error", snap.Err)
			continue
		}
		if bytes.Equal(s.saved[snap.ID], snap.State) {
			continue
		}
		changed = append(changed, nodestore.Snapshot{ID: snap.ID, Type: snap.Type, State: snap.State, SavedAt: now})
	}
	var gone []string
	for id := range s.saved {
		if _, ok := live[id]; !ok {
			gone = append(gone, id)
		}
	}

	if len(changed) > 0 {
		if err := s.opts.Store.Save(ctx, s.opts.Name, changed...); err != nil {
			s.opts.Logger.Error("Failed to persist node snapshots.", "error", err)
			return
		}
		for _, snap := range changed {
			s.saved[snap.ID] = snap.State
		}
	}
	if len(gone) > 0 {
		if err := s.opts.Store.Delete(ctx, s.opts.Name, gone...); err != nil {
			s.opts.Logger.Error("Failed to drop snapshots of removed nodes.", "error", err)
			return
		}
		for _, id := range gone {
			delete(s.saved, id)
		}
	}
	if len(changed)+len(gone) > 0 {
		s.opts.Logger.Debug("Node snapshots persisted.", "saved", len(changed), "dropped", len(gone))
	}
}

// DeliverDeviceState routes pushed device state into the live graph. It
// is the devicebus router.
func (s *Session) DeliverDeviceState(deviceID string, state map[string]any) int {
	eval := s.eval.Load()
	if eval == nil {
		return 0
	}
	return eval.DeliverDeviceState(deviceID, state)
}

// SetValue drives a manual source node.
func (s *Session) SetValue(id string, v any) error {
	eval := s.eval.Load()
	if eval == nil {
		return ErrNotStarted
	}
	return eval.SetValue(id, v)
}

// Close persists the final state and destroys the graph.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eval := s.eval.Swap(nil)
	if eval == nil {
		return nil
	}
	s.persistLocked(ctx, eval)
	return eval.Close()
}
