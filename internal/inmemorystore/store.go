package inmemorystore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/tickgraph/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store.
//
// Each graph gets its own sync.Map of node id to snapshot, so writers of
// different graphs never contend.
type Store struct {
	graphs sync.Map // Key: graph name, Value: *sync.Map of node id -> nodestore.Snapshot
	closed atomic.Bool
}

// New creates a new, empty in-memory snapshot store.
func New() *Store {
	return &Store{}
}

var _ nodestore.Store = (*Store)(nil)

func (s *Store) nodes(graph string) *sync.Map {
	m, _ := s.graphs.LoadOrStore(graph, &sync.Map{})
	return m.(*sync.Map)
}

// Save records the snapshots, copying their state bytes.
func (s *Store) Save(_ context.Context, graph string, snaps ...nodestore.Snapshot) error {
	if s.closed.Load() {
		return nodestore.ErrClosed
	}
	m := s.nodes(graph)
	for _, snap := range snaps {
		snap.State = append([]byte(nil), snap.State...)
		m.Store(snap.ID, snap)
	}
	return nil
}

// Load returns a copy of the graph's snapshots.
func (s *Store) Load(_ context.Context, graph string) (map[string]nodestore.Snapshot, error) {
	if s.closed.Load() {
		return nil, nodestore.ErrClosed
	}
	out := make(map[string]nodestore.Snapshot)
	v, ok := s.graphs.Load(graph)
	if !ok {
		return out, nil
	}
	v.(*sync.Map).Range(func(key, value any) bool {
		out[key.(string)] = value.(nodestore.Snapshot)
		return true
	})
	return out, nil
}

// Delete forgets the given nodes.
func (s *Store) Delete(_ context.Context, graph string, ids ...string) error {
	if s.closed.Load() {
		return nodestore.ErrClosed
	}
	v, ok := s.graphs.Load(graph)
	if !ok {
		return nil
	}
	for _, id := range ids {
		v.(*sync.Map).Delete(id)
	}
	return nil
}

// Close marks the store closed. Later calls fail with nodestore.ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
