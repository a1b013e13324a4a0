// Package nodestore defines where node state snapshots live between runs.
//
// A snapshot is the output of a node's Serialize call, keyed by graph name
// and node id. The headless host writes the snapshots that changed after
// every settle and applies them on startup, after the document properties,
// so a restarted runtime resumes delays, pulses and state machines where
// they left off.
//
// Implementations must be safe for concurrent use.
package nodestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("node store is closed")

// Snapshot is the persisted state of one node.
type Snapshot struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	State   json.RawMessage `json:"state"`
	SavedAt time.Time       `json:"savedAt"`
}

// Store persists node snapshots per graph.
type Store interface {
	// Save writes the snapshots of one graph, replacing any earlier
	// snapshot with the same node id.
	Save(ctx context.Context, graph string, snaps ...Snapshot) error

	// Load returns every snapshot stored for the graph, keyed by node id.
	// An unknown graph yields an empty map.
	Load(ctx context.Context, graph string) (map[string]Snapshot, error)

	// Delete drops the snapshots of the given nodes. Unknown ids are ignored.
	Delete(ctx context.Context, graph string, ids ...string) error

	// Close releases the store's resources.
	Close() error
}
