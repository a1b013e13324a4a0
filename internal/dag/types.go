package dag

import (
	"strings"
	"sync"
)

// Graph is a collection of nodes and their dependencies. All operations on
// the graph are concurrency-safe.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	// seq assigns each node its insertion rank, the tie-breaker for
	// topological ordering.
	seq int
}

// node is a single vertex. It is un-exported to enforce interaction with
// the graph through string IDs.
type node struct {
	id         string
	rank       int
	deps       map[string]*node
	dependents map[string]*node
}

// CycleError reports a cycle. Path starts and ends with the same id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}
