// Package graph is the graph model: node instances, the typed direct
// connections between their sockets, and the channel edges implied by
// buffer readers and writers.
//
// # Why Graph Package Exists
//
// The evaluator needs a structure it can trust. Every connection it sees
// has both endpoints resolved, passes a socket type check, respects input
// multiplicity, and keeps the direct-edge graph acyclic. The graph package
// enforces those rules when connections are made, so nothing downstream
// re-validates.
//
// # Two Edge Kinds
//
// **DirectEdge** is a socket-to-socket connection. Direct edges must be
// acyclic and define the evaluation order. Several direct edges may end at
// one input socket (fan-in); their values reach the node as an ordered
// slice, in the order the connections were made.
//
// **ChannelEdge** is the named, asynchronous link between a node that
// publishes to the buffer channel and a node that subscribes to the same
// name. Channel edges never participate in ordering and may form cycles.
// They are derived from the nodes themselves and exist for inspection and
// export.
//
// # Documents
//
// Document is the persistence format:
//
//	{
//	  "nodes":       [{"id": "...", "type": "...", "properties": {...}}],
//	  "connections": [{"sourceId": "...", "sourceSocket": "...",
//	                   "targetId": "...", "targetSocket": "..."}]
//	}
//
// Documents are validated structurally before any node is created:
// duplicate ids and connections naming unknown nodes are rejected.
//
// # Dynamic Sockets
//
// Some nodes grow and shrink their input lists at runtime. When a node
// stops declaring a socket that a connection still references, Sever
// removes the connection and reports it; evaluation carries on without it.
package graph
