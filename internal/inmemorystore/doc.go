// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface. It backs the interactive
// host and tests, where snapshots do not need to outlive the process.
package inmemorystore
