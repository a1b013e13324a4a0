package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicGraph is the kind of every *CyclicGraphError.
	ErrCyclicGraph = errors.New("cyclic graph")
	// ErrInvalidDocument is returned for structurally broken documents.
	ErrInvalidDocument = errors.New("invalid graph document")
	// ErrInvalidConnection is returned when a connection fails validation.
	ErrInvalidConnection = errors.New("invalid connection")
	// ErrDuplicateNode is returned when a node id is already taken.
	ErrDuplicateNode = errors.New("duplicate node id")
)

// CyclicGraphError reports a cycle formed by direct connections.
type CyclicGraphError struct {
	// NodeIDs is the cycle path; the first and last ids are equal.
	NodeIDs []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("%s: direct connections form a cycle through %s; route one of them through the buffer channel",
		ErrCyclicGraph, strings.Join(e.NodeIDs, " -> "))
}

func (e *CyclicGraphError) Unwrap() error { return ErrCyclicGraph }

func connectionError(c Connection, format string, args ...any) error {
	return fmt.Errorf("%w %s: %s", ErrInvalidConnection, c, fmt.Sprintf(format, args...))
}
