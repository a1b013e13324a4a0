package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrTimerLeak reports timers still armed after their node was destroyed.
	ErrTimerLeak = errors.New("timer leak")
	// ErrNotSettled is returned when RunUntilSettled exhausts its tick budget.
	ErrNotSettled = errors.New("graph did not settle")
	// ErrClosed is returned by operations on a closed Evaluator.
	ErrClosed = errors.New("evaluator closed")
	// ErrNodeNotFound is returned for unknown node ids.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNotSettable is returned by SetValue for nodes that are not manual sources.
	ErrNotSettable = errors.New("node does not accept values")
)

// NodeEvaluationError wraps a failure raised inside a node's Data.
type NodeEvaluationError struct {
	NodeID   string
	NodeType string
	Err      error
	// Panicked is set when Data panicked rather than returning an error.
	Panicked bool
}

func (e *NodeEvaluationError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("node '%s' (%s) panicked: %v", e.NodeID, e.NodeType, e.Err)
	}
	return fmt.Sprintf("node '%s' (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeEvaluationError) Unwrap() error { return e.Err }

// TimerLeakError names the node that left timers armed.
type TimerLeakError struct {
	NodeID   string
	NodeType string
	Count    int
}

func (e *TimerLeakError) Error() string {
	return fmt.Sprintf("%s: node '%s' (%s) left %d timer(s) armed after destroy", ErrTimerLeak, e.NodeID, e.NodeType, e.Count)
}

func (e *TimerLeakError) Unwrap() error { return ErrTimerLeak }
