package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Document is the persisted form of a graph.
type Document struct {
	Nodes       []NodeSpec   `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeSpec is one persisted node.
type NodeSpec struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// Connection is one persisted direct connection.
type Connection struct {
	SourceID     string `json:"sourceId" hcl:"source_id"`
	SourceSocket string `json:"sourceSocket" hcl:"source_socket"`
	TargetID     string `json:"targetId" hcl:"target_id"`
	TargetSocket string `json:"targetSocket" hcl:"target_socket"`
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", c.SourceID, c.SourceSocket, c.TargetID, c.TargetSocket)
}

// ParseDocument decodes and normalizes a JSON document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Normalize(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ReadFile loads a JSON document from disk.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph document %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal encodes the document as indented JSON.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Normalize trims identifiers, assigns ids to nodes that lack one and
// rejects duplicate ids, untyped nodes and connections with an unknown or
// missing endpoint.
func (d *Document) Normalize() error {
	var errs []error
	ids := make(map[string]struct{}, len(d.Nodes))

	for i := range d.Nodes {
		n := &d.Nodes[i]
		n.ID = strings.TrimSpace(n.ID)
		n.Type = strings.TrimSpace(n.Type)
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Type == "" {
			errs = append(errs, fmt.Errorf("nodes[%d] (%s): type is required", i, n.ID))
		}
		if _, dup := ids[n.ID]; dup {
			errs = append(errs, fmt.Errorf("nodes[%d]: %w '%s'", i, ErrDuplicateNode, n.ID))
		}
		ids[n.ID] = struct{}{}
	}

	for i := range d.Connections {
		c := &d.Connections[i]
		c.SourceID = strings.TrimSpace(c.SourceID)
		c.TargetID = strings.TrimSpace(c.TargetID)
		c.SourceSocket = strings.TrimSpace(c.SourceSocket)
		c.TargetSocket = strings.TrimSpace(c.TargetSocket)
		if c.SourceSocket == "" || c.TargetSocket == "" {
			errs = append(errs, fmt.Errorf("connections[%d] %s: both sockets are required", i, c))
		}
		if _, ok := ids[c.SourceID]; !ok {
			errs = append(errs, fmt.Errorf("connections[%d] %s: dangling source '%s'", i, c, c.SourceID))
		}
		if _, ok := ids[c.TargetID]; !ok {
			errs = append(errs, fmt.Errorf("connections[%d] %s: dangling target '%s'", i, c, c.TargetID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, errors.Join(errs...))
	}
	return nil
}
