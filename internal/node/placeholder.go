package node

import (
	"context"
	"encoding/json"
)

// Placeholder stands in for a node whose type is not registered. It keeps
// the original properties verbatim so saving the graph loses nothing, and
// produces no outputs.
type Placeholder struct {
	typeName string
	raw      json.RawMessage
}

// NewPlaceholder creates a placeholder for the given missing type.
func NewPlaceholder(typeName string) *Placeholder {
	return &Placeholder{typeName: typeName}
}

// MissingType returns the type name that could not be resolved.
func (p *Placeholder) MissingType() string { return p.typeName }

func (p *Placeholder) Data(context.Context, Inputs) (Outputs, error) {
	return Outputs{}, nil
}

func (p *Placeholder) Serialize() (json.RawMessage, error) {
	if p.raw == nil {
		return json.RawMessage("{}"), nil
	}
	return p.raw, nil
}

func (p *Placeholder) Restore(state json.RawMessage) error {
	p.raw = append(json.RawMessage(nil), state...)
	return nil
}

func (p *Placeholder) Destroy() {}
