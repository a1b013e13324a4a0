// Package buffer provides the node types that write to and read from the
// runtime's buffer channel. Together they connect parts of a graph that
// have no direct edge, including feedback loops.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

const (
	TypeSet = "buffer.set"
	TypeGet = "buffer.get"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the node types with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(TypeSet, func(env node.Env) node.Node { return &Set{env: env} })
	r.Register(TypeGet, func(env node.Env) node.Node { return &Get{env: env} })
}

// SetProps configure a writer.
type SetProps struct {
	Name string `json:"name"`
}

// Set publishes its input under the tagged form of Name. When the shape of
// the value changes, the key under the previous tag is retracted.
type Set struct {
	env     node.Env
	props   SetProps
	lastKey string
}

func (s *Set) Ports() node.Ports {
	return node.Ports{
		Inputs:  []node.Socket{{Name: "value", Type: cty.DynamicPseudoType, Single: true}},
		Outputs: []node.Socket{node.Out("key", cty.String)},
	}
}

func (s *Set) ChannelWrites() []string { return []string{s.props.Name} }

func (s *Set) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	if s.props.Name == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	v, ok := in.First("value")
	if !ok || v == nil {
		return node.Outputs{"key": s.lastKey}, nil
	}
	key := buffer.TaggedKey(s.props.Name, v)
	if s.lastKey != "" && s.lastKey != key {
		s.env.Channel.Retract(s.lastKey, s.env.ID)
	}
	s.env.Channel.Publish(key, v, s.env.ID)
	s.lastKey = key
	return node.Outputs{"key": key}, nil
}

func (s *Set) Serialize() (json.RawMessage, error) { return node.Save(s.props) }

func (s *Set) Restore(raw json.RawMessage) error {
	prev := s.props.Name
	if err := node.Load(raw, &s.props); err != nil {
		return err
	}
	if s.lastKey != "" && prev != s.props.Name {
		s.env.Channel.Retract(s.lastKey, s.env.ID)
		s.lastKey = ""
	}
	return nil
}

func (s *Set) Destroy() {}

// GetProps configure a reader. An empty Tag reads whichever tagged key was
// written most recently.
type GetProps struct {
	Name string    `json:"name"`
	Tag  value.Tag `json:"tag,omitempty"`
}

// Get outputs the current channel value for Name and marks itself dirty
// whenever it changes.
type Get struct {
	env   node.Env
	props GetProps
	subs  []buffer.Subscription
}

func (g *Get) Ports() node.Ports {
	return node.Ports{Outputs: []node.Socket{
		node.Out("value", cty.DynamicPseudoType),
		node.Out("present", cty.Bool),
		node.Out("source", cty.String),
	}}
}

func (g *Get) ChannelReads() []string { return []string{g.props.Name} }

func (g *Get) keys() []string {
	if g.props.Tag != "" {
		return []string{buffer.KeyFor(g.props.Tag, g.props.Name)}
	}
	out := make([]string, 0, len(value.Tags))
	for _, t := range value.Tags {
		out = append(out, buffer.KeyFor(t, g.props.Name))
	}
	return out
}

func (g *Get) subscribe() {
	if g.subs != nil {
		return
	}
	for _, key := range g.keys() {
		g.subs = append(g.subs, g.env.Channel.Subscribe(key, func(buffer.Entry) { g.env.Notify() }))
	}
}

func (g *Get) unsubscribe() {
	for _, s := range g.subs {
		g.env.Channel.Unsubscribe(s)
	}
	g.subs = nil
}

func (g *Get) Data(context.Context, node.Inputs) (node.Outputs, error) {
	if g.props.Name == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	g.subscribe()

	var (
		cur   buffer.Entry
		found bool
	)
	for _, key := range g.keys() {
		e, ok := g.env.Channel.Get(key)
		if ok && (!found || e.Timestamp.After(cur.Timestamp)) {
			cur, found = e, true
		}
	}
	if !found {
		return node.Outputs{"value": nil, "present": false, "source": ""}, nil
	}
	source, _ := g.env.Channel.Provenance(cur.Key)
	return node.Outputs{"value": cur.Value, "present": true, "source": source}, nil
}

func (g *Get) Serialize() (json.RawMessage, error) { return node.Save(g.props) }

func (g *Get) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &g.props); err != nil {
		return err
	}
	g.unsubscribe()
	return nil
}

func (g *Get) Destroy() { g.unsubscribe() }
