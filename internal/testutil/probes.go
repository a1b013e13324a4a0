package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// ProbeModule registers small node types used to exercise evaluators:
//
//	test.source   outputs its "value" property on "out"; Settable
//	test.collect  records every input map; outputs "first" and "sum" of "in"
//	test.fail     echoes "in" to "out" unless Fail is set
//	test.panic    panics in Data
//	test.leak     arms a timer in Data and never cancels it
//	test.dynamic  declares the outputs named in its "outputs" property
//	test.echo     calls Notify (or Post) from inside Data
//	test.later    arms a timer on first evaluation and reports "fired"
type ProbeModule struct{}

// Register implements the registry.Module interface.
func (ProbeModule) Register(r *registry.Registry) {
	r.Register("test.source", func(env node.Env) node.Node { return &Source{env: env} })
	r.Register("test.collect", func(env node.Env) node.Node { return &Collect{} })
	r.Register("test.fail", func(env node.Env) node.Node { return &Fail{} })
	r.Register("test.panic", func(env node.Env) node.Node { return &Panic{} })
	r.Register("test.leak", func(env node.Env) node.Node { return &Leak{env: env} })
	r.Register("test.dynamic", func(env node.Env) node.Node { return &Dynamic{} })
	r.Register("test.echo", func(env node.Env) node.Node { return &Echo{env: env} })
	r.Register("test.later", func(env node.Env) node.Node {
		return &Later{env: env, props: laterProps{Delay: "1s"}}
	})
}

// Source emits a fixed value.
type Source struct {
	env   node.Env
	props struct {
		Value any `json:"value"`
	}
}

func (s *Source) Data(context.Context, node.Inputs) (node.Outputs, error) {
	return node.Outputs{"out": s.props.Value}, nil
}
func (s *Source) Serialize() (json.RawMessage, error) { return node.Save(s.props) }
func (s *Source) Restore(raw json.RawMessage) error  { return node.Load(raw, &s.props) }
func (s *Source) Destroy()                           {}

// SetValue replaces the emitted value and requests evaluation.
func (s *Source) SetValue(v any) {
	s.props.Value = v
	s.env.Notify()
}

// Collect records the inputs of every evaluation.
type Collect struct {
	Seen []node.Inputs
}

func (c *Collect) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	c.Seen = append(c.Seen, in)
	first, _ := in.First("in")
	sum := 0.0
	for _, v := range in["in"] {
		if f, ok := value.Number(v); ok {
			sum += f
		}
	}
	return node.Outputs{"first": first, "sum": sum}, nil
}
func (c *Collect) Serialize() (json.RawMessage, error) { return json.RawMessage("{}"), nil }
func (c *Collect) Restore(json.RawMessage) error       { return nil }
func (c *Collect) Destroy()                            {}

// Last returns the most recent input map.
func (c *Collect) Last() node.Inputs {
	if len(c.Seen) == 0 {
		return nil
	}
	return c.Seen[len(c.Seen)-1]
}

// Fail returns an error while Fail is set.
type Fail struct {
	Fail bool `json:"fail"`
}

func (f *Fail) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	if f.Fail {
		return nil, errors.New("probe failure")
	}
	v, _ := in.First("in")
	return node.Outputs{"out": v}, nil
}
func (f *Fail) Serialize() (json.RawMessage, error) { return node.Save(f) }
func (f *Fail) Restore(raw json.RawMessage) error  { return node.Load(raw, f) }
func (f *Fail) Destroy()                           {}

// Panic always panics.
type Panic struct{}

func (Panic) Data(context.Context, node.Inputs) (node.Outputs, error) { panic("probe panic") }
func (Panic) Serialize() (json.RawMessage, error)                    { return nil, nil }
func (Panic) Restore(json.RawMessage) error                          { return nil }
func (Panic) Destroy()                                               {}

// Leak forgets its timer on Destroy.
type Leak struct{ env node.Env }

func (l *Leak) Data(context.Context, node.Inputs) (node.Outputs, error) {
	l.env.Timers.After("forgotten", time.Hour, func() {})
	return nil, nil
}
func (l *Leak) Serialize() (json.RawMessage, error) { return nil, nil }
func (l *Leak) Restore(json.RawMessage) error       { return nil }
func (l *Leak) Destroy()                            {}

// Dynamic declares a configurable set of output sockets.
type Dynamic struct {
	props struct {
		Outputs []string `json:"outputs"`
	}
}

func (d *Dynamic) Ports() node.Ports {
	p := node.Ports{Inputs: []node.Socket{node.In("in", cty.DynamicPseudoType)}}
	for _, name := range d.props.Outputs {
		p.Outputs = append(p.Outputs, node.Out(name, cty.Number))
	}
	return p
}

func (d *Dynamic) Data(context.Context, node.Inputs) (node.Outputs, error) {
	out := node.Outputs{}
	for i, name := range d.props.Outputs {
		out[name] = i
	}
	return out, nil
}
func (d *Dynamic) Serialize() (json.RawMessage, error) { return node.Save(d.props) }
func (d *Dynamic) Restore(raw json.RawMessage) error  { return node.Load(raw, &d.props) }
func (d *Dynamic) Destroy()                           {}

// SetOutputs replaces the declared outputs.
func (d *Dynamic) SetOutputs(names ...string) { d.props.Outputs = names }

// Echo asks to be evaluated again from inside Data. With Loop unset it
// does so only on its first evaluation. With Post set the request goes
// through env.Post instead of Notify.
type Echo struct {
	env    node.Env
	Calls  int  `json:"-"`
	Posted int  `json:"-"`
	Loop   bool `json:"loop"`
	Post   bool `json:"post"`
}

func (e *Echo) Data(context.Context, node.Inputs) (node.Outputs, error) {
	e.Calls++
	if e.Calls == 1 || e.Loop {
		if e.Post {
			e.env.Post(func() {
				e.Posted++
				e.env.Notify()
			})
		} else {
			e.env.Notify()
		}
	}
	return node.Outputs{"calls": e.Calls, "posted": e.Posted}, nil
}
func (e *Echo) Serialize() (json.RawMessage, error) { return node.Save(e) }
func (e *Echo) Restore(raw json.RawMessage) error  { return node.Load(raw, e) }
func (e *Echo) Destroy()                           {}

type laterProps struct {
	Delay string `json:"delay"`
}

// Later flips "fired" once its timer elapses.
type Later struct {
	env   node.Env
	props laterProps
	armed bool
	fired bool
}

func (l *Later) Data(context.Context, node.Inputs) (node.Outputs, error) {
	if !l.armed {
		d, err := time.ParseDuration(l.props.Delay)
		if err != nil {
			return nil, err
		}
		l.armed = true
		l.env.Timers.After("fire", d, func() { l.fired = true })
	}
	return node.Outputs{"fired": l.fired}, nil
}
func (l *Later) Serialize() (json.RawMessage, error) { return node.Save(l.props) }
func (l *Later) Restore(raw json.RawMessage) error  { return node.Load(raw, &l.props) }
func (l *Later) Destroy()                           { l.env.Timers.CancelAll() }
