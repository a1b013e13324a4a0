package node

import (
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Socket is a named, typed port.
type Socket struct {
	Name string
	Type cty.Type
	// Single limits an input socket to one connection.
	Single bool
}

// Ports declares the sockets of a node.
type Ports struct {
	Inputs  []Socket
	Outputs []Socket
}

// Ported is implemented by nodes that declare their sockets. Nodes that do
// not are treated as accepting any socket with a dynamic type.
type Ported interface {
	Ports() Ports
}

// In is a shorthand for an input socket declaration.
func In(name string, t cty.Type) Socket { return Socket{Name: name, Type: t} }

// Out is a shorthand for an output socket declaration.
func Out(name string, t cty.Type) Socket { return Socket{Name: name, Type: t} }

// Input looks up an input socket.
func (p Ports) Input(name string) (Socket, bool) {
	return find(p.Inputs, name)
}

// Output looks up an output socket.
func (p Ports) Output(name string) (Socket, bool) {
	return find(p.Outputs, name)
}

func find(sockets []Socket, name string) (Socket, bool) {
	for _, s := range sockets {
		if s.Name == name {
			return s, true
		}
	}
	return Socket{}, false
}

// Compatible reports whether a value of type from may flow into a socket
// of type to. Dynamic types accept anything; otherwise the types must match
// or have a safe cty conversion (number or bool into string).
func Compatible(from, to cty.Type) bool {
	if from == cty.NilType || to == cty.NilType {
		return false
	}
	if from.Equals(cty.DynamicPseudoType) || to.Equals(cty.DynamicPseudoType) {
		return true
	}
	if from.Equals(to) {
		return true
	}
	return convert.GetConversion(from, to) != nil
}

// SocketsOf returns the declared ports of n, and false when n does not
// declare any.
func SocketsOf(n Node) (Ports, bool) {
	p, ok := n.(Ported)
	if !ok {
		return Ports{}, false
	}
	return p.Ports(), true
}
