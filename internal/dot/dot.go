// Package dot renders a graph in Graphviz DOT format. Direct connections
// are solid edges labelled with their sockets; buffer channel links are
// dashed edges labelled with the channel name.
package dot

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/node"
)

// Render builds the DOT source for g.
func Render(g *graph.Graph, name string) (string, error) {
	if name == "" {
		name = "tickgraph"
	}
	out := gographviz.NewGraph()
	graphName := strconv.Quote(name)
	if err := out.SetName(graphName); err != nil {
		return "", err
	}
	if err := out.SetDir(true); err != nil {
		return "", err
	}
	if err := out.AddAttr(graphName, "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, inst := range g.Nodes() {
		attrs := map[string]string{
			"shape": "box",
			"label": strconv.Quote(inst.ID + "\n" + inst.Type),
		}
		if _, missing := inst.Node.(*node.Placeholder); missing {
			attrs["color"] = "red"
			attrs["style"] = "dashed"
		}
		if err := out.AddNode(graphName, strconv.Quote(inst.ID), attrs); err != nil {
			return "", fmt.Errorf("node '%s': %w", inst.ID, err)
		}
	}

	for _, e := range g.Edges() {
		attrs := map[string]string{
			"label": strconv.Quote(e.SourceSocket + " → " + e.TargetSocket),
		}
		if err := out.AddEdge(strconv.Quote(e.SourceID), strconv.Quote(e.TargetID), true, attrs); err != nil {
			return "", fmt.Errorf("edge %s: %w", e.Connection, err)
		}
	}

	for _, e := range g.ChannelEdges() {
		attrs := map[string]string{
			"style":      "dashed",
			"color":      "gray40",
			"label":      strconv.Quote(e.Name),
			"constraint": "false",
		}
		if err := out.AddEdge(strconv.Quote(e.From), strconv.Quote(e.To), true, attrs); err != nil {
			return "", fmt.Errorf("channel edge %s: %w", e.Name, err)
		}
	}
	return out.String(), nil
}
