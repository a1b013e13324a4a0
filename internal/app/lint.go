package app

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/dot"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/scheduler"
)

// LintReport lists what a graph document loads with but probably should not.
type LintReport struct {
	Nodes       int
	Connections int
	// Placeholders maps node ids to their unregistered types.
	Placeholders map[string]string
	// Skipped holds connections that were rejected at load.
	Skipped []graph.Connection
}

// Clean reports whether the document loads without substitutions or
// dropped connections.
func (r LintReport) Clean() bool {
	return len(r.Placeholders) == 0 && len(r.Skipped) == 0
}

// WriteTo prints the report in a human readable form.
func (r LintReport) WriteTo(w io.Writer) (int64, error) {
	var n int
	write := func(format string, args ...any) {
		m, _ := fmt.Fprintf(w, format, args...)
		n += m
	}
	write("nodes: %d, connections: %d\n", r.Nodes, r.Connections)

	ids := make([]string, 0, len(r.Placeholders))
	for id := range r.Placeholders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		write("unknown node type: %s (%s)\n", id, r.Placeholders[id])
	}
	for _, c := range r.Skipped {
		write("skipped connection: %s\n", c.String())
	}
	if r.Clean() {
		write("ok\n")
	}
	return int64(n), nil
}

// loadDetached loads the configured document into an evaluator that never
// ticks, for inspection only. The caller closes it.
func (a *App) loadDetached(ctx context.Context) (*graph.Document, *scheduler.Evaluator, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	doc, err := LoadDocument(ctx, a.config.GraphPath)
	if err != nil {
		return nil, nil, err
	}
	eval := scheduler.New(scheduler.Options{
		Name:     a.config.Name,
		Registry: a.registry,
		Logger:   a.logger,
	})
	if err := eval.Load(ctx, doc); err != nil {
		_ = eval.Close()
		return nil, nil, err
	}
	return doc, eval, nil
}

// Lint loads the configured graph and reports placeholder nodes and
// skipped connections. Structural errors such as cycles are returned as
// errors.
func (a *App) Lint(ctx context.Context) (LintReport, error) {
	doc, eval, err := a.loadDetached(ctx)
	if err != nil {
		return LintReport{}, err
	}
	defer eval.Close()

	report := LintReport{
		Nodes:        len(doc.Nodes),
		Connections:  len(doc.Connections),
		Placeholders: make(map[string]string),
	}
	for _, st := range eval.Status() {
		if st.Placeholder {
			report.Placeholders[st.ID] = st.Type
		}
	}

	accepted := make(map[graph.Connection]struct{})
	for _, e := range eval.Graph().Edges() {
		accepted[e.Connection] = struct{}{}
	}
	for _, c := range doc.Connections {
		if _, ok := accepted[c]; !ok {
			report.Skipped = append(report.Skipped, c)
		}
	}
	return report, nil
}

// Dot renders the configured graph in Graphviz DOT format.
func (a *App) Dot(ctx context.Context) (string, error) {
	_, eval, err := a.loadDetached(ctx)
	if err != nil {
		return "", err
	}
	defer eval.Close()
	return dot.Render(eval.Graph(), a.config.Name)
}
