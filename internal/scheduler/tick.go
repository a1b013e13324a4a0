package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/value"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TickReport describes one completed tick.
type TickReport struct {
	Tick      uint64
	Evaluated []string
	Failed    []string
	Errors    []*NodeEvaluationError
	// Changed maps a node id to the output sockets whose value changed.
	Changed map[string][]string
	// Updates holds the new value of every changed socket.
	Updates  map[string]node.Outputs
	Severed  []graph.Connection
	Duration time.Duration
}

// Quiet reports whether the tick evaluated nothing.
func (r TickReport) Quiet() bool { return len(r.Evaluated) == 0 }

type socketRef struct {
	node   string
	socket string
}

// Tick runs one evaluation pass. Node failures do not abort the pass; they
// are collected in the report. The returned error is reserved for failures
// of the graph itself.
func (e *Evaluator) Tick(ctx context.Context) (TickReport, error) {
	e.lock()
	defer e.unlock()
	if e.closed {
		return TickReport{}, ErrClosed
	}

	e.tick++
	report := TickReport{Tick: e.tick, Changed: map[string][]string{}, Updates: map[string]node.Outputs{}}
	ctx, span := tracer.Start(ctx, "scheduler.tick", trace.WithAttributes(
		attribute.String("graph", e.opts.Name),
		attribute.Int64("tick", int64(e.tick)),
	))
	defer span.End()
	start := time.Now()

	for _, edge := range e.graph.Sever() {
		e.opts.Logger.Warn("Severed connection to a socket that no longer exists.", "graph", e.opts.Name, "connection", edge.String())
		e.opts.Metrics.ConnectionSevered(e.opts.Name)
		report.Severed = append(report.Severed, edge.Connection)
		e.MarkDirty(edge.TargetID)
	}

	order, err := e.graph.Order()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order failed")
		return report, fmt.Errorf("tick %d: %w", e.tick, err)
	}

	dirty := e.drainPending()
	changed := make(map[socketRef]struct{})

	for _, id := range order {
		st, ok := e.states[id]
		if !ok {
			continue
		}
		incoming := e.graph.Incoming(id)
		_, run := dirty[id]
		if !run {
			for _, edge := range incoming {
				if _, hit := changed[socketRef{edge.SourceID, edge.SourceSocket}]; hit {
					run = true
					break
				}
			}
		}
		if !run {
			continue
		}

		inputs := e.gather(st, incoming)
		out, evalErr := e.evaluate(ctx, st, inputs)
		st.evaluations++
		report.Evaluated = append(report.Evaluated, id)
		e.opts.Metrics.NodeEvaluated(e.opts.Name, st.typ, evalErr != nil)

		if evalErr != nil {
			st.failures++
			st.lastErr = evalErr
			st.logger.Error("Node evaluation failed; keeping previous outputs.", "error", evalErr)
			report.Failed = append(report.Failed, id)
			report.Errors = append(report.Errors, evalErr)
			continue
		}
		st.lastErr = nil

		for socket, v := range out {
			prev, had := st.outputs[socket]
			if had && value.Equal(prev, v) {
				continue
			}
			st.outputs[socket] = v
			changed[socketRef{id, socket}] = struct{}{}
			report.Changed[id] = append(report.Changed[id], socket)
			if report.Updates[id] == nil {
				report.Updates[id] = node.Outputs{}
			}
			report.Updates[id][socket] = v
		}
	}

	report.Duration = time.Since(start)
	e.opts.Metrics.ObserveTick(e.opts.Name, report.Duration)
	span.SetAttributes(
		attribute.Int("evaluated", len(report.Evaluated)),
		attribute.Int("failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d node(s) failed", len(report.Failed)))
	}
	e.opts.Logger.Debug("Tick complete.", "graph", e.opts.Name, "tick", e.tick, "evaluated", len(report.Evaluated), "failed", len(report.Failed), "duration", report.Duration)

	if e.opts.OnTick != nil {
		e.opts.OnTick(report)
	}
	return report, nil
}

// gather builds a node's input map: wired values in connection order, then
// any external injections.
func (e *Evaluator) gather(st *nodeState, incoming []graph.DirectEdge) node.Inputs {
	inputs := node.Inputs{}
	for _, edge := range incoming {
		var v any
		if src, ok := e.states[edge.SourceID]; ok {
			v = src.outputs[edge.SourceSocket]
		}
		inputs[edge.TargetSocket] = append(inputs[edge.TargetSocket], v)
	}
	for socket, vs := range st.external {
		inputs[socket] = append(inputs[socket], vs...)
	}
	return inputs
}

func (e *Evaluator) evaluate(ctx context.Context, st *nodeState, inputs node.Inputs) (out node.Outputs, err *NodeEvaluationError) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &NodeEvaluationError{NodeID: st.id, NodeType: st.typ, Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()
	res, dataErr := st.node.Data(ctx, inputs)
	if dataErr != nil {
		return nil, &NodeEvaluationError{NodeID: st.id, NodeType: st.typ, Err: dataErr}
	}
	return res, nil
}

// RunUntilSettled ticks until no node is pending, at most maxTicks times.
// It returns every report and ErrNotSettled when the budget runs out.
func (e *Evaluator) RunUntilSettled(ctx context.Context, maxTicks int) ([]TickReport, error) {
	var reports []TickReport
	for i := 0; i < maxTicks; i++ {
		if !e.HasPending() {
			return reports, nil
		}
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := e.Tick(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	if e.HasPending() {
		return reports, fmt.Errorf("%w after %d ticks", ErrNotSettled, maxTicks)
	}
	return reports, nil
}
