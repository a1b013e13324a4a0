package scheduler

import (
	"log/slog"

	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/clock"
	"github.com/specialistvlad/tickgraph/internal/metrics"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
)

// Options configures an Evaluator. Registry is required; everything else
// has a usable default.
type Options struct {
	// Name labels logs, metrics and spans. Defaults to "root".
	Name     string
	Registry *registry.Registry
	Logger   *slog.Logger
	Clock    clock.Clock
	Channel  *buffer.Channel
	Devices  node.DeviceDriver
	Metrics  *metrics.Collector

	// OnDirty is called, outside any lock, whenever a node is marked dirty.
	// Hosts use it to wake their tick loop.
	OnDirty func()
	// OnTick observes every completed tick.
	OnTick func(TickReport)
	// Settled overrides the evaluator's own graph-settled flag. Nested
	// evaluators use it to inherit the outer signal.
	Settled func() bool
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "root"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Channel == nil {
		o.Channel = buffer.New(o.Clock)
	}
}
