package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/tickgraph/internal/buffer"
	"github.com/specialistvlad/tickgraph/internal/clock/clocktest"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/hcl_adapter"
	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/scheduler"
	"github.com/stretchr/testify/require"
)

// Epoch is the start time of every fake clock built by the harness.
var Epoch = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// NewLogger returns a debug-level text logger writing into a SafeBuffer.
// With BGGO_TEST_LOGS=true the captured output is dumped when the test ends.
func NewLogger(t *testing.T) (*slog.Logger, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("BGGO_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// Harness is an evaluator wired to a fake clock and a captured log.
type Harness struct {
	T       *testing.T
	Eval    *scheduler.Evaluator
	Clock   *clocktest.Clock
	Channel *buffer.Channel
	Logs    *SafeBuffer
	Reg     *registry.Registry

	logger *slog.Logger
}

// Context returns a background context carrying the harness logger.
func (h *Harness) Context() context.Context {
	return ctxlog.WithLogger(context.Background(), h.logger)
}

// Option adjusts the evaluator options a harness is built with.
type Option func(*scheduler.Options)

// WithDevices installs a device driver.
func WithDevices(d node.DeviceDriver) Option {
	return func(o *scheduler.Options) { o.Devices = d }
}

// NewHarness builds an empty evaluator over modules. The evaluator is
// closed when the test ends and must not leak timers.
func NewHarness(t *testing.T, modules []registry.Module, opts ...Option) *Harness {
	t.Helper()
	logger, logs := NewLogger(t)
	clk := clocktest.New(Epoch)
	ch := buffer.New(clk)
	reg := registry.New(modules...)
	o := scheduler.Options{
		Name:     "test",
		Registry: reg,
		Logger:   logger,
		Clock:    clk,
		Channel:  ch,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &Harness{T: t, Eval: scheduler.New(o), Clock: clk, Channel: ch, Logs: logs, Reg: reg, logger: logger}
	t.Cleanup(func() {
		require.NoError(t, h.Eval.Close(), "evaluator close reported leaks")
	})
	return h
}

// Load parses a JSON graph document and loads it.
func (h *Harness) Load(doc string) {
	h.T.Helper()
	d, err := graph.ParseDocument([]byte(doc))
	require.NoError(h.T, err)
	require.NoError(h.T, h.Eval.Load(context.Background(), d))
}

// LoadHCL parses an HCL graph document and loads it.
func (h *Harness) LoadHCL(src string) {
	h.T.Helper()
	d, err := hcl_adapter.NewLoader().Parse(h.Context(), "main.hcl", []byte(src))
	require.NoError(h.T, err)
	require.NoError(h.T, h.Eval.Load(context.Background(), d))
}

// Tick runs one tick and fails the test on a graph-level error.
func (h *Harness) Tick() scheduler.TickReport {
	h.T.Helper()
	r, err := h.Eval.Tick(context.Background())
	require.NoError(h.T, err)
	return r
}

// Settle ticks until nothing is pending.
func (h *Harness) Settle() []scheduler.TickReport {
	h.T.Helper()
	rs, err := h.Eval.RunUntilSettled(context.Background(), 100)
	require.NoError(h.T, err)
	return rs
}

// Advance moves the fake clock and then settles the graph.
func (h *Harness) Advance(d time.Duration) []scheduler.TickReport {
	h.T.Helper()
	h.Clock.Advance(d)
	return h.Settle()
}

// Out returns a node output, failing the test when it is missing.
func (h *Harness) Out(id, socket string) any {
	h.T.Helper()
	v, ok := h.Eval.Output(id, socket)
	require.True(h.T, ok, "node '%s' has no output '%s'", id, socket)
	return v
}
