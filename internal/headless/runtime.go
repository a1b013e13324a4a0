// Package headless runs a graph without a user interface: it loads the
// document, connects the device bus, persists node snapshots and reloads the
// graph when its file changes.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/devicebus"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/session"
	"golang.org/x/sync/errgroup"
)

// DocumentLoader reads a graph document from path.
type DocumentLoader func(ctx context.Context, path string) (*graph.Document, error)

// Options configures a Runtime.
type Options struct {
	// Path is the graph document, or a directory of them.
	Path string
	Load DocumentLoader
	// Watch enables hot reload when the document changes.
	Watch    bool
	Debounce time.Duration
	// Bus, when set, receives device state routing and buffer mirroring.
	Bus *devicebus.Bus
}

// Runtime is the headless host.
type Runtime struct {
	sess *session.Session
	opts Options
}

// New creates a runtime around an unstarted session.
func New(sess *session.Session, opts Options) (*Runtime, error) {
	if opts.Load == nil {
		return nil, errors.New("headless: a document loader is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Runtime{sess: sess, opts: opts}, nil
}

// Run loads the graph and drives it until ctx is done or a component fails.
func (r *Runtime) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	doc, err := r.opts.Load(ctx, r.opts.Path)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	if r.opts.Bus != nil {
		r.opts.Bus.Route(r.sess.DeliverDeviceState)
		r.sess.Channel().Tap(r.opts.Bus.Mirror)
	}
	if err := r.sess.Start(ctx, doc); err != nil {
		return fmt.Errorf("failed to start graph: %w", err)
	}
	logger.Info("🚀 Headless runtime started.", "nodes", len(doc.Nodes), "session_id", r.sess.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.sess.Run(gctx) })
	if r.opts.Watch {
		g.Go(func() error {
			return watch(gctx, r.opts.Path, r.opts.Debounce, func() { r.reload(gctx) })
		})
	}
	runErr := g.Wait()

	closeCtx := context.WithoutCancel(ctx)
	if err := r.sess.Close(closeCtx); err != nil {
		logger.Warn("Graph shut down with leaked timers.", "error", err)
	}
	if r.opts.Bus != nil {
		r.opts.Bus.Close()
	}
	logger.Info("🏁 Headless runtime stopped.")
	return runErr
}

func (r *Runtime) reload(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	doc, err := r.opts.Load(ctx, r.opts.Path)
	if err != nil {
		logger.Error("Ignoring unreadable graph document; keeping the running graph.", "error", err)
		return
	}
	if err := r.sess.Reload(ctx, doc); err != nil {
		logger.Error("Graph reload failed.", "error", err)
	}
}
