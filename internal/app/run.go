package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/tickgraph/internal/badgerstore"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/devicebus"
	"github.com/specialistvlad/tickgraph/internal/headless"
	"github.com/specialistvlad/tickgraph/internal/inmemorystore"
	"github.com/specialistvlad/tickgraph/internal/interactive"
	"github.com/specialistvlad/tickgraph/internal/nodestore"
	"github.com/specialistvlad/tickgraph/internal/session"
)

func (a *App) sessionOptions() session.Options {
	return session.Options{
		Name:     a.config.Name,
		Registry: a.registry,
		Logger:   a.logger,
		Metrics:  a.metrics,
		MaxTicks: a.config.MaxTicks,
		Pace:     a.config.TickPace,
	}
}

// openStore opens the snapshot database under StateDir, or returns nil when
// persistence is disabled.
func (a *App) openStore() (nodestore.Store, error) {
	if a.config.StateDir == "" {
		a.logger.Warn("No state directory configured; node state will not survive restarts.")
		return nil, nil
	}
	cfg := badgerstore.DefaultConfig(a.config.StateDir)
	cfg.Logger = a.logger
	st, err := badgerstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return st, nil
}

// RunHeadless drives the graph without a user interface until ctx is done.
func (a *App) RunHeadless(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.RunHeadless method started.")

	store, err := a.openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				a.logger.Error("Failed to close state store.", "error", err)
			}
		}()
	}

	var bus *devicebus.Bus
	if a.config.DeviceBusURL != "" {
		conn, err := devicebus.Dial(ctx, devicebus.Config{
			URL:                a.config.DeviceBusURL,
			Namespace:          a.config.DeviceBusNamespace,
			InsecureSkipVerify: a.config.DeviceBusInsecure,
		})
		if err != nil {
			return fmt.Errorf("connect device bus: %w", err)
		}
		bus = devicebus.New(conn, a.logger, a.metrics)
	}

	opts := a.sessionOptions()
	opts.Store = store
	if bus != nil {
		opts.Devices = bus
	}
	sess := session.New(opts)

	if a.config.HealthcheckPort > 0 {
		stop := a.startHealthcheckServer(a.config.HealthcheckPort, sess.Settled)
		defer stop()
	}

	rt, err := headless.New(sess, headless.Options{
		Path:  a.config.GraphPath,
		Load:  LoadDocument,
		Watch: a.config.Watch,
		Bus:   bus,
	})
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// RunEditor hosts the graph behind the interactive REST and websocket
// surface. State lives in memory for the lifetime of the process.
func (a *App) RunEditor(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.RunEditor method started.")

	doc, err := LoadDocument(ctx, a.config.GraphPath)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	hub := interactive.NewHub(a.logger)
	opts := a.sessionOptions()
	opts.Store = inmemorystore.New()
	opts.OnTick = hub.Publish
	sess := session.New(opts)

	if err := sess.Start(ctx, doc); err != nil {
		return fmt.Errorf("failed to start graph: %w", err)
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("Graph shut down with leaked timers.", "error", err)
		}
	}()

	if a.config.HealthcheckPort > 0 {
		stop := a.startHealthcheckServer(a.config.HealthcheckPort, sess.Settled)
		defer stop()
	}

	return interactive.New(sess, hub, a.logger).Run(ctx, a.config.EditorAddr)
}
