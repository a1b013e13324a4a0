package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/specialistvlad/tickgraph/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// options collects the raw flag values. Only flags the user actually set
// override the config file.
type options struct {
	configFile string
	cfg        app.Config
}

// NewRootCommand builds the tickgraph command tree. Output and logs go to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	root, _ := newRootCommand(outW)
	return root
}

func newRootCommand(outW io.Writer) (*cobra.Command, *options) {
	o := &options{cfg: app.DefaultConfig()}

	root := &cobra.Command{
		Use:   "tickgraph",
		Short: "A reactive node graph runtime for home and device automation.",
		Long: `tickgraph evaluates a graph of nodes tick by tick: values flow along
direct connections, nodes share state through a buffer channel, and device
nodes talk to a socket.io gateway.

A graph is a JSON document, a single .hcl file or a directory of .hcl files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configFile, "config", "c", "", "Path to a YAML config file. Flags override its values.")
	pf.StringVarP(&o.cfg.GraphPath, "graph", "g", "", "Path to the graph document or directory.")
	pf.StringVar(&o.cfg.Name, "name", o.cfg.Name, "Graph name used in logs, metrics and the state store.")
	pf.StringVar(&o.cfg.LogLevel, "log-level", o.cfg.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&o.cfg.LogFormat, "log-format", o.cfg.LogFormat, "Log output format. Options: 'text' or 'json'.")

	root.AddCommand(
		newRunCommand(o, outW),
		newEditCommand(o, outW),
		newLintCommand(o, outW),
		newDotCommand(o, outW),
	)
	return root, o
}

func newRunCommand(o *options, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [GRAPH_PATH]",
		Short: "Run the graph headless, with persistence and hot reload.",
		Args:  graphArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd, args, outW)
			if err != nil {
				return err
			}
			return a.RunHeadless(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.cfg.StateDir, "state-dir", "", "Directory for node state snapshots. Empty disables persistence.")
	f.StringVar(&o.cfg.DeviceBusURL, "device-bus", "", "socket.io URL of the device gateway.")
	f.StringVar(&o.cfg.DeviceBusNamespace, "device-bus-namespace", "", "socket.io namespace of the device gateway.")
	f.BoolVar(&o.cfg.DeviceBusInsecure, "device-bus-insecure", false, "Skip TLS verification for the device gateway.")
	f.BoolVarP(&o.cfg.Watch, "watch", "w", false, "Reload the graph when its files change.")
	f.IntVar(&o.cfg.HealthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	f.DurationVar(&o.cfg.TickPace, "tick-pace", o.cfg.TickPace, "Pause between settle rounds of a graph that keeps itself busy.")
	f.IntVar(&o.cfg.MaxTicks, "max-ticks", 0, "Tick budget of one settle round. 0 uses the default.")
	return cmd
}

func newEditCommand(o *options, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit [GRAPH_PATH]",
		Short: "Host the graph behind the editor REST and websocket API.",
		Args:  graphArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd, args, outW)
			if err != nil {
				return err
			}
			return a.RunEditor(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.cfg.EditorAddr, "addr", o.cfg.EditorAddr, "Listen address of the editor API.")
	f.IntVar(&o.cfg.HealthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	return cmd
}

func newLintCommand(o *options, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [GRAPH_PATH]",
		Short: "Load the graph and report unknown node types and rejected connections.",
		Args:  graphArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd, args, outW)
			if err != nil {
				return err
			}
			report, err := a.Lint(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			if _, err := report.WriteTo(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !report.Clean() {
				return &ExitError{Code: 1, Message: "lint found problems"}
			}
			return nil
		},
	}
}

func newDotCommand(o *options, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "dot [GRAPH_PATH]",
		Short: "Print the graph in Graphviz DOT format.",
		Args:  graphArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd, args, outW)
			if err != nil {
				return err
			}
			out, err := a.Dot(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func graphArg(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return usageError(err)
	}
	return nil
}

// resolve layers defaults, the config file and the flags the user set, in
// that order, and validates the result.
func (o *options) resolve(cmd *cobra.Command, args []string) (*app.Config, error) {
	cfg := app.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = app.LoadConfigFile(o.configFile, cfg); err != nil {
			return nil, usageError(err)
		}
	}

	flags := cmd.Flags()
	override := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	override("graph", func() { cfg.GraphPath = o.cfg.GraphPath })
	override("name", func() { cfg.Name = o.cfg.Name })
	override("log-level", func() { cfg.LogLevel = o.cfg.LogLevel })
	override("log-format", func() { cfg.LogFormat = o.cfg.LogFormat })
	override("state-dir", func() { cfg.StateDir = o.cfg.StateDir })
	override("device-bus", func() { cfg.DeviceBusURL = o.cfg.DeviceBusURL })
	override("device-bus-namespace", func() { cfg.DeviceBusNamespace = o.cfg.DeviceBusNamespace })
	override("device-bus-insecure", func() { cfg.DeviceBusInsecure = o.cfg.DeviceBusInsecure })
	override("watch", func() { cfg.Watch = o.cfg.Watch })
	override("healthcheck-port", func() { cfg.HealthcheckPort = o.cfg.HealthcheckPort })
	override("tick-pace", func() { cfg.TickPace = o.cfg.TickPace })
	override("max-ticks", func() { cfg.MaxTicks = o.cfg.MaxTicks })
	override("addr", func() { cfg.EditorAddr = o.cfg.EditorAddr })
	if len(args) > 0 {
		cfg.GraphPath = args[0]
	}
	slog.Debug("Graph path determined.", "path", cfg.GraphPath)

	if cfg.GraphPath == "" {
		return nil, &ExitError{Code: 2, Message: "no graph path given: pass GRAPH_PATH, --graph or set 'graph' in the config file"}
	}
	validated, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError(err)
	}
	return validated, nil
}

func (o *options) newApp(cmd *cobra.Command, args []string, outW io.Writer) (*app.App, error) {
	cfg, err := o.resolve(cmd, args)
	if err != nil {
		return nil, err
	}
	return app.NewApp(outW, cfg)
}

// Execute runs the command tree with args. A bare invocation prints help.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := NewRootCommand(outW)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) && isUsageError(err) {
		return usageError(err)
	}
	return err
}

// isUsageError recognizes cobra's own argument errors, such as an unknown
// subcommand, which bypass the flag error hook.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
