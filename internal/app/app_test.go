package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/awalterschulze/gographviz"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const switchDoc = `{
  "nodes": [
    {"id": "switch", "type": "logic.value", "properties": {"value": true}},
    {"id": "edge", "type": "logic.edge"},
    {"id": "hue", "type": "vendor.hue", "properties": {"bulb": 3}}
  ],
  "connections": [
    {"sourceId": "switch", "sourceSocket": "out", "targetId": "edge", "targetSocket": "in"},
    {"sourceId": "switch", "sourceSocket": "nope", "targetId": "edge", "targetSocket": "in"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(t *testing.T, cfg Config) (*App, *testutil.SafeBuffer) {
	t.Helper()
	out := &testutil.SafeBuffer{}
	base := DefaultConfig()
	base.LogLevel = "debug"
	base.GraphPath = cfg.GraphPath
	base.StateDir = cfg.StateDir
	base.EditorAddr = "127.0.0.1:0"
	validated, err := NewConfig(base)
	require.NoError(t, err)
	a, err := NewApp(out, validated)
	require.NoError(t, err)
	t.Cleanup(func() {
		if os.Getenv("BGGO_TEST_LOGS") == "true" {
			t.Log(out.String())
		}
	})
	return a, out
}

func TestNewConfig(t *testing.T) {
	valid := DefaultConfig()
	valid.GraphPath = "graph.json"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults"},
		{name: "upper case level", mutate: func(c *Config) { c.LogLevel = "DEBUG" }},
		{name: "missing graph", mutate: func(c *Config) { c.GraphPath = "" }, wantErr: "GraphPath"},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LogFormat"},
		{name: "bad port", mutate: func(c *Config) { c.HealthcheckPort = 70000 }, wantErr: "HealthcheckPort"},
		{name: "bad bus url", mutate: func(c *Config) { c.DeviceBusURL = "not a url" }, wantErr: "DeviceBusURL"},
		{name: "bad editor addr", mutate: func(c *Config) { c.EditorAddr = "localhost" }, wantErr: "editor address"},
		{name: "negative pace", mutate: func(c *Config) { c.TickPace = -time.Second }, wantErr: "TickPace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			got, err := NewConfig(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(cfg.LogLevel), got.LogLevel)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "tickgraph.yaml", `
graph: ./home.hcl
name: home
log_level: warn
state_dir: /var/lib/tickgraph
device_bus_url: http://gateway:3000
watch: true
tick_pace: 50ms
`)
	cfg, err := LoadConfigFile(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "./home.hcl", cfg.GraphPath)
	assert.Equal(t, "home", cfg.Name)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat, "unset keys keep the base value")
	assert.True(t, cfg.Watch)
	assert.Equal(t, 50*time.Millisecond, cfg.TickPace)

	_, err = LoadConfigFile(writeFile(t, "bad.yaml", "graph: [unterminated"), DefaultConfig())
	assert.ErrorContains(t, err, "parse config file")

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultConfig())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDocument(t *testing.T) {
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.DiscardHandler))

	doc, err := LoadDocument(ctx, writeFile(t, "g.json", switchDoc))
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 3)

	doc, err = LoadDocument(ctx, writeFile(t, "g.hcl", `node "v" "logic.value" { value = 1 }`))
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, "logic.value", doc.Nodes[0].Type)

	_, err = LoadDocument(ctx, t.TempDir())
	assert.ErrorContains(t, err, "no graph nodes found")

	_, err = LoadDocument(ctx, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewApp_RegistersCoreModules(t *testing.T) {
	a, _ := newTestApp(t, Config{GraphPath: "unused.json"})
	for _, typ := range []string{"logic.value", "logic.edge", "timing.pulse", "statemachine", "buffer.set", "device.action", "util.print", "util.env", "http.request", "graph.subgraph"} {
		assert.True(t, a.Registry().Has(typ), typ)
	}
	assert.NotNil(t, a.Metrics())
}

func TestLint(t *testing.T) {
	a, _ := newTestApp(t, Config{GraphPath: writeFile(t, "g.json", switchDoc)})

	report, err := a.Lint(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, 3, report.Nodes)
	assert.Equal(t, map[string]string{"hue": "vendor.hue"}, report.Placeholders)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "nope", report.Skipped[0].SourceSocket)

	var buf bytes.Buffer
	_, err = report.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "unknown node type: hue (vendor.hue)")
	assert.Contains(t, buf.String(), "skipped connection: switch.nope -> edge.in")
}

func TestLint_RejectsCycle(t *testing.T) {
	cyclic := `{
  "nodes": [{"id": "a", "type": "logic.gate"}, {"id": "b", "type": "logic.gate"}],
  "connections": [
    {"sourceId": "a", "sourceSocket": "out", "targetId": "b", "targetSocket": "in0"},
    {"sourceId": "b", "sourceSocket": "out", "targetId": "a", "targetSocket": "in0"}
  ]
}`
	a, _ := newTestApp(t, Config{GraphPath: writeFile(t, "g.json", cyclic)})
	_, err := a.Lint(context.Background())
	assert.ErrorContains(t, err, "cycle")
}

func TestDot(t *testing.T) {
	a, _ := newTestApp(t, Config{GraphPath: writeFile(t, "g.json", switchDoc)})
	out, err := a.Dot(context.Background())
	require.NoError(t, err)
	_, err = gographviz.ParseString(out)
	require.NoError(t, err)
	assert.Contains(t, out, `"switch"`)
}

func TestRunHeadless_PersistsState(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "state")
	a, logs := newTestApp(t, Config{GraphPath: writeFile(t, "g.json", switchDoc), StateDir: stateDir})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunHeadless(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Headless runtime started")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("headless runtime did not stop")
	}
	assert.Contains(t, logs.String(), "Headless runtime stopped")
	assert.DirExists(t, stateDir)
}

func TestRunHeadless_BadGraph(t *testing.T) {
	a, _ := newTestApp(t, Config{GraphPath: filepath.Join(t.TempDir(), "missing.json")})
	err := a.RunHeadless(context.Background())
	assert.ErrorContains(t, err, "failed to load graph")
}

func TestHealthHandler(t *testing.T) {
	a, _ := newTestApp(t, Config{GraphPath: "unused.json"})
	ready := false
	h := a.healthHandler(func() bool { return ready })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}
