package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphJSON = `{
  "nodes": [
    {"id": "switch", "type": "logic.value", "properties": {"value": true}},
    {"id": "edge", "type": "logic.edge"}
  ],
  "connections": [
    {"sourceId": "switch", "sourceSocket": "out", "targetId": "edge", "targetSocket": "in"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolve_FlagsOverrideFile(t *testing.T) {
	cfgFile := writeFile(t, "tickgraph.yaml", "graph: from-file.json\nlog_level: warn\nstate_dir: /tmp/state\n")
	root, o := newRootCommand(&bytes.Buffer{})
	cmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)

	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgFile, "--log-level", "debug"}))
	cfg, err := o.resolve(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file.json", cfg.GraphPath)
	assert.Equal(t, "debug", cfg.LogLevel, "flag wins over file")
	assert.Equal(t, "/tmp/state", cfg.StateDir, "file wins over default")
	assert.Equal(t, "text", cfg.LogFormat, "default survives")

	cfg, err = o.resolve(cmd, []string{"positional.hcl"})
	require.NoError(t, err)
	assert.Equal(t, "positional.hcl", cfg.GraphPath)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no graph", args: []string{"lint"}, want: "no graph path"},
		{name: "bad level", args: []string{"lint", "--log-level", "loud", "g.json"}, want: "LogLevel"},
		{name: "bad config file", args: []string{"lint", "--config", "/does/not/exist.yaml", "g.json"}, want: "read config file"},
		{name: "unknown flag", args: []string{"lint", "--nope"}, want: "unknown flag"},
		{name: "unknown command", args: []string{"fly"}, want: "unknown command"},
		{name: "too many args", args: []string{"dot", "a.json", "b.json"}, want: "accepts at most 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Execute(context.Background(), &bytes.Buffer{}, tt.args)
			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tt.want)
		})
	}
}

func TestExecute_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), &out, []string{"--help"}))
	assert.Contains(t, out.String(), "Usage:")
	assert.Contains(t, out.String(), "lint")
}

func TestExecute_Lint(t *testing.T) {
	var out bytes.Buffer
	err := Execute(context.Background(), &out, []string{"lint", "--log-level", "error", writeFile(t, "g.json", graphJSON)})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "nodes: 2, connections: 1")
	assert.Contains(t, out.String(), "ok")

	broken := `{"nodes": [{"id": "x", "type": "vendor.thing"}], "connections": []}`
	out.Reset()
	err = Execute(context.Background(), &out, []string{"lint", "--log-level", "error", writeFile(t, "g.json", broken)})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, out.String(), "unknown node type: x (vendor.thing)")
}

func TestExecute_Dot(t *testing.T) {
	var out bytes.Buffer
	err := Execute(context.Background(), &out, []string{"dot", "--log-level", "error", "-g", writeFile(t, "g.json", graphJSON)})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "digraph")
	assert.Contains(t, out.String(), `"switch"`)
}
