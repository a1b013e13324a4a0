package hcl_adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	return ctxlog.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
}

const hallway = `
node "motion" "device.state" {
  device = "sensor.hall"
}

node "light" "device.action" {
  device  = "light.hall"
  command = "turn_on"
  args    = { level = 80, scene = "evening" }
}

connect {
  source_id     = "motion"
  source_socket = "on"
  target_id     = "light"
  target_socket = "trigger"
}
`

func TestParse_NodesAndConnections(t *testing.T) {
	doc, err := NewLoader().Parse(testCtx(t), "hall.hcl", []byte(hallway))
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "motion", doc.Nodes[0].ID)
	assert.Equal(t, "device.state", doc.Nodes[0].Type)
	assert.JSONEq(t, `{"device":"sensor.hall"}`, string(doc.Nodes[0].Properties))

	var props map[string]any
	require.NoError(t, json.Unmarshal(doc.Nodes[1].Properties, &props))
	assert.Equal(t, "turn_on", props["command"])
	assert.Equal(t, map[string]any{"level": 80.0, "scene": "evening"}, props["args"])

	require.Len(t, doc.Connections, 1)
	assert.Equal(t, "motion.on -> light.trigger", doc.Connections[0].String())
}

func TestParse_EnvVariables(t *testing.T) {
	t.Setenv("TICKGRAPH_ROOM", "kitchen")
	src := `node "n" "util.print" { prefix = "room ${env.TICKGRAPH_ROOM}" }`

	doc, err := NewLoader().Parse(testCtx(t), "env.hcl", []byte(src))
	require.NoError(t, err)
	assert.JSONEq(t, `{"prefix":"room kitchen"}`, string(doc.Nodes[0].Properties))
}

func TestParse_NodeWithoutAttributes(t *testing.T) {
	doc, err := NewLoader().Parse(testCtx(t), "empty.hcl", []byte(`node "v" "logic.value" {}`))
	require.NoError(t, err)
	assert.Nil(t, doc.Nodes[0].Properties)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"syntax":            `node "a" "logic.value" {`,
		"missing label":     `node "a" {}`,
		"nested block":      `node "a" "logic.value" { inner {} }`,
		"unknown variable":  `node "a" "logic.value" { value = nope }`,
		"dangling endpoint": `connect { source_id = "x" source_socket = "o" target_id = "y" target_socket = "i" }`,
		"duplicate id": `
node "a" "logic.value" {}
node "a" "logic.value" {}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().Parse(testCtx(t), "bad.hcl", []byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MergesFilesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "rooms")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`node "a" "logic.value" { value = true }`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.hcl"), []byte(`
node "b" "logic.edge" {}
connect {
  source_id     = "a"
  source_socket = "out"
  target_id     = "b"
  target_socket = "in"
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	doc, err := NewLoader().Load(testCtx(t), dir, filepath.Join(dir, "missing"))
	require.NoError(t, err)

	ids := []string{}
	for _, n := range doc.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Len(t, doc.Connections, 1)
}
