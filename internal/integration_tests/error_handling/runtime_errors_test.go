package integration_tests

import (
	"testing"

	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/specialistvlad/tickgraph/modules/logic"
	"github.com/stretchr/testify/require"
)

// Test for: a failing node keeps its previous outputs while the rest of
// the tick carries on.
func TestErrorHandling_FailingNodeKeepsOutputs(t *testing.T) {
	// --- Arrange ---
	h := testutil.NewHarness(t, []registry.Module{&logic.Module{}, testutil.ProbeModule{}})
	h.LoadHCL(`
		node "v" "logic.value" { value = 1 }
		node "f" "test.fail" {}
		node "other" "test.source" { value = "fine" }
		connect {
			source_id     = "v"
			source_socket = "out"
			target_id     = "f"
			target_socket = "in"
		}
	`)
	h.Settle()
	before := h.Out("f", "out")

	n, ok := h.Eval.Node("f")
	require.True(t, ok)
	n.(*testutil.Fail).Fail = true

	// --- Act ---
	require.NoError(t, h.Eval.SetValue("v", 2))
	report := h.Tick()

	// --- Assert ---
	require.Equal(t, []string{"f"}, report.Failed)
	require.Len(t, report.Errors, 1)
	require.Equal(t, "test.fail", report.Errors[0].NodeType)
	require.Equal(t, before, h.Out("f", "out"))
	require.Equal(t, "fine", h.Out("other", "out"))
	require.Contains(t, h.Logs.String(), "node_id=f")
}

// Test for: shrinking a dynamic socket list severs the connection that
// referenced the removed socket and evaluation continues.
func TestErrorHandling_RemovedSocketSeversConnection(t *testing.T) {
	// --- Arrange ---
	h := testutil.NewHarness(t, []registry.Module{&logic.Module{}})
	h.LoadHCL(`
		node "a" "logic.value" { value = true }
		node "b" "logic.value" { value = false }
		node "any" "logic.gate" {
			op     = "or"
			inputs = 2
		}
		connect {
			source_id     = "a"
			source_socket = "out"
			target_id     = "any"
			target_socket = "in0"
		}
		connect {
			source_id     = "b"
			source_socket = "out"
			target_id     = "any"
			target_socket = "in1"
		}
	`)
	h.Settle()
	require.Len(t, h.Eval.Graph().Edges(), 2)

	n, ok := h.Eval.Node("any")
	require.True(t, ok)

	// --- Act ---
	n.(*logic.Gate).SetInputs(1)
	report := h.Tick()

	// --- Assert ---
	require.Len(t, report.Severed, 1)
	require.Equal(t, "in1", report.Severed[0].TargetSocket)
	require.Len(t, h.Eval.Graph().Edges(), 1)
	require.Equal(t, true, h.Out("any", "out"))
}
