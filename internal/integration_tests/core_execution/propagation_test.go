package integration_tests

import (
	"testing"

	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/specialistvlad/tickgraph/modules/logic"
	"github.com/stretchr/testify/require"
)

// Test for: a change flows through every downstream node within one tick.
func TestCoreExecution_ChangePropagatesInOneTick(t *testing.T) {
	// --- Arrange ---
	h := testutil.NewHarness(t, []registry.Module{&logic.Module{}})
	h.LoadHCL(`
		node "door" "logic.value" { value = true }
		node "armed" "logic.value" { value = true }
		node "both" "logic.gate" {
			op     = "and"
			inputs = 2
		}
		node "alarm" "logic.edge" {}

		connect {
			source_id     = "door"
			source_socket = "out"
			target_id     = "both"
			target_socket = "in0"
		}
		connect {
			source_id     = "armed"
			source_socket = "out"
			target_id     = "both"
			target_socket = "in1"
		}
		connect {
			source_id     = "both"
			source_socket = "out"
			target_id     = "alarm"
			target_socket = "in"
		}
	`)
	h.Settle()
	require.Equal(t, true, h.Out("alarm", "value"))

	// --- Act ---
	require.NoError(t, h.Eval.SetValue("door", false))
	report := h.Tick()

	// --- Assert ---
	require.Equal(t, []string{"door", "both", "alarm"}, report.Evaluated, "downstream nodes run in topological order in the same tick")
	require.Equal(t, false, h.Out("both", "out"))
	require.Equal(t, true, h.Out("alarm", "falling"))
	require.Equal(t, false, h.Out("alarm", "value"))
}

// Test for: a graph with no stimulus evaluates nothing on its next tick.
func TestCoreExecution_Quiescence(t *testing.T) {
	// --- Arrange ---
	h := testutil.NewHarness(t, []registry.Module{&logic.Module{}})
	h.LoadHCL(`
		node "a" "logic.value" { value = 3 }
		node "b" "logic.value" { value = 5 }
		node "lt" "logic.compare" { op = "lt" }
		connect {
			source_id     = "a"
			source_socket = "out"
			target_id     = "lt"
			target_socket = "a"
		}
		connect {
			source_id     = "b"
			source_socket = "out"
			target_id     = "lt"
			target_socket = "b"
		}
	`)

	// --- Act ---
	first := h.Tick()
	second := h.Tick()

	// --- Assert ---
	require.Len(t, first.Evaluated, 3)
	require.True(t, second.Quiet(), "second tick must evaluate zero nodes, got %v", second.Evaluated)
	require.Equal(t, true, h.Out("lt", "out"))
}
