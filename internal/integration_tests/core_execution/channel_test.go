package integration_tests

import (
	"testing"

	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/testutil"
	"github.com/specialistvlad/tickgraph/modules/buffer"
	"github.com/specialistvlad/tickgraph/modules/logic"
	"github.com/stretchr/testify/require"
)

// Test for: values written to the buffer channel reach readers without a
// direct connection, and readers see the writer as provenance.
func TestCoreExecution_ChannelCarriesValues(t *testing.T) {
	// --- Arrange ---
	h := testutil.NewHarness(t, []registry.Module{&logic.Module{}, &buffer.Module{}})
	h.LoadHCL(`
		node "door" "logic.value" { value = true }
		node "share" "buffer.set" { name = "door" }
		node "read" "buffer.get" {
			name = "door"
			tag  = "Boolean"
		}
		node "watch" "logic.edge" {}

		connect {
			source_id     = "door"
			source_socket = "out"
			target_id     = "share"
			target_socket = "value"
		}
		connect {
			source_id     = "read"
			source_socket = "value"
			target_id     = "watch"
			target_socket = "in"
		}
	`)

	// --- Act ---
	h.Settle()

	// --- Assert ---
	require.Equal(t, "[Boolean]door", h.Out("share", "key"))
	require.Equal(t, true, h.Out("read", "present"))
	require.Equal(t, "share", h.Out("read", "source"))
	require.Equal(t, true, h.Out("watch", "value"))
	source, ok := h.Channel.Provenance("[Boolean]door")
	require.True(t, ok)
	require.Equal(t, "share", source)

	// A change crosses the channel on a later tick.
	require.NoError(t, h.Eval.SetValue("door", false))
	h.Settle()
	require.Equal(t, false, h.Out("watch", "value"))
}

// Test for: a loop through the channel is legal and settles once the
// written value stops changing.
func TestCoreExecution_ChannelLoopSettles(t *testing.T) {
	// --- Arrange ---
	h := testutil.NewHarness(t, []registry.Module{&logic.Module{}, &buffer.Module{}})
	h.LoadHCL(`
		node "seed" "logic.value" { value = true }
		node "write" "buffer.set" { name = "loop" }
		node "read" "buffer.get" { name = "loop" }
		node "echo" "buffer.set" { name = "loop" }

		connect {
			source_id     = "seed"
			source_socket = "out"
			target_id     = "write"
			target_socket = "value"
		}
		connect {
			source_id     = "read"
			source_socket = "value"
			target_id     = "echo"
			target_socket = "value"
		}
	`)

	// --- Act ---
	reports := h.Settle()

	// --- Assert ---
	require.NotEmpty(t, reports)
	require.False(t, h.Eval.HasPending())
	require.NotEmpty(t, h.Eval.Graph().ChannelEdges(), "the loop shows up as channel edges")
	entry, ok := h.Channel.Get("[Boolean]loop")
	require.True(t, ok)
	require.Equal(t, true, entry.Value)
}
