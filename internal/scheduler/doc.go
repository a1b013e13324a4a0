// Package scheduler contains the Evaluator, the component that decides when
// a node re-evaluates and how values flow along connections.
//
// # Why Scheduler Exists
//
// A graph of stateful nodes is only safe to run unattended if evaluation is
// deterministic and quiet when nothing happens. The Evaluator guarantees:
//
//   - **Order:** nodes run in a cached topological order over direct
//     edges. Channel edges never constrain ordering.
//   - **Minimal work:** a node runs only if it is dirty or a value it
//     consumes changed earlier in the same tick. Outputs are diffed with
//     structural equality and only changed sockets propagate.
//   - **One pass:** producers precede consumers, so a single pass settles
//     every direct consequence of the stimuli that started the tick.
//   - **No re-entrancy:** a dirty mark raised while a tick runs (timers,
//     I/O completions, buffer notifications) lands in the pending set and
//     is picked up by the next tick.
//   - **Isolation:** an error or panic inside one node's Data is logged,
//     the node keeps its previous outputs, and the tick carries on.
//
// With no external stimulus the pending set stays empty and a tick
// evaluates zero nodes, which is what makes a 24/7 runtime idle safely.
//
// # Threading
//
// Ticks, timer callbacks (via Post) and graph edits are serialized by one
// mutex, which makes the Evaluator the single logical evaluation thread of
// its runtime. A Post made while that mutex is held, from Data or from
// another goroutine, is queued and runs before the mutex is released.
// MarkDirty only touches the pending set and may be called from anywhere.
package scheduler
