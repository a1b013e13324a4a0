// Package node defines the contract every node type implements, together
// with the environment a node receives from its host.
//
// # Why Node Exists
//
// The same graph must run inside the interactive editor and in the
// unattended headless runtime with identical semantics. Both hosts talk to
// nodes exclusively through this package:
//
//   - Data is the transfer function. It reads only its Inputs and the
//     node's own properties, may mutate those properties, may arm timers
//     or launch detached I/O, and must return promptly.
//   - Serialize and Restore move the persistable subset of properties in
//     and out as JSON. Restore never causes a side effect.
//   - Destroy releases every timer and subscription the node owns.
//
// A node never calls the scheduler. It asks to be re-evaluated through
// Env.Notify, and the host decides when the next tick runs.
//
// # Restore Safety
//
// Edge-sensitive memory uses Latch. A latch forgets its last value on
// restore and treats the first observation afterwards as a baseline, so a
// graph load can never be mistaken for a real transition.
package node
