// Package devicebus connects the runtime to the device gateway over
// socket.io.
//
// The gateway pushes "device_state" events ({"device": id, "state": {...}})
// that the host routes to the nodes listening for that device. Device
// commands go out as "device_command" ({"id", "device", "command", "args"})
// and are answered by "device_result" ({"id", "ok", "status", "error"}).
// Buffer channel writes are mirrored to the gateway as "buffer_update".
package devicebus
