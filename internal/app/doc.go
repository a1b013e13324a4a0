// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the runtime lifecycles (headless, editor,
// lint and export), decoupled from any specific entrypoint like a CLI.
package app
