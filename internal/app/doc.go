// Package app contains the core application logic. It wires the settings,
// device pool, resource cache, action registry, scheduler and transport
// into one App and runs it until its context ends, decoupled from any
// specific entrypoint like a CLI.
package app
