// Package app wires the application together: logger, configuration,
// store, resolution runner, and HTTP server. It owns the process
// lifecycle for both the long-running serve mode and the one-shot
// resolve mode.
package app
