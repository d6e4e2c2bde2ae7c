// Package logging provides slog construction and shared structured
// logging helpers for the daemon, CLI, and pipeline components.
package logging
