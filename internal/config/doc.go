// Package config loads, validates, and defaults the TOML configuration
// shared by the daemon and CLI.
package config
