// Package daemon hosts the long-running watcher process: it enforces
// single-instance execution, drives the periodic folder poll, receives
// Drive push notifications, and serves the local HTTP API the CLI talks
// to.
package daemon
