// Package api defines the transport-friendly views of ledger and pipeline
// state shared by the daemon's HTTP endpoints and the CLI.
package api
