// Package ledger persists processing records in SQLite and enforces
// at-most-once admission per (file, revision) across the webhook and
// polling change-detection paths, surviving process restarts.
package ledger
