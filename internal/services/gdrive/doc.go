// Package gdrive wraps the Drive v3 API for the watched playlist folder:
// listing, document download, episode upload, and stale object deletion.
// All calls go through a shared rate limiter so webhook bursts cannot
// exhaust the API quota.
package gdrive
