// Package pipeline orchestrates the full run for every admitted change
// event: resolve the playlist, assemble the episode, publish it, and clean
// up. A bounded worker pool consumes one unified event stream fed by the
// webhook handler and the poller, and one playlist's failure never takes
// down the daemon or blocks other playlists.
package pipeline
