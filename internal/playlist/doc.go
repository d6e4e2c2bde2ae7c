// Package playlist parses extended M3U documents and resolves every
// segment reference to a fetchable URL before any audio is downloaded.
package playlist
