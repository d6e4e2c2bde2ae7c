package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// PlaylistEntry pairs a segment URI with its EXTINF metadata for playlist
// fixtures.
type PlaylistEntry struct {
	URI      string
	Title    string
	Duration float64
}

// Playlist renders an extended M3U document from the provided entries.
func Playlist(entries ...PlaylistEntry) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "#EXTINF:%g,%s\n%s\n", entry.Duration, entry.Title, entry.URI)
	}
	return b.String()
}

// WritePlaylist writes an extended M3U document to the target path.
func WritePlaylist(t testing.TB, path string, entries ...PlaylistEntry) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(Playlist(entries...)), 0o644); err != nil {
		t.Fatalf("write playlist %s: %v", path, err)
	}
}
