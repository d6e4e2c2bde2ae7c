package playlist

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"playrunaddict/internal/services"
)

// SegmentRef is one entry of a parsed playlist. Order is contiguous and
// zero-based so concat inputs preserve document order.
type SegmentRef struct {
	URI                     string
	Title                   string
	DeclaredDurationSeconds float64
	Order                   int
}

// Playlist is the parsed form of one M3U document.
type Playlist struct {
	Segments []SegmentRef
}

// TotalDeclaredSeconds sums the EXTINF durations of all segments.
func (p Playlist) TotalDeclaredSeconds() float64 {
	var total float64
	for _, segment := range p.Segments {
		total += segment.DeclaredDurationSeconds
	}
	return total
}

var extinfPattern = regexp.MustCompile(`^#EXTINF:\s*(-?[0-9.]+)\s*,(.*)$`)

// Parse scans an extended M3U document. Each EXTINF directive must be
// followed by a non-comment URI line; a directive without a usable URI
// makes the document malformed, and a document with no segments at all is
// rejected before any network work happens.
func Parse(content string) (Playlist, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Playlist{}, services.Wrap(services.ErrEmptyPlaylist, "resolving", "parse", "document is empty", nil)
	}

	lines := strings.Split(trimmed, "\n")
	var segments []SegmentRef
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}

		match := extinfPattern.FindStringSubmatch(line)
		if match == nil {
			return Playlist{}, services.Wrap(services.ErrMalformedPlaylist, "resolving", "parse",
				fmt.Sprintf("unparseable EXTINF directive on line %d", i+1), nil)
		}
		duration, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return Playlist{}, services.Wrap(services.ErrMalformedPlaylist, "resolving", "parse",
				fmt.Sprintf("bad duration on line %d", i+1), err)
		}

		uri := ""
		for j := i + 1; j < len(lines); j++ {
			candidate := strings.TrimSpace(lines[j])
			if candidate == "" {
				continue
			}
			if strings.HasPrefix(candidate, "#") {
				break
			}
			uri = candidate
			i = j
			break
		}
		if uri == "" {
			return Playlist{}, services.Wrap(services.ErrMalformedPlaylist, "resolving", "parse",
				fmt.Sprintf("EXTINF on line %d has no segment URI", i+1), nil)
		}

		segments = append(segments, SegmentRef{
			URI:                     uri,
			Title:                   strings.TrimSpace(match[2]),
			DeclaredDurationSeconds: duration,
			Order:                   len(segments),
		})
	}

	if len(segments) == 0 {
		return Playlist{}, services.Wrap(services.ErrEmptyPlaylist, "resolving", "parse", "no segments in document", nil)
	}
	return Playlist{Segments: segments}, nil
}
