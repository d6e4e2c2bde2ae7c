package playlist

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"playrunaddict/internal/logging"
	"playrunaddict/internal/services"
	"playrunaddict/internal/watch"
)

// Downloader fetches the text content of a Drive file.
type Downloader interface {
	DownloadString(ctx context.Context, fileID string) (string, error)
}

// Resolver turns a watched playlist file into a fully resolved segment
// list. Resolution is all-or-nothing: a single unresolvable reference
// fails the whole playlist so a partial episode is never assembled.
type Resolver struct {
	downloader Downloader
	logger     *slog.Logger
}

// NewResolver builds a resolver backed by the provided downloader.
func NewResolver(downloader Downloader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		downloader: downloader,
		logger:     logging.NewComponentLogger(logger, "resolver"),
	}
}

// Resolve downloads the playlist document and maps every segment reference
// to a fetchable URL.
func (r *Resolver) Resolve(ctx context.Context, file watch.SourceFile) (Playlist, error) {
	content, err := r.downloader.DownloadString(ctx, file.ID)
	if err != nil {
		return Playlist{}, services.Wrap(services.ErrPlaylistFetch, "resolving", "download",
			fmt.Sprintf("playlist %s", file.ID), err)
	}

	parsed, err := Parse(content)
	if err != nil {
		return Playlist{}, err
	}

	for i, segment := range parsed.Segments {
		resolved, err := ResolveURI(segment.URI)
		if err != nil {
			return Playlist{}, services.Wrap(services.ErrUnresolvedSegment, "resolving", "map",
				fmt.Sprintf("segment %d (%s)", segment.Order, segment.Title), err)
		}
		parsed.Segments[i].URI = resolved
	}

	r.logger.DebugContext(ctx, "playlist resolved",
		logging.String(logging.FieldFileID, file.ID),
		logging.Int("segments", len(parsed.Segments)),
		logging.Float64("declared_seconds", parsed.TotalDeclaredSeconds()))
	return parsed, nil
}

var driveSharePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://drive\.google\.com/file/d/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`^https?://drive\.google\.com/open\?id=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`^https?://drive\.google\.com/uc\?(?:[^#]*&)?id=([A-Za-z0-9_-]+)`),
}

// DirectDownloadURL is the fetchable form of a Drive file reference.
func DirectDownloadURL(fileID string) string {
	return fmt.Sprintf("https://drive.usercontent.google.com/download?id=%s&export=download&authuser=0&confirm=t", fileID)
}

// ResolveURI maps a playlist reference to a fetchable URL. Drive share
// links in any of their common shapes become direct download URLs, plain
// HTTP(S) URLs pass through verbatim, and everything else is rejected.
func ResolveURI(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty segment reference")
	}

	for _, pattern := range driveSharePatterns {
		if match := pattern.FindStringSubmatch(trimmed); match != nil {
			return DirectDownloadURL(match[1]), nil
		}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse segment reference: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
}
