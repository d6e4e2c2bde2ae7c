package publish

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"playrunaddict/internal/assemble"
	"playrunaddict/internal/config"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/playlist"
	"playrunaddict/internal/services"
	"playrunaddict/internal/services/playrun"
	"playrunaddict/internal/textutil"
)

// Drive is the storage surface the publisher needs.
type Drive interface {
	Upload(ctx context.Context, localPath, name, mimeType string) (string, error)
	UploadString(ctx context.Context, existingID, name, mimeType, content string) (string, error)
	FindByName(ctx context.Context, name string) (string, error)
	DownloadString(ctx context.Context, fileID string) (string, error)
}

// Catalog pushes episodes to the downstream podcast catalog.
type Catalog interface {
	PublishEpisode(ctx context.Context, episode playrun.Episode) error
}

// Item identifies the source playlist being published.
type Item struct {
	FileID                  string
	Title                   string
	DeclaredDurationSeconds float64
}

// Result reports what the publish produced. CatalogUpdated flips the
// moment the catalog accepts the episode: from then on the fresh upload is
// referenced and must never be treated as an orphan, even if a later step
// fails. PreviousRemoteFileID is only set once the feed repoint succeeded,
// which is the moment the old object stops being referenced and becomes a
// cleanup target.
type Result struct {
	RemoteFileID         string
	ItemKey              string
	PreviousRemoteFileID string
	FeedFileID           string
	CatalogUpdated       bool
}

// Publisher uploads artifacts and repoints the catalog at them.
type Publisher struct {
	cfg     *config.Config
	drive   Drive
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewPublisher builds a publisher over the given Drive and catalog clients.
func NewPublisher(cfg *config.Config, drive Drive, catalog Catalog, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		cfg:     cfg,
		drive:   drive,
		catalog: catalog,
		logger:  logging.NewComponentLogger(logger, "publisher"),
		now:     time.Now,
	}
}

// ItemKey derives the stable catalog key for a playlist file. Revisions of
// the same file always publish under the same key so listeners keep a
// single feed entry.
func ItemKey(fileID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("playrunaddict:"+fileID)).String()
}

// Publish runs both phases. Phase one uploads the artifact, retrying a
// bounded number of times on retryable failures. Phase two pushes the
// episode to the catalog and rewrites the feed item under the stable key;
// it never starts before phase one succeeded. When phase two fails, the
// partial Result still carries the fresh upload's id so the caller can
// schedule the orphan for cleanup.
func (p *Publisher) Publish(ctx context.Context, item Item, artifact assemble.Artifact) (Result, error) {
	key := ItemKey(item.FileID)
	result := Result{ItemKey: key}

	remoteID, err := p.uploadWithRetries(ctx, item, artifact)
	if err != nil {
		return result, err
	}
	result.RemoteFileID = remoteID

	downloadURL := playlist.DirectDownloadURL(remoteID)
	measured := int(math.Round(artifact.MeasuredDurationSeconds))
	published := p.now().UTC()

	episode := playrun.Episode{
		UUID:            key,
		Title:           item.Title,
		Published:       published.Format(time.RFC3339),
		DurationSeconds: measured,
		URL:             downloadURL,
		Type:            "mp3",
		Podcast: playrun.Podcast{
			Title:  p.cfg.Playrun.ChannelTitle,
			Author: "Playrun Addict",
			UUID:   ItemKey("channel:" + p.cfg.Playrun.ChannelTitle),
		},
		PodcastUUID: ItemKey("channel:" + p.cfg.Playrun.ChannelTitle),
	}
	if err := p.catalog.PublishEpisode(ctx, episode); err != nil {
		return result, err
	}
	result.CatalogUpdated = true

	feedID, previousID, err := p.updateFeed(ctx, FeedItem{
		Key:                     key,
		Title:                   item.Title,
		EnclosureURL:            downloadURL,
		LengthSeconds:           measured,
		DeclaredDurationSeconds: item.DeclaredDurationSeconds,
		Published:               published,
	}, remoteID)
	if err != nil {
		return result, err
	}
	result.FeedFileID = feedID
	result.PreviousRemoteFileID = previousID

	p.logger.InfoContext(ctx, "episode published",
		logging.String(logging.FieldFileID, item.FileID),
		logging.String("item_key", key),
		logging.String("remote_id", remoteID),
		logging.Int("duration_seconds", measured))
	return result, nil
}

func (p *Publisher) uploadWithRetries(ctx context.Context, item Item, artifact assemble.Artifact) (string, error) {
	name := textutil.SanitizeFileName(item.Title) + ".mp3"
	attempts := p.cfg.Workflow.UploadRetries + 1
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		remoteID, err := p.drive.Upload(ctx, artifact.LocalPath, name, "audio/mpeg")
		if err == nil {
			return remoteID, nil
		}
		lastErr = services.Wrap(services.ErrUpload, "publishing", "upload",
			fmt.Sprintf("attempt %d/%d", attempt, attempts), err)
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		p.logger.WarnContext(ctx, "upload attempt failed",
			logging.String(logging.FieldFileID, item.FileID),
			logging.Int("attempt", attempt),
			logging.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", services.Wrap(services.ErrUpload, "publishing", "upload", "canceled", ctx.Err())
		}
		backoff *= 2
	}
	return "", lastErr
}

func (p *Publisher) updateFeed(ctx context.Context, item FeedItem, newRemoteID string) (feedID, previousRemoteID string, err error) {
	feedName := p.cfg.Playrun.FeedFileName

	feedID, err = p.drive.FindByName(ctx, feedName)
	if err != nil {
		return "", "", services.Wrap(services.ErrUpload, "publishing", "feed", "locate feed", err)
	}

	feed := NewFeed(p.cfg.Playrun.ChannelTitle)
	if feedID != "" {
		content, downloadErr := p.drive.DownloadString(ctx, feedID)
		if downloadErr != nil {
			return "", "", services.Wrap(services.ErrUpload, "publishing", "feed", "download feed", downloadErr)
		}
		if parsed, parseErr := ParseFeed(content); parseErr == nil {
			feed = parsed
		} else {
			// Unreadable feed gets rebuilt rather than blocking publishes.
			p.logger.WarnContext(ctx, "feed unreadable, rebuilding", logging.Error(parseErr))
		}
	}

	previousURL, replaced := feed.Upsert(item)
	rendered, err := feed.Render(p.now())
	if err != nil {
		return "", "", services.Wrap(services.ErrUpload, "publishing", "feed", "render feed", err)
	}

	feedID, err = p.drive.UploadString(ctx, feedID, feedName, "application/rss+xml", rendered)
	if err != nil {
		return "", "", services.Wrap(services.ErrUpload, "publishing", "feed", "write feed", err)
	}

	if replaced {
		if prior := DriveFileIDFromURL(previousURL); prior != "" && prior != newRemoteID {
			previousRemoteID = prior
		}
	}
	return feedID, previousRemoteID, nil
}
