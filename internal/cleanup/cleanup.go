// Package cleanup guarantees that every run releases its staging space and
// that remote objects orphaned by a publish are eventually removed.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"playrunaddict/internal/logging"
)

// Remote deletes remote objects by id.
type Remote interface {
	Delete(ctx context.Context, fileID string) error
}

const (
	deleteAttempts       = 3
	deleteInitialBackoff = 100 * time.Millisecond
)

// Guard collects disposable paths and remote objects during a run and
// removes them on Release. Callers acquire one at run start and defer
// Release so cleanup happens on every exit path. Cleanup is best-effort:
// failures are logged and never fail the run.
type Guard struct {
	remote Remote
	logger *slog.Logger

	mu         sync.Mutex
	localPaths []string
	remoteIDs  []string
	released   bool
}

// NewGuard builds a guard for one run.
func NewGuard(remote Remote, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Guard{
		remote: remote,
		logger: logging.NewComponentLogger(logger, "cleanup"),
	}
}

// TrackLocal registers a filesystem path for removal on Release.
func (g *Guard) TrackLocal(path string) {
	if path == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.localPaths = append(g.localPaths, path)
}

// TrackRemote registers a remote object for deletion on Release. Only
// call this once the object is no longer referenced by the catalog or
// feed.
func (g *Guard) TrackRemote(fileID string) {
	if fileID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remoteIDs = append(g.remoteIDs, fileID)
}

// Release removes everything tracked so far. It is idempotent; only the
// first call does work.
func (g *Guard) Release(ctx context.Context) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	localPaths := g.localPaths
	remoteIDs := g.remoteIDs
	g.mu.Unlock()

	for _, path := range localPaths {
		if err := os.RemoveAll(path); err != nil {
			g.logger.WarnContext(ctx, "local cleanup failed",
				logging.String("path", path),
				logging.Error(err))
		}
	}

	for _, fileID := range remoteIDs {
		g.deleteRemote(ctx, fileID)
	}
}

func (g *Guard) deleteRemote(ctx context.Context, fileID string) {
	if g.remote == nil {
		return
	}

	backoff := deleteInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		lastErr = g.remote.Delete(ctx, fileID)
		if lastErr == nil {
			g.logger.InfoContext(ctx, "stale remote object removed",
				logging.String("remote_id", fileID))
			return
		}
		if attempt == deleteAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		backoff *= 2
	}

	g.logger.WarnContext(ctx, "remote cleanup failed",
		logging.String("remote_id", fileID),
		logging.Error(lastErr))
}
