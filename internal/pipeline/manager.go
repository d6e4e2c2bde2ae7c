package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"playrunaddict/internal/assemble"
	"playrunaddict/internal/config"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/notifications"
	"playrunaddict/internal/playlist"
	"playrunaddict/internal/publish"
	"playrunaddict/internal/watch"
)

// Lister enumerates the watched folder for the poller.
type Lister interface {
	ListPlaylists(ctx context.Context) ([]watch.SourceFile, error)
}

// Resolver turns a source file into a resolved segment list.
type Resolver interface {
	Resolve(ctx context.Context, file watch.SourceFile) (playlist.Playlist, error)
}

// Assembler renders resolved segments into an episode artifact.
type Assembler interface {
	Assemble(ctx context.Context, runDir string, segments []playlist.SegmentRef) (assemble.Artifact, error)
}

// Publisher performs the two-phase publish.
type Publisher interface {
	Publish(ctx context.Context, item publish.Item, artifact assemble.Artifact) (publish.Result, error)
}

// Remote deletes remote objects during cleanup.
type Remote interface {
	Delete(ctx context.Context, fileID string) error
}

// Deps bundles the pipeline's collaborators so tests can substitute fakes.
type Deps struct {
	Lister    Lister
	Resolver  Resolver
	Assembler Assembler
	Publisher Publisher
	Remote    Remote
	Notifier  notifications.Service
}

// eventQueueDepth bounds the unified event channel. A full queue drops the
// event; the poller re-observes dropped changes on its next pass.
const eventQueueDepth = 64

// Manager owns the worker pool and the poller snapshot.
type Manager struct {
	cfg      *config.Config
	store    *ledger.Store
	logger   *slog.Logger
	deps     Deps
	workers  int
	events   chan watch.ChangeEvent

	mu       sync.Mutex
	snapshot watch.Snapshot
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager constructs a pipeline manager. Notifier defaults to the
// configured service when unset.
func NewManager(cfg *config.Config, store *ledger.Store, deps Deps, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "pipeline"),
		deps:    deps,
		workers: cfg.WorkerCount(),
		events:  make(chan watch.ChangeEvent, eventQueueDepth),
	}
}

// Start reclaims interrupted runs and launches the worker pool plus the
// periodic stale-run reclaimer. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("pipeline already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	if err := m.reclaim(runCtx); err != nil {
		m.logger.WarnContext(runCtx, "startup reclaim failed", logging.Error(err))
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(runCtx)
	}

	m.wg.Add(1)
	go m.reclaimLoop(runCtx)

	m.logger.InfoContext(runCtx, "pipeline started", logging.Int("workers", m.workers))
	return nil
}

// Stop cancels in-flight runs and waits for the workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline stopped")
}

// Running reports whether the worker pool is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Notifier exposes the configured notification service so callers outside
// the worker pool can report their own events.
func (m *Manager) Notifier() notifications.Service {
	return m.deps.Notifier
}

// QueueDepth reports how many events are waiting for a worker.
func (m *Manager) QueueDepth() int {
	return len(m.events)
}

// Submit enqueues a change event for processing. A full queue drops the
// event and reports false; the next poll re-observes the change.
func (m *Manager) Submit(event watch.ChangeEvent) bool {
	if event.Deleted {
		m.pruneDeleted(event)
		return true
	}
	select {
	case m.events <- event:
		return true
	default:
		m.logger.Warn("event queue full, dropping event",
			logging.String(logging.FieldFileID, event.FileID),
			logging.String(logging.FieldRevisionID, event.RevisionID),
			logging.String(logging.FieldSource, string(event.Source)))
		return false
	}
}

// Poll lists the watched folder, diffs it against the previous snapshot,
// and submits every observed change. It returns the number of changes
// observed and the number actually enqueued.
func (m *Manager) Poll(ctx context.Context) (changed, submitted int, err error) {
	events, err := m.pollEvents(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, event := range events {
		if event.Deleted {
			m.pruneDeleted(event)
			continue
		}
		changed++
		if m.Submit(event) {
			submitted++
		}
	}

	m.logger.DebugContext(ctx, "poll completed",
		logging.Int("changed", changed),
		logging.Int("submitted", submitted))
	return changed, submitted, nil
}

// pollEvents lists the watched folder, advances the snapshot, and returns
// the changes to act on. The snapshot diff alone would lose any event the
// last pass dropped, so quiet files whose head revision never reached Done
// are re-emitted: a revision skipped while an older run held the file, a
// failed revision awaiting retry, or an event shed from a full queue all
// resurface on a later pass. Files with a run currently in flight stay
// quiet until that run completes.
func (m *Manager) pollEvents(ctx context.Context) ([]watch.ChangeEvent, error) {
	files, err := m.deps.Lister.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watched folder: %w", err)
	}

	curr := watch.NewSnapshot(files, m.cfg.Drive.PlaylistMimeTypes)
	m.mu.Lock()
	prev := m.snapshot
	m.snapshot = curr
	m.mu.Unlock()

	events := watch.DiffSnapshots(prev, curr)
	diffed := make(map[string]struct{}, len(events))
	for _, event := range events {
		diffed[event.FileID] = struct{}{}
	}

	running, err := m.store.List(ctx, ledger.StateRunning)
	if err != nil {
		return nil, fmt.Errorf("list running records: %w", err)
	}
	inFlight := make(map[string]struct{}, len(running))
	for _, record := range running {
		inFlight[record.FileID] = struct{}{}
	}

	now := time.Now().UTC()
	for _, file := range curr {
		if _, ok := diffed[file.ID]; ok {
			continue
		}
		if _, ok := inFlight[file.ID]; ok {
			continue
		}
		last, err := m.store.LastCompleted(ctx, file.ID)
		if err != nil {
			m.logger.WarnContext(ctx, "completed-revision lookup failed",
				logging.String(logging.FieldFileID, file.ID),
				logging.Error(err))
			continue
		}
		if last != nil && last.RevisionID == file.HeadRevisionID {
			continue
		}
		events = append(events, watch.ChangeEvent{
			FileID:     file.ID,
			RevisionID: file.HeadRevisionID,
			Name:       file.Name,
			ObservedAt: now,
			Source:     watch.SourcePoll,
		})
	}
	return events, nil
}

// pruneDeleted drops a vanished file from the snapshot so a future
// re-upload of the same file id is seen as a fresh change. Deletion never
// cancels an in-flight run; the run finishes or fails on its own.
func (m *Manager) pruneDeleted(event watch.ChangeEvent) {
	m.mu.Lock()
	delete(m.snapshot, event.FileID)
	m.mu.Unlock()
	m.logger.Debug("file removed from snapshot",
		logging.String(logging.FieldFileID, event.FileID))
}

func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.events:
			m.process(ctx, event)
		}
	}
}

func (m *Manager) reclaimLoop(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Workflow.HeartbeatTimeout) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.reclaim(ctx); err != nil {
				m.logger.WarnContext(ctx, "reclaim failed", logging.Error(err))
			}
		}
	}
}

func (m *Manager) reclaim(ctx context.Context) error {
	timeout := time.Duration(m.cfg.Workflow.HeartbeatTimeout) * time.Second
	cutoff := time.Now().Add(-timeout)
	reclaimed, err := m.store.ReclaimAbandoned(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		m.logger.InfoContext(ctx, "reclaimed stale runs", logging.Int64("count", reclaimed))
	}
	return nil
}

// Health aggregates manager and ledger state for the status endpoint.
type Health struct {
	Running    bool
	Workers    int
	QueueDepth int
	Ledger     ledger.HealthSummary
}

// Health reports the current pipeline health.
func (m *Manager) Health(ctx context.Context) (Health, error) {
	summary, err := m.store.Health(ctx)
	if err != nil {
		return Health{}, err
	}
	return Health{
		Running:    m.Running(),
		Workers:    m.workers,
		QueueDepth: m.QueueDepth(),
		Ledger:     summary,
	}, nil
}
