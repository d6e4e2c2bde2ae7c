package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"playrunaddict/internal/cleanup"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/publish"
	"playrunaddict/internal/services"
	"playrunaddict/internal/textutil"
	"playrunaddict/internal/watch"
)

// RunOnce performs a single poll and processes every change synchronously,
// bypassing the worker pool. This is the one-shot CLI path.
func (m *Manager) RunOnce(ctx context.Context) (processed int, err error) {
	events, err := m.pollEvents(ctx)
	if err != nil {
		return 0, err
	}
	for _, event := range events {
		if event.Deleted {
			m.pruneDeleted(event)
			continue
		}
		m.process(ctx, event)
		processed++
	}
	return processed, nil
}

// process runs the full stage sequence for one change event. Every exit
// path completes the ledger record and releases the cleanup guard; a
// failure here never propagates beyond the log and the Failed record.
func (m *Manager) process(ctx context.Context, event watch.ChangeEvent) {
	logger := m.logger.With(
		logging.String(logging.FieldFileID, event.FileID),
		logging.String(logging.FieldRevisionID, event.RevisionID),
		logging.String(logging.FieldSource, string(event.Source)))

	decision, record, err := m.store.Admit(ctx, event.FileID, event.RevisionID, event.Name)
	if err != nil {
		logger.ErrorContext(ctx, "admission failed", logging.Error(err))
		return
	}
	if decision != ledger.Admitted {
		logger.DebugContext(ctx, "event dropped", logging.String("decision", string(decision)))
		return
	}

	record.RunID = uuid.NewString()
	logger = logger.With(logging.String(logging.FieldRunID, record.RunID))
	logger.InfoContext(ctx, "run admitted")
	notifyErr(ctx, logger, m.deps.Notifier.NotifyChangeDetected(ctx, event.Name, string(event.Source)))

	runCtx, cancelRun := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go m.heartbeatLoop(runCtx, record.ID, heartbeatDone)

	guard := cleanup.NewGuard(m.deps.Remote, m.logger)
	runDir := filepath.Join(m.cfg.Paths.StagingDir, "run-"+record.RunID)
	guard.TrackLocal(runDir)

	runErr := m.runStages(runCtx, logger, record, event, runDir, guard)

	cancelRun()
	<-heartbeatDone
	guard.Release(ctx)

	if runErr == nil {
		if err := m.store.Complete(ctx, event.FileID, event.RevisionID, ledger.StateDone, "", ""); err != nil {
			logger.ErrorContext(ctx, "completion update failed", logging.Error(err))
		}
		logger.InfoContext(ctx, "run completed")
		return
	}

	kind := services.Kind(runErr)
	if err := m.store.Complete(ctx, event.FileID, event.RevisionID, ledger.StateFailed, kind, runErr.Error()); err != nil {
		logger.ErrorContext(ctx, "failure update failed", logging.Error(err))
	}
	logger.ErrorContext(ctx, "run failed",
		logging.String(logging.FieldErrorKind, kind),
		logging.Error(runErr))
	notifyErr(ctx, logger, m.deps.Notifier.NotifyRunFailed(ctx, event.Name, kind, runErr))
}

func (m *Manager) runStages(ctx context.Context, logger *slog.Logger, record *ledger.Record, event watch.ChangeEvent, runDir string, guard *cleanup.Guard) error {
	m.setStage(ctx, logger, record, ledger.StageResolving)
	resolveCtx, cancelResolve := stageContext(ctx, m.cfg.Audio.ResolveTimeout)
	resolved, err := m.deps.Resolver.Resolve(resolveCtx, watch.SourceFile{
		ID:             event.FileID,
		Name:           event.Name,
		HeadRevisionID: event.RevisionID,
	})
	cancelResolve()
	if err != nil {
		return stageError(ledger.StageResolving, err)
	}
	record.DeclaredDurationSeconds = resolved.TotalDeclaredSeconds()
	m.updateRecord(ctx, logger, record)

	m.setStage(ctx, logger, record, ledger.StageAssembling)
	assembleCtx, cancelAssemble := stageContext(ctx, m.cfg.Audio.AssembleTimeout)
	artifact, err := m.deps.Assembler.Assemble(assembleCtx, runDir, resolved.Segments)
	cancelAssemble()
	if err != nil {
		return stageError(ledger.StageAssembling, err)
	}

	m.setStage(ctx, logger, record, ledger.StagePublishing)
	item := publish.Item{
		FileID:                  event.FileID,
		Title:                   textutil.TitleFromFileName(event.Name),
		DeclaredDurationSeconds: record.DeclaredDurationSeconds,
	}
	publishCtx, cancelPublish := stageContext(ctx, m.cfg.Audio.PublishTimeout)
	result, err := m.deps.Publisher.Publish(publishCtx, item, artifact)
	cancelPublish()
	if err != nil {
		if result.RemoteFileID != "" && !result.CatalogUpdated {
			// The upload succeeded but the catalog never accepted it;
			// the fresh object is unreferenced and safe to remove. Once
			// the catalog points at the object it stays, whatever failed
			// afterwards.
			guard.TrackRemote(result.RemoteFileID)
		}
		return stageError(ledger.StagePublishing, err)
	}

	record.MeasuredDurationSeconds = artifact.MeasuredDurationSeconds
	record.RemoteFileID = result.RemoteFileID
	m.updateRecord(ctx, logger, record)
	if result.PreviousRemoteFileID != "" {
		guard.TrackRemote(result.PreviousRemoteFileID)
	}

	m.setStage(ctx, logger, record, ledger.StageCleaningUp)
	notifyErr(ctx, logger, m.deps.Notifier.NotifyEpisodePublished(ctx, item.Title, int(artifact.MeasuredDurationSeconds)))
	return nil
}

func (m *Manager) setStage(ctx context.Context, logger *slog.Logger, record *ledger.Record, stage string) {
	record.Stage = stage
	m.updateRecord(ctx, logger, record)
	logger.InfoContext(ctx, "stage started", logging.String(logging.FieldStage, stage))
}

func (m *Manager) updateRecord(ctx context.Context, logger *slog.Logger, record *ledger.Record) {
	if err := m.store.Update(ctx, record); err != nil {
		logger.WarnContext(ctx, "record update failed", logging.Error(err))
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, recordID int64, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(m.cfg.Workflow.HeartbeatInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.Heartbeat(ctx, recordID); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.WarnContext(ctx, "heartbeat update failed", logging.Error(err))
			}
		}
	}
}

// stageContext bounds one stage. A non-positive timeout leaves the run
// context unchanged.
func stageContext(ctx context.Context, timeoutSeconds int) (context.Context, context.CancelFunc) {
	if timeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
}

// stageError classifies a deadline hit as that stage's timeout failure.
func stageError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		return services.Wrap(services.ErrTimeout, stage, "deadline", "stage timed out", err)
	}
	return err
}

func notifyErr(ctx context.Context, logger *slog.Logger, err error) {
	if err != nil {
		logger.WarnContext(ctx, "notification failed", logging.Error(err))
	}
}
