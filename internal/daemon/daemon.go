package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"playrunaddict/internal/api"
	"playrunaddict/internal/config"
	"playrunaddict/internal/deps"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/pipeline"
	"playrunaddict/internal/watch"
)

// Daemon coordinates the watcher services and enforces single-instance
// execution via a lock file in the log directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *ledger.Store
	manager *pipeline.Manager
	lookup  watch.Lookup

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	api *apiServer
}

// New constructs a daemon with initialized dependencies. The lookup may be
// nil only when the webhook receiver is disabled.
func New(cfg *config.Config, store *ledger.Store, manager *pipeline.Manager, lookup watch.Lookup, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, ledger store, and pipeline manager")
	}
	if cfg.Watch.WebhookEnabled && lookup == nil {
		return nil, errors.New("webhook receiver enabled but no source lookup provided")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "playrund.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		lookup:   lookup,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the pipeline, the API
// server, and the poll loop. It returns immediately.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	for _, status := range deps.CheckBinaries(deps.Requirements(d.cfg)) {
		if !status.Available && !status.Optional {
			d.logger.Warn("external dependency unavailable",
				logging.String("name", status.Name),
				logging.String("detail", status.Detail))
		}
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another watcher instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.manager.Start(d.ctx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start pipeline: %w", err)
	}

	server, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.manager.Stop()
		d.releaseStart()
		return err
	}
	d.api = server
	if err := d.api.start(d.ctx); err != nil {
		d.manager.Stop()
		d.releaseStart()
		return err
	}

	d.wg.Add(1)
	go d.pollLoop(d.ctx)

	d.running.Store(true)
	d.logger.InfoContext(ctx, "daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.Addr()))
	return nil
}

func (d *Daemon) releaseStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.api.stop()
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release instance lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr reports the bound API address, or empty before Start.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status aggregates runtime information for the status endpoint and CLI.
func (d *Daemon) Status(ctx context.Context) (api.PipelineStatus, error) {
	health, err := d.manager.Health(ctx)
	if err != nil {
		return api.PipelineStatus{}, err
	}
	return api.PipelineStatus{
		Running:      d.running.Load() && health.Running,
		PID:          os.Getpid(),
		Workers:      health.Workers,
		QueueDepth:   health.QueueDepth,
		LedgerPath:   d.store.Path(),
		Ledger:       api.FromHealthSummary(health.Ledger),
		Dependencies: api.FromDependencyStatuses(deps.CheckBinaries(deps.Requirements(d.cfg))),
	}, nil
}

// pollLoop runs the periodic folder listing. The webhook path reduces
// detection latency; this loop is the correctness backstop that also
// recovers events dropped from a full queue.
func (d *Daemon) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.Watch.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *Daemon) pollOnce(ctx context.Context) {
	changed, submitted, err := d.manager.Poll(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.WarnContext(ctx, "poll failed", logging.Error(err))
		}
		return
	}
	if changed > 0 {
		if err := d.manager.Notifier().NotifyPollCompleted(ctx, changed, submitted); err != nil {
			d.logger.WarnContext(ctx, "poll notification failed", logging.Error(err))
		}
	}
}
