// Command playrund is the long-running watcher daemon: it polls the
// configured Drive folder, receives push notifications, and turns playlist
// changes into published podcast episodes.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"playrunaddict/internal/assemble"
	"playrunaddict/internal/config"
	"playrunaddict/internal/daemon"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/pipeline"
	"playrunaddict/internal/playlist"
	"playrunaddict/internal/publish"
	"playrunaddict/internal/services/gdrive"
	"playrunaddict/internal/services/playrun"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewSinkLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir, "playrund.log")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger.Info("configuration loaded", logging.String("path", path))

	store, err := ledger.Open(cfg)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}

	drive, err := gdrive.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init drive client: %v", err)
	}
	catalog, err := playrun.NewClient(cfg, nil, logger)
	if err != nil {
		log.Fatalf("init catalog client: %v", err)
	}

	manager := pipeline.NewManager(cfg, store, pipeline.Deps{
		Lister:    drive,
		Resolver:  playlist.NewResolver(drive, logger),
		Assembler: assemble.NewAssembler(cfg, nil, logger),
		Publisher: publish.NewPublisher(cfg, drive, catalog, logger),
		Remote:    drive,
	}, logger)

	d, err := daemon.New(cfg, store, manager, drive, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
