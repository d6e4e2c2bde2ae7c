package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playrunaddict/internal/api"
	"playrunaddict/internal/assemble"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/pipeline"
	"playrunaddict/internal/playlist"
	"playrunaddict/internal/publish"
	"playrunaddict/internal/services/gdrive"
	"playrunaddict/internal/services/playrun"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Poll the watched folder for playlist changes",
		Long: "Asks the running daemon to poll immediately. With --local the poll\n" +
			"and any resulting runs happen in this process instead, which works\n" +
			"without a daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				return runLocalCheck(ctx, cmd)
			}
			var check api.CheckResponse
			if err := ctx.postJSON("/api/check", &check); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Observed %d change(s), queued %d run(s)\n",
				check.Changed, check.Submitted)
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Run the poll and pipeline in this process")
	return cmd
}

func runLocalCheck(ctx *commandContext, cmd *cobra.Command) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	drive, err := gdrive.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("init drive client: %w", err)
	}
	catalog, err := playrun.NewClient(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("init catalog client: %w", err)
	}

	manager := pipeline.NewManager(cfg, store, pipeline.Deps{
		Lister:    drive,
		Resolver:  playlist.NewResolver(drive, logger),
		Assembler: assemble.NewAssembler(cfg, nil, logger),
		Publisher: publish.NewPublisher(cfg, drive, catalog, logger),
		Remote:    drive,
	}, logger)

	processed, err := manager.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d change(s)\n", processed)
	return nil
}
