package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playrunaddict/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.PipelineStatus
			if err := ctx.getJSON("/api/status", &status); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running:     %s (pid %d)\n", yesNo(status.Running), status.PID)
			fmt.Fprintf(out, "Workers:     %d\n", status.Workers)
			fmt.Fprintf(out, "Queue depth: %d\n", status.QueueDepth)
			fmt.Fprintf(out, "Ledger:      %s\n", status.LedgerPath)
			fmt.Fprint(out, renderTable(
				[]string{"TOTAL", "RUNNING", "DONE", "FAILED", "ABANDONED"},
				[][]string{{
					formatCount(status.Ledger.Total),
					formatCount(status.Ledger.Running),
					formatCount(status.Ledger.Done),
					formatCount(status.Ledger.Failed),
					formatCount(status.Ledger.Abandoned),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
			)+"\n")
			for _, dep := range status.Dependencies {
				if dep.Available {
					fmt.Fprintf(out, "%s: ok (%s)\n", dep.Name, dep.Command)
				} else {
					fmt.Fprintf(out, "%s: missing - %s\n", dep.Name, dep.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}
