package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"playrunaddict/internal/api"
	"playrunaddict/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and manage the processing ledger",
	}

	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerShowCommand(ctx))
	ledgerCmd.AddCommand(newLedgerRetryCommand(ctx))
	ledgerCmd.AddCommand(newLedgerClearCommand(ctx))

	return ledgerCmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processing records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			var states []ledger.State
			if stateFilter != "" {
				state, ok := ledger.ParseState(stateFilter)
				if !ok {
					return fmt.Errorf("unknown state %q", stateFilter)
				}
				states = append(states, state)
			}

			records, err := api.NewLedgerService(store).List(cmd.Context(), states...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, api.LedgerListResponse{Records: records})
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				rows = append(rows, []string{
					strconv.FormatInt(record.ID, 10),
					record.Name,
					record.State,
					orDash(record.Stage),
					formatSeconds(record.MeasuredDurationSeconds),
					orDash(record.ErrorKind),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "NAME", "STATE", "STAGE", "DURATION", "ERROR"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			)+"\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Filter by state (running, done, failed, abandoned)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one processing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}

			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := api.NewLedgerService(store).Describe(cmd.Context(), id)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("record %d not found", id)
			}
			return writeJSON(cmd, api.LedgerRecordResponse{Record: *record})
		},
	}
}

func newLedgerRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-run a failed record through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}

			var retry api.RetryResponse
			if err := ctx.postJSON("/api/ledger/"+args[0]+"/retry", &retry); err != nil {
				return err
			}
			if retry.Submitted {
				fmt.Fprintf(cmd.OutOrStdout(), "Queued retry for %s (revision %s)\n",
					retry.FileID, retry.RevisionID)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Retry not queued; the daemon queue is full, try again shortly")
			}
			return nil
		},
	}
}

func newLedgerClearCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			if stateFilter != "" {
				state, ok := ledger.ParseState(stateFilter)
				if !ok {
					return fmt.Errorf("unknown state %q", stateFilter)
				}
				removed, err = store.ClearState(cmd.Context(), state)
			} else {
				removed, err = store.Clear(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Only clear records in this state")
	return cmd
}
