package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"blueline/internal/api"
)

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List messages that exceeded their retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				records, err := client.DeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, record := range records {
					rows = append(rows, []string{
						strconv.FormatInt(record.ID, 10),
						record.Stage,
						record.JobID,
						strconv.Itoa(record.Attempt),
						truncate(record.LastError, 50),
						record.FailedAt,
					})
				}
				out := renderTable(
					[]string{"ID", "Stage", "Job", "Attempt", "Last error", "Failed at"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dead-letter-id>",
		Short: "Replay a dead-lettered message through its stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Retry(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Replayed dead letter %d for job %s\n", resp.ID, resp.JobID)
				return nil
			})
		},
	}
}
