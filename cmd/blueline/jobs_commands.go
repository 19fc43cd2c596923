package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"blueline/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List comparison jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.Jobs(cmd.Context(), statusFilter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.Status,
						job.OldVersionID,
						job.NewVersionID,
						job.UpdatedAt,
						truncate(job.ErrorMessage, 40),
					})
				}
				out := renderTable(
					[]string{"ID", "Status", "Old version", "New version", "Updated", "Error"},
					rows,
					nil)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter jobs by status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job and its detected changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				detail, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				printJobDetail(cmd, detail)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

func printJobDetail(cmd *cobra.Command, detail *api.JobDetail) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	job := detail.Job

	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Status:      %s\n", job.Status)
	fmt.Fprintf(out, "Old version: %s\n", job.OldVersionID)
	fmt.Fprintf(out, "New version: %s\n", job.NewVersionID)
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:       %s\n", job.ErrorMessage)
	}
	if job.CompletedAt != "" {
		fmt.Fprintf(out, "Completed:   %s\n", job.CompletedAt)
	}

	if len(detail.Changes) == 0 {
		fmt.Fprintln(out, "No changes recorded")
		return
	}
	rows := make([][]string, 0, len(detail.Changes))
	for _, change := range detail.Changes {
		rows = append(rows, []string{
			change.DrawingCode,
			change.Action,
			change.Category,
			change.Description,
			fmt.Sprintf("%.2f", change.Confidence),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Drawing", "Action", "Category", "Description", "Confidence"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !resp.Cancelled {
					return fmt.Errorf("job %s is already terminal", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
				return nil
			})
		},
	}
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
