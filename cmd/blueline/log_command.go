package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"blueline/internal/api"
)

func newLogCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "log <version-id>",
		Short: "Show the extraction log for a drawing version",
		Long: "Show the per-page extraction log for a drawing version. The log is " +
			"readable while the pipeline is still running; pages appear as they finish.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				log, err := client.Log(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, log)
				}
				printLog(cmd, log)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

func printLog(cmd *cobra.Command, log *api.ExtractionLog) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Extraction log "+log.VersionID, colorize) {
		fmt.Fprintln(out, line)
	}
	if log.CompletedAt != "" {
		fmt.Fprintf(out, "Completed: %s\n", log.CompletedAt)
	} else {
		fmt.Fprintln(out, "In progress")
	}

	if len(log.Pages) == 0 {
		fmt.Fprintln(out, "No pages extracted yet")
	} else {
		rows := make([][]string, 0, len(log.Pages))
		for _, page := range log.Pages {
			result := page.DrawingName
			if page.Error != "" {
				result = "error: " + page.Error
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", page.PageNumber),
				result,
				fmt.Sprintf("%.2f", page.Confidence),
				page.ProcessedAt,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Page", "Drawing", "Confidence", "Processed"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft}))
	}

	if log.Summary == nil {
		return
	}
	for _, line := range renderSectionHeader("Summary", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Total pages: %d\n", log.Summary.TotalPages)
	fmt.Fprintf(out, "Drawings:    %s\n", strings.Join(log.Summary.DrawingsFound, ", "))
	if log.Summary.ProjectInfo != "" {
		fmt.Fprintf(out, "Project:     %s\n", log.Summary.ProjectInfo)
	}
	if log.Summary.ArchitectInfo != "" {
		fmt.Fprintf(out, "Architect:   %s\n", log.Summary.ArchitectInfo)
	}
	fmt.Fprintf(out, "Revisions:   %s\n", log.Summary.RevisionSummary)
}
