package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"blueline/internal/api"
	"blueline/internal/compare"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, job counts, and queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

func printStatus(cmd *cobra.Command, status *api.Status) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		fmt.Fprintln(out, "Running")
	} else {
		fmt.Fprintln(out, "Not running")
	}

	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := make([][]string, 0, len(status.JobStats))
	for _, jobStatus := range compare.AllJobStatuses() {
		count, ok := status.JobStats[string(jobStatus)]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(jobStatus), fmt.Sprintf("%d", count)})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No jobs")
	} else {
		fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	for _, line := range renderSectionHeader("Queues", colorize) {
		fmt.Fprintln(out, line)
	}
	topics := make([]string, 0, len(status.QueueDepths))
	for topic := range status.QueueDepths {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	queueRows := make([][]string, 0, len(topics))
	for _, topic := range topics {
		queueRows = append(queueRows, []string{topic, fmt.Sprintf("%d", status.QueueDepths[topic])})
	}
	fmt.Fprintln(out, renderTable([]string{"Topic", "Depth"}, queueRows, []columnAlignment{alignLeft, alignRight}))

	for _, line := range renderSectionHeader("Stages", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, health := range status.StageHealth {
		state := "ready"
		if !health.Ready {
			state = "not ready"
		}
		if health.Detail != "" {
			fmt.Fprintf(out, "%-10s %s (%s)\n", health.Name, state, health.Detail)
		} else {
			fmt.Fprintf(out, "%-10s %s\n", health.Name, state)
		}
	}
}
