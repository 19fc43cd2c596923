package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"blueline/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		oldID    string
		oldPages int
		oldHash  string
		newID    string
		newPages int
		newHash  string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit two drawing versions for comparison",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(oldID) == "" || strings.TrimSpace(newID) == "" {
				return errors.New("both --old-id and --new-id are required")
			}
			if oldPages <= 0 || newPages <= 0 {
				return errors.New("--old-pages and --new-pages must be positive")
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Submit(cmd.Context(), api.SubmitRequest{
					OldVersion: api.VersionInput{ID: oldID, PageCount: oldPages, FileHash: oldHash},
					NewVersion: api.VersionInput{ID: newID, PageCount: newPages, FileHash: newHash},
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&oldID, "old-id", "", "Identifier of the old drawing version")
	cmd.Flags().IntVar(&oldPages, "old-pages", 0, "Page count of the old drawing version")
	cmd.Flags().StringVar(&oldHash, "old-hash", "", "Content hash of the old drawing version")
	cmd.Flags().StringVar(&newID, "new-id", "", "Identifier of the new drawing version")
	cmd.Flags().IntVar(&newPages, "new-pages", 0, "Page count of the new drawing version")
	cmd.Flags().StringVar(&newHash, "new-hash", "", "Content hash of the new drawing version")

	return cmd
}
