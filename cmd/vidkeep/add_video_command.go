package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidkeep/internal/api"
)

func newAddVideoCommand(ctx *commandContext) *cobra.Command {
	var quality string
	var noDownload bool

	cmd := &cobra.Command{
		Use:   "add-video <url>",
		Short: "Catalog a single video by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.AddVideo(cmd.Context(), api.AddVideoRequest{
				URL:          args[0],
				AutoDownload: !noDownload,
				Quality:      quality,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Video submitted (job %d)\n", job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&quality, "quality", "", "Preferred quality for the download")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Catalog metadata without downloading")
	return cmd
}
