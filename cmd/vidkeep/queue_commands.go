package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vidkeep/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueuePauseCommand(ctx))
	queueCmd.AddCommand(newQueueResumeCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Queue(cmd.Context(), statusFilter, limit)
			if err != nil {
				return err
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					fmt.Sprint(job.ID),
					job.Type,
					job.Status,
					fmt.Sprintf("%.0f%%", job.Progress),
					fmt.Sprint(job.Priority),
					humanize.Time(job.CreatedAt),
					job.ErrorMessage,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Status", "Progress", "Priority", "Created", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (queued, active, paused, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Job(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			kind := statusInfo
			switch job.Status {
			case "completed":
				kind = statusOK
			case "failed":
				kind = statusError
			case "paused":
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Job", statusInfo, fmt.Sprintf("%d (%s)", job.ID, job.Type), colorize))
			fmt.Fprintln(out, renderStatusLine("Status", kind, job.Status, colorize))
			fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.1f%%", job.Progress), colorize))
			fmt.Fprintln(out, renderStatusLine("Created", statusInfo, humanize.Time(job.CreatedAt), colorize))
			if job.StartedAt != nil {
				fmt.Fprintln(out, renderStatusLine("Started", statusInfo, humanize.Time(*job.StartedAt), colorize))
			}
			if job.CompletedAt != nil {
				fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, humanize.Time(*job.CompletedAt), colorize))
			}
			if job.ErrorMessage != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
			}
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: queueAction(ctx, "Requeued", func(client *api.Client, cmd *cobra.Command, id int64) error {
			return client.RetryJob(cmd.Context(), id)
		}),
	}
}

func newQueuePauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a queued or running download",
		Args:  cobra.ExactArgs(1),
		RunE: queueAction(ctx, "Paused", func(client *api.Client, cmd *cobra.Command, id int64) error {
			return client.PauseJob(cmd.Context(), id)
		}),
	}
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused download from the start",
		Args:  cobra.ExactArgs(1),
		RunE: queueAction(ctx, "Resumed", func(client *api.Client, cmd *cobra.Command, id int64) error {
			return client.ResumeJob(cmd.Context(), id)
		}),
	}
}

func queueAction(ctx *commandContext, verb string, fn func(*api.Client, *cobra.Command, int64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := ctx.client()
		if err != nil {
			return err
		}
		if err := fn(client, cmd, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s job %d\n", verb, id)
		return nil
	}
}
