package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vidkeep/internal/api"
)

func newSubscriptionCommand(ctx *commandContext) *cobra.Command {
	subCmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Manage channel and playlist subscriptions",
	}

	subCmd.AddCommand(newSubscriptionAddCommand(ctx))
	subCmd.AddCommand(newSubscriptionListCommand(ctx))
	subCmd.AddCommand(newSubscriptionPauseCommand(ctx))
	subCmd.AddCommand(newSubscriptionResumeCommand(ctx))
	subCmd.AddCommand(newSubscriptionDeleteCommand(ctx))
	subCmd.AddCommand(newSubscriptionTriggerCommand(ctx))

	return subCmd
}

func newSubscriptionAddCommand(ctx *commandContext) *cobra.Command {
	var (
		subType      string
		quality      string
		frequency    string
		maxItems     int
		contentTypes []string
		subtitles    []string
		noDownload   bool
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a channel or playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req := api.CreateSubscriptionRequest{
				SourceURL:         args[0],
				Type:              subType,
				Quality:           quality,
				SubtitleLanguages: subtitles,
				ContentTypes:      contentTypes,
				CheckFrequency:    frequency,
				MaxItems:          maxItems,
			}
			if noDownload {
				autoDownload := false
				req.AutoDownload = &autoDownload
			}
			sub, err := client.CreateSubscription(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribed (id %d), checking %s\n", sub.ID, sub.CheckFrequency)
			return nil
		},
	}

	cmd.Flags().StringVar(&subType, "type", "", "Subscription type (channel or playlist)")
	cmd.Flags().StringVar(&quality, "quality", "", "Preferred quality (best, 2160p, 1080p, 720p, 480p, audio)")
	cmd.Flags().StringVar(&frequency, "check-frequency", "", "Cron expression for discovery runs")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Recent items to examine per run")
	cmd.Flags().StringSliceVar(&contentTypes, "content-types", nil, "Content types to archive (video, short, live)")
	cmd.Flags().StringSliceVar(&subtitles, "subtitle-languages", nil, "Subtitle languages to fetch")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Catalog discovered videos without downloading")
	return cmd
}

func newSubscriptionListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			if len(resp.Subscriptions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Subscriptions))
			for _, sub := range resp.Subscriptions {
				state := "enabled"
				if !sub.Enabled {
					state = "paused"
				}
				rows = append(rows, []string{
					fmt.Sprint(sub.ID),
					sub.Type,
					sub.SourceURL,
					state,
					sub.CheckFrequency,
					formatTimePtr(sub.LastCheck),
					fmt.Sprint(sub.NewVideosCount),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Source", "State", "Frequency", "Last Check", "New"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
}

func newSubscriptionPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a subscription's discovery schedule",
		Args:  cobra.ExactArgs(1),
		RunE: subscriptionAction(ctx, "Paused", func(client *api.Client, cmd *cobra.Command, id int64) error {
			return client.PauseSubscription(cmd.Context(), id)
		}),
	}
}

func newSubscriptionResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused subscription",
		Args:  cobra.ExactArgs(1),
		RunE: subscriptionAction(ctx, "Resumed", func(client *api.Client, cmd *cobra.Command, id int64) error {
			return client.ResumeSubscription(cmd.Context(), id)
		}),
	}
}

func newSubscriptionDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subscription (archived videos stay)",
		Args:  cobra.ExactArgs(1),
		RunE: subscriptionAction(ctx, "Deleted", func(client *api.Client, cmd *cobra.Command, id int64) error {
			return client.DeleteSubscription(cmd.Context(), id)
		}),
	}
}

func newSubscriptionTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <id>",
		Short: "Run discovery for a subscription now",
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
			job, err := client.TriggerSubscription(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discovery queued (job %d)\n", job.ID)
			return nil
		},
	}
}

func subscriptionAction(ctx *commandContext, verb string, fn func(*api.Client, *cobra.Command, int64) error) func(*cobra.Command, []string) error {
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
		fmt.Fprintf(cmd.OutOrStdout(), "%s subscription %d\n", verb, id)
		return nil
	}
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}
