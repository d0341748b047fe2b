package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vidkeep/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, scheduler, and backoff status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderStatus(status, colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func renderStatus(status *api.DaemonStatus, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	runKind := statusOK
	runMsg := "running"
	if !status.Running {
		runKind = statusError
		runMsg = "stopped"
	}
	lines = append(lines,
		renderStatusLine("State", runKind, runMsg, colorize),
		renderStatusLine("Database", statusInfo, status.DatabasePath, colorize),
		"")

	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	lines = append(lines, renderQueueStats(status.Queue))
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Scheduler", colorize)...)
	if len(status.Scheduler) == 0 {
		lines = append(lines, statusIndent+"no subscriptions scheduled")
	} else {
		rows := make([][]string, 0, len(status.Scheduler))
		for _, entry := range status.Scheduler {
			next := "-"
			if !entry.NextRun.IsZero() {
				next = fmt.Sprintf("%s (%s)",
					entry.NextRun.Local().Format("2006-01-02 15:04"),
					humanize.Time(entry.NextRun))
			}
			rows = append(rows, []string{
				fmt.Sprint(entry.SubscriptionID),
				entry.CheckFrequency,
				next,
			})
		}
		lines = append(lines, renderTable(
			[]string{"Subscription", "Frequency", "Next Run"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft}))
	}
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Source Backoff", colorize)...)
	if status.Backoff.Active {
		message := fmt.Sprintf("%d consecutive failures", status.Backoff.ConsecutiveFailures)
		if status.Backoff.NextAvailableIn != "" {
			message += ", retrying in " + status.Backoff.NextAvailableIn
		}
		lines = append(lines, renderStatusLine("Throttle", statusWarn, message, colorize))
	} else {
		lines = append(lines, renderStatusLine("Throttle", statusOK, "inactive", colorize))
	}
	return lines
}

func renderQueueStats(stats map[string]map[string]int) string {
	types := make([]string, 0, len(stats))
	for jobType := range stats {
		types = append(types, jobType)
	}
	sort.Strings(types)

	statuses := []string{"queued", "active", "paused", "completed", "failed"}
	rows := make([][]string, 0, len(types))
	for _, jobType := range types {
		row := []string{jobType}
		for _, status := range statuses {
			row = append(row, fmt.Sprint(stats[jobType][status]))
		}
		rows = append(rows, row)
	}

	headers := append([]string{"Type"}, statuses...)
	for i := 1; i < len(headers); i++ {
		headers[i] = strings.ToUpper(headers[i][:1]) + headers[i][1:]
	}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}
	return renderTable(headers, rows, aligns)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return "never"
	}
	return humanize.Time(*value)
}
