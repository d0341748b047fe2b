// Package api defines the JSON wire types shared by the daemon HTTP server
// and the CLI client, plus the client itself.
package api

import (
	"time"

	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/queue"
	"vidkeep/internal/scheduler"
)

// DaemonStatus is the /api/status response.
type DaemonStatus struct {
	Running      bool                      `json:"running"`
	DatabasePath string                    `json:"database_path"`
	LockFilePath string                    `json:"lock_file_path"`
	Queue        map[string]map[string]int `json:"queue"`
	Scheduler    []SchedulerEntry          `json:"scheduler"`
	Backoff      BackoffStatus             `json:"backoff"`
}

// SchedulerEntry is one scheduled subscription in status responses.
type SchedulerEntry struct {
	SubscriptionID int64     `json:"subscription_id"`
	CheckFrequency string    `json:"check_frequency"`
	NextRun        time.Time `json:"next_run"`
}

// BackoffStatus is the governor state in status responses.
type BackoffStatus struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Active              bool   `json:"active"`
	NextAvailableIn     string `json:"next_available_in,omitempty"`
	CurrentDelay        string `json:"current_delay,omitempty"`
}

// JobView is one queue job in list and item responses.
type JobView struct {
	ID             int64      `json:"id"`
	Type           string     `json:"type"`
	VideoID        *int64     `json:"video_id,omitempty"`
	SubscriptionID *int64     `json:"subscription_id,omitempty"`
	Priority       int        `json:"priority"`
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// QueueListResponse is the /api/queue response.
type QueueListResponse struct {
	Jobs  []JobView                 `json:"jobs"`
	Stats map[string]map[string]int `json:"stats"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// SubscriptionView is one subscription in list responses.
type SubscriptionView struct {
	ID             int64      `json:"id"`
	ChannelID      int64      `json:"channel_id"`
	Type           string     `json:"type"`
	SourceURL      string     `json:"source_url"`
	Enabled        bool       `json:"enabled"`
	AutoDownload   bool       `json:"auto_download"`
	Quality        string     `json:"quality"`
	CheckFrequency string     `json:"check_frequency"`
	MaxItems       int        `json:"max_items"`
	LastCheck      *time.Time `json:"last_check,omitempty"`
	NewVideosCount int        `json:"new_videos_count"`
}

// SubscriptionListResponse is the /api/subscriptions response.
type SubscriptionListResponse struct {
	Subscriptions []SubscriptionView `json:"subscriptions"`
}

// SubscriptionResponse wraps a single subscription.
type SubscriptionResponse struct {
	Subscription SubscriptionView `json:"subscription"`
}

// CreateSubscriptionRequest is the POST /api/subscriptions body.
type CreateSubscriptionRequest struct {
	SourceURL         string   `json:"source_url"`
	Type              string   `json:"type,omitempty"`
	Quality           string   `json:"quality,omitempty"`
	SubtitleLanguages []string `json:"subtitle_languages,omitempty"`
	ContentTypes      []string `json:"content_types,omitempty"`
	CheckFrequency    string   `json:"check_frequency,omitempty"`
	MaxItems          int      `json:"max_items,omitempty"`
	AutoDownload      *bool    `json:"auto_download,omitempty"`
}

// AddVideoRequest is the POST /api/videos body.
type AddVideoRequest struct {
	URL          string `json:"url"`
	AutoDownload bool   `json:"auto_download,omitempty"`
	Quality      string `json:"quality,omitempty"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromJob converts a queue job into its wire form.
func FromJob(job *queue.Job) JobView {
	return JobView{
		ID:             job.ID,
		Type:           string(job.Type),
		VideoID:        job.VideoID,
		SubscriptionID: job.SubscriptionID,
		Priority:       job.Priority,
		Status:         string(job.Status),
		Progress:       job.Progress,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// FromSubscription converts a subscription into its wire form.
func FromSubscription(sub *catalog.Subscription) SubscriptionView {
	return SubscriptionView{
		ID:             sub.ID,
		ChannelID:      sub.ChannelID,
		Type:           string(sub.Type),
		SourceURL:      sub.SourceURL,
		Enabled:        sub.Enabled,
		AutoDownload:   sub.AutoDownload,
		Quality:        sub.Quality,
		CheckFrequency: sub.CheckFrequency,
		MaxItems:       sub.MaxItems,
		LastCheck:      sub.LastCheck,
		NewVideosCount: sub.NewVideosCount,
	}
}

// FromBackoff converts governor status into its wire form. Durations render
// as strings so humans reading the raw JSON can parse them.
func FromBackoff(status backoff.Status) BackoffStatus {
	out := BackoffStatus{
		ConsecutiveFailures: status.ConsecutiveFailures,
		Active:              status.Active,
	}
	if status.NextAvailableIn > 0 {
		out.NextAvailableIn = status.NextAvailableIn.Round(time.Second).String()
	}
	if status.CurrentDelay > 0 {
		out.CurrentDelay = status.CurrentDelay.Round(time.Second).String()
	}
	return out
}

// FromSchedulerEntries converts scheduler status into its wire form.
func FromSchedulerEntries(entries []scheduler.EntryStatus) []SchedulerEntry {
	out := make([]SchedulerEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, SchedulerEntry{
			SubscriptionID: entry.SubscriptionID,
			CheckFrequency: entry.CheckFrequency,
			NextRun:        entry.NextRun,
		})
	}
	return out
}

// FromQueueStats converts queue statistics into string-keyed wire form.
func FromQueueStats(stats map[queue.JobType]map[queue.JobStatus]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(stats))
	for jobType, byStatus := range stats {
		row := make(map[string]int, len(byStatus))
		for status, count := range byStatus {
			row[string(status)] = count
		}
		out[string(jobType)] = row
	}
	return out
}
