package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType identifies the work a job describes.
type JobType string

const (
	JobDiscovery JobType = "discovery"
	JobDownload  JobType = "download"
	JobMetadata  JobType = "metadata"
)

var jobTypeSet = map[JobType]struct{}{
	JobDiscovery: {},
	JobDownload:  {},
	JobMetadata:  {},
}

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := jobTypeSet[normalized]
	return normalized, ok
}

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusActive    JobStatus = "active"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsLive reports whether the status counts against the one-live-download-
// per-video constraint.
func (s JobStatus) IsLive() bool {
	switch s {
	case StatusQueued, StatusActive, StatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the job has finished.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when a job is not in the state an
// operation requires.
var ErrInvalidTransition = errors.New("invalid job state transition")

// ErrNotFound is returned when a job lookup matches no row.
var ErrNotFound = errors.New("job not found")

// Job is one unit of queued work. The envelope columns cover scheduling;
// type-specific details live in the payload.
type Job struct {
	ID             int64
	Type           JobType
	VideoID        *int64
	SubscriptionID *int64
	Priority       int
	Status         JobStatus
	Progress       float64
	ErrorMessage   string
	Payload        string
	Result         string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// DiscoveryPayload carries the details of a discovery job.
type DiscoveryPayload struct {
	Trigger string `json:"trigger,omitempty"`
}

// DownloadPayload carries the details of a download job.
type DownloadPayload struct {
	Quality           string   `json:"quality,omitempty"`
	SubtitleLanguages []string `json:"subtitle_languages,omitempty"`
}

// MetadataPayload carries the details of a metadata job for a manually
// submitted URL.
type MetadataPayload struct {
	URL          string `json:"url"`
	AutoDownload bool   `json:"auto_download,omitempty"`
	Quality      string `json:"quality,omitempty"`
}

// DownloadResult records the outcome persisted with a completed download.
type DownloadResult struct {
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// EncodePayload renders a payload struct to its stored JSON form.
func EncodePayload(payload any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a job's stored payload into out.
func DecodePayload(job *Job, out any) error {
	if job == nil || strings.TrimSpace(job.Payload) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(job.Payload), out); err != nil {
		return fmt.Errorf("decode payload for job %d: %w", job.ID, err)
	}
	return nil
}
