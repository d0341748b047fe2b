package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vidkeep/internal/source"
)

// FormatSelector maps a quality label to a yt-dlp format expression.
// Unknown labels fall through to the capped 1080p selector.
func FormatSelector(quality string) string {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "best":
		return "bestvideo+bestaudio/best"
	case "2160p", "4k":
		return "bestvideo[height<=2160]+bestaudio/best[height<=2160]"
	case "1440p":
		return "bestvideo[height<=1440]+bestaudio/best[height<=1440]"
	case "720p":
		return "bestvideo[height<=720]+bestaudio/best[height<=720]"
	case "480p":
		return "bestvideo[height<=480]+bestaudio/best[height<=480]"
	case "audio":
		return "bestaudio/best"
	default:
		return "bestvideo[height<=1080]+bestaudio/best[height<=1080]"
	}
}

// itemJSON mirrors the subset of yt-dlp's --dump-json output we consume.
type itemJSON struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Duration        float64 `json:"duration"`
	UploadDate      string  `json:"upload_date"`
	ViewCount       int64   `json:"view_count"`
	LikeCount       int64   `json:"like_count"`
	ChannelID       string  `json:"channel_id"`
	Channel         string  `json:"channel"`
	Uploader        string  `json:"uploader"`
	UploaderID      string  `json:"uploader_id"`
	FollowerCount   int64   `json:"channel_follower_count"`
	Thumbnail       string  `json:"thumbnail"`
	WebpageURL      string  `json:"webpage_url"`
	LiveStatus      string  `json:"live_status"`
	WasLive         bool    `json:"was_live"`
	PlaylistChannel string  `json:"playlist_channel_id"`
}

const shortMaxDuration = 60

func parseItemJSON(line string) (source.Item, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return source.Item{}, false
	}
	var raw itemJSON
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil || raw.ID == "" {
		return source.Item{}, false
	}

	item := source.Item{
		ExternalID:   raw.ID,
		Title:        raw.Title,
		Description:  raw.Description,
		Duration:     int64(raw.Duration),
		ViewCount:    raw.ViewCount,
		LikeCount:    raw.LikeCount,
		ContentType:  classifyContent(raw),
		ThumbnailURL: raw.Thumbnail,
		WebpageURL:   raw.WebpageURL,
		RawJSON:      trimmed,
	}
	if raw.UploadDate != "" {
		if parsed, err := time.Parse("20060102", raw.UploadDate); err == nil {
			parsed = parsed.UTC()
			item.UploadDate = &parsed
		}
	}

	channelID := raw.ChannelID
	if channelID == "" {
		channelID = raw.PlaylistChannel
	}
	if channelID == "" {
		channelID = raw.UploaderID
	}
	channelName := raw.Channel
	if channelName == "" {
		channelName = raw.Uploader
	}
	item.Channel = source.ChannelInfo{
		ExternalID:      channelID,
		Name:            channelName,
		SubscriberCount: raw.FollowerCount,
	}
	return item, true
}

func classifyContent(raw itemJSON) string {
	switch raw.LiveStatus {
	case "is_live", "is_upcoming", "post_live", "was_live":
		return "live"
	}
	if raw.WasLive {
		return "live"
	}
	if strings.Contains(raw.WebpageURL, "/shorts/") {
		return "short"
	}
	if raw.Duration > 0 && raw.Duration <= shortMaxDuration {
		return "short"
	}
	return "video"
}

// yt-dlp --newline progress lines look like:
//
//	[download]  42.5% of   10.57MiB at    2.31MiB/s ETA 00:05
var progressPattern = regexp.MustCompile(`^\[download\]\s+([0-9.]+)%(?:\s+of\s+\S+)?(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

func parseProgress(line string) (source.ProgressUpdate, bool) {
	matches := progressPattern.FindStringSubmatch(strings.TrimSpace(line))
	if matches == nil {
		return source.ProgressUpdate{}, false
	}
	percent, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return source.ProgressUpdate{}, false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return source.ProgressUpdate{
		Percent: percent,
		Speed:   matches[2],
		ETA:     matches[3],
	}, true
}


// outputClassifier watches stderr for failure signals so a non-zero exit can
// be mapped onto the sentinel error taxonomy. Only diagnostics feed it;
// stdout carries item JSON whose titles could echo any of the signals.
type outputClassifier struct {
	rateLimited bool
	notFound    bool
	network     bool
	lastError   string
}

var (
	rateLimitSignals = []string{"http error 429", "too many requests", "rate-limit", "rate limit"}
	notFoundSignals  = []string{
		"video unavailable", "private video", "this video is not available",
		"http error 404", "content isn't available", "account associated with this video has been terminated",
	}
	networkSignals = []string{
		"unable to download webpage", "connection refused", "connection reset",
		"network is unreachable", "temporary failure in name resolution",
		"timed out", "getaddrinfo failed",
	}
)

func (c *outputClassifier) observe(line string) {
	lower := strings.ToLower(line)
	if strings.HasPrefix(strings.TrimSpace(lower), "error") {
		c.lastError = strings.TrimSpace(line)
	}
	for _, signal := range rateLimitSignals {
		if strings.Contains(lower, signal) {
			c.rateLimited = true
			return
		}
	}
	for _, signal := range notFoundSignals {
		if strings.Contains(lower, signal) {
			c.notFound = true
			return
		}
	}
	for _, signal := range networkSignals {
		if strings.Contains(lower, signal) {
			c.network = true
			return
		}
	}
}

// classify maps a process failure to a sentinel error. Context cancellation
// wins so pause causes propagate to the caller unchanged.
func (c *outputClassifier) classify(ctx context.Context, operation, subject string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return source.Wrap(source.ErrTimeout, operation, subject, err)
		}
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctxErr
	}
	message := c.lastError
	switch {
	case c.rateLimited:
		return source.Wrap(source.ErrRateLimited, operation, subject, err)
	case c.notFound:
		return source.Wrap(source.ErrNotFound, operation, subject, err)
	case c.network:
		return source.Wrap(source.ErrSourceUnavailable, operation, subject, err)
	case message != "":
		return source.Wrap(source.ErrFetchFailed, operation, subject+": "+message, err)
	}
	return source.Wrap(source.ErrFetchFailed, operation, subject, err)
}
