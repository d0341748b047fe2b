// Package source defines the boundary to the upstream content platform.
// Workers depend on the Adapter interface only; the concrete yt-dlp
// implementation lives in the ytdlp subpackage.
package source

import (
	"context"
	"time"
)

// Item is one piece of content as reported by the upstream platform.
type Item struct {
	ExternalID   string
	Title        string
	Description  string
	Duration     int64
	UploadDate   *time.Time
	ViewCount    int64
	LikeCount    int64
	ContentType  string
	ThumbnailURL string
	WebpageURL   string
	Channel      ChannelInfo
	RawJSON      string
}

// ChannelInfo identifies the producing channel of an item.
type ChannelInfo struct {
	ExternalID      string
	Name            string
	SubscriberCount int64
}

// ProgressUpdate reports fetch progress.
type ProgressUpdate struct {
	Percent float64
	Speed   string
	ETA     string
}

// FetchOptions controls how an item is fetched.
type FetchOptions struct {
	DestDir           string
	Quality           string
	SubtitleLanguages []string
	EmbedSubtitles    bool
	WriteThumbnail    bool
}

// FetchResult describes a completed fetch.
type FetchResult struct {
	FilePath string
	FileSize int64
}

// Adapter is the upstream platform boundary. Implementations must honor
// context cancellation on every call.
type Adapter interface {
	// ListRecentItems returns up to maxItems of the newest content behind
	// sourceURL, newest first. It never downloads media.
	ListRecentItems(ctx context.Context, sourceURL string, maxItems int) ([]Item, error)

	// ResolveItem fetches metadata for a single content URL without
	// downloading media.
	ResolveItem(ctx context.Context, url string) (*Item, error)

	// FetchItem downloads one item into opts.DestDir, reporting progress
	// through the optional callback.
	FetchItem(ctx context.Context, externalID string, opts FetchOptions, progress func(ProgressUpdate)) (*FetchResult, error)
}
