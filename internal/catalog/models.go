package catalog

import (
	"strings"
	"time"
)

// VideoStatus tracks a video's download lifecycle.
type VideoStatus string

const (
	VideoPending     VideoStatus = "pending"
	VideoDownloading VideoStatus = "downloading"
	VideoCompleted   VideoStatus = "completed"
	VideoFailed      VideoStatus = "failed"
	VideoDeleted     VideoStatus = "deleted"
)

var videoStatusSet = map[VideoStatus]struct{}{
	VideoPending:     {},
	VideoDownloading: {},
	VideoCompleted:   {},
	VideoFailed:      {},
	VideoDeleted:     {},
}

// ParseVideoStatus converts a string into a known VideoStatus.
func ParseVideoStatus(value string) (VideoStatus, bool) {
	normalized := VideoStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := videoStatusSet[normalized]
	return normalized, ok
}

// ContentType classifies discovered items.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentShort ContentType = "short"
	ContentLive  ContentType = "live"
)

var contentTypeSet = map[ContentType]struct{}{
	ContentVideo: {},
	ContentShort: {},
	ContentLive:  {},
}

// ParseContentType converts a string into a known ContentType.
func ParseContentType(value string) (ContentType, bool) {
	normalized := ContentType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := contentTypeSet[normalized]
	return normalized, ok
}

// SubscriptionType distinguishes channel and playlist subscriptions.
type SubscriptionType string

const (
	SubscriptionChannel  SubscriptionType = "channel"
	SubscriptionPlaylist SubscriptionType = "playlist"
)

var subscriptionTypeSet = map[SubscriptionType]struct{}{
	SubscriptionChannel:  {},
	SubscriptionPlaylist: {},
}

// ParseSubscriptionType converts a string into a known SubscriptionType.
func ParseSubscriptionType(value string) (SubscriptionType, bool) {
	normalized := SubscriptionType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := subscriptionTypeSet[normalized]
	return normalized, ok
}

// Channel is an upstream content producer. Channels are never hard-deleted;
// videos keep referencing them.
type Channel struct {
	ID              int64
	ExternalID      string
	Name            string
	Description     string
	SubscriberCount int64
	ThumbnailURL    string
	MetadataJSON    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Video is a single archived or archivable item.
type Video struct {
	ID                 int64
	ExternalID         string
	ChannelID          int64
	Title              string
	Description        string
	Duration           int64
	UploadDate         *time.Time
	ViewCount          int64
	LikeCount          int64
	ContentType        ContentType
	Quality            string
	FilePath           string
	FileSize           int64
	Status             VideoStatus
	ThumbnailGenerated bool
	MetadataJSON       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription describes an ongoing archival source.
type Subscription struct {
	ID                int64
	ChannelID         int64
	Type              SubscriptionType
	SourceURL         string
	Enabled           bool
	AutoDownload      bool
	Quality           string
	SubtitleLanguages []string
	ContentTypes      []ContentType
	CheckFrequency    string
	MaxItems          int
	LastCheck         *time.Time
	NewVideosCount    int
	MetadataJSON      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WantsContentType reports whether the subscription's content-type filter
// admits the given type. An empty filter admits everything.
func (s *Subscription) WantsContentType(ct ContentType) bool {
	if len(s.ContentTypes) == 0 {
		return true
	}
	for _, allowed := range s.ContentTypes {
		if allowed == ct {
			return true
		}
	}
	return false
}

// EventStatus classifies the outcome of a discovery run.
type EventStatus string

const (
	EventSuccess EventStatus = "success"
	EventPartial EventStatus = "partial"
	EventFailed  EventStatus = "failed"
)

// DiscoveryEvent is an append-only audit record of one discovery run.
type DiscoveryEvent struct {
	ID             int64
	SubscriptionID int64
	Status         EventStatus
	VideosFound    int
	VideosAdded    int
	VideosQueued   int
	VideosFiltered int
	Duration       time.Duration
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    *time.Time
}
