package testsupport

import (
	"context"
	"testing"

	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/storage"
)

// MustOpenDB opens the database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *storage.DB {
	t.Helper()

	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewChannel upserts a channel for tests using the provided store.
func NewChannel(t testing.TB, store *catalog.Store, externalID, name string) *catalog.Channel {
	t.Helper()

	channel, err := store.UpsertChannel(context.Background(), &catalog.Channel{
		ExternalID: externalID,
		Name:       name,
	})
	if err != nil {
		t.Fatalf("store.UpsertChannel: %v", err)
	}
	return channel
}

// NewVideo catalogs a video for tests using the provided store.
func NewVideo(t testing.TB, store *catalog.Store, channelID int64, externalID, title string) *catalog.Video {
	t.Helper()

	video, err := store.InsertVideo(context.Background(), &catalog.Video{
		ExternalID: externalID,
		ChannelID:  channelID,
		Title:      title,
	})
	if err != nil {
		t.Fatalf("store.InsertVideo: %v", err)
	}
	return video
}
