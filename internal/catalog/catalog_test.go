package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidkeep/internal/catalog"
	"vidkeep/internal/testsupport"
)

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	return catalog.NewStore(db)
}

func TestUpsertChannelRefreshesExisting(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := store.UpsertChannel(ctx, &catalog.Channel{
		ExternalID:      "UCabc",
		Name:            "Tech Talks",
		SubscriberCount: 1000,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second, err := store.UpsertChannel(ctx, &catalog.Channel{
		ExternalID:      "UCabc",
		Name:            "Tech Talks Renamed",
		SubscriberCount: 2500,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created new row: %d != %d", second.ID, first.ID)
	}
	if second.Name != "Tech Talks Renamed" || second.SubscriberCount != 2500 {
		t.Fatalf("fields not refreshed: %+v", second)
	}
}

func TestInsertVideoDuplicateExternalID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, store, "UCabc", "Tech Talks")

	video := testsupport.NewVideo(t, store, channel.ID, "vid001", "Intro")
	if video.Status != catalog.VideoPending {
		t.Fatalf("new video status = %s, want pending", video.Status)
	}

	_, err := store.InsertVideo(ctx, &catalog.Video{
		ExternalID: "vid001",
		ChannelID:  channel.ID,
		Title:      "Intro again",
	})
	if !errors.Is(err, catalog.ErrDuplicateExternalID) {
		t.Fatalf("duplicate insert error = %v, want ErrDuplicateExternalID", err)
	}

	found, err := store.FindVideoByExternalID(ctx, "vid001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != video.ID || found.Title != "Intro" {
		t.Fatalf("original row disturbed: %+v", found)
	}
}

func TestVideoStatusLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, store, "UCabc", "Tech Talks")
	video := testsupport.NewVideo(t, store, channel.ID, "vid001", "Intro")

	if err := store.UpdateVideoStatus(ctx, video.ID, catalog.VideoDownloading); err != nil {
		t.Fatalf("set downloading: %v", err)
	}
	if err := store.MarkVideoCompleted(ctx, video.ID, "/library/UCabc/vid001/Intro.mp4", 123456); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	reloaded, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != catalog.VideoCompleted {
		t.Fatalf("status = %s, want completed", reloaded.Status)
	}
	if reloaded.FilePath != "/library/UCabc/vid001/Intro.mp4" || reloaded.FileSize != 123456 {
		t.Fatalf("file details not recorded: %+v", reloaded)
	}

	if err := store.UpdateVideoStatus(ctx, video.ID, catalog.VideoStatus("bogus")); err == nil {
		t.Fatal("unknown status accepted")
	}
	if err := store.UpdateVideoStatus(ctx, 9999, catalog.VideoFailed); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("missing video error = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, store, "UCabc", "Tech Talks")

	sub, err := store.CreateSubscription(ctx, &catalog.Subscription{
		ChannelID:         channel.ID,
		Type:              catalog.SubscriptionChannel,
		SourceURL:         "https://example.com/channel/UCabc",
		Enabled:           true,
		AutoDownload:      true,
		Quality:           "1080p",
		SubtitleLanguages: []string{"en", "de"},
		ContentTypes:      []catalog.ContentType{catalog.ContentVideo},
		CheckFrequency:    "0 * * * *",
		MaxItems:          15,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reloaded, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(reloaded.SubtitleLanguages) != 2 || reloaded.SubtitleLanguages[0] != "en" {
		t.Fatalf("subtitle languages = %v", reloaded.SubtitleLanguages)
	}
	if !reloaded.WantsContentType(catalog.ContentVideo) {
		t.Fatal("content filter rejects video")
	}
	if reloaded.WantsContentType(catalog.ContentShort) {
		t.Fatal("content filter admits short")
	}

	reloaded.Enabled = false
	reloaded.MaxItems = 5
	if err := store.UpdateSubscription(ctx, reloaded); err != nil {
		t.Fatalf("update: %v", err)
	}
	enabled, err := store.ListEnabledSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("disabled subscription still listed: %d", len(enabled))
	}

	checkedAt := time.Now().UTC()
	if err := store.RecordSubscriptionCheck(ctx, sub.ID, checkedAt, 3); err != nil {
		t.Fatalf("record check: %v", err)
	}
	reloaded, err = store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get after check: %v", err)
	}
	if reloaded.LastCheck == nil || !reloaded.LastCheck.Equal(checkedAt) {
		t.Fatalf("last check = %v, want %v", reloaded.LastCheck, checkedAt)
	}
	if reloaded.NewVideosCount != 3 {
		t.Fatalf("new videos count = %d, want 3", reloaded.NewVideosCount)
	}

	if err := store.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSubscription(ctx, sub.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("get deleted error = %v, want ErrNotFound", err)
	}
}

func TestEmptyContentFilterAdmitsEverything(t *testing.T) {
	sub := &catalog.Subscription{}
	for _, ct := range []catalog.ContentType{catalog.ContentVideo, catalog.ContentShort, catalog.ContentLive} {
		if !sub.WantsContentType(ct) {
			t.Fatalf("empty filter rejects %s", ct)
		}
	}
}

func TestDiscoveryEventsNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, store, "UCabc", "Tech Talks")
	sub, err := store.CreateSubscription(ctx, &catalog.Subscription{
		ChannelID:      channel.ID,
		SourceURL:      "https://example.com/channel/UCabc",
		Enabled:        true,
		CheckFrequency: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		completed := base.Add(time.Duration(i)*time.Minute + 30*time.Second)
		_, err := store.RecordDiscoveryEvent(ctx, &catalog.DiscoveryEvent{
			SubscriptionID: sub.ID,
			Status:         catalog.EventSuccess,
			VideosFound:    10,
			VideosAdded:    i,
			Duration:       1500 * time.Millisecond,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			CompletedAt:    &completed,
		})
		if err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}

	events, err := store.ListDiscoveryEvents(ctx, sub.ID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].VideosAdded != 2 || events[1].VideosAdded != 1 {
		t.Fatalf("not newest first: %d then %d", events[0].VideosAdded, events[1].VideosAdded)
	}
	if events[0].Duration != 1500*time.Millisecond {
		t.Fatalf("duration = %v", events[0].Duration)
	}
}
