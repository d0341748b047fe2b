package discovery_test

import (
	"context"
	"testing"
	"time"

	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/discovery"
	"vidkeep/internal/queue"
	"vidkeep/internal/source"
	"vidkeep/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	catalog  *catalog.Store
	queue    *queue.Store
	adapter  *testsupport.FakeAdapter
	governor *backoff.Governor
	worker   *discovery.Worker
	channel  *catalog.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	catalogStore := catalog.NewStore(db)
	queueStore := queue.NewStore(db)
	adapter := &testsupport.FakeAdapter{}
	governor := backoff.New(cfg.Source.BackoffThreshold,
		time.Duration(cfg.Source.BackoffBaseSeconds)*time.Second,
		time.Duration(cfg.Source.BackoffMaxSeconds)*time.Second)
	return &fixture{
		cfg:      cfg,
		catalog:  catalogStore,
		queue:    queueStore,
		adapter:  adapter,
		governor: governor,
		worker:   discovery.New(cfg, catalogStore, queueStore, adapter, governor, nil),
		channel:  testsupport.NewChannel(t, catalogStore, "UCdisc", "Discover Channel"),
	}
}

func (f *fixture) subscription(t *testing.T, mutate func(*catalog.Subscription)) *catalog.Subscription {
	t.Helper()
	sub := &catalog.Subscription{
		ChannelID:      f.channel.ID,
		SourceURL:      "https://example.com/channel/UCdisc",
		Enabled:        true,
		AutoDownload:   true,
		Quality:        "1080p",
		CheckFrequency: "0 * * * *",
		MaxItems:       20,
	}
	if mutate != nil {
		mutate(sub)
	}
	created, err := f.catalog.CreateSubscription(context.Background(), sub)
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return created
}

func (f *fixture) enqueueDiscovery(t *testing.T, subscriptionID int64) *queue.Job {
	t.Helper()
	job, err := f.queue.Enqueue(context.Background(), &queue.Job{
		Type:           queue.JobDiscovery,
		SubscriptionID: &subscriptionID,
	})
	if err != nil {
		t.Fatalf("enqueue discovery: %v", err)
	}
	return job
}

func (f *fixture) runOne(t *testing.T) {
	t.Helper()
	processed, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !processed {
		t.Fatal("no job processed")
	}
}

func item(externalID, contentType string) source.Item {
	return source.Item{
		ExternalID:  externalID,
		Title:       "Item " + externalID,
		Duration:    300,
		ContentType: contentType,
		Channel: source.ChannelInfo{
			ExternalID: "UCdisc",
			Name:       "Discover Channel",
		},
	}
}

func TestDiscoveryCatalogsAndQueuesNewItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscription(t, nil)
	f.adapter.Items = []source.Item{item("v1", "video"), item("v2", "video")}

	job := f.enqueueDiscovery(t, sub.ID)
	f.runOne(t)

	done, err := f.queue.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != queue.StatusCompleted {
		t.Fatalf("job status = %s (%s)", done.Status, done.ErrorMessage)
	}

	// Both items cataloged as pending and queued for download at priority 1.
	for _, externalID := range []string{"v1", "v2"} {
		video, err := f.catalog.FindVideoByExternalID(ctx, externalID)
		if err != nil {
			t.Fatalf("video %s not cataloged: %v", externalID, err)
		}
		if video.Status != catalog.VideoPending {
			t.Fatalf("video %s status = %s", externalID, video.Status)
		}
	}
	stats, err := f.queue.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats[queue.JobDownload][queue.StatusQueued]; got != 2 {
		t.Fatalf("queued downloads = %d, want 2", got)
	}
	download, err := f.queue.ClaimNext(ctx, queue.JobDownload)
	if err != nil || download == nil {
		t.Fatalf("claim download: %v %v", download, err)
	}
	if download.Priority != discovery.AutoDownloadPriority {
		t.Fatalf("download priority = %d, want %d", download.Priority, discovery.AutoDownloadPriority)
	}
	var payload queue.DownloadPayload
	if err := queue.DecodePayload(download, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Quality != "1080p" {
		t.Fatalf("payload quality = %q", payload.Quality)
	}

	// Subscription bookkeeping and the audit event.
	reloaded, err := f.catalog.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if reloaded.LastCheck == nil || reloaded.NewVideosCount != 2 {
		t.Fatalf("subscription bookkeeping = %+v", reloaded)
	}
	events, err := f.catalog.ListDiscoveryEvents(ctx, sub.ID, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
	if events[0].Status != catalog.EventSuccess || events[0].VideosFound != 2 || events[0].VideosAdded != 2 || events[0].VideosQueued != 2 {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestDiscoveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscription(t, nil)
	f.adapter.Items = []source.Item{item("v1", "video")}

	f.enqueueDiscovery(t, sub.ID)
	f.runOne(t)

	// Drain the download queue so the second run's enqueue would be visible.
	if _, err := f.queue.ClaimNext(ctx, queue.JobDownload); err != nil {
		t.Fatalf("claim: %v", err)
	}

	f.enqueueDiscovery(t, sub.ID)
	f.runOne(t)

	events, err := f.catalog.ListDiscoveryEvents(ctx, sub.ID, 10)
	if err != nil || len(events) != 2 {
		t.Fatalf("events = %v, %v", events, err)
	}
	second := events[0]
	if second.VideosFound != 1 || second.VideosAdded != 0 || second.VideosQueued != 0 {
		t.Fatalf("second run event = %+v", second)
	}
	reloaded, err := f.catalog.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if reloaded.NewVideosCount != 0 {
		t.Fatalf("new videos after rerun = %d, want 0", reloaded.NewVideosCount)
	}
}

func TestDiscoveryContentTypeFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscription(t, func(s *catalog.Subscription) {
		s.ContentTypes = []catalog.ContentType{catalog.ContentVideo}
	})
	f.adapter.Items = []source.Item{
		item("v1", "video"),
		item("s1", "short"),
		item("l1", "live"),
	}

	f.enqueueDiscovery(t, sub.ID)
	f.runOne(t)

	if _, err := f.catalog.FindVideoByExternalID(ctx, "v1"); err != nil {
		t.Fatalf("wanted video missing: %v", err)
	}
	for _, filtered := range []string{"s1", "l1"} {
		if _, err := f.catalog.FindVideoByExternalID(ctx, filtered); err == nil {
			t.Fatalf("filtered item %s was cataloged", filtered)
		}
	}
	events, err := f.catalog.ListDiscoveryEvents(ctx, sub.ID, 1)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
	if events[0].VideosFiltered != 2 || events[0].VideosAdded != 1 {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestDiscoverySharedChannelDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two subscriptions watching the same channel: one for the channel feed,
	// one for a playlist surfacing the same items.
	first := f.subscription(t, nil)
	second := f.subscription(t, func(s *catalog.Subscription) {
		s.Type = catalog.SubscriptionPlaylist
		s.SourceURL = "https://example.com/playlist/PLdisc"
	})
	f.adapter.Items = []source.Item{item("shared1", "video")}

	f.enqueueDiscovery(t, first.ID)
	f.runOne(t)
	f.enqueueDiscovery(t, second.ID)
	f.runOne(t)

	// One catalog row, one download job.
	video, err := f.catalog.FindVideoByExternalID(ctx, "shared1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	videos, err := f.catalog.ListVideosByChannel(ctx, video.ChannelID)
	if err != nil {
		t.Fatalf("list videos: %v", err)
	}
	if len(videos) != 1 {
		t.Fatalf("cataloged videos = %d, want 1", len(videos))
	}
	stats, err := f.queue.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats[queue.JobDownload][queue.StatusQueued]; got != 1 {
		t.Fatalf("queued downloads = %d, want 1", got)
	}

	secondEvents, err := f.catalog.ListDiscoveryEvents(ctx, second.ID, 1)
	if err != nil || len(secondEvents) != 1 {
		t.Fatalf("events = %v, %v", secondEvents, err)
	}
	if secondEvents[0].VideosAdded != 0 {
		t.Fatalf("second subscription added %d, want 0", secondEvents[0].VideosAdded)
	}
}

func TestDiscoveryTransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cfg.Source.BackoffThreshold = 1
	sub := f.subscription(t, nil)
	f.adapter.ListErr = source.Wrap(source.ErrRateLimited, "list recent items", "throttled", nil)

	// Rebuild the governor with threshold 1 so one failure throttles.
	f.governor = backoff.New(1, 30*time.Second, time.Hour)
	f.worker = discovery.New(f.cfg, f.catalog, f.queue, f.adapter, f.governor, nil)

	job := f.enqueueDiscovery(t, sub.ID)
	f.runOne(t)

	failed, err := f.queue.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if failed.Status != queue.StatusFailed || failed.ErrorMessage == "" {
		t.Fatalf("job = %+v", failed)
	}

	// last_check still advances so the scheduler cannot hot-loop the failure.
	reloaded, err := f.catalog.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if reloaded.LastCheck == nil {
		t.Fatal("last_check not updated on failure")
	}

	events, err := f.catalog.ListDiscoveryEvents(ctx, sub.ID, 1)
	if err != nil || len(events) != 1 || events[0].Status != catalog.EventFailed {
		t.Fatalf("events = %v, %v", events, err)
	}

	// The governor is now active, and a throttled worker refuses to claim.
	if f.governor.IsAvailable() {
		t.Fatal("governor not throttled after transient failure")
	}
	f.enqueueDiscovery(t, sub.ID)
	processed, err := f.worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed {
		t.Fatal("worker claimed while throttled")
	}
}

func TestDiscoveryDisabledSubscriptionCompletesQuietly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscription(t, func(s *catalog.Subscription) {
		s.Enabled = false
	})
	f.adapter.Items = []source.Item{item("v1", "video")}

	job := f.enqueueDiscovery(t, sub.ID)
	f.runOne(t)

	done, err := f.queue.GetByID(ctx, job.ID)
	if err != nil || done.Status != queue.StatusCompleted {
		t.Fatalf("job = %+v, %v", done, err)
	}
	if f.adapter.ListCalls() != 0 {
		t.Fatal("disabled subscription hit the source")
	}
	if _, err := f.catalog.FindVideoByExternalID(ctx, "v1"); err == nil {
		t.Fatal("disabled subscription cataloged a video")
	}
}
