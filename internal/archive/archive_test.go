package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidkeep/internal/archive"
	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/queue"
	"vidkeep/internal/scheduler"
	"vidkeep/internal/source"
	"vidkeep/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	catalog *catalog.Store
	queue   *queue.Store
	sched   *scheduler.Scheduler
	adapter *testsupport.FakeAdapter
	manager *archive.Manager
}

type fakePool struct {
	paused []int64
	ok     bool
}

func (p *fakePool) Pause(jobID int64) bool {
	p.paused = append(p.paused, jobID)
	return p.ok
}

func newFixture(t *testing.T, pool archive.Pauser) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	catalogStore := catalog.NewStore(db)
	queueStore := queue.NewStore(db)
	sched := scheduler.New(catalogStore, queueStore, nil)
	adapter := &testsupport.FakeAdapter{}
	governor := backoff.New(cfg.Source.BackoffThreshold,
		time.Duration(cfg.Source.BackoffBaseSeconds)*time.Second,
		time.Duration(cfg.Source.BackoffMaxSeconds)*time.Second)
	return &fixture{
		cfg:     cfg,
		catalog: catalogStore,
		queue:   queueStore,
		sched:   sched,
		adapter: adapter,
		manager: archive.New(cfg, catalogStore, queueStore, sched, adapter, governor, pool, nil),
	}
}

func channelItem(externalID string) source.Item {
	return source.Item{
		ExternalID: "v-" + externalID,
		Title:      "Latest Upload",
		WebpageURL: "https://example.com/channel/" + externalID,
		Channel: source.ChannelInfo{
			ExternalID: externalID,
			Name:       "Channel " + externalID,
		},
	}
}

func TestCreateSubscriptionResolvesAndSchedules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.adapter.Items = []source.Item{channelItem("UCnew")}

	sub, err := f.manager.CreateSubscription(ctx, archive.SubscriptionRequest{
		SourceURL:      "https://example.com/channel/UCnew",
		CheckFrequency: "*/30 * * * *",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sub.Enabled || !sub.AutoDownload {
		t.Fatalf("defaults not applied: %+v", sub)
	}
	if sub.Quality != f.cfg.Downloads.DefaultQuality {
		t.Fatalf("quality = %q", sub.Quality)
	}

	channel, err := f.catalog.FindChannelByExternalID(ctx, "UCnew")
	if err != nil {
		t.Fatalf("channel not cataloged: %v", err)
	}
	if sub.ChannelID != channel.ID {
		t.Fatalf("subscription channel = %d, want %d", sub.ChannelID, channel.ID)
	}

	statuses := f.manager.SchedulerStatus()
	if len(statuses) != 1 || statuses[0].SubscriptionID != sub.ID {
		t.Fatalf("scheduler status = %+v", statuses)
	}
	if statuses[0].CheckFrequency != "*/30 * * * *" {
		t.Fatalf("check frequency = %q", statuses[0].CheckFrequency)
	}
}

func TestCreateSubscriptionRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.adapter.Items = []source.Item{channelItem("UCnew")}

	cases := []archive.SubscriptionRequest{
		{SourceURL: ""},
		{SourceURL: "https://example.com/c", CheckFrequency: "not-cron"},
		{SourceURL: "https://example.com/c", Type: "magazine"},
		{SourceURL: "https://example.com/c", ContentTypes: []string{"hologram"}},
	}
	for _, req := range cases {
		if _, err := f.manager.CreateSubscription(ctx, req); !errors.Is(err, archive.ErrValidation) {
			t.Fatalf("request %+v: err = %v, want ErrValidation", req, err)
		}
	}
}

func TestPauseAndResumeSubscription(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.adapter.Items = []source.Item{channelItem("UCnew")}

	sub, err := f.manager.CreateSubscription(ctx, archive.SubscriptionRequest{
		SourceURL: "https://example.com/channel/UCnew",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.manager.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := len(f.manager.SchedulerStatus()); got != 0 {
		t.Fatalf("entries after pause = %d", got)
	}
	reloaded, err := f.catalog.GetSubscription(ctx, sub.ID)
	if err != nil || reloaded.Enabled {
		t.Fatalf("subscription after pause = %+v, %v", reloaded, err)
	}

	if err := f.manager.ResumeSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := len(f.manager.SchedulerStatus()); got != 1 {
		t.Fatalf("entries after resume = %d", got)
	}
}

func TestDeleteSubscriptionKeepsCatalog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.adapter.Items = []source.Item{channelItem("UCnew")}

	sub, err := f.manager.CreateSubscription(ctx, archive.SubscriptionRequest{
		SourceURL: "https://example.com/channel/UCnew",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.manager.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.catalog.GetSubscription(ctx, sub.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("subscription still present: %v", err)
	}
	if _, err := f.catalog.FindChannelByExternalID(ctx, "UCnew"); err != nil {
		t.Fatalf("channel removed with subscription: %v", err)
	}
	if got := len(f.manager.SchedulerStatus()); got != 0 {
		t.Fatalf("entries after delete = %d", got)
	}
}

func TestTriggerDiscoveryNow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.adapter.Items = []source.Item{channelItem("UCnew")}

	sub, err := f.manager.CreateSubscription(ctx, archive.SubscriptionRequest{
		SourceURL: "https://example.com/channel/UCnew",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	job, err := f.manager.TriggerDiscoveryNow(ctx, sub.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if job.Type != queue.JobDiscovery || job.SubscriptionID == nil || *job.SubscriptionID != sub.ID {
		t.Fatalf("job = %+v", job)
	}

	if _, err := f.manager.TriggerDiscoveryNow(ctx, sub.ID+99); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("trigger unknown = %v", err)
	}
}

func TestAddVideoByURLEnqueuesMetadataJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job, err := f.manager.AddVideoByURL(ctx, "https://example.com/watch?v=abc", true, "720p")
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	if job.Type != queue.JobMetadata {
		t.Fatalf("job type = %s", job.Type)
	}
	var payload queue.MetadataPayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.URL != "https://example.com/watch?v=abc" || !payload.AutoDownload || payload.Quality != "720p" {
		t.Fatalf("payload = %+v", payload)
	}

	if _, err := f.manager.AddVideoByURL(ctx, "   ", false, ""); !errors.Is(err, archive.ErrValidation) {
		t.Fatalf("blank url err = %v", err)
	}
}

func TestEnqueueDownloadCoalesces(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, f.catalog, "UCdl", "Download Channel")
	video := testsupport.NewVideo(t, f.catalog, channel.ID, "vid1", "First Video")

	first, err := f.manager.EnqueueDownload(ctx, video.ID, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := f.manager.EnqueueDownload(ctx, video.ID, "480p")
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate download jobs %d and %d", first.ID, second.ID)
	}
	var payload queue.DownloadPayload
	if err := queue.DecodePayload(first, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Quality != f.cfg.Downloads.DefaultQuality {
		t.Fatalf("quality = %q", payload.Quality)
	}
}

func TestPauseDownloadByJobState(t *testing.T) {
	pool := &fakePool{ok: true}
	f := newFixture(t, pool)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, f.catalog, "UCdl", "Download Channel")
	video := testsupport.NewVideo(t, f.catalog, channel.ID, "vid1", "First Video")

	job, err := f.manager.EnqueueDownload(ctx, video.ID, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Queued jobs pause directly in the store.
	if err := f.manager.PauseDownload(ctx, job.ID); err != nil {
		t.Fatalf("pause queued: %v", err)
	}
	paused, err := f.queue.GetByID(ctx, job.ID)
	if err != nil || paused.Status != queue.StatusPaused {
		t.Fatalf("job = %+v, %v", paused, err)
	}

	if err := f.manager.ResumeJob(ctx, job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// Active jobs go through the pool.
	claimed, err := f.queue.ClaimNext(ctx, queue.JobDownload)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	if err := f.manager.PauseDownload(ctx, claimed.ID); err != nil {
		t.Fatalf("pause active: %v", err)
	}
	if len(pool.paused) != 1 || pool.paused[0] != claimed.ID {
		t.Fatalf("pool.paused = %v", pool.paused)
	}
}

func TestRetryJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	channel := testsupport.NewChannel(t, f.catalog, "UCdl", "Download Channel")
	video := testsupport.NewVideo(t, f.catalog, channel.ID, "vid1", "First Video")

	job, err := f.manager.EnqueueDownload(ctx, video.ID, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.queue.ClaimNext(ctx, queue.JobDownload); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.queue.Fail(ctx, job.ID, "network down"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := f.manager.RetryJob(ctx, job.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	requeued, err := f.queue.GetByID(ctx, job.ID)
	if err != nil || requeued.Status != queue.StatusQueued {
		t.Fatalf("job = %+v, %v", requeued, err)
	}
}
