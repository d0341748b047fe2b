package discovery_test

import (
	"context"
	"testing"

	"vidkeep/internal/catalog"
	"vidkeep/internal/queue"
	"vidkeep/internal/source"
)

func enqueueMetadata(t *testing.T, f *fixture, url string, autoDownload bool) *queue.Job {
	t.Helper()
	payload, err := queue.EncodePayload(queue.MetadataPayload{
		URL:          url,
		AutoDownload: autoDownload,
	})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	job, err := f.queue.Enqueue(context.Background(), &queue.Job{
		Type:    queue.JobMetadata,
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("enqueue metadata: %v", err)
	}
	return job
}

func TestMetadataJobCatalogsVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolved := item("manual1", "video")
	resolved.WebpageURL = "https://example.com/watch?v=manual1"
	f.adapter.Items = []source.Item{resolved}

	job := enqueueMetadata(t, f, resolved.WebpageURL, true)
	f.runOne(t)

	done, err := f.queue.GetByID(ctx, job.ID)
	if err != nil || done.Status != queue.StatusCompleted {
		t.Fatalf("job = %+v, %v", done, err)
	}
	video, err := f.catalog.FindVideoByExternalID(ctx, "manual1")
	if err != nil {
		t.Fatalf("video not cataloged: %v", err)
	}
	if video.Status != catalog.VideoPending {
		t.Fatalf("video status = %s", video.Status)
	}

	// AutoDownload queues at manual priority 0.
	download, err := f.queue.ClaimNext(ctx, queue.JobDownload)
	if err != nil || download == nil {
		t.Fatalf("claim download = %v, %v", download, err)
	}
	if download.Priority != 0 {
		t.Fatalf("manual download priority = %d, want 0", download.Priority)
	}
}

func TestMetadataJobForKnownVideoCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolved := item("known1", "video")
	resolved.WebpageURL = "https://example.com/watch?v=known1"
	f.adapter.Items = []source.Item{resolved}

	// Catalog it ahead of time.
	enqueueMetadata(t, f, resolved.WebpageURL, false)
	f.runOne(t)

	job := enqueueMetadata(t, f, resolved.WebpageURL, false)
	f.runOne(t)

	done, err := f.queue.GetByID(ctx, job.ID)
	if err != nil || done.Status != queue.StatusCompleted {
		t.Fatalf("resubmission job = %+v, %v", done, err)
	}
}

func TestMetadataJobNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.ResolveErr = source.Wrap(source.ErrNotFound, "resolve item", "gone", nil)

	job := enqueueMetadata(t, f, "https://example.com/watch?v=gone", false)
	f.runOne(t)

	failed, err := f.queue.GetByID(ctx, job.ID)
	if err != nil || failed.Status != queue.StatusFailed {
		t.Fatalf("job = %+v, %v", failed, err)
	}
	// Permanent failure must not throttle the governor.
	if !f.governor.IsAvailable() {
		t.Fatal("governor throttled by permanent failure")
	}
}
