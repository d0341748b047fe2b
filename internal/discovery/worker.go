// Package discovery turns discovery jobs into cataloged videos and queued
// downloads.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
	"vidkeep/internal/source"
)

// AutoDownloadPriority outranks manually enqueued downloads so fresh
// subscription content drains first.
const AutoDownloadPriority = 1

// Worker claims and executes discovery jobs. Run one per configured
// discovery slot.
type Worker struct {
	cfg      *config.Config
	catalog  *catalog.Store
	queue    *queue.Store
	adapter  source.Adapter
	governor *backoff.Governor
	logger   *slog.Logger
}

// New builds a discovery worker.
func New(cfg *config.Config, catalogStore *catalog.Store, queueStore *queue.Store, adapter source.Adapter, governor *backoff.Governor, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		catalog:  catalogStore,
		queue:    queueStore,
		adapter:  adapter,
		governor: governor,
		logger:   logging.NewComponentLogger(logger, "discovery"),
	}
}

// Run claims jobs until the context ends.
func (w *Worker) Run(ctx context.Context) {
	poll := time.Duration(w.cfg.Workers.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("discovery iteration failed", logging.Error(err))
		}
		if processed {
			continue
		}
		sleep := poll
		if wait := w.governor.NextAvailableIn(); wait > 0 && wait < sleep {
			sleep = wait
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// processed so the caller can decide to poll again immediately.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}
	// Claiming while the source is throttled would only bounce the job back.
	if !w.governor.IsAvailable() {
		return false, nil
	}
	job, err := w.queue.ClaimNext(ctx, queue.JobDiscovery)
	if err != nil {
		return false, err
	}
	if job == nil {
		// Metadata jobs ride along on the discovery workers.
		job, err = w.queue.ClaimNext(ctx, queue.JobMetadata)
		if err != nil {
			return false, err
		}
		if job == nil {
			return false, nil
		}
		w.processMetadata(ctx, job)
		return true, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, string(job.Type)))
	if job.SubscriptionID == nil {
		w.failJob(ctx, logger, job.ID, "discovery job missing subscription id")
		return
	}

	sub, err := w.catalog.GetSubscription(ctx, *job.SubscriptionID)
	if errors.Is(err, catalog.ErrNotFound) {
		// Subscription deleted after the job was enqueued; nothing to do.
		w.completeJob(ctx, logger, job.ID, "")
		return
	}
	if err != nil {
		w.failJob(ctx, logger, job.ID, err.Error())
		return
	}
	logger = logger.With(logging.Int64(logging.FieldSubscriptionID, sub.ID))
	if !sub.Enabled {
		logger.Info("skipping disabled subscription")
		w.completeJob(ctx, logger, job.ID, "")
		return
	}

	started := time.Now().UTC()
	items, err := w.adapter.ListRecentItems(ctx, sub.SourceURL, sub.MaxItems)
	if err != nil {
		w.handleListFailure(ctx, logger, job, sub, started, err)
		return
	}
	w.governor.RecordSuccess()

	counts := runCounts{found: len(items)}
	var itemErr error
	for _, item := range items {
		outcome, err := w.ingest(ctx, sub, item)
		if err != nil {
			itemErr = err
			logger.Warn("item ingest failed",
				logging.String(logging.FieldExternalID, item.ExternalID),
				logging.Error(err))
			continue
		}
		switch outcome {
		case outcomeFiltered:
			counts.filtered++
		case outcomeAdded:
			counts.added++
		case outcomeQueued:
			counts.added++
			counts.queued++
		}
	}

	completed := time.Now().UTC()
	if err := w.catalog.RecordSubscriptionCheck(ctx, sub.ID, completed, counts.added); err != nil {
		logger.Error("record subscription check", logging.Error(err))
	}

	status := catalog.EventSuccess
	message := ""
	if itemErr != nil {
		status = catalog.EventPartial
		message = itemErr.Error()
	}
	w.recordEvent(ctx, logger, sub.ID, status, counts, started, completed, message)

	result, err := queue.EncodePayload(map[string]int{
		"videos_found":    counts.found,
		"videos_added":    counts.added,
		"videos_queued":   counts.queued,
		"videos_filtered": counts.filtered,
	})
	if err != nil {
		result = ""
	}
	w.completeJob(ctx, logger, job.ID, result)
	logger.Info("discovery run finished",
		logging.Bool("auto_download", sub.AutoDownload),
		logging.Int("videos_found", counts.found),
		logging.Int("videos_added", counts.added),
		logging.Int("videos_queued", counts.queued),
		logging.Int("videos_filtered", counts.filtered))
}

type runCounts struct {
	found    int
	added    int
	queued   int
	filtered int
}

type ingestOutcome int

const (
	outcomeSkipped ingestOutcome = iota
	outcomeFiltered
	outcomeAdded
	outcomeQueued
)

// ingest catalogs one discovered item. Already-known videos are skipped
// silently; that is the normal case on every run after the first.
func (w *Worker) ingest(ctx context.Context, sub *catalog.Subscription, item source.Item) (ingestOutcome, error) {
	if item.ExternalID == "" {
		return outcomeSkipped, errors.New("item missing external id")
	}

	contentType, ok := catalog.ParseContentType(item.ContentType)
	if !ok {
		contentType = catalog.ContentVideo
	}
	if !sub.WantsContentType(contentType) {
		return outcomeFiltered, nil
	}

	if _, err := w.catalog.FindVideoByExternalID(ctx, item.ExternalID); err == nil {
		return outcomeSkipped, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return outcomeSkipped, err
	}

	channelID := sub.ChannelID
	if item.Channel.ExternalID != "" {
		// Playlist subscriptions can surface items from other channels;
		// catalog them under their producing channel.
		channel, err := w.catalog.UpsertChannel(ctx, &catalog.Channel{
			ExternalID:      item.Channel.ExternalID,
			Name:            item.Channel.Name,
			SubscriberCount: item.Channel.SubscriberCount,
		})
		if err != nil {
			return outcomeSkipped, err
		}
		channelID = channel.ID
	}

	video, err := w.catalog.InsertVideo(ctx, &catalog.Video{
		ExternalID:   item.ExternalID,
		ChannelID:    channelID,
		Title:        item.Title,
		Description:  item.Description,
		Duration:     item.Duration,
		UploadDate:   item.UploadDate,
		ViewCount:    item.ViewCount,
		LikeCount:    item.LikeCount,
		ContentType:  contentType,
		MetadataJSON: item.RawJSON,
	})
	if errors.Is(err, catalog.ErrDuplicateExternalID) {
		// Raced with another discovery run sharing the channel.
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}

	if !sub.AutoDownload {
		return outcomeAdded, nil
	}
	if err := w.enqueueDownload(ctx, sub, video); err != nil {
		return outcomeAdded, err
	}
	return outcomeQueued, nil
}

func (w *Worker) enqueueDownload(ctx context.Context, sub *catalog.Subscription, video *catalog.Video) error {
	quality := sub.Quality
	if quality == "" {
		quality = w.cfg.Downloads.DefaultQuality
	}
	languages := sub.SubtitleLanguages
	if len(languages) == 0 {
		languages = w.cfg.Downloads.SubtitleLanguages
	}
	payload, err := queue.EncodePayload(queue.DownloadPayload{
		Quality:           quality,
		SubtitleLanguages: languages,
	})
	if err != nil {
		return err
	}
	_, err = w.queue.Enqueue(ctx, &queue.Job{
		Type:           queue.JobDownload,
		VideoID:        &video.ID,
		SubscriptionID: &sub.ID,
		Priority:       AutoDownloadPriority,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue download for video %d: %w", video.ID, err)
	}
	return nil
}

// handleListFailure records the failed run. last_check still advances so a
// permanently broken subscription cannot hot-loop through the scheduler.
func (w *Worker) handleListFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, sub *catalog.Subscription, started time.Time, listErr error) {
	if source.IsTransient(listErr) {
		w.governor.RecordFailure()
	}
	completed := time.Now().UTC()
	if err := w.catalog.RecordSubscriptionCheck(ctx, sub.ID, completed, 0); err != nil {
		logger.Error("record subscription check", logging.Error(err))
	}
	w.recordEvent(ctx, logger, sub.ID, catalog.EventFailed, runCounts{}, started, completed, listErr.Error())
	w.failJob(ctx, logger, job.ID, listErr.Error())
	logger.Warn("discovery listing failed", logging.Error(listErr))
}

func (w *Worker) recordEvent(ctx context.Context, logger *slog.Logger, subscriptionID int64, status catalog.EventStatus, counts runCounts, started, completed time.Time, message string) {
	_, err := w.catalog.RecordDiscoveryEvent(ctx, &catalog.DiscoveryEvent{
		SubscriptionID: subscriptionID,
		Status:         status,
		VideosFound:    counts.found,
		VideosAdded:    counts.added,
		VideosQueued:   counts.queued,
		VideosFiltered: counts.filtered,
		Duration:       completed.Sub(started),
		ErrorMessage:   message,
		StartedAt:      started,
		CompletedAt:    &completed,
	})
	if err != nil {
		logger.Error("record discovery event", logging.Error(err))
	}
}

func (w *Worker) completeJob(ctx context.Context, logger *slog.Logger, jobID int64, result string) {
	if err := w.queue.Complete(ctx, jobID, result); err != nil {
		logger.Error("complete discovery job", logging.Error(err))
	}
}

func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, jobID int64, message string) {
	if err := w.queue.Fail(ctx, jobID, message); err != nil {
		logger.Error("fail discovery job", logging.Error(err))
	}
}
