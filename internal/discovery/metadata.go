package discovery

import (
	"context"
	"errors"

	"vidkeep/internal/catalog"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
	"vidkeep/internal/source"
)

// processMetadata resolves a manually submitted URL into a cataloged video.
// Metadata jobs share the discovery workers since both are light source
// calls compared to downloads.
func (w *Worker) processMetadata(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, string(job.Type)))

	var payload queue.MetadataPayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		w.failJob(ctx, logger, job.ID, err.Error())
		return
	}
	if payload.URL == "" {
		w.failJob(ctx, logger, job.ID, "metadata job missing url")
		return
	}

	item, err := w.adapter.ResolveItem(ctx, payload.URL)
	if err != nil {
		if source.IsTransient(err) {
			w.governor.RecordFailure()
		}
		w.failJob(ctx, logger, job.ID, err.Error())
		logger.Warn("metadata resolve failed", logging.Error(err))
		return
	}
	w.governor.RecordSuccess()

	contentType, ok := catalog.ParseContentType(item.ContentType)
	if !ok {
		contentType = catalog.ContentVideo
	}
	channel, err := w.catalog.UpsertChannel(ctx, &catalog.Channel{
		ExternalID:      item.Channel.ExternalID,
		Name:            item.Channel.Name,
		SubscriberCount: item.Channel.SubscriberCount,
	})
	if err != nil {
		w.failJob(ctx, logger, job.ID, err.Error())
		return
	}

	video, err := w.catalog.InsertVideo(ctx, &catalog.Video{
		ExternalID:   item.ExternalID,
		ChannelID:    channel.ID,
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
		// Already cataloged; resolving again is not an error.
		video, err = w.catalog.FindVideoByExternalID(ctx, item.ExternalID)
	}
	if err != nil {
		w.failJob(ctx, logger, job.ID, err.Error())
		return
	}

	if payload.AutoDownload {
		quality := payload.Quality
		if quality == "" {
			quality = w.cfg.Downloads.DefaultQuality
		}
		downloadPayload, err := queue.EncodePayload(queue.DownloadPayload{
			Quality:           quality,
			SubtitleLanguages: w.cfg.Downloads.SubtitleLanguages,
		})
		if err != nil {
			w.failJob(ctx, logger, job.ID, err.Error())
			return
		}
		if _, err := w.queue.Enqueue(ctx, &queue.Job{
			Type:    queue.JobDownload,
			VideoID: &video.ID,
			Payload: downloadPayload,
		}); err != nil {
			w.failJob(ctx, logger, job.ID, err.Error())
			return
		}
	}

	result, err := queue.EncodePayload(map[string]int64{"video_id": video.ID})
	if err != nil {
		result = ""
	}
	w.completeJob(ctx, logger, job.ID, result)
	logger.Info("metadata resolved",
		logging.Int64(logging.FieldVideoID, video.ID),
		logging.String(logging.FieldExternalID, video.ExternalID))
}
