// Package download runs the download worker pool.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
	"vidkeep/internal/source"
)

// ErrPaused is the cancellation cause used when a running download is paused.
var ErrPaused = errors.New("download paused")

// Pool claims download jobs with a fixed number of workers and tracks the
// running ones so they can be paused cooperatively.
type Pool struct {
	cfg      *config.Config
	catalog  *catalog.Store
	queue    *queue.Store
	adapter  source.Adapter
	governor *backoff.Governor
	logger   *slog.Logger

	mu     sync.Mutex
	active map[int64]context.CancelCauseFunc
}

// New builds a download pool.
func New(cfg *config.Config, catalogStore *catalog.Store, queueStore *queue.Store, adapter source.Adapter, governor *backoff.Governor, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		catalog:  catalogStore,
		queue:    queueStore,
		adapter:  adapter,
		governor: governor,
		logger:   logging.NewComponentLogger(logger, "download"),
	}
}

// Run starts the configured number of workers and blocks until the context
// ends and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	workers := p.cfg.Workers.DownloadConcurrency
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.runWorker(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, slot int) {
	logger := p.logger.With(logging.Int("worker", slot))
	poll := time.Duration(p.cfg.Workers.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	for {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			logger.Error("download iteration failed", logging.Error(err))
		}
		if processed {
			continue
		}
		sleep := poll
		if wait := p.governor.NextAvailableIn(); wait > 0 && wait < sleep {
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
// processed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}
	if !p.governor.IsAvailable() {
		return false, nil
	}
	job, err := p.queue.ClaimNext(ctx, queue.JobDownload)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.process(ctx, job)
	return true, nil
}

// Pause cancels a running download with ErrPaused as the cause. It reports
// whether the job was actually running in this process.
func (p *Pool) Pause(jobID int64) bool {
	p.mu.Lock()
	cancel, ok := p.active[jobID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel(ErrPaused)
	return true
}

func (p *Pool) register(jobID int64, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	if p.active == nil {
		p.active = make(map[int64]context.CancelCauseFunc)
	}
	p.active[jobID] = cancel
	p.mu.Unlock()
}

func (p *Pool) unregister(jobID int64) {
	p.mu.Lock()
	delete(p.active, jobID)
	p.mu.Unlock()
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	logger := p.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, string(job.Type)))
	if job.VideoID == nil {
		p.failJob(ctx, logger, job, nil, "download job missing video id")
		return
	}
	video, err := p.catalog.GetVideo(ctx, *job.VideoID)
	if err != nil {
		p.failJob(ctx, logger, job, nil, err.Error())
		return
	}
	channel, err := p.catalog.GetChannel(ctx, video.ChannelID)
	if err != nil {
		p.failJob(ctx, logger, job, video, err.Error())
		return
	}
	logger = logger.With(
		logging.Int64(logging.FieldVideoID, video.ID),
		logging.String(logging.FieldExternalID, video.ExternalID))

	var payload queue.DownloadPayload
	if err := queue.DecodePayload(job, &payload); err != nil {
		p.failJob(ctx, logger, job, video, err.Error())
		return
	}
	quality := payload.Quality
	if quality == "" {
		quality = p.cfg.Downloads.DefaultQuality
	}
	languages := payload.SubtitleLanguages
	if len(languages) == 0 {
		languages = p.cfg.Downloads.SubtitleLanguages
	}

	if err := p.catalog.UpdateVideoStatus(ctx, video.ID, catalog.VideoDownloading); err != nil {
		logger.Error("mark video downloading", logging.Error(err))
	}

	destDir := DestinationDir(p.cfg.Paths.LibraryDir, channel.ExternalID, video.ExternalID)

	jobCtx, cancel := context.WithCancelCause(ctx)
	p.register(job.ID, cancel)
	defer func() {
		p.unregister(job.ID)
		cancel(nil)
	}()

	logger.Info("download started", logging.String("quality", quality))
	startedAt := time.Now()
	result, err := p.adapter.FetchItem(jobCtx, video.ExternalID, source.FetchOptions{
		DestDir:           destDir,
		Quality:           quality,
		SubtitleLanguages: languages,
		EmbedSubtitles:    p.cfg.Downloads.EmbedSubtitles,
		WriteThumbnail:    p.cfg.Downloads.WriteThumbnails,
	}, p.progressFunc(ctx, logger, job.ID))
	if err != nil {
		p.handleFetchFailure(ctx, logger, job, video, destDir, err)
		return
	}
	p.governor.RecordSuccess()

	finalPath, err := p.finalizeMedia(result.FilePath, video)
	if err != nil {
		// Keep what we fetched under its temporary name rather than losing it.
		logger.Warn("rename fetched media", logging.Error(err))
		finalPath = result.FilePath
	}
	if err := p.catalog.MarkVideoCompleted(ctx, video.ID, finalPath, result.FileSize); err != nil {
		logger.Error("mark video completed", logging.Error(err))
	}
	if hasThumbnail(destDir, video.ExternalID) {
		if err := p.catalog.SetThumbnailGenerated(ctx, video.ID, true); err != nil {
			logger.Error("mark thumbnail", logging.Error(err))
		}
	}
	resultJSON, err := queue.EncodePayload(queue.DownloadResult{FilePath: finalPath, FileSize: result.FileSize})
	if err != nil {
		resultJSON = ""
	}
	if err := p.queue.Complete(ctx, job.ID, resultJSON); err != nil {
		logger.Error("complete download job", logging.Error(err))
	}
	logger.Info("download finished",
		logging.String("path", finalPath),
		logging.Int64("size", result.FileSize),
		logging.Duration("elapsed", time.Since(startedAt)))
}

// progressFunc persists progress at a bounded rate. The completion write at
// 100% always goes through.
func (p *Pool) progressFunc(ctx context.Context, logger *slog.Logger, jobID int64) func(source.ProgressUpdate) {
	interval := time.Duration(p.cfg.Workers.ProgressUpdateInterval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	sampler := logging.NewProgressSampler(10)
	var lastPersist time.Time
	return func(update source.ProgressUpdate) {
		now := time.Now()
		if update.Percent < 100 && now.Sub(lastPersist) < interval {
			return
		}
		lastPersist = now
		if err := p.queue.UpdateProgress(ctx, jobID, update.Percent); err != nil {
			logger.Debug("persist progress", logging.Error(err))
		}
		if sampler.ShouldLog(update.Percent, update.Speed) {
			logger.Info("download progress",
				logging.Float64("percent", update.Percent),
				logging.String("speed", update.Speed),
				logging.String("eta", update.ETA))
		}
	}
}

func (p *Pool) handleFetchFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, video *catalog.Video, destDir string, fetchErr error) {
	cleanupPartials(destDir)

	switch {
	case errors.Is(fetchErr, ErrPaused):
		if err := p.queue.AcknowledgePause(ctx, job.ID); err != nil {
			logger.Error("acknowledge pause", logging.Error(err))
		}
		if err := p.catalog.ClearVideoFile(ctx, video.ID, catalog.VideoPending); err != nil {
			logger.Error("reset paused video", logging.Error(err))
		}
		logger.Info("download paused")
		return
	case ctx.Err() != nil:
		// Daemon shutdown: hand the job back so the next start picks it up.
		if err := p.queue.Release(context.WithoutCancel(ctx), job.ID); err != nil {
			logger.Error("release download job", logging.Error(err))
		}
		if err := p.catalog.UpdateVideoStatus(context.WithoutCancel(ctx), video.ID, catalog.VideoPending); err != nil {
			logger.Error("reset video status", logging.Error(err))
		}
		return
	}

	if source.IsTransient(fetchErr) {
		p.governor.RecordFailure()
	}
	if err := p.catalog.ClearVideoFile(ctx, video.ID, catalog.VideoFailed); err != nil {
		logger.Error("mark video failed", logging.Error(err))
	}
	if err := p.queue.Fail(ctx, job.ID, fetchErr.Error()); err != nil {
		logger.Error("fail download job", logging.Error(err))
	}
	logger.Warn("download failed",
		logging.Error(fetchErr),
		logging.String(logging.FieldErrorHint, "inspect with 'vidkeep queue show', retry with 'vidkeep queue retry'"))
}

func (p *Pool) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, video *catalog.Video, message string) {
	if video != nil {
		if err := p.catalog.UpdateVideoStatus(ctx, video.ID, catalog.VideoFailed); err != nil {
			logger.Error("mark video failed", logging.Error(err))
		}
	}
	if err := p.queue.Fail(ctx, job.ID, message); err != nil {
		logger.Error("fail download job", logging.Error(err))
	}
}

// finalizeMedia renames the fetched file to its display name inside the
// destination directory.
func (p *Pool) finalizeMedia(fetchedPath string, video *catalog.Video) (string, error) {
	dir := filepath.Dir(fetchedPath)
	ext := filepath.Ext(fetchedPath)
	finalPath := filepath.Join(dir, MediaFileName(video.Title, video.ExternalID, ext))
	if finalPath == fetchedPath {
		return fetchedPath, nil
	}
	if err := os.Rename(fetchedPath, finalPath); err != nil {
		return "", fmt.Errorf("rename media: %w", err)
	}
	return finalPath, nil
}

// hasThumbnail reports whether the fetch left a thumbnail image beside the
// media file.
func hasThumbnail(destDir, externalID string) bool {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		if _, err := os.Stat(filepath.Join(destDir, externalID+ext)); err == nil {
			return true
		}
	}
	return false
}

// cleanupPartials removes whatever a failed or paused fetch left behind.
// The directory is recreated on the next attempt.
func cleanupPartials(destDir string) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(destDir, entry.Name()))
	}
	_ = os.Remove(destDir)
}
