// Package archive is the core facade over the catalog, queue, scheduler,
// and workers. The CLI and the daemon HTTP API both go through it so
// subscription changes and job control follow one code path.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
	"vidkeep/internal/scheduler"
	"vidkeep/internal/source"
)

// ErrValidation marks caller mistakes (bad URL, bad cron expression) as
// opposed to infrastructure failures.
var ErrValidation = errors.New("validation failed")

// Pauser cancels a running download by job ID. Satisfied by download.Pool;
// kept as an interface so the facade works without a running pool.
type Pauser interface {
	Pause(jobID int64) bool
}

// Manager wires the subsystems together behind one surface.
type Manager struct {
	cfg       *config.Config
	catalog   *catalog.Store
	queue     *queue.Store
	scheduler *scheduler.Scheduler
	adapter   source.Adapter
	governor  *backoff.Governor
	pool      Pauser
	logger    *slog.Logger
}

// New builds a manager. pool may be nil when no download pool is running;
// pausing an active download then degrades to a queued-only pause.
func New(cfg *config.Config, catalogStore *catalog.Store, queueStore *queue.Store, sched *scheduler.Scheduler, adapter source.Adapter, governor *backoff.Governor, pool Pauser, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		catalog:   catalogStore,
		queue:     queueStore,
		scheduler: sched,
		adapter:   adapter,
		governor:  governor,
		pool:      pool,
		logger:    logger.With(logging.String(logging.FieldComponent, "archive")),
	}
}

// SubscriptionRequest carries the caller-supplied fields for creating or
// updating a subscription. Zero values fall back to configured defaults.
type SubscriptionRequest struct {
	SourceURL         string
	Type              string
	Quality           string
	SubtitleLanguages []string
	ContentTypes      []string
	CheckFrequency    string
	MaxItems          int
	AutoDownload      *bool
}

// CreateSubscription resolves the source URL through the adapter, catalogs
// the producing channel, persists the subscription, and schedules it.
func (m *Manager) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*catalog.Subscription, error) {
	sub, err := m.buildSubscription(req)
	if err != nil {
		return nil, err
	}

	item, err := m.adapter.ResolveItem(ctx, req.SourceURL)
	if err != nil {
		if source.IsTransient(err) {
			m.governor.RecordFailure()
		}
		return nil, fmt.Errorf("resolve subscription source: %w", err)
	}
	m.governor.RecordSuccess()
	if item.Channel.ExternalID == "" {
		return nil, fmt.Errorf("%w: source URL did not resolve to a channel", ErrValidation)
	}

	channel, err := m.catalog.UpsertChannel(ctx, &catalog.Channel{
		ExternalID:      item.Channel.ExternalID,
		Name:            item.Channel.Name,
		SubscriberCount: item.Channel.SubscriberCount,
	})
	if err != nil {
		return nil, err
	}
	sub.ChannelID = channel.ID

	created, err := m.catalog.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := m.scheduler.Schedule(created); err != nil {
		// The row exists either way; scheduling failures surface so the
		// caller knows the cron expression never fires.
		return created, err
	}
	m.logger.Info("subscription created",
		logging.Int64(logging.FieldSubscriptionID, created.ID),
		logging.String("source_url", created.SourceURL))
	return created, nil
}

// UpdateSubscription applies the non-zero fields of req to an existing
// subscription and reschedules it.
func (m *Manager) UpdateSubscription(ctx context.Context, id int64, req SubscriptionRequest) (*catalog.Subscription, error) {
	sub, err := m.catalog.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Quality != "" {
		sub.Quality = req.Quality
	}
	if req.SubtitleLanguages != nil {
		sub.SubtitleLanguages = req.SubtitleLanguages
	}
	if req.ContentTypes != nil {
		types, err := parseContentTypes(req.ContentTypes)
		if err != nil {
			return nil, err
		}
		sub.ContentTypes = types
	}
	if req.CheckFrequency != "" {
		if err := scheduler.ValidateExpression(req.CheckFrequency); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		sub.CheckFrequency = req.CheckFrequency
	}
	if req.MaxItems > 0 {
		sub.MaxItems = req.MaxItems
	}
	if req.AutoDownload != nil {
		sub.AutoDownload = *req.AutoDownload
	}

	if err := m.catalog.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := m.scheduler.Reschedule(ctx, sub.ID); err != nil {
		return sub, err
	}
	return sub, nil
}

// PauseSubscription disables a subscription and removes its cron entry.
// Already-queued jobs for it are untouched.
func (m *Manager) PauseSubscription(ctx context.Context, id int64) error {
	if err := m.catalog.SetSubscriptionEnabled(ctx, id, false); err != nil {
		return err
	}
	m.scheduler.Unschedule(id)
	m.logger.Info("subscription paused", logging.Int64(logging.FieldSubscriptionID, id))
	return nil
}

// ResumeSubscription re-enables a subscription and schedules it again. The
// next run time is recomputed from now, not backfilled.
func (m *Manager) ResumeSubscription(ctx context.Context, id int64) error {
	if err := m.catalog.SetSubscriptionEnabled(ctx, id, true); err != nil {
		return err
	}
	if err := m.scheduler.Reschedule(ctx, id); err != nil {
		return err
	}
	m.logger.Info("subscription resumed", logging.Int64(logging.FieldSubscriptionID, id))
	return nil
}

// DeleteSubscription unschedules and removes a subscription. Cataloged
// channels and videos stay.
func (m *Manager) DeleteSubscription(ctx context.Context, id int64) error {
	m.scheduler.Unschedule(id)
	if err := m.catalog.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	m.logger.Info("subscription deleted", logging.Int64(logging.FieldSubscriptionID, id))
	return nil
}

// TriggerDiscoveryNow enqueues an immediate discovery run for the
// subscription, outside its cron cadence.
func (m *Manager) TriggerDiscoveryNow(ctx context.Context, id int64) (*queue.Job, error) {
	if _, err := m.catalog.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	return m.scheduler.TriggerNow(ctx, id)
}

// AddVideoByURL enqueues a metadata job that resolves the URL into a
// cataloged video, optionally followed by a download.
func (m *Manager) AddVideoByURL(ctx context.Context, url string, autoDownload bool, quality string) (*queue.Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrValidation)
	}
	payload, err := queue.EncodePayload(queue.MetadataPayload{
		URL:          url,
		AutoDownload: autoDownload,
		Quality:      quality,
	})
	if err != nil {
		return nil, err
	}
	return m.queue.Enqueue(ctx, &queue.Job{
		Type:    queue.JobMetadata,
		Payload: payload,
	})
}

// EnqueueDownload queues a manual download for a cataloged video at
// priority 0. An existing live download for the video is returned instead
// of a duplicate.
func (m *Manager) EnqueueDownload(ctx context.Context, videoID int64, quality string) (*queue.Job, error) {
	video, err := m.catalog.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if quality == "" {
		quality = m.cfg.Downloads.DefaultQuality
	}
	payload, err := queue.EncodePayload(queue.DownloadPayload{
		Quality:           quality,
		SubtitleLanguages: m.cfg.Downloads.SubtitleLanguages,
	})
	if err != nil {
		return nil, err
	}
	return m.queue.Enqueue(ctx, &queue.Job{
		Type:    queue.JobDownload,
		VideoID: &video.ID,
		Payload: payload,
	})
}

// RetryJob requeues a failed job.
func (m *Manager) RetryJob(ctx context.Context, jobID int64) error {
	return m.queue.Retry(ctx, jobID)
}

// PauseDownload pauses a download job. Queued jobs pause in the store;
// active jobs are cancelled cooperatively through the pool and transition
// to paused once the worker acknowledges.
func (m *Manager) PauseDownload(ctx context.Context, jobID int64) error {
	job, err := m.queue.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Type != queue.JobDownload {
		return fmt.Errorf("%w: job %d is not a download", queue.ErrInvalidTransition, jobID)
	}
	switch job.Status {
	case queue.StatusQueued:
		return m.queue.RequestPause(ctx, jobID)
	case queue.StatusActive:
		if m.pool != nil && m.pool.Pause(jobID) {
			return nil
		}
		return fmt.Errorf("%w: job %d is active but not running here", queue.ErrInvalidTransition, jobID)
	case queue.StatusPaused:
		return nil
	default:
		return fmt.Errorf("%w: job %d is %s", queue.ErrInvalidTransition, jobID, job.Status)
	}
}

// ResumeJob requeues a paused download. Progress restarts from zero.
func (m *Manager) ResumeJob(ctx context.Context, jobID int64) error {
	return m.queue.Resume(ctx, jobID)
}

// SchedulerStatus reports the scheduled subscriptions and their next runs.
func (m *Manager) SchedulerStatus() []scheduler.EntryStatus {
	return m.scheduler.Status()
}

// BackoffStatus reports the governor's current throttle state.
func (m *Manager) BackoffStatus() backoff.Status {
	return m.governor.Status()
}

// QueueStats reports job counts by type and status.
func (m *Manager) QueueStats(ctx context.Context) (map[queue.JobType]map[queue.JobStatus]int, error) {
	return m.queue.Stats(ctx)
}

func (m *Manager) buildSubscription(req SubscriptionRequest) (*catalog.Subscription, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if sourceURL == "" {
		return nil, fmt.Errorf("%w: source URL is required", ErrValidation)
	}

	subType := catalog.SubscriptionChannel
	if req.Type != "" {
		parsed, ok := catalog.ParseSubscriptionType(req.Type)
		if !ok {
			return nil, fmt.Errorf("%w: unknown subscription type %q", ErrValidation, req.Type)
		}
		subType = parsed
	}

	frequency := req.CheckFrequency
	if frequency == "" {
		frequency = m.cfg.Subscriptions.DefaultCheckFrequency
	}
	if err := scheduler.ValidateExpression(frequency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = m.cfg.Subscriptions.DefaultMaxItems
	}
	quality := req.Quality
	if quality == "" {
		quality = m.cfg.Downloads.DefaultQuality
	}
	languages := req.SubtitleLanguages
	if len(languages) == 0 {
		languages = m.cfg.Downloads.SubtitleLanguages
	}
	autoDownload := true
	if req.AutoDownload != nil {
		autoDownload = *req.AutoDownload
	}
	types, err := parseContentTypes(req.ContentTypes)
	if err != nil {
		return nil, err
	}

	return &catalog.Subscription{
		Type:              subType,
		SourceURL:         sourceURL,
		Enabled:           true,
		AutoDownload:      autoDownload,
		Quality:           quality,
		SubtitleLanguages: languages,
		ContentTypes:      types,
		CheckFrequency:    frequency,
		MaxItems:          maxItems,
	}, nil
}

func parseContentTypes(values []string) ([]catalog.ContentType, error) {
	if len(values) == 0 {
		return nil, nil
	}
	types := make([]catalog.ContentType, 0, len(values))
	for _, value := range values {
		ct, ok := catalog.ParseContentType(value)
		if !ok {
			return nil, fmt.Errorf("%w: unknown content type %q", ErrValidation, value)
		}
		types = append(types, ct)
	}
	return types, nil
}
