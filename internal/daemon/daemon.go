// Package daemon assembles the long-running vidkeep process: scheduler,
// discovery workers, download pool, and the HTTP status API, with
// single-instance locking and startup recovery.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vidkeep/internal/archive"
	"vidkeep/internal/backoff"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/discovery"
	"vidkeep/internal/download"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
	"vidkeep/internal/scheduler"
	"vidkeep/internal/source"
	"vidkeep/internal/source/ytdlp"
	"vidkeep/internal/storage"
)

// Daemon owns the background services and enforces single-instance
// execution through a lock file in the data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *storage.DB
	catalog  *catalog.Store
	queue    *queue.Store
	sched    *scheduler.Scheduler
	governor *backoff.Governor
	adapter  source.Adapter
	pool     *download.Pool
	manager  *archive.Manager

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	adapter source.Adapter
}

// WithAdapter substitutes the upstream source adapter. Tests use this to
// run the daemon against a fake source.
func WithAdapter(adapter source.Adapter) Option {
	return func(o *options) { o.adapter = adapter }
}

// New constructs a daemon and wires its subsystems. The database is opened
// here; Close releases it.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	adapter := o.adapter
	if adapter == nil {
		client, err := ytdlp.New(cfg)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init source adapter: %w", err)
		}
		adapter = client
	}

	catalogStore := catalog.NewStore(db)
	queueStore := queue.NewStore(db)
	governor := backoff.New(cfg.Source.BackoffThreshold,
		time.Duration(cfg.Source.BackoffBaseSeconds)*time.Second,
		time.Duration(cfg.Source.BackoffMaxSeconds)*time.Second)
	sched := scheduler.New(catalogStore, queueStore, logger)
	pool := download.New(cfg, catalogStore, queueStore, adapter, governor, logger)
	manager := archive.New(cfg, catalogStore, queueStore, sched, adapter, governor, pool, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		db:       db,
		catalog:  catalogStore,
		queue:    queueStore,
		sched:    sched,
		governor: governor,
		adapter:  adapter,
		pool:     pool,
		manager:  manager,
		lockPath: filepath.Join(cfg.Paths.DataDir, "vidkeepd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Manager exposes the archive facade backing the daemon.
func (d *Daemon) Manager() *archive.Manager { return d.manager }

// Start acquires the instance lock, recovers interrupted work, and launches
// the scheduler, workers, and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidkeep daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.recover(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("startup recovery: %w", err)
	}

	d.sched.Start()
	if err := d.sched.Rebuild(runCtx); err != nil {
		d.logger.Warn("schedule rebuild incomplete", logging.Error(err))
	}

	discoveryWorkers := d.cfg.Workers.DiscoveryConcurrency
	if discoveryWorkers <= 0 {
		discoveryWorkers = 1
	}
	for i := 0; i < discoveryWorkers; i++ {
		worker := discovery.New(d.cfg, d.catalog, d.queue, d.adapter, d.governor, d.logger)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			worker.Run(runCtx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pool.Run(runCtx)
	}()

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.logger.Warn("api server unavailable", logging.Error(err))
		}
	}

	d.running.Store(true)
	d.logger.Info("vidkeep daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("discovery_workers", discoveryWorkers),
		logging.Int("download_workers", d.cfg.Workers.DownloadConcurrency))
	return nil
}

// recover requeues jobs left active by a previous process and returns
// orphaned downloading videos to pending.
func (d *Daemon) recover(ctx context.Context) error {
	reset, err := d.queue.ResetStuckActive(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		d.logger.Info("requeued interrupted jobs", logging.Int64("count", reset))
	}

	orphans, err := d.catalog.ListVideosByStatus(ctx, catalog.VideoDownloading)
	if err != nil {
		return err
	}
	for _, video := range orphans {
		if err := d.catalog.ClearVideoFile(ctx, video.ID, catalog.VideoPending); err != nil {
			return err
		}
	}
	if len(orphans) > 0 {
		d.logger.Info("reset orphaned downloads", logging.Int("count", len(orphans)))
	}
	return nil
}

// Stop halts background processing, waits for workers to drain, and
// releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.sched.Stop()
	d.wg.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vidkeep daemon stopped")
}

// Close stops the daemon and releases the database.
func (d *Daemon) Close() error {
	d.Stop()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// APIAddr reports the bound API address, empty when the server is down.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status summarizes daemon runtime state.
type Status struct {
	Running      bool
	DatabasePath string
	LockFilePath string
	Queue        map[queue.JobType]map[queue.JobStatus]int
	Scheduler    []scheduler.EntryStatus
	Backoff      backoff.Status
}

// Status reports the current runtime state. Queue stats failures degrade to
// an empty map rather than failing the whole status call.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
		stats = map[queue.JobType]map[queue.JobStatus]int{}
	}
	return Status{
		Running:      d.running.Load(),
		DatabasePath: d.db.Path(),
		LockFilePath: d.lockPath,
		Queue:        stats,
		Scheduler:    d.sched.Status(),
		Backoff:      d.governor.Status(),
	}
}
