// Package queue persists and serializes the acquisition job queue.
//
// Claims are transactional: two workers polling the same job type never
// receive the same job. Download jobs are additionally coalesced so a video
// has at most one queued, active, or paused download at any time.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vidkeep/internal/storage"
)

const jobColumns = `id, type, video_id, subscription_id, priority, status, progress, error_message, payload, result,
	created_at, started_at, completed_at`

// Store provides queue access backed by a shared database handle.
type Store struct {
	db *storage.DB
}

// NewStore wraps an open database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a new queued job. For download jobs the partial unique
// index keeps one live download per video; on conflict the existing live job
// is returned instead of a duplicate.
func (s *Store) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("enqueue: job is nil")
	}
	if _, ok := jobTypeSet[job.Type]; !ok {
		return nil, fmt.Errorf("enqueue: unknown job type %q", job.Type)
	}
	if job.Type == JobDownload && job.VideoID == nil {
		return nil, errors.New("enqueue: download job requires a video id")
	}
	if job.Type == JobDiscovery && job.SubscriptionID == nil {
		return nil, errors.New("enqueue: discovery job requires a subscription id")
	}
	payload := job.Payload
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecRetry(ctx, `
		INSERT INTO jobs (type, video_id, subscription_id, priority, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(job.Type),
		storage.NullableInt64(job.VideoID),
		storage.NullableInt64(job.SubscriptionID),
		job.Priority,
		string(StatusQueued),
		payload,
		storage.FormatTime(time.Now().UTC()),
	)
	if err != nil {
		if job.Type == JobDownload && storage.IsUniqueViolation(err) {
			return s.findLiveDownload(ctx, *job.VideoID)
		}
		return nil, fmt.Errorf("enqueue %s job: %w", job.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", job.Type, err)
	}
	return s.GetByID(ctx, id)
}

func (s *Store) findLiveDownload(ctx context.Context, videoID int64) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE type = ? AND video_id = ? AND status IN (?, ?, ?)`,
		string(JobDownload), videoID, string(StatusQueued), string(StatusActive), string(StatusPaused))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("live download for video %d: %w", videoID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("live download for video %d: %w", videoID, err)
	}
	return job, nil
}

// ClaimNext atomically claims the next queued job of the given type. Higher
// priority wins; ties fall back to submission order. A nil job with nil error
// means nothing is queued.
func (s *Store) ClaimNext(ctx context.Context, jobType JobType) (*Job, error) {
	var claimedID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		claimedID = 0
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE status = ? AND type = ?
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1`,
			string(StatusQueued), string(jobType))
		if err := row.Scan(&claimedID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, started_at = ?, error_message = ''
			WHERE id = ? AND status = ?`,
			string(StatusActive), storage.FormatTime(time.Now().UTC()), claimedID, string(StatusQueued))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			claimedID = 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next %s job: %w", jobType, err)
	}
	if claimedID == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, claimedID)
}

// Complete marks an active job finished, recording an optional result.
func (s *Store) Complete(ctx context.Context, id int64, result string) error {
	if result == "" {
		result = "{}"
	}
	return s.transition(ctx, id, "complete", `
		UPDATE jobs SET status = ?, progress = 100, result = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusCompleted), result, storage.FormatTime(time.Now().UTC()), id, string(StatusActive))
}

// Fail marks an active job failed with a diagnostic message.
func (s *Store) Fail(ctx context.Context, id int64, message string) error {
	return s.transition(ctx, id, "fail", `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusFailed), message, storage.FormatTime(time.Now().UTC()), id, string(StatusActive),
	)
}

// Retry returns a failed job to the queue with its error cleared.
func (s *Store) Retry(ctx context.Context, id int64) error {
	return s.transition(ctx, id, "retry", `
		UPDATE jobs SET status = ?, progress = 0, error_message = '', started_at = NULL, completed_at = NULL
		WHERE id = ? AND status = ?`,
		string(StatusQueued), id, string(StatusFailed))
}

// Release returns an active job to the queue without recording a failure.
// Workers use it to defer work while the upstream source is backing off.
func (s *Store) Release(ctx context.Context, id int64) error {
	return s.transition(ctx, id, "release", `
		UPDATE jobs SET status = ?, started_at = NULL
		WHERE id = ? AND status = ?`,
		string(StatusQueued), id, string(StatusActive))
}

// RequestPause pauses a download job that has not started yet. Pausing a
// running download goes through its worker's cancellation and
// AcknowledgePause.
func (s *Store) RequestPause(ctx context.Context, id int64) error {
	return s.transition(ctx, id, "pause", `
		UPDATE jobs SET status = ?
		WHERE id = ? AND status = ? AND type = ?`,
		string(StatusPaused), id, string(StatusQueued), string(JobDownload))
}

// AcknowledgePause records that a running download stopped in response to a
// pause request.
func (s *Store) AcknowledgePause(ctx context.Context, id int64) error {
	return s.transition(ctx, id, "acknowledge pause", `
		UPDATE jobs SET status = ?, started_at = NULL
		WHERE id = ? AND status = ? AND type = ?`,
		string(StatusPaused), id, string(StatusActive), string(JobDownload))
}

// Resume returns a paused job to the queue. Progress restarts from zero
// because partial files are not kept.
func (s *Store) Resume(ctx context.Context, id int64) error {
	return s.transition(ctx, id, "resume", `
		UPDATE jobs SET status = ?, progress = 0
		WHERE id = ? AND status = ?`,
		string(StatusQueued), id, string(StatusPaused))
}

// UpdateProgress persists an active job's progress percentage.
func (s *Store) UpdateProgress(ctx context.Context, id int64, percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("update progress for job %d: percent %.2f out of range", id, percent)
	}
	return s.transition(ctx, id, "update progress", `
		UPDATE jobs SET progress = ?
		WHERE id = ? AND status = ?`,
		percent, id, string(StatusActive))
}

func (s *Store) transition(ctx context.Context, id int64, op, query string, args ...any) error {
	res, err := s.db.ExecRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s job %d: %w", op, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s job %d: %w", op, id, err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
			return fmt.Errorf("%s job %d: %w", op, id, ErrNotFound)
		}
		return fmt.Errorf("%s job %d: %w", op, id, ErrInvalidTransition)
	}
	return nil
}

// ResetStuckActive returns jobs left active by an unclean shutdown to the
// queue. It runs once at daemon startup, before any worker claims.
func (s *Store) ResetStuckActive(ctx context.Context) (int64, error) {
	res, err := s.db.ExecRetry(ctx, `
		UPDATE jobs SET status = ?, progress = 0, started_at = NULL
		WHERE status = ?`,
		string(StatusQueued), string(StatusActive))
	if err != nil {
		return 0, fmt.Errorf("reset stuck active jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stuck active jobs: %w", err)
	}
	return affected, nil
}

// GetByID loads a job by row ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", id, err)
	}
	return job, nil
}

// List returns jobs filtered by status, newest first. An empty status lists
// everything.
func (s *Store) List(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list jobs: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Stats summarizes the queue by job type and status.
func (s *Store) Stats(ctx context.Context) (map[JobType]map[JobStatus]int, error) {
	rows, err := s.db.Query(ctx, `SELECT type, status, COUNT(*) FROM jobs GROUP BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobType]map[JobStatus]int)
	for rows.Next() {
		var (
			jobType string
			status  string
			count   int
		)
		if err := rows.Scan(&jobType, &status, &count); err != nil {
			return nil, fmt.Errorf("queue stats: %w", err)
		}
		byStatus, ok := stats[JobType(jobType)]
		if !ok {
			byStatus = make(map[JobStatus]int)
			stats[JobType(jobType)] = byStatus
		}
		byStatus[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		jobType     string
		videoID     sql.NullInt64
		subID       sql.NullInt64
		status      string
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&jobType,
		&videoID,
		&subID,
		&job.Priority,
		&status,
		&job.Progress,
		&job.ErrorMessage,
		&job.Payload,
		&job.Result,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Type = JobType(jobType)
	job.Status = JobStatus(status)
	if videoID.Valid {
		job.VideoID = &videoID.Int64
	}
	if subID.Valid {
		job.SubscriptionID = &subID.Int64
	}
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.CompletedAt = parseTimePtr(completedAt)
	return &job, nil
}

func parseTime(raw string) time.Time {
	parsed, err := storage.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseTimePtr(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	parsed, err := storage.ParseTime(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}
