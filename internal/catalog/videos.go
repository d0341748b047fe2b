package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vidkeep/internal/storage"
)

const videoColumns = `id, external_id, channel_id, title, description, duration, upload_date, view_count, like_count,
	content_type, quality, file_path, file_size, download_status, thumbnail_generated, extra_metadata, created_at, updated_at`

// InsertVideo catalogs a new video. When the external identifier is already
// present the insert is rejected with ErrDuplicateExternalID; callers rely on
// the unique index rather than a lookup to stay race-free.
func (s *Store) InsertVideo(ctx context.Context, video *Video) (*Video, error) {
	if video == nil {
		return nil, errors.New("insert video: video is nil")
	}
	if video.ExternalID == "" {
		return nil, errors.New("insert video: external id is required")
	}
	if video.ChannelID == 0 {
		return nil, errors.New("insert video: channel id is required")
	}
	if video.Status == "" {
		video.Status = VideoPending
	}
	if video.ContentType == "" {
		video.ContentType = ContentVideo
	}
	now := time.Now().UTC()
	res, err := s.db.ExecRetry(ctx, `
		INSERT INTO videos (external_id, channel_id, title, description, duration, upload_date, view_count, like_count,
			content_type, quality, file_path, file_size, download_status, thumbnail_generated, extra_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		video.ExternalID,
		video.ChannelID,
		video.Title,
		video.Description,
		video.Duration,
		storage.NullableTime(video.UploadDate),
		video.ViewCount,
		video.LikeCount,
		string(video.ContentType),
		video.Quality,
		storage.NullableString(video.FilePath),
		video.FileSize,
		string(video.Status),
		storage.BoolToInt(video.ThumbnailGenerated),
		normalizeMetadata(video.MetadataJSON),
		storage.FormatTime(now),
		storage.FormatTime(now),
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert video %s: %w", video.ExternalID, ErrDuplicateExternalID)
		}
		return nil, fmt.Errorf("insert video %s: %w", video.ExternalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert video %s: %w", video.ExternalID, err)
	}
	return s.GetVideo(ctx, id)
}

// GetVideo loads a video by row ID.
func (s *Store) GetVideo(ctx context.Context, id int64) (*Video, error) {
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapNotFound("video", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get video %d: %w", id, err)
	}
	return video, nil
}

// FindVideoByExternalID looks up a video by its upstream identifier.
func (s *Store) FindVideoByExternalID(ctx context.Context, externalID string) (*Video, error) {
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE external_id = ?`, externalID)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapNotFound("video", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("find video %s: %w", externalID, err)
	}
	return video, nil
}

// UpdateVideoStatus transitions a video's download status. File details are
// recorded alongside completion when provided.
func (s *Store) UpdateVideoStatus(ctx context.Context, id int64, status VideoStatus) error {
	if _, ok := videoStatusSet[status]; !ok {
		return fmt.Errorf("update video %d: unknown status %q", id, status)
	}
	res, err := s.db.ExecRetry(ctx, `UPDATE videos SET download_status = ?, updated_at = ? WHERE id = ?`,
		string(status), storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update video %d status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update video %d status: %w", id, err)
	}
	if affected == 0 {
		return wrapNotFound("video", id)
	}
	return nil
}

// MarkVideoCompleted records a finished download with its on-disk location.
func (s *Store) MarkVideoCompleted(ctx context.Context, id int64, filePath string, fileSize int64) error {
	res, err := s.db.ExecRetry(ctx, `
		UPDATE videos SET download_status = ?, file_path = ?, file_size = ?, updated_at = ? WHERE id = ?`,
		string(VideoCompleted), filePath, fileSize, storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("mark video %d completed: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark video %d completed: %w", id, err)
	}
	if affected == 0 {
		return wrapNotFound("video", id)
	}
	return nil
}

// ClearVideoFile drops a video's recorded file details, used when a partial
// download is discarded.
func (s *Store) ClearVideoFile(ctx context.Context, id int64, status VideoStatus) error {
	if _, ok := videoStatusSet[status]; !ok {
		return fmt.Errorf("clear video %d file: unknown status %q", id, status)
	}
	res, err := s.db.ExecRetry(ctx, `
		UPDATE videos SET download_status = ?, file_path = NULL, file_size = 0, updated_at = ? WHERE id = ?`,
		string(status), storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("clear video %d file: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear video %d file: %w", id, err)
	}
	if affected == 0 {
		return wrapNotFound("video", id)
	}
	return nil
}

// SetThumbnailGenerated flags a video's thumbnail as produced.
func (s *Store) SetThumbnailGenerated(ctx context.Context, id int64, generated bool) error {
	_, err := s.db.ExecRetry(ctx, `UPDATE videos SET thumbnail_generated = ?, updated_at = ? WHERE id = ?`,
		storage.BoolToInt(generated), storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set video %d thumbnail flag: %w", id, err)
	}
	return nil
}

// ListVideosByChannel returns a channel's videos newest-first.
func (s *Store) ListVideosByChannel(ctx context.Context, channelID int64) ([]*Video, error) {
	rows, err := s.db.Query(ctx, `SELECT `+videoColumns+` FROM videos WHERE channel_id = ? ORDER BY upload_date DESC, id DESC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list videos for channel %d: %w", channelID, err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

// ListVideosByStatus returns videos in the given download status, oldest first.
func (s *Store) ListVideosByStatus(ctx context.Context, status VideoStatus) ([]*Video, error) {
	rows, err := s.db.Query(ctx, `SELECT `+videoColumns+` FROM videos WHERE download_status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list videos with status %s: %w", status, err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

// CountVideosByStatus returns video counts grouped by download status.
func (s *Store) CountVideosByStatus(ctx context.Context) (map[VideoStatus]int, error) {
	rows, err := s.db.Query(ctx, `SELECT download_status, COUNT(*) FROM videos GROUP BY download_status`)
	if err != nil {
		return nil, fmt.Errorf("count videos: %w", err)
	}
	defer rows.Close()

	counts := make(map[VideoStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("count videos: %w", err)
		}
		counts[VideoStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count videos: %w", err)
	}
	return counts, nil
}

func collectVideos(rows *sql.Rows) ([]*Video, error) {
	var videos []*Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return videos, nil
}

func scanVideo(row rowScanner) (*Video, error) {
	var (
		video       Video
		uploadDate  sql.NullString
		contentType string
		status      string
		filePath    sql.NullString
		thumbnail   int
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&video.ID,
		&video.ExternalID,
		&video.ChannelID,
		&video.Title,
		&video.Description,
		&video.Duration,
		&uploadDate,
		&video.ViewCount,
		&video.LikeCount,
		&contentType,
		&video.Quality,
		&filePath,
		&video.FileSize,
		&status,
		&thumbnail,
		&video.MetadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	video.UploadDate = parseStoredTimePtr(uploadDate)
	video.ContentType = ContentType(contentType)
	video.Status = VideoStatus(status)
	video.FilePath = filePath.String
	video.ThumbnailGenerated = thumbnail != 0
	video.CreatedAt = parseStoredTime(createdAt)
	video.UpdatedAt = parseStoredTime(updatedAt)
	return &video, nil
}
