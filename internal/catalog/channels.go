package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vidkeep/internal/storage"
)

const channelColumns = `id, external_id, name, description, subscriber_count, thumbnail_url, extra_metadata, created_at, updated_at`

// UpsertChannel inserts a channel or refreshes its mutable fields when the
// external identifier already exists. The returned channel carries the row ID.
func (s *Store) UpsertChannel(ctx context.Context, channel *Channel) (*Channel, error) {
	if channel == nil {
		return nil, errors.New("upsert channel: channel is nil")
	}
	if channel.ExternalID == "" {
		return nil, errors.New("upsert channel: external id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecRetry(ctx, `
		INSERT INTO channels (external_id, name, description, subscriber_count, thumbnail_url, extra_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			subscriber_count = excluded.subscriber_count,
			thumbnail_url = excluded.thumbnail_url,
			extra_metadata = excluded.extra_metadata,
			updated_at = excluded.updated_at`,
		channel.ExternalID,
		channel.Name,
		channel.Description,
		channel.SubscriberCount,
		channel.ThumbnailURL,
		normalizeMetadata(channel.MetadataJSON),
		storage.FormatTime(now),
		storage.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert channel %s: %w", channel.ExternalID, err)
	}
	return s.FindChannelByExternalID(ctx, channel.ExternalID)
}

// FindChannelByExternalID looks up a channel by its upstream identifier.
func (s *Store) FindChannelByExternalID(ctx context.Context, externalID string) (*Channel, error) {
	row := s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE external_id = ?`, externalID)
	channel, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapNotFound("channel", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("find channel %s: %w", externalID, err)
	}
	return channel, nil
}

// GetChannel loads a channel by row ID.
func (s *Store) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	row := s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	channel, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapNotFound("channel", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %d: %w", id, err)
	}
	return channel, nil
}

// ListChannels returns every channel ordered by name.
func (s *Store) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		channel, scanErr := scanChannel(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list channels: %w", scanErr)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var (
		channel   Channel
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&channel.ID,
		&channel.ExternalID,
		&channel.Name,
		&channel.Description,
		&channel.SubscriberCount,
		&channel.ThumbnailURL,
		&channel.MetadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	channel.CreatedAt = parseStoredTime(createdAt)
	channel.UpdatedAt = parseStoredTime(updatedAt)
	return &channel, nil
}
