package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vidkeep/internal/storage"
)

const subscriptionColumns = `id, channel_id, type, source_url, enabled, auto_download, quality, subtitle_languages,
	content_types, check_frequency, max_items, last_check, new_videos_count, extra_metadata, created_at, updated_at`

// CreateSubscription records a new archival source.
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, errors.New("create subscription: subscription is nil")
	}
	if sub.ChannelID == 0 {
		return nil, errors.New("create subscription: channel id is required")
	}
	if sub.SourceURL == "" {
		return nil, errors.New("create subscription: source url is required")
	}
	if sub.CheckFrequency == "" {
		return nil, errors.New("create subscription: check frequency is required")
	}
	if sub.Type == "" {
		sub.Type = SubscriptionChannel
	}
	now := time.Now().UTC()
	res, err := s.db.ExecRetry(ctx, `
		INSERT INTO subscriptions (channel_id, type, source_url, enabled, auto_download, quality, subtitle_languages,
			content_types, check_frequency, max_items, last_check, new_videos_count, extra_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ChannelID,
		string(sub.Type),
		sub.SourceURL,
		storage.BoolToInt(sub.Enabled),
		storage.BoolToInt(sub.AutoDownload),
		sub.Quality,
		encodeStringList(sub.SubtitleLanguages),
		encodeContentTypes(sub.ContentTypes),
		sub.CheckFrequency,
		sub.MaxItems,
		storage.NullableTime(sub.LastCheck),
		sub.NewVideosCount,
		normalizeMetadata(sub.MetadataJSON),
		storage.FormatTime(now),
		storage.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("create subscription for channel %d: %w", sub.ChannelID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create subscription for channel %d: %w", sub.ChannelID, err)
	}
	return s.GetSubscription(ctx, id)
}

// GetSubscription loads a subscription by row ID.
func (s *Store) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapNotFound("subscription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return sub, nil
}

// UpdateSubscription persists mutable subscription settings.
func (s *Store) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.ID == 0 {
		return errors.New("update subscription: subscription id is required")
	}
	res, err := s.db.ExecRetry(ctx, `
		UPDATE subscriptions SET
			enabled = ?,
			auto_download = ?,
			quality = ?,
			subtitle_languages = ?,
			content_types = ?,
			check_frequency = ?,
			max_items = ?,
			extra_metadata = ?,
			updated_at = ?
		WHERE id = ?`,
		storage.BoolToInt(sub.Enabled),
		storage.BoolToInt(sub.AutoDownload),
		sub.Quality,
		encodeStringList(sub.SubtitleLanguages),
		encodeContentTypes(sub.ContentTypes),
		sub.CheckFrequency,
		sub.MaxItems,
		normalizeMetadata(sub.MetadataJSON),
		storage.FormatTime(time.Now().UTC()),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription %d: %w", sub.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscription %d: %w", sub.ID, err)
	}
	if affected == 0 {
		return wrapNotFound("subscription", sub.ID)
	}
	return nil
}

// SetSubscriptionEnabled flips a subscription on or off.
func (s *Store) SetSubscriptionEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecRetry(ctx, `UPDATE subscriptions SET enabled = ?, updated_at = ? WHERE id = ?`,
		storage.BoolToInt(enabled), storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set subscription %d enabled: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set subscription %d enabled: %w", id, err)
	}
	if affected == 0 {
		return wrapNotFound("subscription", id)
	}
	return nil
}

// DeleteSubscription removes a subscription. Cataloged videos stay behind.
func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecRetry(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	if affected == 0 {
		return wrapNotFound("subscription", id)
	}
	return nil
}

// RecordSubscriptionCheck stamps the completion of a discovery run on the
// subscription itself.
func (s *Store) RecordSubscriptionCheck(ctx context.Context, id int64, checkedAt time.Time, newVideos int) error {
	_, err := s.db.ExecRetry(ctx, `
		UPDATE subscriptions SET last_check = ?, new_videos_count = ?, updated_at = ? WHERE id = ?`,
		storage.FormatTime(checkedAt), newVideos, storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("record check for subscription %d: %w", id, err)
	}
	return nil
}

// ListSubscriptions returns every subscription ordered by row ID.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListEnabledSubscriptions returns subscriptions eligible for scheduling.
func (s *Store) ListEnabledSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListSubscriptionsByChannel returns the subscriptions watching a channel.
func (s *Store) ListSubscriptionsByChannel(ctx context.Context, channelID int64) ([]*Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for channel %d: %w", channelID, err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub          Subscription
		subType      string
		enabled      int
		autoDownload int
		subtitles    string
		contentTypes string
		lastCheck    sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&sub.ID,
		&sub.ChannelID,
		&subType,
		&sub.SourceURL,
		&enabled,
		&autoDownload,
		&sub.Quality,
		&subtitles,
		&contentTypes,
		&sub.CheckFrequency,
		&sub.MaxItems,
		&lastCheck,
		&sub.NewVideosCount,
		&sub.MetadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Type = SubscriptionType(subType)
	sub.Enabled = enabled != 0
	sub.AutoDownload = autoDownload != 0
	sub.SubtitleLanguages = decodeStringList(subtitles)
	sub.ContentTypes = decodeContentTypes(contentTypes)
	sub.LastCheck = parseStoredTimePtr(lastCheck)
	sub.CreatedAt = parseStoredTime(createdAt)
	sub.UpdatedAt = parseStoredTime(updatedAt)
	return &sub, nil
}
