package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vidkeep/internal/storage"
)

const eventColumns = `id, subscription_id, status, videos_found, videos_added, videos_queued, videos_filtered,
	duration_ms, error_message, started_at, completed_at`

// RecordDiscoveryEvent appends one discovery run's audit record.
func (s *Store) RecordDiscoveryEvent(ctx context.Context, event *DiscoveryEvent) (int64, error) {
	if event == nil {
		return 0, fmt.Errorf("record discovery event: event is nil")
	}
	if event.SubscriptionID == 0 {
		return 0, fmt.Errorf("record discovery event: subscription id is required")
	}
	startedAt := event.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	res, err := s.db.ExecRetry(ctx, `
		INSERT INTO discovery_events (subscription_id, status, videos_found, videos_added, videos_queued,
			videos_filtered, duration_ms, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.SubscriptionID,
		string(event.Status),
		event.VideosFound,
		event.VideosAdded,
		event.VideosQueued,
		event.VideosFiltered,
		event.Duration.Milliseconds(),
		event.ErrorMessage,
		storage.FormatTime(startedAt),
		storage.NullableTime(event.CompletedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("record discovery event for subscription %d: %w", event.SubscriptionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record discovery event for subscription %d: %w", event.SubscriptionID, err)
	}
	return id, nil
}

// ListDiscoveryEvents returns a subscription's recent runs, newest first.
func (s *Store) ListDiscoveryEvents(ctx context.Context, subscriptionID int64, limit int) ([]*DiscoveryEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+` FROM discovery_events
		WHERE subscription_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list discovery events for subscription %d: %w", subscriptionID, err)
	}
	defer rows.Close()

	var events []*DiscoveryEvent
	for rows.Next() {
		event, scanErr := scanDiscoveryEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list discovery events for subscription %d: %w", subscriptionID, scanErr)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list discovery events for subscription %d: %w", subscriptionID, err)
	}
	return events, nil
}

func scanDiscoveryEvent(row rowScanner) (*DiscoveryEvent, error) {
	var (
		event       DiscoveryEvent
		status      string
		durationMS  int64
		startedAt   string
		completedAt sql.NullString
	)
	err := row.Scan(
		&event.ID,
		&event.SubscriptionID,
		&status,
		&event.VideosFound,
		&event.VideosAdded,
		&event.VideosQueued,
		&event.VideosFiltered,
		&durationMS,
		&event.ErrorMessage,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Status = EventStatus(status)
	event.Duration = time.Duration(durationMS) * time.Millisecond
	event.StartedAt = parseStoredTime(startedAt)
	event.CompletedAt = parseStoredTimePtr(completedAt)
	return &event, nil
}
