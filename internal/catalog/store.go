// Package catalog persists channels, videos, subscriptions, and discovery
// audit events in SQLite.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidkeep/internal/storage"
)

// ErrDuplicateExternalID is returned when inserting a video whose external
// identifier is already cataloged.
var ErrDuplicateExternalID = errors.New("video external id already cataloged")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("catalog record not found")

// Store provides catalog access backed by a shared database handle.
type Store struct {
	db *storage.DB
}

// NewStore wraps an open database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

func encodeStringList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStringList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func encodeContentTypes(values []ContentType) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeContentTypes(raw string) []ContentType {
	var types []ContentType
	for _, value := range decodeStringList(raw) {
		if ct, ok := ParseContentType(value); ok {
			types = append(types, ct)
		}
	}
	return types
}

func normalizeMetadata(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}

func wrapNotFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
}

func parseStoredTime(raw string) time.Time {
	parsed, err := storage.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseStoredTimePtr(raw sql.NullString) *time.Time {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	parsed, err := storage.ParseTime(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}
