package storage_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vidkeep/internal/storage"
	"vidkeep/internal/testsupport"
)

func TestOpenInitializesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)

	if got, want := db.Path(), filepath.Join(cfg.Paths.DataDir, "vidkeep.db"); got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}

	var version int
	if err := db.QueryRow(context.Background(), `SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != 1 {
		t.Fatalf("schema version = %d, want 1", version)
	}

	for _, table := range []string{"channels", "videos", "subscriptions", "jobs", "discovery_events"} {
		var name string
		err := db.QueryRow(context.Background(),
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
}

func TestIsUniqueViolation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	ctx := context.Background()

	insert := func() error {
		_, err := db.ExecRetry(ctx, `
			INSERT INTO channels (external_id, name, created_at, updated_at)
			VALUES (?, ?, ?, ?)`,
			"UC123", "Example", storage.FormatTime(time.Now()), storage.FormatTime(time.Now()))
		return err
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := insert()
	if err == nil {
		t.Fatal("second insert succeeded, expected unique violation")
	}
	if !storage.IsUniqueViolation(err) {
		t.Fatalf("IsUniqueViolation(%v) = false, want true", err)
	}
	if storage.IsUniqueViolation(nil) {
		t.Fatal("IsUniqueViolation(nil) = true")
	}
	if storage.IsUniqueViolation(errors.New("boom")) {
		t.Fatal("IsUniqueViolation(unrelated) = true")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	parsed, err := storage.ParseTime(storage.FormatTime(now))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(now) {
		t.Fatalf("round trip = %v, want %v", parsed, now)
	}
	if _, err := storage.ParseTime(""); err == nil {
		t.Fatal("ParseTime(\"\") succeeded, expected error")
	}
}

func TestFormatTimeTextOrderMatchesChronology(t *testing.T) {
	// Stored timestamps back ORDER BY clauses, so the rendering must be
	// fixed-width: trimmed trailing zeros make "12.1" sort after "12.15".
	base := time.Date(2026, 8, 28, 0, 0, 12, 100_000_000, time.UTC)
	earlier := storage.FormatTime(base)
	later := storage.FormatTime(base.Add(50 * time.Millisecond))
	if len(earlier) != len(later) {
		t.Fatalf("format not fixed width: %q vs %q", earlier, later)
	}
	if earlier >= later {
		t.Fatalf("text order inverted: %q >= %q", earlier, later)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, execErr := tx.ExecContext(ctx, `
			INSERT INTO channels (external_id, name, created_at, updated_at)
			VALUES ('UCtx', 'Tx', ?, ?)`,
			storage.FormatTime(time.Now()), storage.FormatTime(time.Now())); execErr != nil {
			return execErr
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v, want %v", err, sentinel)
	}

	var count int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM channels WHERE external_id = 'UCtx'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rolled-back insert visible, count = %d", count)
	}
}
