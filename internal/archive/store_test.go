package archive_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/claw-archive/internal/archive"
)

func openTestStore(t *testing.T) *archive.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	store, err := archive.Open(dbPath, archive.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestOpenConfiguresWALAndSchema(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journal); err != nil {
		t.Fatalf("pragma journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", foreignKeys)
	}

	required := []string{
		"schema_migrations", "messages", "attachments", "reactions", "edits",
		"events", "thinking_blocks", "usage_stats", "sessions", "scanner_state",
	}
	for _, table := range required {
		var got string
		if err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	store, err := archive.Open(dbPath, archive.Options{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = archive.Open(dbPath, archive.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	version, checksum, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 1 || checksum == "" {
		t.Fatalf("unexpected ledger head: v%d %q", version, checksum)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.CheckpointGet(ctx, "nope"); err != nil || ok {
		t.Fatalf("expected absent checkpoint, got ok=%v err=%v", ok, err)
	}
	if err := store.CheckpointSet(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := store.CheckpointGet(ctx, "k"); !ok || v != "v1" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
	if err := store.CheckpointSet(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _, _ := store.CheckpointGet(ctx, "k"); v != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}
}

func TestWatermarkDefaultsToZero(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	wm, err := store.Watermark(ctx, archive.KeyLastEventsScan)
	if err != nil || wm != 0 {
		t.Fatalf("expected zero watermark, got %d err=%v", wm, err)
	}
	if err := store.SetWatermark(ctx, archive.KeyLastEventsScan, 12345); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	wm, err = store.Watermark(ctx, archive.KeyLastEventsScan)
	if err != nil || wm != 12345 {
		t.Fatalf("expected 12345, got %d err=%v", wm, err)
	}

	// Garbage values degrade to zero instead of wedging the scanner.
	if err := store.CheckpointSet(ctx, archive.KeyLastEventsScan, "not-a-number"); err != nil {
		t.Fatalf("set garbage: %v", err)
	}
	if wm, err = store.Watermark(ctx, archive.KeyLastEventsScan); err != nil || wm != 0 {
		t.Fatalf("expected zero for garbage watermark, got %d err=%v", wm, err)
	}
}

func TestBackfillLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	res := archive.BatchResult{Inserted: 10, Skipped: 2, Errors: 1}
	if err := store.RecordBackfill(ctx, "telegram", "/tmp/result.json", res, 0); err != nil {
		t.Fatalf("record backfill: %v", err)
	}

	entries, err := store.BackfillLog(ctx)
	if err != nil {
		t.Fatalf("backfill log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Source != "telegram" || e.Inserted != 10 || e.Skipped != 2 || e.Errors != 1 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}
