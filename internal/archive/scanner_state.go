package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reserved scanner-state keys. Watermarks are ms-epoch values gating which
// events a scan considers new; backfill_* entries are an audit log of bulk
// imports.
const (
	KeyLastScan         = "last_scan_timestamp"
	KeyLastEventsScan   = "last_events_scan_timestamp"
	KeyLastSessionsScan = "last_sessions_scan_timestamp"

	backfillKeyPrefix = "backfill_"
)

// CheckpointGet reads a scanner-state entry. The bool reports presence.
func (s *Store) CheckpointGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM scanner_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

// CheckpointSet writes a scanner-state entry.
func (s *Store) CheckpointSet(ctx context.Context, key, value string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scanner_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, nowMS())
		if err != nil {
			return fmt.Errorf("write checkpoint %s: %w", key, err)
		}
		return nil
	})
}

// Watermark reads a ms-epoch watermark, zero when unset or malformed.
func (s *Store) Watermark(ctx context.Context, key string) (int64, error) {
	value, ok, err := s.CheckpointGet(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		s.logger.Warn("malformed watermark, treating as zero", "key", key, "value", value)
		return 0, nil
	}
	return ms, nil
}

// SetWatermark writes a ms-epoch watermark.
func (s *Store) SetWatermark(ctx context.Context, key string, ms int64) error {
	return s.CheckpointSet(ctx, key, strconv.FormatInt(ms, 10))
}

type backfillValue struct {
	Source     string `json:"source"`
	Path       string `json:"path"`
	Inserted   int    `json:"inserted"`
	Skipped    int    `json:"skipped"`
	Errors     int    `json:"errors"`
	DurationMS int64  `json:"duration_ms"`
}

// RecordBackfill appends one audited bulk-import operation under a
// backfill_<source>_<unix-ms> key.
func (s *Store) RecordBackfill(ctx context.Context, source, path string, res BatchResult, duration time.Duration) error {
	key := fmt.Sprintf("%s%s_%d", backfillKeyPrefix, source, nowMS())
	payload, err := json.Marshal(backfillValue{
		Source:     source,
		Path:       path,
		Inserted:   res.Inserted,
		Skipped:    res.Skipped,
		Errors:     res.Errors,
		DurationMS: duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal backfill record: %w", err)
	}
	return s.CheckpointSet(ctx, key, string(payload))
}

// BackfillLog lists recorded bulk imports, newest first.
func (s *Store) BackfillLog(ctx context.Context) ([]BackfillEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, updated_at FROM scanner_state
		WHERE key LIKE ? ORDER BY updated_at DESC, key DESC`, backfillKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list backfills: %w", err)
	}
	defer rows.Close()

	var out []BackfillEntry
	for rows.Next() {
		var key, value string
		var updated int64
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return nil, err
		}
		var bv backfillValue
		if err := json.Unmarshal([]byte(value), &bv); err != nil {
			s.logger.Warn("malformed backfill entry", "key", key, "error", err)
			continue
		}
		out = append(out, BackfillEntry{
			Key:        key,
			Source:     bv.Source,
			Path:       bv.Path,
			Inserted:   bv.Inserted,
			Skipped:    bv.Skipped,
			Errors:     bv.Errors,
			DurationMS: bv.DurationMS,
			RecordedAt: updated,
		})
	}
	return out, rows.Err()
}
