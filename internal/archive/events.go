package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EventInsertOptions controls InsertEvent.
type EventInsertOptions struct {
	SkipIfExists bool
	SuspendFK    bool
}

// InsertEvent stores one archive event (and its satellite row for
// thinking_block / usage_stats types). A duplicate returns (0, false, nil)
// when SkipIfExists is set. An event without a session id takes the session
// id of its stored parent event.
func (s *Store) InsertEvent(ctx context.Context, ev *Event, sessionKey string, opts EventInsertOptions) (int64, bool, error) {
	var rowID int64
	var inserted bool
	run := func() error {
		return retryOnBusy(ctx, 5, func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			rowID, inserted, err = s.insertEventTx(ctx, tx, ev, sessionKey, opts.SkipIfExists)
			if err != nil {
				return err
			}
			return tx.Commit()
		})
	}
	var err error
	if opts.SuspendFK {
		err = s.withFKSuspended(ctx, run)
	} else {
		err = run()
	}
	if err != nil {
		return 0, false, err
	}
	return rowID, inserted, nil
}

// InsertEventsBatch commits events in one transaction, in the order
// supplied. Duplicates count as skipped; referential and structural
// failures count as errors and the offending row is dropped. When the
// batch's session id is not supplied it is taken from the first session
// event, and back-filled onto any event the parser left unset.
func (s *Store) InsertEventsBatch(ctx context.Context, events []*Event, sessionKey string, opts EventBatchOptions) (BatchResult, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		for _, ev := range events {
			if ev.Type == EventTypeSession {
				sessionID = ev.EventID
				break
			}
		}
	}

	var res BatchResult
	run := func() error {
		return retryOnBusy(ctx, 5, func() error {
			res = BatchResult{}
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			for _, ev := range events {
				if ev.SessionKey == "" {
					ev.SessionKey = sessionKey
				}
				if ev.SessionID == "" {
					ev.SessionID = sessionID
				}
				_, inserted, err := s.insertEventTx(ctx, tx, ev, sessionKey, true)
				switch {
				case err != nil:
					res.Errors++
					s.logger.Warn("event insert dropped", "event_id", ev.EventID, "error", err)
				case inserted:
					res.Inserted++
				default:
					res.Skipped++
				}
			}
			return tx.Commit()
		})
	}
	var err error
	if opts.SuspendFK {
		err = s.withFKSuspended(ctx, run)
	} else {
		err = run()
	}
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

// withFKSuspended turns referential enforcement off around fn. The store
// holds a single connection, so the pragma scopes to exactly this batch;
// only force-mode backfill takes this path.
func (s *Store) withFKSuspended(ctx context.Context, fn func() error) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=OFF;"); err != nil {
		return fmt.Errorf("suspend foreign keys: %w", err)
	}
	defer func() {
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
			s.logger.Error("re-enable foreign keys failed", "error", err)
		}
	}()
	return fn()
}

func (s *Store) insertEventTx(ctx context.Context, tx *sql.Tx, ev *Event, sessionKey string, skipIfExists bool) (int64, bool, error) {
	if ev.EventID == "" {
		return 0, false, fmt.Errorf("event missing id")
	}
	if ev.Timestamp == 0 {
		return 0, false, fmt.Errorf("event %s missing timestamp", ev.EventID)
	}
	if ev.SessionKey == "" {
		ev.SessionKey = sessionKey
	}
	if ev.SessionID == "" && ev.ParentEventID != "" {
		var parentSession string
		err := tx.QueryRowContext(ctx,
			`SELECT session_id FROM events WHERE event_id = ?`, ev.ParentEventID).Scan(&parentSession)
		if err != nil && err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("read parent session: %w", err)
		}
		ev.SessionID = parentSession
	}

	if skipIfExists {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM events WHERE event_id = ? LIMIT 1`, ev.EventID).Scan(&one)
		if err == nil {
			return 0, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("check event id: %w", err)
		}
	}

	createdAt := ev.CreatedAt
	if createdAt == 0 {
		createdAt = nowMS()
	}
	var parent any
	if ev.ParentEventID != "" {
		parent = ev.ParentEventID
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			event_id, parent_event_id, session_key, session_id,
			event_type, event_subtype, timestamp, created_at, raw_json,
			role, tool_name, model_provider, model_id, is_error, size_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, parent, ev.SessionKey, ev.SessionID,
		ev.Type, ev.Subtype, ev.Timestamp, createdAt, ev.RawJSON,
		ev.Role, ev.ToolName, ev.ModelProvider, ev.ModelID, boolToInt(ev.IsError), ev.SizeBytes,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}

	switch ev.Type {
	case EventTypeThinkingBlock:
		tb := ev.Thinking
		if tb == nil {
			tb = &ThinkingBlock{}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO thinking_blocks (event_id, content, signature, content_size, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			ev.EventID, tb.Content, tb.Signature, tb.ContentSize, createdAt); err != nil {
			return 0, false, fmt.Errorf("insert thinking block for %s: %w", ev.EventID, err)
		}
	case EventTypeUsageStats:
		us := ev.Usage
		if us == nil {
			us = &UsageStats{}
		}
		usTS := us.Timestamp
		if usTS == 0 {
			usTS = ev.Timestamp
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO usage_stats (
				event_id, input_tokens, output_tokens, cache_read_tokens,
				cache_write_tokens, total_tokens, input_cost, output_cost,
				cache_read_cost, cache_write_cost, total_cost,
				model_provider, model_id, timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.EventID, us.InputTokens, us.OutputTokens, us.CacheReadTokens,
			us.CacheWriteTokens, us.TotalTokens, us.InputCost, us.OutputCost,
			us.CacheReadCost, us.CacheWriteCost, us.TotalCost,
			us.ModelProvider, us.ModelID, usTS); err != nil {
			return 0, false, fmt.Errorf("insert usage stats for %s: %w", ev.EventID, err)
		}
	}
	return rowID, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const eventSelect = `
	SELECT id, event_id, parent_event_id, session_key, session_id,
	       event_type, event_subtype, timestamp, created_at, raw_json,
	       role, tool_name, model_provider, model_id, is_error, size_bytes
	FROM events`

func scanEvent(r rowScanner) (*Event, error) {
	var ev Event
	var parent sql.NullString
	var isErr int
	err := r.Scan(&ev.RowID, &ev.EventID, &parent, &ev.SessionKey, &ev.SessionID,
		&ev.Type, &ev.Subtype, &ev.Timestamp, &ev.CreatedAt, &ev.RawJSON,
		&ev.Role, &ev.ToolName, &ev.ModelProvider, &ev.ModelID, &isErr, &ev.SizeBytes)
	if err != nil {
		return nil, err
	}
	ev.ParentEventID = parent.String
	ev.IsError = isErr != 0
	return &ev, nil
}

// SessionEvents replays a session's events in source order. Satellite
// payloads are attached only on request; they are large and rarely needed
// in listing paths.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, f EventFilter) ([]*Event, error) {
	q := eventSelect + ` WHERE session_id = ?`
	args := []any{sessionID}
	if len(f.Types) > 0 {
		q += ` AND event_type IN (?` + strings.Repeat(",?", len(f.Types)-1) + `)`
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if f.StartTime != 0 {
		q += ` AND timestamp >= ?`
		args = append(args, f.StartTime)
	}
	if f.EndTime != 0 {
		q += ` AND timestamp <= ?`
		args = append(args, f.EndTime)
	}
	q += ` ORDER BY timestamp ASC, id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	byID := make(map[string]*Event)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		byID[ev.EventID] = ev
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if f.IncludeThinking {
		if err := s.attachThinking(ctx, sessionID, byID); err != nil {
			return nil, err
		}
	}
	if f.IncludeUsage {
		if err := s.attachUsage(ctx, sessionID, byID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *Store) attachThinking(ctx context.Context, sessionID string, byID map[string]*Event) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tb.event_id, tb.content, tb.signature, tb.content_size, tb.created_at
		FROM thinking_blocks tb
		JOIN events e ON e.event_id = tb.event_id
		WHERE e.session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("attach thinking blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tb ThinkingBlock
		if err := rows.Scan(&tb.EventID, &tb.Content, &tb.Signature, &tb.ContentSize, &tb.CreatedAt); err != nil {
			return err
		}
		if ev, ok := byID[tb.EventID]; ok {
			ev.Thinking = &tb
		}
	}
	return rows.Err()
}

func (s *Store) attachUsage(ctx context.Context, sessionID string, byID map[string]*Event) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT us.event_id, us.input_tokens, us.output_tokens, us.cache_read_tokens,
		       us.cache_write_tokens, us.total_tokens, us.input_cost, us.output_cost,
		       us.cache_read_cost, us.cache_write_cost, us.total_cost,
		       us.model_provider, us.model_id, us.timestamp
		FROM usage_stats us
		JOIN events e ON e.event_id = us.event_id
		WHERE e.session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("attach usage stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var us UsageStats
		if err := rows.Scan(&us.EventID, &us.InputTokens, &us.OutputTokens, &us.CacheReadTokens,
			&us.CacheWriteTokens, &us.TotalTokens, &us.InputCost, &us.OutputCost,
			&us.CacheReadCost, &us.CacheWriteCost, &us.TotalCost,
			&us.ModelProvider, &us.ModelID, &us.Timestamp); err != nil {
			return err
		}
		if ev, ok := byID[us.EventID]; ok {
			ev.Usage = &us
		}
	}
	return rows.Err()
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, eventSelect+` WHERE event_id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return ev, nil
}

// ListSessionsFromEvents derives a session listing from the events table:
// one row per session id with its window and event count. This is the
// ground truth the denormalized sessions table is reconciled against.
func (s *Store) ListSessionsFromEvents(ctx context.Context) ([]SessionListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, MIN(session_key), MIN(timestamp), MAX(timestamp), COUNT(*)
		FROM events
		WHERE session_id != ''
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions from events: %w", err)
	}
	defer rows.Close()

	var out []SessionListing
	for rows.Next() {
		var l SessionListing
		if err := rows.Scan(&l.SessionID, &l.SessionKey, &l.FirstSeen, &l.LastSeen, &l.EventCount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
