package archive

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertSession inserts or updates the summary row for a session, keyed by
// session id. Returns true when the row was newly inserted.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) (bool, error) {
	var inserted bool
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var one int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM sessions WHERE session_id = ?`, sess.SessionID).Scan(&one)
		exists := err == nil
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check session: %w", err)
		}

		now := nowMS()
		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE sessions SET
					session_key = ?, session_type = ?, parent_session_id = ?,
					label = ?, agent_id = ?, model = ?, started_at = ?,
					ended_at = ?, status = ?, title = ?, summary = ?,
					message_count = ?, event_count = ?, updated_at = ?
				WHERE session_id = ?`,
				sess.SessionKey, sess.SessionType, sess.ParentSessionID,
				sess.Label, sess.AgentID, sess.Model, sess.StartedAt,
				nullableMS(sess.EndedAt), sess.Status, sess.Title, sess.Summary,
				sess.MessageCount, sess.EventCount, now, sess.SessionID)
			if err != nil {
				return fmt.Errorf("update session %s: %w", sess.SessionID, err)
			}
		} else {
			created := sess.CreatedAt
			if created == 0 {
				created = now
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sessions (
					session_id, session_key, session_type, parent_session_id,
					label, agent_id, model, started_at, ended_at, status,
					title, summary, message_count, event_count, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sess.SessionID, sess.SessionKey, sess.SessionType, sess.ParentSessionID,
				sess.Label, sess.AgentID, sess.Model, sess.StartedAt,
				nullableMS(sess.EndedAt), sess.Status, sess.Title, sess.Summary,
				sess.MessageCount, sess.EventCount, created, now)
			if err != nil {
				return fmt.Errorf("insert session %s: %w", sess.SessionID, err)
			}
			inserted = true
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// GetSession fetches one session summary row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ComputeSessionStats aggregates a session's events and usage rows.
func (s *Store) ComputeSessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	stats := &SessionStats{SessionID: sessionID}

	var start, end sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN event_type = 'message' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN event_type = 'tool_call' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(is_error), 0),
		       MIN(timestamp), MAX(timestamp),
		       COALESCE(SUM(size_bytes), 0)
		FROM events WHERE session_id = ?`, sessionID).Scan(
		&stats.TotalEvents, &stats.MessageCount, &stats.ToolCallCount,
		&stats.ErrorCount, &start, &end, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("session stats for %s: %w", sessionID, err)
	}
	stats.StartTime = scanNullableMS(start)
	stats.EndTime = scanNullableMS(end)
	if stats.StartTime != 0 && stats.EndTime >= stats.StartTime {
		stats.DurationSeconds = float64(stats.EndTime-stats.StartTime) / 1000.0
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(us.total_tokens), 0), COALESCE(SUM(us.total_cost), 0)
		FROM usage_stats us
		JOIN events e ON e.event_id = us.event_id
		WHERE e.session_id = ?`, sessionID).Scan(&stats.TotalTokens, &stats.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("session usage totals for %s: %w", sessionID, err)
	}
	return stats, nil
}

// RefreshSessionCounts reconciles the denormalized message_count and
// event_count columns with the events table. The counts are advisory; the
// events table stays the source of truth.
func (s *Store) RefreshSessionCounts(ctx context.Context, sessionID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET
				event_count = (SELECT COUNT(*) FROM events WHERE events.session_id = sessions.session_id),
				message_count = (SELECT COUNT(*) FROM events
					WHERE events.session_id = sessions.session_id
					  AND events.event_type = 'message'),
				updated_at = ?
			WHERE session_id = ?`, nowMS(), sessionID)
		if err != nil {
			return fmt.Errorf("refresh counts for %s: %w", sessionID, err)
		}
		return nil
	})
}
