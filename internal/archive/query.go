package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const messageSelect = `
	SELECT id, message_id, internal_id, session_key, session_id, direction,
	       sender_id, sender_name, recipient_id, recipient_name,
	       channel, device_id, content_type, content_text, raw_json,
	       fingerprint, reply_to_id, thread_id,
	       timestamp, edited_at, deleted_at, created_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var edited, deleted sql.NullInt64
	err := r.Scan(&m.RowID, &m.MessageID, &m.InternalID, &m.SessionKey, &m.SessionID,
		&m.Direction, &m.SenderID, &m.SenderName, &m.RecipientID, &m.RecipientName,
		&m.Channel, &m.DeviceID, &m.ContentType, &m.ContentText, &m.RawJSON,
		&m.Fingerprint, &m.ReplyToID, &m.ThreadID,
		&m.Timestamp, &edited, &deleted, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.EditedAt = scanNullableMS(edited)
	m.DeletedAt = scanNullableMS(deleted)
	return &m, nil
}

// QueryMessages returns messages matching the filter, newest first.
// Soft-deleted rows are excluded unless the caller opts in; a ContentMatch
// expression is applied through the FTS index.
func (s *Store) QueryMessages(ctx context.Context, f MessageFilter) ([]*Message, error) {
	var b strings.Builder
	var args []any

	if f.ContentMatch != "" {
		b.WriteString(`
	SELECT m.id, m.message_id, m.internal_id, m.session_key, m.session_id, m.direction,
	       m.sender_id, m.sender_name, m.recipient_id, m.recipient_name,
	       m.channel, m.device_id, m.content_type, m.content_text, m.raw_json,
	       m.fingerprint, m.reply_to_id, m.thread_id,
	       m.timestamp, m.edited_at, m.deleted_at, m.created_at
	FROM messages_fts
	JOIN messages m ON m.id = messages_fts.rowid
	WHERE messages_fts MATCH ?`)
		args = append(args, f.ContentMatch)
	} else {
		b.WriteString(messageSelect)
		b.WriteString(" m WHERE 1=1")
	}

	if f.SessionKey != "" {
		b.WriteString(" AND m.session_key = ?")
		args = append(args, f.SessionKey)
	}
	if f.Channel != "" {
		b.WriteString(" AND m.channel = ?")
		args = append(args, f.Channel)
	}
	if f.SenderID != "" {
		b.WriteString(" AND m.sender_id = ?")
		args = append(args, f.SenderID)
	}
	if f.StartTime != 0 {
		b.WriteString(" AND m.timestamp >= ?")
		args = append(args, f.StartTime)
	}
	if f.EndTime != 0 {
		b.WriteString(" AND m.timestamp <= ?")
		args = append(args, f.EndTime)
	}
	if !f.IncludeDeleted {
		b.WriteString(" AND m.deleted_at IS NULL")
	}

	b.WriteString(" ORDER BY m.timestamp DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Search runs a ranked full-text search over live message content.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT m.id, m.message_id, m.internal_id, m.session_key, m.session_id, m.direction,
	       m.sender_id, m.sender_name, m.recipient_id, m.recipient_name,
	       m.channel, m.device_id, m.content_type, m.content_text, m.raw_json,
	       m.fingerprint, m.reply_to_id, m.thread_id,
	       m.timestamp, m.edited_at, m.deleted_at, m.created_at
	FROM messages_fts
	JOIN messages m ON m.id = messages_fts.rowid
	WHERE messages_fts MATCH ? AND m.deleted_at IS NULL
	ORDER BY rank
	LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ConversationContext renders the messages of a window as a plain transcript,
// oldest first. This is the shape handed to the summarizer as model input.
func (s *Store) ConversationContext(ctx context.Context, startMS, endMS int64, sessionKey string) (string, error) {
	q := messageSelect + ` WHERE deleted_at IS NULL`
	var args []any
	if startMS != 0 {
		q += ` AND timestamp >= ?`
		args = append(args, startMS)
	}
	if endMS != 0 {
		q += ` AND timestamp <= ?`
		args = append(args, endMS)
	}
	if sessionKey != "" {
		q += ` AND session_key = ?`
		args = append(args, sessionKey)
	}
	q += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return "", fmt.Errorf("conversation context: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return "", err
		}
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		if name == "" {
			name = m.Direction
		}
		ts := time.UnixMilli(m.Timestamp).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(&b, "[%s] %s: %s\n", ts, name, m.ContentText)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

const sessionSelect = `
	SELECT session_id, session_key, session_type, parent_session_id, label,
	       agent_id, model, started_at, ended_at, status, title, summary,
	       message_count, event_count, created_at, updated_at
	FROM sessions`

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var ended sql.NullInt64
	err := r.Scan(&sess.SessionID, &sess.SessionKey, &sess.SessionType, &sess.ParentSessionID,
		&sess.Label, &sess.AgentID, &sess.Model, &sess.StartedAt, &ended, &sess.Status,
		&sess.Title, &sess.Summary, &sess.MessageCount, &sess.EventCount,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.EndedAt = scanNullableMS(ended)
	return &sess, nil
}

// QuerySessions lists session summary rows, most recently started first.
func (s *Store) QuerySessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	q := sessionSelect + ` WHERE 1=1`
	var args []any
	if f.SessionKey != "" {
		q += ` AND session_key = ?`
		args = append(args, f.SessionKey)
	}
	if f.SessionType != "" {
		q += ` AND session_type = ?`
		args = append(args, f.SessionType)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AgentID != "" {
		q += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	q += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SearchSessions runs a ranked full-text search over session titles and
// summaries.
func (s *Store) SearchSessions(ctx context.Context, query string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT s.session_id, s.session_key, s.session_type, s.parent_session_id, s.label,
	       s.agent_id, s.model, s.started_at, s.ended_at, s.status, s.title, s.summary,
	       s.message_count, s.event_count, s.created_at, s.updated_at
	FROM sessions_fts
	JOIN sessions s ON s.rowid = sessions_fts.rowid
	WHERE sessions_fts MATCH ?
	ORDER BY rank
	LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
