package archive

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/basket/claw-archive/internal/identity"
)

// nearDuplicateWindowMS is the timestamp jitter tolerated by the third
// dedup stage: upstream retries re-emit the same message with a new id and
// a slightly different timestamp.
const nearDuplicateWindowMS = 1000

// InsertMessage stores one message and its attachments. With skipIfExists
// the three-stage duplicate check applies and a duplicate returns
// (0, false, nil); without it no check runs, and only a repeated message id
// surfaces as an error.
func (s *Store) InsertMessage(ctx context.Context, m *Message, skipIfExists bool) (int64, bool, error) {
	var rowID int64
	var inserted bool
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rowID, inserted, err = s.insertMessageTx(ctx, tx, m, skipIfExists)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, false, err
	}
	return rowID, inserted, nil
}

// InsertMessagesBatch stores records in a single transaction. Duplicates
// count as skipped, other per-row failures as errors; the batch continues.
func (s *Store) InsertMessagesBatch(ctx context.Context, records []*Message) (BatchResult, error) {
	var res BatchResult
	err := retryOnBusy(ctx, 5, func() error {
		res = BatchResult{}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, m := range records {
			_, inserted, err := s.insertMessageTx(ctx, tx, m, true)
			switch {
			case err != nil:
				res.Errors++
				s.logger.Warn("message insert failed", "message_id", m.MessageID, "error", err)
			case inserted:
				res.Inserted++
			default:
				res.Skipped++
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

// insertMessageTx runs the duplicate predicate cheapest-first, then writes
// the message row and its attachments.
func (s *Store) insertMessageTx(ctx context.Context, tx *sql.Tx, m *Message, skipIfExists bool) (int64, bool, error) {
	if m.MessageID == "" {
		m.MessageID = identity.GeneratedMessageID(m.Timestamp, m.SenderID, m.ContentText)
	}
	if m.Fingerprint == "" {
		m.Fingerprint = identity.Fingerprint(m.SenderID, m.Timestamp, m.ContentText)
	}

	if skipIfExists {
		dup, err := s.isDuplicateTx(ctx, tx, m)
		if err != nil {
			return 0, false, err
		}
		if dup {
			return 0, false, nil
		}
	}

	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = nowMS()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			message_id, internal_id, session_key, session_id, direction,
			sender_id, sender_name, recipient_id, recipient_name,
			channel, device_id, content_type, content_text, raw_json,
			fingerprint, reply_to_id, thread_id,
			timestamp, edited_at, deleted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.InternalID, m.SessionKey, m.SessionID, m.Direction,
		m.SenderID, m.SenderName, m.RecipientID, m.RecipientName,
		m.Channel, m.DeviceID, m.ContentType, m.ContentText, m.RawJSON,
		m.Fingerprint, m.ReplyToID, m.ThreadID,
		m.Timestamp, nullableMS(m.EditedAt), nullableMS(m.DeletedAt), createdAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert message %s: %w", m.MessageID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}

	for i := range m.Attachments {
		a := &m.Attachments[i]
		aCreated := a.CreatedAt
		if aCreated == 0 {
			aCreated = createdAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (
				message_id, attachment_type, file_path, url, filename,
				file_size, mime_type, thumbnail_path, metadata, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.MessageID, a.AttachmentType, a.FilePath, a.URL, a.Filename,
			a.FileSize, a.MimeType, a.ThumbnailPath, a.Metadata, aCreated,
		); err != nil {
			return 0, false, fmt.Errorf("insert attachment for %s: %w", m.MessageID, err)
		}
	}
	return rowID, true, nil
}

// isDuplicateTx is the three-stage predicate: exact id, fingerprint, then
// near-duplicate (same sender and text within the jitter window).
func (s *Store) isDuplicateTx(ctx context.Context, tx *sql.Tx, m *Message) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE message_id = ? LIMIT 1`, m.MessageID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("check message id: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE fingerprint = ? LIMIT 1`, m.Fingerprint).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}

	if m.SenderID == "" || m.ContentText == "" {
		return false, nil
	}
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM messages
		WHERE sender_id = ?
		  AND timestamp BETWEEN ? AND ?
		  AND content_text = ?
		LIMIT 1`,
		m.SenderID,
		m.Timestamp-(nearDuplicateWindowMS-1), m.Timestamp+(nearDuplicateWindowMS-1),
		m.ContentText).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("check near-duplicate: %w", err)
	}
	return false, nil
}

// AddReaction upserts an emoji reaction. Re-adding after removal clears
// removed_at and refreshes added_at.
func (s *Store) AddReaction(ctx context.Context, messageID, emoji, userID, userName string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reactions (message_id, emoji, user_id, user_name, added_at, removed_at)
			VALUES (?, ?, ?, ?, ?, NULL)
			ON CONFLICT(message_id, emoji, user_id) DO UPDATE SET
				removed_at = NULL,
				added_at = excluded.added_at,
				user_name = excluded.user_name`,
			messageID, emoji, userID, userName, nowMS())
		if err != nil {
			return fmt.Errorf("add reaction: %w", err)
		}
		return nil
	})
}

// RemoveReaction marks an active reaction removed. A reaction that is not
// currently active is left untouched.
func (s *Store) RemoveReaction(ctx context.Context, messageID, emoji, userID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE reactions SET removed_at = ?
			WHERE message_id = ? AND emoji = ? AND user_id = ? AND removed_at IS NULL`,
			nowMS(), messageID, emoji, userID)
		if err != nil {
			return fmt.Errorf("remove reaction: %w", err)
		}
		return nil
	})
}

// UpdateMessage appends an edit record holding the previous content and
// rewrites the live row. Editing an absent message is a silent no-op.
func (s *Store) UpdateMessage(ctx context.Context, messageID, newContent string, editedAt int64) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var previous string
		err = tx.QueryRowContext(ctx,
			`SELECT content_text FROM messages WHERE message_id = ?`, messageID).Scan(&previous)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message %s: %w", messageID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edits (message_id, previous_content, edited_at) VALUES (?, ?, ?)`,
			messageID, previous, editedAt); err != nil {
			return fmt.Errorf("append edit: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET content_text = ?, edited_at = ? WHERE message_id = ?`,
			newContent, editedAt, messageID); err != nil {
			return fmt.Errorf("rewrite message: %w", err)
		}
		return tx.Commit()
	})
}

// SoftDeleteMessage hides a message from default queries. The row stays.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string, when int64) error {
	if when == 0 {
		when = nowMS()
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE messages SET deleted_at = ? WHERE message_id = ?`, when, messageID)
		if err != nil {
			return fmt.Errorf("soft delete %s: %w", messageID, err)
		}
		return nil
	})
}

// GetMessage fetches one message by its stable id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE message_id = ?`, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return m, nil
}

// MessageEdits returns a message's edit history, oldest first.
func (s *Store) MessageEdits(ctx context.Context, messageID string) ([]Edit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, previous_content, edited_at
		FROM edits WHERE message_id = ? ORDER BY edited_at ASC, id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	defer rows.Close()

	var edits []Edit
	for rows.Next() {
		var e Edit
		if err := rows.Scan(&e.RowID, &e.MessageID, &e.PreviousContent, &e.EditedAt); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// MessageReactions returns a message's reactions, including removed ones.
func (s *Store) MessageReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, emoji, user_id, user_name, added_at, removed_at
		FROM reactions WHERE message_id = ? ORDER BY added_at ASC, id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		var removed sql.NullInt64
		if err := rows.Scan(&r.RowID, &r.MessageID, &r.Emoji, &r.UserID, &r.UserName, &r.AddedAt, &removed); err != nil {
			return nil, err
		}
		r.RemovedAt = scanNullableMS(removed)
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// ListAttachments returns a message's attachments.
func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, attachment_type, file_path, url, filename,
		       file_size, mime_type, thumbnail_path, metadata, created_at
		FROM attachments WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.RowID, &a.MessageID, &a.AttachmentType, &a.FilePath, &a.URL,
			&a.Filename, &a.FileSize, &a.MimeType, &a.ThumbnailPath, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
