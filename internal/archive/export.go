package archive

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Export formats accepted by ExportSession.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatCSV      = "csv"
	FormatJSONL    = "jsonl"
)

// isSyntheticType reports whether an event type is derived from fields
// embedded in a parent message record. Synthetic events are omitted from
// JSONL reconstruction: their content already rides inside the parent line.
func isSyntheticType(t string) bool {
	switch t {
	case EventTypeToolCall, EventTypeThinkingBlock, EventTypeUsageStats:
		return true
	}
	return false
}

// ExportSessionJSONL reconstructs a session's event log: one line per
// non-synthetic event, approximating the original record. tool_result
// events re-emit under type "message", which is how they appeared at the
// source.
func (s *Store) ExportSessionJSONL(ctx context.Context, sessionID string) (string, error) {
	events, err := s.SessionEvents(ctx, sessionID, EventFilter{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, ev := range events {
		if isSyntheticType(ev.Type) {
			continue
		}
		line, err := reconstructLine(ev)
		if err != nil {
			s.logger.Warn("event line reconstruction failed", "event_id", ev.EventID, "error", err)
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// reconstructLine prefers the verbatim source record; events archived
// without one get a minimal record rebuilt from columns.
func reconstructLine(ev *Event) (string, error) {
	if strings.TrimSpace(ev.RawJSON) != "" && json.Valid([]byte(ev.RawJSON)) {
		return ev.RawJSON, nil
	}

	record := map[string]any{
		"id":        ev.EventID,
		"timestamp": formatISO(ev.Timestamp),
	}
	switch ev.Type {
	case EventTypeToolResult:
		record["type"] = "message"
	case EventTypeCustom:
		record["type"] = "custom"
		record["customType"] = ev.Subtype
	default:
		record["type"] = ev.Type
	}
	if ev.ParentEventID != "" {
		record["parentId"] = ev.ParentEventID
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func formatISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ExportSession renders a session in one of the operator formats, or JSONL
// for full replay.
func (s *Store) ExportSession(ctx context.Context, sessionID, format string) (string, error) {
	switch format {
	case FormatJSONL:
		return s.ExportSessionJSONL(ctx, sessionID)
	case FormatJSON:
		return s.exportSessionJSON(ctx, sessionID)
	case FormatMarkdown:
		return s.exportSessionMarkdown(ctx, sessionID)
	case FormatText:
		return s.exportSessionText(ctx, sessionID)
	case FormatCSV:
		return s.exportSessionCSV(ctx, sessionID)
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

type exportEvent struct {
	EventID       string          `json:"event_id"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
	SessionID     string          `json:"session_id"`
	SessionKey    string          `json:"session_key"`
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	Timestamp     string          `json:"timestamp"`
	Role          string          `json:"role,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ModelProvider string          `json:"model_provider,omitempty"`
	ModelID       string          `json:"model_id,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
	SizeBytes     int64           `json:"size_bytes,omitempty"`
	Record        json.RawMessage `json:"record,omitempty"`
}

func (s *Store) exportSessionJSON(ctx context.Context, sessionID string) (string, error) {
	events, err := s.SessionEvents(ctx, sessionID, EventFilter{})
	if err != nil {
		return "", err
	}
	out := make([]exportEvent, 0, len(events))
	for _, ev := range events {
		xe := exportEvent{
			EventID:       ev.EventID,
			ParentEventID: ev.ParentEventID,
			SessionID:     ev.SessionID,
			SessionKey:    ev.SessionKey,
			Type:          ev.Type,
			Subtype:       ev.Subtype,
			Timestamp:     formatISO(ev.Timestamp),
			Role:          ev.Role,
			ToolName:      ev.ToolName,
			ModelProvider: ev.ModelProvider,
			ModelID:       ev.ModelID,
			IsError:       ev.IsError,
			SizeBytes:     ev.SizeBytes,
		}
		if json.Valid([]byte(ev.RawJSON)) {
			xe.Record = json.RawMessage(ev.RawJSON)
		}
		out = append(out, xe)
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session export: %w", err)
	}
	return string(raw), nil
}

func (s *Store) exportSessionMarkdown(ctx context.Context, sessionID string) (string, error) {
	events, err := s.SessionEvents(ctx, sessionID, EventFilter{IncludeThinking: true})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sessionID)
	if sess, err := s.GetSession(ctx, sessionID); err == nil {
		if sess.Title != "" {
			fmt.Fprintf(&b, "**%s**\n\n", sess.Title)
		}
		if sess.Summary != "" {
			b.WriteString(sess.Summary + "\n\n")
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case EventTypeMessage:
			header := "## Assistant"
			if ev.Role == "user" {
				header = "## User"
			}
			b.WriteString(header + "\n\n")
			b.WriteString(messageText(ev) + "\n\n")
		case EventTypeToolCall:
			fmt.Fprintf(&b, "## Tool (%s)\n\n", ev.ToolName)
		case EventTypeToolResult:
			b.WriteString("## Tool Result\n\n```text\n")
			b.WriteString(messageText(ev))
			b.WriteString("\n```\n\n")
		case EventTypeThinkingBlock:
			if ev.Thinking != nil && ev.Thinking.Content != "" {
				b.WriteString("## Thinking\n\n> ")
				b.WriteString(strings.ReplaceAll(ev.Thinking.Content, "\n", "\n> "))
				b.WriteString("\n\n")
			}
		}
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}

// messageText pulls the human-readable text out of an archived message
// record's content blocks.
func messageText(ev *Event) string {
	var rec struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(ev.RawJSON), &rec); err != nil {
		return ""
	}
	var parts []string
	for _, block := range rec.Message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Store) exportSessionText(ctx context.Context, sessionID string) (string, error) {
	events, err := s.SessionEvents(ctx, sessionID, EventFilter{})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, ev := range events {
		if ev.Type != EventTypeMessage && ev.Type != EventTypeToolResult {
			continue
		}
		text := messageText(ev)
		if text == "" {
			continue
		}
		role := ev.Role
		if role == "" {
			role = ev.Type
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatISO(ev.Timestamp), role, text)
	}
	return b.String(), nil
}

func (s *Store) exportSessionCSV(ctx context.Context, sessionID string) (string, error) {
	events, err := s.SessionEvents(ctx, sessionID, EventFilter{})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write([]string{"event_id", "parent_event_id", "type", "subtype", "timestamp", "role", "tool_name", "model_provider", "model_id", "is_error", "size_bytes"}); err != nil {
		return "", err
	}
	for _, ev := range events {
		row := []string{
			ev.EventID, ev.ParentEventID, ev.Type, ev.Subtype,
			formatISO(ev.Timestamp), ev.Role, ev.ToolName,
			ev.ModelProvider, ev.ModelID,
			strconv.FormatBool(ev.IsError), strconv.FormatInt(ev.SizeBytes, 10),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return b.String(), nil
}
