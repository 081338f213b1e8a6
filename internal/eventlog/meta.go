package eventlog

import (
	"encoding/json"
	"strings"

	"github.com/basket/claw-archive/internal/archive"
)

// SessionMeta is derived session-level metadata accumulated over a parsed
// event sequence.
type SessionMeta struct {
	SessionID      string
	Cwd            string
	FirstTimestamp int64
	LastTimestamp  int64
	EventCount     int
	MessageCount   int
	ToolCallCount  int
	ErrorCount     int
	HasThinking    bool
	HasUsage       bool
	ModelProvider  string
	ModelID        string
}

// DeriveSessionMeta folds a parsed event sequence into session metadata.
// The model fields hold the last model observed, which is what the session
// ended on.
func DeriveSessionMeta(events []*archive.Event) SessionMeta {
	var meta SessionMeta
	for _, ev := range events {
		meta.EventCount++
		if meta.FirstTimestamp == 0 || ev.Timestamp < meta.FirstTimestamp {
			meta.FirstTimestamp = ev.Timestamp
		}
		if ev.Timestamp > meta.LastTimestamp {
			meta.LastTimestamp = ev.Timestamp
		}
		if ev.IsError {
			meta.ErrorCount++
		}
		switch ev.Type {
		case archive.EventTypeSession:
			meta.SessionID = ev.SessionID
			meta.Cwd = sessionCwd(ev.RawJSON)
		case archive.EventTypeMessage:
			meta.MessageCount++
		case archive.EventTypeToolCall:
			meta.ToolCallCount++
		case archive.EventTypeThinkingBlock:
			meta.HasThinking = true
		case archive.EventTypeUsageStats:
			meta.HasUsage = true
		}
		if ev.ModelID != "" {
			meta.ModelProvider = ev.ModelProvider
			meta.ModelID = ev.ModelID
		}
	}
	return meta
}

// MessageText flattens the text blocks of an archived message record into
// plain text.
func MessageText(raw string) string {
	var rec struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ""
	}
	var parts []string
	for _, block := range parseContentBlocks(rec.Message.Content) {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func sessionCwd(raw string) string {
	var rec struct {
		Cwd string `json:"cwd"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ""
	}
	return rec.Cwd
}
