// Package eventlog parses a session's append-only line-delimited JSON log
// into typed archive events. A single source record can fan out: a message
// carries embedded tool calls, a thinking block, and usage stats, each
// lifted into its own event with a deterministic derived id.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/basket/claw-archive/internal/archive"
	"github.com/basket/claw-archive/internal/identity"
)

// maxLineSize caps one log line. Assistant messages with large embedded
// tool results have been observed in the megabytes.
const maxLineSize = 10 * 1024 * 1024

// Source record shapes. Unknown fields are ignored; unknown types skipped.
type rawRecord struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	ParentID      string          `json:"parentId"`
	Timestamp     string          `json:"timestamp"`
	Cwd           string          `json:"cwd"`
	Provider      string          `json:"provider"`
	ModelID       string          `json:"modelId"`
	ThinkingLevel string          `json:"thinkingLevel"`
	CustomType    string          `json:"customType"`
	Message       json.RawMessage `json:"message"`
}

type rawMessage struct {
	Role     string          `json:"role"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Usage    *rawUsage       `json:"usage"`
	Content  json.RawMessage `json:"content"`
}

type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Signature string          `json:"signature"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Input     json.RawMessage `json:"input"`
	IsError   bool            `json:"isError"`
}

type rawUsage struct {
	Input       int64    `json:"input"`
	Output      int64    `json:"output"`
	CacheRead   int64    `json:"cacheRead"`
	CacheWrite  int64    `json:"cacheWrite"`
	TotalTokens int64    `json:"totalTokens"`
	Cost        *rawCost `json:"cost"`
}

type rawCost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// Parser streams archive events out of one event-log file.
type Parser struct {
	logger *slog.Logger
}

// New returns a Parser. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Scan reads the file line by line and calls emit for every archive event
// with timestamp strictly greater than afterMS (zero disables filtering).
// Malformed lines and unrecognized types are skipped; a missing file is the
// only hard error. The parser leaves session_id unset on everything except
// the root session event.
func (p *Parser) Scan(path string, afterMS int64, emit func(*archive.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		events, err := p.parseLine(line)
		if err != nil {
			p.logger.Debug("skipping malformed line", "path", path, "line", lineNum, "error", err)
			continue
		}
		for _, ev := range events {
			if afterMS > 0 && ev.Timestamp <= afterMS {
				continue
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	return nil
}

// ParseFile collects the full event sequence of one file.
func (p *Parser) ParseFile(path string, afterMS int64) ([]*archive.Event, error) {
	var events []*archive.Event
	err := p.Scan(path, afterMS, func(ev *archive.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// parseLine lifts one source record into its archive events: the parent
// first, then any synthetic children, so a batch insert satisfies
// parent-before-child ordering.
func (p *Parser) parseLine(line []byte) ([]*archive.Event, error) {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("record missing id")
	}
	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}

	base := archive.Event{
		EventID:       rec.ID,
		ParentEventID: rec.ParentID,
		Timestamp:     ts,
		RawJSON:       string(line),
		SizeBytes:     int64(len(line)),
	}

	switch rec.Type {
	case "session":
		ev := base
		ev.Type = archive.EventTypeSession
		ev.SessionID = rec.ID
		return []*archive.Event{&ev}, nil

	case "model_change":
		ev := base
		ev.Type = archive.EventTypeModelChange
		ev.ModelProvider = rec.Provider
		ev.ModelID = rec.ModelID
		return []*archive.Event{&ev}, nil

	case "thinking_level_change":
		ev := base
		ev.Type = archive.EventTypeThinkingLevelChange
		ev.Subtype = rec.ThinkingLevel
		return []*archive.Event{&ev}, nil

	case "custom":
		ev := base
		ev.Type = archive.EventTypeCustom
		ev.Subtype = rec.CustomType
		return []*archive.Event{&ev}, nil

	case "message":
		return p.parseMessage(&rec, base)

	default:
		return nil, fmt.Errorf("unrecognized record type %q", rec.Type)
	}
}

func (p *Parser) parseMessage(rec *rawRecord, base archive.Event) ([]*archive.Event, error) {
	var msg rawMessage
	if len(rec.Message) > 0 {
		if err := json.Unmarshal(rec.Message, &msg); err != nil {
			return nil, fmt.Errorf("record %s: bad message body: %w", rec.ID, err)
		}
	}
	blocks := parseContentBlocks(msg.Content)

	parent := base
	parent.Role = msg.Role
	parent.ModelProvider = msg.Provider
	parent.ModelID = msg.Model
	if msg.Role == "toolResult" {
		parent.Type = archive.EventTypeToolResult
		for _, b := range blocks {
			if b.IsError {
				parent.IsError = true
				break
			}
		}
	} else {
		parent.Type = archive.EventTypeMessage
	}

	events := []*archive.Event{&parent}
	if msg.Role != "assistant" {
		return events, nil
	}

	// Assistant messages fan out: one tool_call per embedded block, at most
	// one thinking_block, at most one usage_stats.
	var thinkingDone bool
	for _, b := range blocks {
		switch b.Type {
		case "toolCall", "toolUse", "tool_use":
			raw, _ := json.Marshal(b)
			child := archive.Event{
				EventID:       identity.ToolCallEventID(parent.EventID, b.ID),
				ParentEventID: parent.EventID,
				Type:          archive.EventTypeToolCall,
				Timestamp:     parent.Timestamp,
				RawJSON:       string(raw),
				Role:          msg.Role,
				ToolName:      b.Name,
				SizeBytes:     int64(len(raw)),
			}
			events = append(events, &child)

		case "thinking":
			if thinkingDone {
				continue
			}
			thinkingDone = true
			content := b.Thinking
			if content == "" {
				content = b.Text
			}
			raw, _ := json.Marshal(b)
			child := archive.Event{
				EventID:       identity.ThinkingEventID(parent.EventID),
				ParentEventID: parent.EventID,
				Type:          archive.EventTypeThinkingBlock,
				Timestamp:     parent.Timestamp,
				RawJSON:       string(raw),
				Role:          msg.Role,
				SizeBytes:     int64(len(raw)),
				Thinking: &archive.ThinkingBlock{
					Content:     content,
					Signature:   b.Signature,
					ContentSize: int64(len(content)),
				},
			}
			events = append(events, &child)
		}
	}

	if msg.Usage != nil {
		raw, _ := json.Marshal(msg.Usage)
		us := &archive.UsageStats{
			InputTokens:      msg.Usage.Input,
			OutputTokens:     msg.Usage.Output,
			CacheReadTokens:  msg.Usage.CacheRead,
			CacheWriteTokens: msg.Usage.CacheWrite,
			TotalTokens:      msg.Usage.TotalTokens,
			ModelProvider:    msg.Provider,
			ModelID:          msg.Model,
			Timestamp:        parent.Timestamp,
		}
		if c := msg.Usage.Cost; c != nil {
			us.InputCost = c.Input
			us.OutputCost = c.Output
			us.CacheReadCost = c.CacheRead
			us.CacheWriteCost = c.CacheWrite
			us.TotalCost = c.Total
		}
		child := archive.Event{
			EventID:       identity.UsageEventID(parent.EventID),
			ParentEventID: parent.EventID,
			Type:          archive.EventTypeUsageStats,
			Timestamp:     parent.Timestamp,
			RawJSON:       string(raw),
			ModelProvider: msg.Provider,
			ModelID:       msg.Model,
			SizeBytes:     int64(len(raw)),
			Usage:         us,
		}
		events = append(events, &child)
	}
	return events, nil
}

// parseContentBlocks tolerates both the array form and a bare string.
func parseContentBlocks(raw json.RawMessage) []rawContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return []rawContentBlock{{Type: "text", Text: text}}
	}
	return nil
}

// parseTimestamp accepts the ISO-8601 shapes the platform writes.
func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unparseable timestamp %q", s)
}
