// Package summarize labels archived sessions. The AI-backed summarizer is
// an external collaborator wired in by the caller; the core ships only the
// interface and a deterministic local fallback, so a scan never depends on
// network availability.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/basket/claw-archive/internal/archive"
	"github.com/basket/claw-archive/internal/eventlog"
)

// Summarizer produces a short title and a 2-3 sentence summary for a
// session.
type Summarizer interface {
	Summarize(ctx context.Context, meta eventlog.SessionMeta, events []*archive.Event) (title, summary string, err error)
}

// Local is the deterministic fallback: first user text becomes the title,
// counts become the summary. Always succeeds.
type Local struct{}

var _ Summarizer = (*Local)(nil)

const maxTitleLen = 80

func (Local) Summarize(_ context.Context, meta eventlog.SessionMeta, events []*archive.Event) (string, string, error) {
	title := firstUserText(events)
	if title == "" {
		title = "Session " + meta.SessionID
	}
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen-1]) + "…"
	}

	started := time.UnixMilli(meta.FirstTimestamp).UTC().Format("2006-01-02 15:04")
	summary := fmt.Sprintf("Session with %d events and %d messages, started %s.",
		meta.EventCount, meta.MessageCount, started)
	if meta.ToolCallCount > 0 {
		summary += fmt.Sprintf(" %d tool calls", meta.ToolCallCount)
		if meta.ErrorCount > 0 {
			summary += fmt.Sprintf(", %d errors", meta.ErrorCount)
		}
		summary += "."
	} else if meta.ErrorCount > 0 {
		summary += fmt.Sprintf(" %d errors.", meta.ErrorCount)
	}
	if meta.ModelID != "" {
		summary += " Model: " + meta.ModelID + "."
	}
	return title, summary, nil
}

func firstUserText(events []*archive.Event) string {
	for _, ev := range events {
		if ev.Type != archive.EventTypeMessage || ev.Role != "user" {
			continue
		}
		if text := firstTextBlock(ev.RawJSON); text != "" {
			return text
		}
	}
	return ""
}

func firstTextBlock(raw string) string {
	var rec struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ""
	}
	for _, block := range rec.Message.Content {
		if block.Type != "text" {
			continue
		}
		text := strings.TrimSpace(block.Text)
		if text == "" {
			continue
		}
		if i := strings.IndexByte(text, '\n'); i > 0 {
			text = text[:i]
		}
		return text
	}
	return ""
}
