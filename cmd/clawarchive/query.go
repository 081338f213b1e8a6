package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/basket/claw-archive/internal/archive"
)

const timeRound = time.Millisecond

func runSessionsCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive sessions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 50, "maximum sessions to list")
	fromEvents := fs.Bool("from-events", false, "derive the listing from the events table instead of session rows")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	if *fromEvents {
		listings, err := a.store.ListSessionsFromEvents(ctx)
		if err != nil {
			return fatal(err)
		}
		for i, l := range listings {
			if *limit > 0 && i >= *limit {
				break
			}
			fmt.Printf("%s  %-24s  %s .. %s  %d events\n",
				l.SessionID, l.SessionKey, fmtMS(l.FirstSeen), fmtMS(l.LastSeen), l.EventCount)
		}
		return 0
	}

	sessions, err := a.store.QuerySessions(ctx, archive.SessionFilter{Limit: *limit})
	if err != nil {
		return fatal(err)
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-10s %-9s  %s  %s\n",
			s.SessionID, s.SessionType, s.Status, fmtMS(s.StartedAt), title)
	}
	return 0
}

func runSearchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 20, "maximum results")
	sessionsOnly := fs.Bool("sessions", false, "search session titles and summaries instead of messages")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: clawarchive search [--limit n] [--sessions] <query>")
		return 2
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	if *sessionsOnly {
		sessions, err := a.store.SearchSessions(ctx, query, *limit)
		if err != nil {
			return fatal(err)
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s\n", s.SessionID, fmtMS(s.StartedAt), s.Title)
		}
		return 0
	}

	messages, err := a.store.Search(ctx, query, *limit)
	if err != nil {
		return fatal(err)
	}
	for _, m := range messages {
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		fmt.Printf("[%s] %s %s: %s\n", fmtMS(m.Timestamp), m.Channel, sender, firstLine(m.ContentText))
	}
	return 0
}

func runExportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	session := fs.String("session", "", "session id to export")
	format := fs.String("format", archive.FormatJSONL, "export format: json|markdown|text|csv|jsonl")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *session == "" {
		fmt.Fprintln(os.Stderr, "usage: clawarchive export --session <id> [--format fmt]")
		return 2
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	out, err := a.store.ExportSession(ctx, *session, *format)
	if err != nil {
		return fatal(err)
	}
	fmt.Print(out)
	return 0
}

func runStatsCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	session := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *session == "" {
		fmt.Fprintln(os.Stderr, "usage: clawarchive stats --session <id>")
		return 2
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	stats, err := a.store.ComputeSessionStats(ctx, *session)
	if err != nil {
		return fatal(err)
	}
	fmt.Printf("session:     %s\n", stats.SessionID)
	fmt.Printf("events:      %d (%d messages, %d tool calls, %d errors)\n",
		stats.TotalEvents, stats.MessageCount, stats.ToolCallCount, stats.ErrorCount)
	fmt.Printf("window:      %s .. %s (%.1fs)\n",
		fmtMS(stats.StartTime), fmtMS(stats.EndTime), stats.DurationSeconds)
	fmt.Printf("size:        %d bytes\n", stats.TotalSizeBytes)
	fmt.Printf("tokens:      %d\n", stats.TotalTokens)
	fmt.Printf("cost:        $%.4f\n", stats.TotalCost)
	return 0
}

func runBackfillsCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive backfills", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	entries, err := a.store.BackfillLog(ctx)
	if err != nil {
		return fatal(err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-10s %s: %d inserted, %d skipped, %d errors (%dms)\n",
			fmtMS(e.RecordedAt), e.Source, e.Path, e.Inserted, e.Skipped, e.Errors, e.DurationMS)
	}
	return 0
}

func fmtMS(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
