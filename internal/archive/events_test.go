package archive_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/basket/claw-archive/internal/archive"
)

func sessionEvent(id string, ts int64) *archive.Event {
	return &archive.Event{
		EventID:   id,
		SessionID: id,
		Type:      archive.EventTypeSession,
		Timestamp: ts,
		RawJSON:   `{"type":"session","id":"` + id + `","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`,
	}
}

func TestInsertEventWithSatellites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	root := sessionEvent("S", 1000)
	if _, inserted, err := store.InsertEvent(ctx, root, "agent:main:main", archive.EventInsertOptions{SkipIfExists: true}); err != nil || !inserted {
		t.Fatalf("insert session event: inserted=%v err=%v", inserted, err)
	}

	thinking := &archive.Event{
		EventID:       "M_thinking",
		ParentEventID: "S",
		Type:          archive.EventTypeThinkingBlock,
		Timestamp:     2000,
		Thinking:      &archive.ThinkingBlock{Content: "pondering...", ContentSize: 12},
	}
	if _, _, err := store.InsertEvent(ctx, thinking, "agent:main:main", archive.EventInsertOptions{SkipIfExists: true}); err != nil {
		t.Fatalf("insert thinking event: %v", err)
	}

	usage := &archive.Event{
		EventID:       "M_usage",
		ParentEventID: "S",
		Type:          archive.EventTypeUsageStats,
		Timestamp:     2000,
		Usage: &archive.UsageStats{
			InputTokens: 100, OutputTokens: 50, TotalTokens: 150, TotalCost: 0.003,
		},
	}
	if _, _, err := store.InsertEvent(ctx, usage, "agent:main:main", archive.EventInsertOptions{SkipIfExists: true}); err != nil {
		t.Fatalf("insert usage event: %v", err)
	}

	var tbCount, usCount int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM thinking_blocks").Scan(&tbCount); err != nil {
		t.Fatal(err)
	}
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM usage_stats").Scan(&usCount); err != nil {
		t.Fatal(err)
	}
	if tbCount != 1 || usCount != 1 {
		t.Fatalf("satellite rows missing: thinking=%d usage=%d", tbCount, usCount)
	}

	events, err := store.SessionEvents(ctx, "S", archive.EventFilter{IncludeThinking: true, IncludeUsage: true})
	if err != nil {
		t.Fatal(err)
	}
	var gotThinking, gotUsage bool
	for _, ev := range events {
		if ev.Thinking != nil && ev.Thinking.Content == "pondering..." {
			gotThinking = true
		}
		if ev.Usage != nil && ev.Usage.TotalTokens == 150 {
			gotUsage = true
		}
	}
	if !gotThinking || !gotUsage {
		t.Fatalf("satellites not attached on read: thinking=%v usage=%v", gotThinking, gotUsage)
	}
}

func TestInsertEventsBatchBackfillsSessionID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []*archive.Event{
		sessionEvent("AAA", 1000),
		{EventID: "M1", ParentEventID: "AAA", Type: archive.EventTypeMessage, Timestamp: 2000, Role: "user"},
	}
	res, err := store.InsertEventsBatch(ctx, events, "agent:main:main", archive.EventBatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 2 || res.Skipped != 0 || res.Errors != 0 {
		t.Fatalf("unexpected counters: %+v", res)
	}

	got, err := store.GetEvent(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "AAA" {
		t.Fatalf("session id not backfilled from the session event, got %q", got.SessionID)
	}
	if got.SessionKey != "agent:main:main" {
		t.Fatalf("session key not applied, got %q", got.SessionKey)
	}
}

func TestInsertEventsBatchIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := func() []*archive.Event {
		return []*archive.Event{
			sessionEvent("AAA", 1000),
			{EventID: "M1", ParentEventID: "AAA", Type: archive.EventTypeMessage, Timestamp: 2000, Role: "user"},
		}
	}

	first, err := store.InsertEventsBatch(ctx, events(), "agent:main:main", archive.EventBatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.InsertEventsBatch(ctx, events(), "agent:main:main", archive.EventBatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Inserted != 2 || second.Inserted != 0 || second.Skipped != 2 {
		t.Fatalf("re-ingest not idempotent: first=%+v second=%+v", first, second)
	}
}

func TestOrphanEventRejectedUnlessSuspended(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	orphan := func() []*archive.Event {
		return []*archive.Event{{
			EventID:       "M_tool_T1",
			ParentEventID: "M", // never inserted
			Type:          archive.EventTypeToolCall,
			Timestamp:     3000,
			ToolName:      "exec",
		}}
	}

	// Normal scan: referential failure is counted and the row dropped.
	res, err := store.InsertEventsBatch(ctx, orphan(), "agent:main:main", archive.EventBatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors != 1 || res.Inserted != 0 {
		t.Fatalf("expected orphan counted as error: %+v", res)
	}

	// Force-mode backfill: enforcement suspended, the row lands.
	res, err = store.InsertEventsBatch(ctx, orphan(), "agent:main:main", archive.EventBatchOptions{SuspendFK: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Errors != 0 {
		t.Fatalf("expected orphan inserted under suspension: %+v", res)
	}

	// Enforcement is back on afterward.
	res, err = store.InsertEventsBatch(ctx, []*archive.Event{{
		EventID:       "X_tool_T9",
		ParentEventID: "X",
		Type:          archive.EventTypeToolCall,
		Timestamp:     4000,
	}}, "agent:main:main", archive.EventBatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors != 1 {
		t.Fatalf("foreign keys not re-enabled after suspended batch: %+v", res)
	}
}

func TestEventMissingTimestampCountsAsError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	res, err := store.InsertEventsBatch(ctx, []*archive.Event{
		sessionEvent("S", 1000),
		{EventID: "bad", Type: archive.EventTypeCustom},
	}, "k", archive.EventBatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Errors != 1 {
		t.Fatalf("expected structural failure counted: %+v", res)
	}
}

func TestSessionEventsFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []*archive.Event{
		sessionEvent("S", 1000),
		{EventID: "M1", ParentEventID: "S", Type: archive.EventTypeMessage, Timestamp: 2000, Role: "user"},
		{EventID: "M1_tool_T1", ParentEventID: "M1", Type: archive.EventTypeToolCall, Timestamp: 2000, ToolName: "exec"},
		{EventID: "M2", ParentEventID: "M1", Type: archive.EventTypeMessage, Timestamp: 5000, Role: "assistant"},
	}
	if _, err := store.InsertEventsBatch(ctx, events, "k", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}

	got, err := store.SessionEvents(ctx, "S", archive.EventFilter{Types: []string{archive.EventTypeMessage}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("type filter: expected 2 messages, got %d", len(got))
	}

	got, err = store.SessionEvents(ctx, "S", archive.EventFilter{StartTime: 3000})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventID != "M2" {
		t.Fatalf("time filter: %+v", got)
	}
}

func TestExportSessionJSONLOmitsSynthetic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msgRaw := `{"type":"message","id":"M1","parentId":"S","timestamp":"2026-02-13T12:00:02.000Z","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`
	events := []*archive.Event{
		sessionEvent("S", 1000),
		{EventID: "M1", ParentEventID: "S", Type: archive.EventTypeMessage, Timestamp: 2000, Role: "assistant", RawJSON: msgRaw},
		{EventID: "M1_tool_T1", ParentEventID: "M1", Type: archive.EventTypeToolCall, Timestamp: 2000},
		{EventID: "M1_thinking", ParentEventID: "M1", Type: archive.EventTypeThinkingBlock, Timestamp: 2000},
		{EventID: "M1_usage", ParentEventID: "M1", Type: archive.EventTypeUsageStats, Timestamp: 2000},
	}
	if _, err := store.InsertEventsBatch(ctx, events, "k", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}

	out, err := store.ExportSessionJSONL(ctx, "S")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 non-synthetic lines, got %d:\n%s", len(lines), out)
	}

	// Each line stays valid JSON and keeps id and timestamp.
	var rec struct {
		Type      string `json:"type"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("bad export line: %v", err)
	}
	if rec.ID != "M1" || rec.Type != "message" {
		t.Fatalf("unexpected export line: %+v", rec)
	}
}

func TestExportToolResultReemitsAsMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []*archive.Event{
		sessionEvent("S", 1000),
		// Archived without a verbatim record: rebuilt from columns.
		{EventID: "R1", ParentEventID: "S", Type: archive.EventTypeToolResult, Timestamp: 2000, Role: "toolResult"},
	}
	if _, err := store.InsertEventsBatch(ctx, events, "k", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}

	out, err := store.ExportSessionJSONL(ctx, "S")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["type"] != "message" {
		t.Fatalf("tool_result should re-emit under type message, got %v", rec["type"])
	}
}

func TestComputeSessionStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []*archive.Event{
		sessionEvent("S", 1000),
		{EventID: "M1", ParentEventID: "S", Type: archive.EventTypeMessage, Timestamp: 2000, Role: "user", SizeBytes: 100},
		{EventID: "M2", ParentEventID: "M1", Type: archive.EventTypeMessage, Timestamp: 11000, Role: "assistant", SizeBytes: 200},
		{EventID: "M2_tool_T1", ParentEventID: "M2", Type: archive.EventTypeToolCall, Timestamp: 11000},
		{EventID: "M2_usage", ParentEventID: "M2", Type: archive.EventTypeUsageStats, Timestamp: 11000,
			Usage: &archive.UsageStats{TotalTokens: 150, TotalCost: 0.003}},
		{EventID: "R1", ParentEventID: "M2", Type: archive.EventTypeToolResult, Timestamp: 12000, Role: "toolResult", IsError: true},
	}
	if _, err := store.InsertEventsBatch(ctx, events, "k", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}

	stats, err := store.ComputeSessionStats(ctx, "S")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 6 || stats.MessageCount != 2 || stats.ToolCallCount != 1 || stats.ErrorCount != 1 {
		t.Fatalf("counts wrong: %+v", stats)
	}
	if stats.StartTime != 1000 || stats.EndTime != 12000 || stats.DurationSeconds != 11.0 {
		t.Fatalf("window wrong: %+v", stats)
	}
	if stats.TotalTokens != 150 || stats.TotalCost != 0.003 || stats.TotalSizeBytes != 300 {
		t.Fatalf("totals wrong: %+v", stats)
	}
}

func TestUpsertSessionAndSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := &archive.Session{
		SessionID:   "AAA",
		SessionKey:  "agent:main:main",
		SessionType: archive.SessionTypeMain,
		Status:      archive.SessionStatusActive,
		StartedAt:   1000,
		Title:       "Refactor the billing pipeline",
		Summary:     "Walked through invoice generation and fixed rounding.",
	}
	inserted, err := store.UpsertSession(ctx, sess)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}

	sess.Status = archive.SessionStatusCompleted
	sess.Title = "Billing pipeline refactor"
	inserted, err = store.UpsertSession(ctx, sess)
	if err != nil || inserted {
		t.Fatalf("second upsert should update: inserted=%v err=%v", inserted, err)
	}

	got, err := store.GetSession(ctx, "AAA")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != archive.SessionStatusCompleted || got.Title != "Billing pipeline refactor" {
		t.Fatalf("update not applied: %+v", got)
	}

	// Session FTS follows the update.
	hits, err := store.SearchSessions(ctx, "billing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].SessionID != "AAA" {
		t.Fatalf("session search: %+v", hits)
	}
	if hits, err = store.SearchSessions(ctx, "refactor AND rounding", 10); err != nil || len(hits) != 1 {
		t.Fatalf("summary not indexed: %v %v", hits, err)
	}
}

func TestListSessionsFromEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	batchA := []*archive.Event{
		sessionEvent("AAA", 1000),
		{EventID: "A1", ParentEventID: "AAA", Type: archive.EventTypeMessage, Timestamp: 5000, Role: "user"},
	}
	batchB := []*archive.Event{sessionEvent("BBB", 9000)}
	if _, err := store.InsertEventsBatch(ctx, batchA, "agent:main:main", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertEventsBatch(ctx, batchB, "cron:runs", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}

	listings, err := store.ListSessionsFromEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listings))
	}
	// Most recently active first.
	if listings[0].SessionID != "BBB" || listings[1].SessionID != "AAA" {
		t.Fatalf("ordering: %+v", listings)
	}
	if listings[1].FirstSeen != 1000 || listings[1].LastSeen != 5000 || listings[1].EventCount != 2 {
		t.Fatalf("aggregate wrong: %+v", listings[1])
	}
}

func TestRefreshSessionCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertEventsBatch(ctx, []*archive.Event{
		sessionEvent("S", 1000),
		{EventID: "M1", ParentEventID: "S", Type: archive.EventTypeMessage, Timestamp: 2000, Role: "user"},
	}, "k", archive.EventBatchOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertSession(ctx, &archive.Session{
		SessionID: "S", SessionKey: "k", SessionType: archive.SessionTypeMain,
		Status: archive.SessionStatusCompleted, StartedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	if err := store.RefreshSessionCounts(ctx, "S"); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetSession(ctx, "S")
	if err != nil {
		t.Fatal(err)
	}
	if got.EventCount != 2 || got.MessageCount != 1 {
		t.Fatalf("counts not reconciled: %+v", got)
	}
}
