package archive_test

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/claw-archive/internal/archive"
)

func testMessage(id string, ts int64) *archive.Message {
	return &archive.Message{
		MessageID:   id,
		SessionKey:  "imported:telegram:42",
		Direction:   archive.DirectionInbound,
		SenderID:    "user100",
		SenderName:  "Alice",
		Channel:     "telegram",
		ContentType: "text",
		ContentText: "hello world",
		Timestamp:   ts,
	}
}

func TestInsertMessageDeduplication(t *testing.T) {
	tests := []struct {
		name   string
		second *archive.Message
	}{
		{
			// Stage 1: exact message id.
			name:   "same id different content",
			second: &archive.Message{MessageID: "m1", SenderID: "other", ContentText: "different", Timestamp: 99999, Direction: archive.DirectionInbound},
		},
		{
			// Stage 2: fingerprint (same sender, ts, content; new id).
			name:   "same fingerprint different id",
			second: &archive.Message{MessageID: "m2", SenderID: "user100", ContentText: "hello world", Timestamp: 1700000000000, Direction: archive.DirectionInbound},
		},
		{
			// Stage 3: near-duplicate inside the jitter window.
			name:   "timestamp jitter under a second",
			second: &archive.Message{MessageID: "m3", SenderID: "user100", ContentText: "hello world", Timestamp: 1700000000900, Direction: archive.DirectionInbound},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := openTestStore(t)
			ctx := context.Background()

			if _, inserted, err := store.InsertMessage(ctx, testMessage("m1", 1700000000000), true); err != nil || !inserted {
				t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
			}
			_, inserted, err := store.InsertMessage(ctx, tc.second, true)
			if err != nil {
				t.Fatalf("second insert: %v", err)
			}
			if inserted {
				t.Fatal("expected duplicate to be skipped")
			}

			var count int
			if err := store.DB().QueryRow("SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
				t.Fatal(err)
			}
			if count != 1 {
				t.Fatalf("expected exactly one row, got %d", count)
			}
		})
	}
}

func TestInsertMessageJitterBeyondWindowIsNew(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, _, err := store.InsertMessage(ctx, testMessage("m1", 1700000000000), true); err != nil {
		t.Fatal(err)
	}
	m := testMessage("m2", 1700000001500)
	_, inserted, err := store.InsertMessage(ctx, m, true)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("1.5s apart is outside the near-duplicate window; expected insert")
	}
}

func TestInsertMessagesBatchCountsSkips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	records := []*archive.Message{
		testMessage("b1", 1700000000000),
		testMessage("b2", 1700000100000),
		testMessage("b1", 1700000000000), // duplicate inside the batch
	}
	// Distinct content so only the id collision dedupes.
	records[1].ContentText = "second message"

	res, err := store.InsertMessagesBatch(ctx, records)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Inserted != 2 || res.Skipped != 1 || res.Errors != 0 {
		t.Fatalf("unexpected counters: %+v", res)
	}

	// Re-running the whole batch inserts nothing.
	records2 := []*archive.Message{
		testMessage("b1", 1700000000000),
		testMessage("b2", 1700000100000),
	}
	records2[1].ContentText = "second message"
	res, err = store.InsertMessagesBatch(ctx, records2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 || res.Skipped != 2 {
		t.Fatalf("expected full skip on re-ingest, got %+v", res)
	}
}

func TestInsertMessageGeneratesMissingID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("", 1700000000000)
	if _, inserted, err := store.InsertMessage(ctx, m, true); err != nil || !inserted {
		t.Fatalf("insert: inserted=%v err=%v", inserted, err)
	}
	if m.MessageID == "" {
		t.Fatal("expected a generated message id")
	}
	if m.Fingerprint == "" {
		t.Fatal("expected a computed fingerprint")
	}
}

func TestEditAndSoftDeleteRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("e1", 1700000000000)
	m.ContentText = "hello"
	if _, _, err := store.InsertMessage(ctx, m, true); err != nil {
		t.Fatal(err)
	}

	const t1, t2 = 1700000005000, 1700000009000
	if err := store.UpdateMessage(ctx, "e1", "hi", t1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.SoftDeleteMessage(ctx, "e1", t2); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	got, err := store.GetMessage(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentText != "hi" || got.EditedAt != t1 || got.DeletedAt != t2 {
		t.Fatalf("live row wrong: content=%q edited=%d deleted=%d", got.ContentText, got.EditedAt, got.DeletedAt)
	}

	edits, err := store.MessageEdits(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 1 || edits[0].PreviousContent != "hello" || edits[0].EditedAt != t1 {
		t.Fatalf("unexpected edits: %+v", edits)
	}

	// Hidden by default, visible on request.
	visible, err := store.QueryMessages(ctx, archive.MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 0 {
		t.Fatalf("soft-deleted message leaked into default query: %d rows", len(visible))
	}
	all, err := store.QueryMessages(ctx, archive.MessageFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected soft-deleted message with opt-in, got %d rows", len(all))
	}
}

func TestUpdateAbsentMessageIsNoOp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpdateMessage(ctx, "ghost", "new", 1); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM edits").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("no-op update left %d edit rows", count)
	}
}

func TestSearchTracksEdits(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("f1", 1700000000000)
	m.ContentText = "the quick brown fox"
	if _, _, err := store.InsertMessage(ctx, m, true); err != nil {
		t.Fatal(err)
	}

	hits, err := store.Search(ctx, "quick", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].MessageID != "f1" {
		t.Fatalf("expected f1 for 'quick', got %+v", hits)
	}

	if err := store.UpdateMessage(ctx, "f1", "a lazy dog instead", 1700000001000); err != nil {
		t.Fatal(err)
	}
	if hits, err = store.Search(ctx, "quick", 10); err != nil || len(hits) != 0 {
		t.Fatalf("old text still matchable after edit: %v %v", hits, err)
	}
	if hits, err = store.Search(ctx, "lazy", 10); err != nil || len(hits) != 1 {
		t.Fatalf("new text not matchable after edit: %v %v", hits, err)
	}
}

func TestQueryMessagesFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := testMessage("q1", 1000)
	a.Channel = "telegram"
	a.ContentText = "alpha message"
	b := testMessage("q2", 2000)
	b.Channel = "whatsapp"
	b.SenderID = "user200"
	b.SenderName = "Bob"
	b.ContentText = "beta message"
	for _, m := range []*archive.Message{a, b} {
		if _, _, err := store.InsertMessage(ctx, m, true); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.QueryMessages(ctx, archive.MessageFilter{Channel: "whatsapp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MessageID != "q2" {
		t.Fatalf("channel filter: %+v", got)
	}

	got, err = store.QueryMessages(ctx, archive.MessageFilter{StartTime: 1500})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MessageID != "q2" {
		t.Fatalf("time filter: %+v", got)
	}

	got, err = store.QueryMessages(ctx, archive.MessageFilter{ContentMatch: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MessageID != "q1" {
		t.Fatalf("content match: %+v", got)
	}

	// Newest first.
	got, err = store.QueryMessages(ctx, archive.MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].MessageID != "q2" {
		t.Fatalf("expected timestamp DESC ordering: %+v", got)
	}
}

func TestReactionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, _, err := store.InsertMessage(ctx, testMessage("r1", 1700000000000), true); err != nil {
		t.Fatal(err)
	}

	if err := store.AddReaction(ctx, "r1", "👍", "u1", "Uli"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.RemoveReaction(ctx, "r1", "👍", "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	reactions, err := store.MessageReactions(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions) != 1 || reactions[0].RemovedAt == 0 {
		t.Fatalf("expected one removed reaction: %+v", reactions)
	}

	// Re-adding revives the same row.
	if err := store.AddReaction(ctx, "r1", "👍", "u1", "Uli"); err != nil {
		t.Fatal(err)
	}
	reactions, err = store.MessageReactions(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions) != 1 || reactions[0].RemovedAt != 0 {
		t.Fatalf("expected one active reaction after re-add: %+v", reactions)
	}
}

func TestAttachmentsStoredWithMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("a1", 1700000000000)
	m.ContentType = "image"
	m.Attachments = []archive.Attachment{{
		AttachmentType: "image",
		FilePath:       "photos/pic.jpg",
		Filename:       "pic.jpg",
		MimeType:       "image/jpeg",
		FileSize:       12345,
	}}
	if _, _, err := store.InsertMessage(ctx, m, true); err != nil {
		t.Fatal(err)
	}

	atts, err := store.ListAttachments(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 || atts[0].Filename != "pic.jpg" || atts[0].FileSize != 12345 {
		t.Fatalf("unexpected attachments: %+v", atts)
	}
}

func TestConversationContext(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := testMessage("c1", 1700000000000)
	a.ContentText = "first"
	b := testMessage("c2", 1700000060000)
	b.SenderName = "Bob"
	b.SenderID = "user200"
	b.ContentText = "second"
	for _, m := range []*archive.Message{b, a} { // insert out of order
		if _, _, err := store.InsertMessage(ctx, m, true); err != nil {
			t.Fatal(err)
		}
	}

	text, err := store.ConversationContext(ctx, 0, 0, "imported:telegram:42")
	if err != nil {
		t.Fatal(err)
	}
	fi := strings.Index(text, "Alice: first")
	si := strings.Index(text, "Bob: second")
	if fi < 0 || si < 0 || fi > si {
		t.Fatalf("transcript not in chronological order:\n%s", text)
	}
}
