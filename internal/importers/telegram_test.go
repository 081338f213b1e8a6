package importers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/claw-archive/internal/archive"
)

const telegramExport = `{
  "name": "Family",
  "type": "personal_chat",
  "id": 777,
  "messages": [
    {
      "id": 1,
      "type": "message",
      "date": "2023-12-31T22:30:00",
      "date_unixtime": "1704061800",
      "from": "Alice",
      "from_id": "user100",
      "text": "plain hello"
    },
    {
      "id": 2,
      "type": "message",
      "date_unixtime": "1704061860",
      "from": "You",
      "from_id": "user_self",
      "reply_to_message_id": 1,
      "text": [
        "see ",
        {"type": "link", "text": "https://example.com"},
        " please"
      ]
    },
    {
      "id": 3,
      "type": "message",
      "date_unixtime": "1704061920",
      "from": "Alice",
      "from_id": "user100",
      "photo": "photos/pic_1.jpg",
      "text": ""
    },
    {
      "id": 4,
      "type": "service",
      "date_unixtime": "1704061980",
      "actor": "Alice"
    }
  ]
}`

func writeExport(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTelegramParse(t *testing.T) {
	p := &Telegram{}
	messages, err := p.Parse(writeExport(t, "result.json", telegramExport))
	if err != nil {
		t.Fatal(err)
	}
	// Service records don't become messages.
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	first := messages[0]
	if first.MessageID != "tg_777_1" {
		t.Fatalf("deterministic id wrong: %s", first.MessageID)
	}
	if first.SessionKey != "imported:telegram:777" {
		t.Fatalf("session key wrong: %s", first.SessionKey)
	}
	if first.Channel != ChannelTelegram || first.Direction != archive.DirectionInbound {
		t.Fatalf("channel/direction wrong: %+v", first)
	}
	if first.ContentText != "plain hello" || first.Timestamp != 1704061800000 {
		t.Fatalf("content/timestamp wrong: %+v", first)
	}

	second := messages[1]
	if second.Direction != archive.DirectionOutbound {
		t.Fatal("user_self should mark outbound")
	}
	if second.ContentText != "see https://example.com please" {
		t.Fatalf("formatted runs not joined: %q", second.ContentText)
	}
	if second.ReplyToID != "tg_777_1" {
		t.Fatalf("reply mapping wrong: %s", second.ReplyToID)
	}

	third := messages[2]
	if third.ContentType != ContentImage || third.ContentText != "[Image]" {
		t.Fatalf("photo handling wrong: type=%s text=%q", third.ContentType, third.ContentText)
	}
	if len(third.Attachments) != 1 || third.Attachments[0].FilePath != "photos/pic_1.jpg" {
		t.Fatalf("attachment wrong: %+v", third.Attachments)
	}
}

func TestTelegramIdsStableAcrossParses(t *testing.T) {
	path := writeExport(t, "result.json", telegramExport)
	p := &Telegram{}

	a, err := p.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i].MessageID != b[i].MessageID {
			t.Fatalf("ids differ between parses: %s vs %s", a[i].MessageID, b[i].MessageID)
		}
	}
}

func TestTelegramRejectsInvalidStructure(t *testing.T) {
	p := &Telegram{}
	if _, err := p.Parse(writeExport(t, "bad.json", `["not","an","export"]`)); err == nil {
		t.Fatal("expected structural error")
	}
}

func TestTelegramSelfIDOverride(t *testing.T) {
	export := `{"id": 5, "messages": [
		{"id": 1, "type": "message", "date_unixtime": "1704061800", "from": "Me Elsewhere", "from_id": "user42", "text": "hi"}
	]}`
	p := &Telegram{SelfID: "user42"}
	messages, err := p.Parse(writeExport(t, "result.json", export))
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].Direction != archive.DirectionOutbound {
		t.Fatalf("configured self id not honored: %+v", messages)
	}
}
