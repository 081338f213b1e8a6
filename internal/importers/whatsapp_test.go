package importers

import (
	"strings"
	"testing"

	"github.com/basket/claw-archive/internal/archive"
)

func TestWhatsAppBothHeaderFormats(t *testing.T) {
	export := strings.Join([]string{
		"12/31/23, 10:30 PM - Alice: Hi",
		"[31/12/23, 22:31:00] Bob: Hello",
	}, "\n")

	p := &WhatsApp{}
	messages, err := p.Parse(writeExport(t, "chat.txt", export))
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	if messages[0].SenderName != "Alice" || messages[1].SenderName != "Bob" {
		t.Fatalf("senders wrong: %q, %q", messages[0].SenderName, messages[1].SenderName)
	}
	if messages[0].Channel != ChannelWhatsApp {
		t.Fatalf("channel wrong: %s", messages[0].Channel)
	}
	if messages[0].Timestamp >= messages[1].Timestamp {
		t.Fatalf("timestamps not increasing: %d then %d", messages[0].Timestamp, messages[1].Timestamp)
	}
	if messages[0].SessionKey != "imported:whatsapp:export" {
		t.Fatalf("session key wrong: %s", messages[0].SessionKey)
	}
}

func TestWhatsAppContinuationLines(t *testing.T) {
	export := strings.Join([]string{
		"noise before any header is dropped",
		"[31/12/23, 22:31:00] Bob: first line",
		"second line",
		"third line",
		"[31/12/23, 22:32:00] Alice: next message",
	}, "\n")

	p := &WhatsApp{}
	messages, err := p.Parse(writeExport(t, "chat.txt", export))
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	want := "first line\nsecond line\nthird line"
	if messages[0].ContentText != want {
		t.Fatalf("continuation join wrong: %q", messages[0].ContentText)
	}
}

func TestWhatsAppDirectionAndAMPM(t *testing.T) {
	export := strings.Join([]string{
		"1/2/24, 12:05 AM - You: midnight note",
		"1/2/24, 12:10 PM - Carol: noon reply",
	}, "\n")

	p := &WhatsApp{}
	messages, err := p.Parse(writeExport(t, "chat.txt", export))
	if err != nil {
		t.Fatal(err)
	}
	if messages[0].Direction != archive.DirectionOutbound {
		t.Fatal(`"You" should mark outbound`)
	}
	if messages[1].Direction != archive.DirectionInbound {
		t.Fatal("other senders are inbound")
	}
	// 12 AM folds to 00:xx, 12 PM stays 12:xx.
	if delta := messages[1].Timestamp - messages[0].Timestamp; delta != 12*3600*1000+5*60*1000 {
		t.Fatalf("AM/PM handling wrong, delta=%dms", delta)
	}
}

func TestWhatsAppIdsDeterministic(t *testing.T) {
	export := "[31/12/23, 22:31:00] Bob: same message"
	p := &WhatsApp{}

	path := writeExport(t, "chat.txt", export)
	a, err := p.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if a[0].MessageID != b[0].MessageID {
		t.Fatalf("ids differ: %s vs %s", a[0].MessageID, b[0].MessageID)
	}
	if !strings.HasPrefix(a[0].MessageID, "wa_") {
		t.Fatalf("missing channel prefix: %s", a[0].MessageID)
	}
}

func TestWhatsAppMediaOmittedMarker(t *testing.T) {
	export := "[31/12/23, 22:31:00] Bob: <Media omitted>"
	p := &WhatsApp{}
	messages, err := p.Parse(writeExport(t, "chat.txt", export))
	if err != nil {
		t.Fatal(err)
	}
	if messages[0].ContentType != ContentDocument {
		t.Fatalf("media marker not detected: %s", messages[0].ContentType)
	}
}
