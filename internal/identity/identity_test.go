package identity

import (
	"strings"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("user123", 1700000000000, "hello world")
	b := Fingerprint("user123", 1700000000000, "hello world")
	if a != b {
		t.Fatalf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(a))
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := Fingerprint("user123", 1700000000000, "hello")
	cases := []struct {
		name   string
		sender string
		ts     int64
		text   string
	}{
		{"different sender", "user456", 1700000000000, "hello"},
		{"different timestamp", "user123", 1700000000001, "hello"},
		{"different content", "user123", 1700000000000, "hello!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Fingerprint(tc.sender, tc.ts, tc.text); got == base {
				t.Fatalf("expected distinct fingerprint for %s", tc.name)
			}
		})
	}
}

func TestFingerprintTruncatesContent(t *testing.T) {
	long := strings.Repeat("x", maxFingerprintContent)
	longer := long + "tail that should not matter"
	if Fingerprint("u", 1, long) != Fingerprint("u", 1, longer) {
		t.Fatal("content beyond the truncation bound changed the fingerprint")
	}
}

func TestGeneratedMessageID(t *testing.T) {
	a := GeneratedMessageID(1700000000000, "alice", "hi there")
	b := GeneratedMessageID(1700000000000, "alice", "hi there")
	if a != b {
		t.Fatalf("generated id not stable: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "gen_") {
		t.Fatalf("expected gen_ prefix, got %s", a)
	}
	if c := GeneratedMessageID(1700000000000, "bob", "hi there"); c == a {
		t.Fatal("different sender produced the same generated id")
	}
}

func TestSyntheticEventIDs(t *testing.T) {
	if got := ToolCallEventID("M", "T1"); got != "M_tool_T1" {
		t.Fatalf("tool call id = %s", got)
	}
	if got := ThinkingEventID("M"); got != "M_thinking" {
		t.Fatalf("thinking id = %s", got)
	}
	if got := UsageEventID("M"); got != "M_usage" {
		t.Fatalf("usage id = %s", got)
	}
}
