package importers

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/basket/claw-archive/internal/archive"
	"github.com/basket/claw-archive/internal/identity"
)

// WhatsApp parses the plain-text chat export. Two header shapes exist in
// the wild:
//
//	12/31/23, 10:30 PM - Alice: Hi
//	[31/12/23, 22:31:00] Bob: Hello
//
// Lines that match neither are continuations of the preceding message.
type WhatsApp struct {
	// SelfName marks outbound messages; the export writes the exporting
	// account as "You" in some locales, but not all.
	SelfName string
}

func (w *WhatsApp) Name() string { return ChannelWhatsApp }

// US-style: MM/DD/YY, HH:MM AM/PM - Sender: text
var waUSRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4}),\s(\d{1,2}):(\d{2})\s?([AP]M)\s-\s([^:]+):\s(.*)$`)

// Bracketed 24-hour: [DD/MM/YY, HH:MM:SS] Sender: text
var waBracketRe = regexp.MustCompile(`^\[(\d{1,2})/(\d{1,2})/(\d{2,4}),\s(\d{1,2}):(\d{2}):(\d{2})\]\s([^:]+):\s(.*)$`)

type waEntry struct {
	ts     int64
	sender string
	lines  []string
}

func (w *WhatsApp) Parse(path string) ([]*archive.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read whatsapp export: %w", err)
	}
	defer f.Close()

	var entries []*waEntry
	var current *waEntry

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if entry := parseWAHeader(line); entry != nil {
			entries = append(entries, entry)
			current = entry
			continue
		}
		// Continuation line: belongs to the preceding message. Leading
		// noise before the first header is dropped.
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read whatsapp export: %w", err)
	}

	sessionKey := importSessionKey(ChannelWhatsApp, "")
	messages := make([]*archive.Message, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(strings.Join(e.lines, "\n"))
		direction := archive.DirectionInbound
		if e.sender == "You" || (w.SelfName != "" && e.sender == w.SelfName) {
			direction = archive.DirectionOutbound
		}
		contentType := ContentText
		if strings.Contains(text, "<Media omitted>") {
			contentType = ContentDocument
		}
		m := &archive.Message{
			MessageID:   waMessageID(e.ts, e.sender, text),
			SessionKey:  sessionKey,
			Direction:   direction,
			SenderID:    e.sender,
			SenderName:  e.sender,
			Channel:     ChannelWhatsApp,
			ContentType: contentType,
			ContentText: text,
			Timestamp:   e.ts,
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func waMessageID(ts int64, sender, text string) string {
	return "wa_" + strconv.FormatInt(ts, 10) + "_" + strings.TrimPrefix(identity.GeneratedMessageID(ts, sender, text), "gen_")
}

func parseWAHeader(line string) *waEntry {
	if m := waUSRe.FindStringSubmatch(line); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year := normalizeYear(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		if m[6] == "PM" && hour < 12 {
			hour += 12
		}
		if m[6] == "AM" && hour == 12 {
			hour = 0
		}
		t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
		return &waEntry{ts: t.UnixMilli(), sender: strings.TrimSpace(m[7]), lines: []string{m[8]}}
	}
	if m := waBracketRe.FindStringSubmatch(line); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := normalizeYear(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		second, _ := strconv.Atoi(m[6])
		t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
		return &waEntry{ts: t.UnixMilli(), sender: strings.TrimSpace(m[7]), lines: []string{m[8]}}
	}
	return nil
}

func normalizeYear(s string) int {
	year, _ := strconv.Atoi(s)
	if year < 100 {
		year += 2000
	}
	return year
}
