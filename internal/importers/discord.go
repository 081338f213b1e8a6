package importers

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/basket/claw-archive/internal/archive"
)

// Discord parses the DiscordChatExporter JSON format. Bot-authored
// messages count as outbound; attachments map to content types by MIME
// guess from the filename.
type Discord struct{}

func (d *Discord) Name() string { return ChannelDiscord }

type dcExport struct {
	Guild struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"guild"`
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
	Messages []dcMessage `json:"messages"`
}

type dcMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		IsBot    bool   `json:"isBot"`
	} `json:"author"`
	Attachments []struct {
		ID            string `json:"id"`
		URL           string `json:"url"`
		FileName      string `json:"fileName"`
		FileSizeBytes int64  `json:"fileSizeBytes"`
	} `json:"attachments"`
	Reference *struct {
		MessageID string `json:"messageId"`
	} `json:"reference"`
}

func (d *Discord) Parse(path string) ([]*archive.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read discord export: %w", err)
	}
	var export dcExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("invalid discord export structure: %w", err)
	}
	if export.Channel.ID == "" {
		return nil, fmt.Errorf("invalid discord export structure: missing channel id")
	}

	sessionKey := importSessionKey(ChannelDiscord, export.Channel.ID)
	var messages []*archive.Message
	for i := range export.Messages {
		src := &export.Messages[i]
		if src.Type != "" && src.Type != "Default" && src.Type != "Reply" {
			continue
		}
		ts, err := dcTimestamp(src.Timestamp)
		if err != nil {
			continue
		}

		direction := archive.DirectionInbound
		if src.Author.IsBot {
			direction = archive.DirectionOutbound
		}
		name := src.Author.Nickname
		if name == "" {
			name = src.Author.Name
		}

		contentType := ContentText
		var attachments []archive.Attachment
		for _, a := range src.Attachments {
			at := dcAttachmentType(a.FileName)
			if contentType == ContentText {
				contentType = at
			}
			attachments = append(attachments, archive.Attachment{
				AttachmentType: at,
				URL:            a.URL,
				Filename:       a.FileName,
				FileSize:       a.FileSizeBytes,
			})
		}

		text := src.Content
		if text == "" && len(attachments) > 0 {
			text = mediaPlaceholder(contentType)
		}

		rawMsg, _ := json.Marshal(src)
		m := &archive.Message{
			MessageID:   fmt.Sprintf("dc_%s_%s", export.Channel.ID, src.ID),
			InternalID:  src.ID,
			SessionKey:  sessionKey,
			Direction:   direction,
			SenderID:    src.Author.ID,
			SenderName:  name,
			Channel:     ChannelDiscord,
			ContentType: contentType,
			ContentText: text,
			RawJSON:     string(rawMsg),
			ThreadID:    export.Channel.ID,
			Timestamp:   ts,
			Attachments: attachments,
		}
		if src.Reference != nil && src.Reference.MessageID != "" {
			m.ReplyToID = fmt.Sprintf("dc_%s_%s", export.Channel.ID, src.Reference.MessageID)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func dcTimestamp(s string) (int64, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unparseable timestamp %q", s)
}

func dcAttachmentType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".gif"),
		strings.HasSuffix(lower, ".webp"):
		return ContentImage
	case strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".mov"),
		strings.HasSuffix(lower, ".webm"):
		return ContentVideo
	case strings.HasSuffix(lower, ".mp3"), strings.HasSuffix(lower, ".ogg"),
		strings.HasSuffix(lower, ".wav"), strings.HasSuffix(lower, ".m4a"):
		return ContentAudio
	}
	return ContentDocument
}
