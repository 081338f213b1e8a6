package importers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/basket/claw-archive/internal/archive"
)

// Telegram parses the Desktop-app JSON export (result.json). Text arrives
// either as a plain string or as an array of formatting runs; media shows
// up as sibling fields on the message object.
type Telegram struct {
	// SelfID marks outbound messages in addition to the export's own
	// "user_self" / "You" conventions.
	SelfID string
}

func (t *Telegram) Name() string { return ChannelTelegram }

type tgExport struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	ID       json.Number `json:"id"`
	Messages []tgMessage `json:"messages"`
}

type tgMessage struct {
	ID               json.Number     `json:"id"`
	Type             string          `json:"type"`
	Date             string          `json:"date"`
	DateUnixtime     string          `json:"date_unixtime"`
	Edited           string          `json:"edited"`
	EditedUnixtime   string          `json:"edited_unixtime"`
	From             string          `json:"from"`
	FromID           string          `json:"from_id"`
	ReplyToMessageID json.Number     `json:"reply_to_message_id"`
	Text             json.RawMessage `json:"text"`
	Photo            string          `json:"photo"`
	File             string          `json:"file"`
	FileName         string          `json:"file_name"`
	Thumbnail        string          `json:"thumbnail"`
	MediaType        string          `json:"media_type"`
	MimeType         string          `json:"mime_type"`
	StickerEmoji     string          `json:"sticker_emoji"`
	LocationInfo     json.RawMessage `json:"location_information"`
}

func (t *Telegram) Parse(path string) ([]*archive.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read telegram export: %w", err)
	}
	var export tgExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("invalid telegram export structure: %w", err)
	}

	chatID := export.ID.String()
	if chatID == "" || chatID == "0" {
		chatID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	sessionKey := importSessionKey(ChannelTelegram, chatID)

	var messages []*archive.Message
	for i := range export.Messages {
		src := &export.Messages[i]
		if src.Type != "" && src.Type != "message" {
			continue
		}
		m, err := t.convert(src, chatID, sessionKey)
		if err != nil {
			// Unknown record shapes are skipped, not fatal.
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (t *Telegram) convert(src *tgMessage, chatID, sessionKey string) (*archive.Message, error) {
	ts, err := tgTimestamp(src)
	if err != nil {
		return nil, err
	}

	direction := archive.DirectionInbound
	if src.FromID == "user_self" || src.From == "You" || (t.SelfID != "" && src.FromID == t.SelfID) {
		direction = archive.DirectionOutbound
	}

	text := flattenTgText(src.Text)
	contentType, attachment := tgMedia(src)
	if text == "" && attachment != nil {
		text = mediaPlaceholder(contentType)
	}

	raw, _ := json.Marshal(src)
	m := &archive.Message{
		MessageID:   fmt.Sprintf("tg_%s_%s", chatID, src.ID.String()),
		InternalID:  src.ID.String(),
		SessionKey:  sessionKey,
		Direction:   direction,
		SenderID:    src.FromID,
		SenderName:  src.From,
		Channel:     ChannelTelegram,
		ContentType: contentType,
		ContentText: text,
		RawJSON:     string(raw),
		Timestamp:   ts,
	}
	if src.ReplyToMessageID.String() != "" && src.ReplyToMessageID.String() != "0" {
		m.ReplyToID = fmt.Sprintf("tg_%s_%s", chatID, src.ReplyToMessageID.String())
	}
	if src.EditedUnixtime != "" {
		if sec, err := strconv.ParseInt(src.EditedUnixtime, 10, 64); err == nil {
			m.EditedAt = sec * 1000
		}
	}
	if attachment != nil {
		m.Attachments = append(m.Attachments, *attachment)
	}
	return m, nil
}

func tgTimestamp(src *tgMessage) (int64, error) {
	if src.DateUnixtime != "" {
		sec, err := strconv.ParseInt(src.DateUnixtime, 10, 64)
		if err == nil {
			return sec * 1000, nil
		}
	}
	if src.Date != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", src.Date); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("message %s has no usable date", src.ID.String())
}

// flattenTgText joins the structured text runs into plain text.
func flattenTgText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var runs []json.RawMessage
	if err := json.Unmarshal(raw, &runs); err != nil {
		return ""
	}
	var b strings.Builder
	for _, run := range runs {
		var s string
		if err := json.Unmarshal(run, &s); err == nil {
			b.WriteString(s)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(run, &entity); err == nil {
			b.WriteString(entity.Text)
		}
	}
	return b.String()
}

func tgMedia(src *tgMessage) (string, *archive.Attachment) {
	switch {
	case src.Photo != "":
		return ContentImage, &archive.Attachment{
			AttachmentType: ContentImage,
			FilePath:       src.Photo,
			Filename:       filepath.Base(src.Photo),
			ThumbnailPath:  src.Thumbnail,
		}
	case src.MediaType == "sticker":
		return ContentSticker, &archive.Attachment{
			AttachmentType: ContentSticker,
			FilePath:       src.File,
			Filename:       src.FileName,
			MimeType:       src.MimeType,
			Metadata:       fmt.Sprintf(`{"emoji":%q}`, src.StickerEmoji),
		}
	case src.MediaType == "video_file" || src.MediaType == "video_message" || strings.HasPrefix(src.MimeType, "video/"):
		return ContentVideo, &archive.Attachment{
			AttachmentType: ContentVideo,
			FilePath:       src.File,
			Filename:       src.FileName,
			MimeType:       src.MimeType,
			ThumbnailPath:  src.Thumbnail,
		}
	case src.MediaType == "voice_message" || src.MediaType == "audio_file" || strings.HasPrefix(src.MimeType, "audio/"):
		return ContentAudio, &archive.Attachment{
			AttachmentType: ContentAudio,
			FilePath:       src.File,
			Filename:       src.FileName,
			MimeType:       src.MimeType,
		}
	case len(src.LocationInfo) > 0:
		return ContentLocation, &archive.Attachment{
			AttachmentType: ContentLocation,
			Metadata:       string(src.LocationInfo),
		}
	case src.File != "":
		return ContentDocument, &archive.Attachment{
			AttachmentType: ContentDocument,
			FilePath:       src.File,
			Filename:       src.FileName,
			MimeType:       src.MimeType,
		}
	}
	return ContentText, nil
}

func mediaPlaceholder(contentType string) string {
	switch contentType {
	case ContentImage:
		return "[Image]"
	case ContentVideo:
		return "[Video]"
	case ContentAudio:
		return "[Audio]"
	case ContentSticker:
		return "[Sticker]"
	case ContentLocation:
		return "[Location]"
	case ContentDocument:
		return "[Document]"
	}
	return ""
}
