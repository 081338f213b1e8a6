// Package importers parses third-party chat exports into the normalized
// message records the archive stores. Every parser mints deterministic,
// channel-prefixed message ids so repeat imports are idempotent, and sets
// session_key to imported:<channel>:<conversation-or-"export">.
package importers

import (
	"fmt"

	"github.com/basket/claw-archive/internal/archive"
)

// Channel tags written by the import parsers.
const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
	ChannelDiscord  = "discord"
)

// Content type tags.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentVideo    = "video"
	ContentAudio    = "audio"
	ContentDocument = "document"
	ContentSticker  = "sticker"
	ContentLocation = "location"
)

// Parser turns one export file into normalized message records.
type Parser interface {
	// Name is the channel tag, doubling as the backfill audit source.
	Name() string
	Parse(path string) ([]*archive.Message, error)
}

// ForSource returns the parser for an import source tag.
func ForSource(source, selfID string) (Parser, error) {
	switch source {
	case ChannelTelegram:
		return &Telegram{SelfID: selfID}, nil
	case ChannelWhatsApp:
		return &WhatsApp{SelfName: selfID}, nil
	case ChannelDiscord:
		return &Discord{}, nil
	default:
		return nil, fmt.Errorf("unknown import source %q", source)
	}
}

func importSessionKey(channel, conversation string) string {
	if conversation == "" {
		conversation = "export"
	}
	return fmt.Sprintf("imported:%s:%s", channel, conversation)
}
