// Package identity derives stable identifiers and content fingerprints for
// archived messages and events. Everything here is deterministic: re-deriving
// from the same inputs always yields the same value, which is what makes
// re-ingest idempotent.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// maxFingerprintContent bounds how much message text participates in the
// fingerprint. Long messages differ within the first couple of kilobytes.
const maxFingerprintContent = 2000

// maxGeneratedIDContent bounds the text prefix mixed into generated ids.
const maxGeneratedIDContent = 100

// Fingerprint returns the SHA-256 hex digest of sender|timestamp|content
// (content truncated). Two messages with equal fingerprints are the same
// logical message.
func Fingerprint(senderID string, timestampMS int64, content string) string {
	if len(content) > maxFingerprintContent {
		content = content[:maxFingerprintContent]
	}
	h := sha256.New()
	h.Write([]byte(senderID))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatInt(timestampMS, 10)))
	h.Write([]byte("|"))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// GeneratedMessageID mints an id for records that arrive without one
// (external imports). Truncated hash keeps the id short but collision-safe
// within a single conversation.
func GeneratedMessageID(timestampMS int64, senderID, content string) string {
	if len(content) > maxGeneratedIDContent {
		content = content[:maxGeneratedIDContent]
	}
	sum := sha256.Sum256([]byte(strconv.FormatInt(timestampMS, 10) + "|" + senderID + "|" + content))
	return "gen_" + hex.EncodeToString(sum[:8])
}

// ToolCallEventID derives the id of a tool_call event synthesized from a
// tool-use block embedded in a parent message event.
func ToolCallEventID(parentEventID, toolBlockID string) string {
	return fmt.Sprintf("%s_tool_%s", parentEventID, toolBlockID)
}

// ThinkingEventID derives the id of the thinking_block event synthesized
// from a parent message event. At most one per message.
func ThinkingEventID(parentEventID string) string {
	return parentEventID + "_thinking"
}

// UsageEventID derives the id of the usage_stats event synthesized from a
// parent message event.
func UsageEventID(parentEventID string) string {
	return parentEventID + "_usage"
}
