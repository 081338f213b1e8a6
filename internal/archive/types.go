package archive

// Direction of a message relative to the agent.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Event types stored in the events table. tool_call, thinking_block and
// usage_stats are synthetic: derived from fields embedded inside a parent
// message record.
const (
	EventTypeSession             = "session"
	EventTypeModelChange         = "model_change"
	EventTypeThinkingLevelChange = "thinking_level_change"
	EventTypeCustom              = "custom"
	EventTypeMessage             = "message"
	EventTypeToolCall            = "tool_call"
	EventTypeToolResult          = "tool_result"
	EventTypeThinkingBlock       = "thinking_block"
	EventTypeUsageStats          = "usage_stats"
)

// Session types and statuses.
const (
	SessionTypeMain     = "main"
	SessionTypeSubagent = "subagent"
	SessionTypeCron     = "cron"
	SessionTypeIsolated = "isolated"

	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// Message is a point-in-time communication in a chat channel, live or
// imported. Timestamps are milliseconds since epoch.
type Message struct {
	RowID         int64
	MessageID     string
	InternalID    string
	SessionKey    string
	SessionID     string
	Direction     string
	SenderID      string
	SenderName    string
	RecipientID   string
	RecipientName string
	Channel       string
	DeviceID      string
	ContentType   string
	ContentText   string
	RawJSON       string
	Fingerprint   string
	ReplyToID     string
	ThreadID      string
	Timestamp     int64
	EditedAt      int64
	DeletedAt     int64
	CreatedAt     int64
	Attachments   []Attachment
}

// Attachment is media owned by a message.
type Attachment struct {
	RowID          int64
	MessageID      string
	AttachmentType string
	FilePath       string
	URL            string
	Filename       string
	FileSize       int64
	MimeType       string
	ThumbnailPath  string
	Metadata       string
	CreatedAt      int64
}

// Reaction is an emoji reaction on a message. At most one active reaction
// per (message, emoji, user); removal is recorded, not deleted.
type Reaction struct {
	RowID     int64
	MessageID string
	Emoji     string
	UserID    string
	UserName  string
	AddedAt   int64
	RemovedAt int64
}

// Edit is an append-only record of a message rewrite.
type Edit struct {
	RowID           int64
	MessageID       string
	PreviousContent string
	EditedAt        int64
}

// Event is a generic record in a session event log. One source record may
// produce several events: the parent plus synthetic children.
type Event struct {
	RowID         int64
	EventID       string
	ParentEventID string
	SessionKey    string
	SessionID     string
	Type          string
	Subtype       string
	Timestamp     int64
	CreatedAt     int64
	RawJSON       string
	Role          string
	ToolName      string
	ModelProvider string
	ModelID       string
	IsError       bool
	SizeBytes     int64

	// Satellite payloads, populated for thinking_block / usage_stats events
	// on insert and when the caller asks for them on read.
	Thinking *ThinkingBlock
	Usage    *UsageStats
}

// ThinkingBlock holds the (large, rarely listed) reasoning payload of a
// thinking_block event.
type ThinkingBlock struct {
	EventID     string
	Content     string
	Signature   string
	ContentSize int64
	CreatedAt   int64
}

// UsageStats holds token counts and costs attached to a usage_stats event.
type UsageStats struct {
	EventID          string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	InputCost        float64
	OutputCost       float64
	CacheReadCost    float64
	CacheWriteCost   float64
	TotalCost        float64
	ModelProvider    string
	ModelID          string
	Timestamp        int64
}

// Session is the high-level summary row for one logical agent run.
type Session struct {
	SessionID       string
	SessionKey      string
	SessionType     string
	ParentSessionID string
	Label           string
	AgentID         string
	Model           string
	StartedAt       int64
	EndedAt         int64
	Status          string
	Title           string
	Summary         string
	MessageCount    int64
	EventCount      int64
	CreatedAt       int64
	UpdatedAt       int64
}

// SessionStats aggregates a session's events for reporting.
type SessionStats struct {
	SessionID       string
	TotalEvents     int64
	MessageCount    int64
	ToolCallCount   int64
	ErrorCount      int64
	StartTime       int64
	EndTime         int64
	DurationSeconds float64
	TotalSizeBytes  int64
	TotalTokens     int64
	TotalCost       float64
}

// MessageFilter narrows QueryMessages. Zero values mean "no constraint".
type MessageFilter struct {
	SessionKey     string
	Channel        string
	SenderID       string
	StartTime      int64
	EndTime        int64
	ContentMatch   string // FTS MATCH expression
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// SessionFilter narrows QuerySessions.
type SessionFilter struct {
	SessionKey  string
	SessionType string
	Status      string
	AgentID     string
	Limit       int
	Offset      int
}

// EventFilter narrows SessionEvents.
type EventFilter struct {
	Types           []string
	StartTime       int64
	EndTime         int64
	IncludeThinking bool
	IncludeUsage    bool
	Limit           int
}

// BatchResult reports per-row outcomes of a batch insert. Duplicates and
// constraint failures are counted, never raised.
type BatchResult struct {
	Inserted int
	Skipped  int
	Errors   int
}

// EventBatchOptions controls InsertEventsBatch.
type EventBatchOptions struct {
	// SessionID back-fills events the parser left unset. When empty it is
	// taken from the first session event in the batch.
	SessionID string
	// SuspendFK disables referential checking for the duration of the batch.
	// Only force-mode backfill sets this.
	SuspendFK bool
}

// SessionListing is one row of the events-derived session listing.
type SessionListing struct {
	SessionID  string
	SessionKey string
	FirstSeen  int64
	LastSeen   int64
	EventCount int64
}

// BackfillEntry is one audited bulk-import operation.
type BackfillEntry struct {
	Key        string
	Source     string
	Path       string
	Inserted   int
	Skipped    int
	Errors     int
	DurationMS int64
	RecordedAt int64
}
