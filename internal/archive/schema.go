package archive

// Schema is purely additive: new tables and columns arrive through numbered
// migrations, never destructive rewrites. Version 1 is the full baseline.
const (
	schemaVersion1  = 1
	schemaChecksum1 = "ca-v1-2026-06-02-archive-baseline"

	schemaVersionLatest  = schemaVersion1
	schemaChecksumLatest = schemaChecksum1
)

const schemaBaseline = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	internal_id TEXT NOT NULL DEFAULT '',
	session_key TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	direction TEXT NOT NULL CHECK (direction IN ('inbound','outbound')),
	sender_id TEXT NOT NULL DEFAULT '',
	sender_name TEXT NOT NULL DEFAULT '',
	recipient_id TEXT NOT NULL DEFAULT '',
	recipient_name TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	device_id TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT 'text',
	content_text TEXT NOT NULL DEFAULT '',
	raw_json TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL,
	reply_to_id TEXT NOT NULL DEFAULT '',
	thread_id TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	edited_at INTEGER,
	deleted_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_key, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
CREATE INDEX IF NOT EXISTS idx_messages_sender_ts ON messages(sender_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_fingerprint ON messages(fingerprint);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(timestamp);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL REFERENCES messages(message_id),
	attachment_type TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	thumbnail_path TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

CREATE TABLE IF NOT EXISTS reactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL REFERENCES messages(message_id),
	emoji TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	added_at INTEGER NOT NULL,
	removed_at INTEGER,
	UNIQUE(message_id, emoji, user_id)
);

CREATE TABLE IF NOT EXISTS edits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL REFERENCES messages(message_id),
	previous_content TEXT NOT NULL DEFAULT '',
	edited_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_edits_message ON edits(message_id);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	parent_event_id TEXT REFERENCES events(event_id),
	session_key TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	event_subtype TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	raw_json TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	model_provider TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL DEFAULT '',
	is_error INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id);

CREATE TABLE IF NOT EXISTS thinking_blocks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE REFERENCES events(event_id),
	content TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	content_size INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE REFERENCES events(event_id),
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	input_cost REAL NOT NULL DEFAULT 0,
	output_cost REAL NOT NULL DEFAULT 0,
	cache_read_cost REAL NOT NULL DEFAULT 0,
	cache_write_cost REAL NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	model_provider TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	session_key TEXT NOT NULL DEFAULT '',
	session_type TEXT NOT NULL DEFAULT 'main' CHECK (session_type IN ('main','subagent','cron','isolated')),
	parent_session_id TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL DEFAULT 0,
	ended_at INTEGER,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','completed','failed')),
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	event_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_key ON sessions(session_key);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

CREATE TABLE IF NOT EXISTS scanner_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content_text,
	content=messages,
	content_rowid=id,
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, content_text) VALUES (new.id, new.content_text);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content_text) VALUES ('delete', old.id, old.content_text);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE OF content_text ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content_text) VALUES ('delete', old.id, old.content_text);
	INSERT INTO messages_fts(rowid, content_text) VALUES (new.id, new.content_text);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
	title,
	summary,
	content=sessions,
	content_rowid=rowid,
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS sessions_fts_ai AFTER INSERT ON sessions BEGIN
	INSERT INTO sessions_fts(rowid, title, summary) VALUES (new.rowid, new.title, new.summary);
END;

CREATE TRIGGER IF NOT EXISTS sessions_fts_ad AFTER DELETE ON sessions BEGIN
	INSERT INTO sessions_fts(sessions_fts, rowid, title, summary) VALUES ('delete', old.rowid, old.title, old.summary);
END;

CREATE TRIGGER IF NOT EXISTS sessions_fts_au AFTER UPDATE OF title, summary ON sessions BEGIN
	INSERT INTO sessions_fts(sessions_fts, rowid, title, summary) VALUES ('delete', old.rowid, old.title, old.summary);
	INSERT INTO sessions_fts(rowid, title, summary) VALUES (new.rowid, new.title, new.summary);
END;
`
