package sqlstore

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered; versions are sequential from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	first_name  TEXT NOT NULL,
	last_name   TEXT NOT NULL DEFAULT '',
	avatar_url  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id                TEXT PRIMARY KEY,
	created_at        INTEGER NOT NULL,
	last_message_text TEXT NOT NULL DEFAULT '',
	last_message_time INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id TEXT NOT NULL REFERENCES chats(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats(id),
	sender_id  TEXT NOT NULL REFERENCES users(id),
	content    TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'sent'
);

CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_participants(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
