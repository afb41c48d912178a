package store

// schemaVersion is the current export/import document version.
const schemaVersion = "2.0.0"

// legacySchemaVersion is the one prior export format this store still
// understands on import, with its queue-status remap applied.
const legacySchemaVersion = "1.0.0"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS swarms (
	swarm_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	master TEXT NOT NULL,
	allow_member_invite INTEGER NOT NULL DEFAULT 0,
	require_approval INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS members (
	swarm_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	public_key TEXT NOT NULL,
	joined_at TEXT NOT NULL,
	PRIMARY KEY (swarm_id, agent_id)
);
CREATE INDEX IF NOT EXISTS idx_members_swarm_joined ON members(swarm_id, joined_at ASC);

CREATE TABLE IF NOT EXISTS invite_tokens (
	token_hash TEXT PRIMARY KEY,
	swarm_id TEXT NOT NULL,
	max_uses INTEGER NOT NULL DEFAULT 0,
	uses INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	revoked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_invite_tokens_swarm ON invite_tokens(swarm_id);

CREATE TABLE IF NOT EXISTS inbox (
	message_id TEXT PRIMARY KEY,
	swarm_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	received_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'unread',
	read_at TEXT,
	archived_at TEXT,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_inbox_swarm_status ON inbox(swarm_id, status);
CREATE INDEX IF NOT EXISTS idx_inbox_deleted ON inbox(status, deleted_at);

CREATE TABLE IF NOT EXISTS outbox (
	message_id TEXT NOT NULL,
	swarm_id TEXT NOT NULL,
	recipient TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TEXT NOT NULL,
	delivered_at TEXT,
	PRIMARY KEY (message_id, recipient)
);
CREATE INDEX IF NOT EXISTS idx_outbox_swarm_status ON outbox(swarm_id, status);

CREATE TABLE IF NOT EXISTS pending_transfers (
	swarm_id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	requester_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mutes (
	scope TEXT NOT NULL,
	target_id TEXT NOT NULL,
	reason TEXT,
	created_at TEXT NOT NULL,
	PRIMARY KEY (scope, target_id)
);

CREATE TABLE IF NOT EXISTS pubkey_cache (
	agent_id TEXT PRIMARY KEY,
	public_key TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	started_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL,
	context_summary TEXT
);
`
