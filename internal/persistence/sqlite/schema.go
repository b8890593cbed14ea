package sqlite

import (
	"database/sql"
)

// Timestamps are TEXT in timeLayout so lexical order equals time order.
const schema = `
CREATE TABLE IF NOT EXISTS team_members (
	member_id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	current_import_id TEXT REFERENCES imports(import_id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS imports (
	import_id TEXT PRIMARY KEY,
	team_member_id TEXT NOT NULL REFERENCES team_members(member_id),
	exported_at TEXT NOT NULL,
	week_start TEXT,
	raw_snapshot TEXT NOT NULL,
	targets TEXT NOT NULL,
	activity_count TEXT NOT NULL,
	prospect_count INTEGER NOT NULL,
	won_count INTEGER NOT NULL,
	won_revenue REAL NOT NULL DEFAULT 0,
	imported_at TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	restored_from TEXT,
	idempotency_key TEXT UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_imports_member ON imports(team_member_id, imported_at);

CREATE TABLE IF NOT EXISTS activities (
	activity_id TEXT PRIMARY KEY,
	import_id TEXT NOT NULL REFERENCES imports(import_id) ON DELETE CASCADE,
	team_member_id TEXT NOT NULL REFERENCES team_members(member_id),
	activity_type TEXT NOT NULL CHECK (activity_type IN ('emails', 'calls', 'meetings', 'proposals')),
	name TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL,
	week_of TEXT
);

CREATE INDEX IF NOT EXISTS idx_activities_member ON activities(team_member_id);
CREATE INDEX IF NOT EXISTS idx_activities_keyset ON activities(occurred_at, activity_id);

CREATE TABLE IF NOT EXISTS prospects (
	prospect_id TEXT PRIMARY KEY,
	import_id TEXT NOT NULL REFERENCES imports(import_id) ON DELETE CASCADE,
	team_member_id TEXT NOT NULL REFERENCES team_members(member_id),
	company TEXT NOT NULL DEFAULT '',
	contact TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL CHECK (stage IN ('cold', 'contacted', 'meeting', 'proposal', 'won', 'lost')),
	deal_value REAL NOT NULL DEFAULT 0 CHECK (deal_value >= 0),
	created_at TEXT NOT NULL,
	last_touch TEXT NOT NULL,
	won_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_prospects_member ON prospects(team_member_id);
`

// InitSchema creates all tables and indexes if they do not exist.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
