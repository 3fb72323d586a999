package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create tickets",
		SQL: `
			CREATE TABLE tickets (
				id               TEXT PRIMARY KEY,
				owner_id         TEXT NOT NULL,
				session_id       TEXT NOT NULL,
				status           TEXT NOT NULL,
				priority_score   REAL NOT NULL DEFAULT 0,
				priority         TEXT NOT NULL,
				trigger_kind     TEXT NOT NULL,
				reason           TEXT NOT NULL DEFAULT '',
				department       TEXT NOT NULL DEFAULT '',
				language         TEXT NOT NULL DEFAULT '',
				severity         INTEGER NOT NULL DEFAULT 0,
				assigned_agent_id TEXT NOT NULL DEFAULT '',
				notes            TEXT NOT NULL DEFAULT '',
				context_json     TEXT,
				sla_json         TEXT NOT NULL,
				history_json     TEXT,
				feedback_json    TEXT,
				created_at       TEXT NOT NULL,
				assigned_at      TEXT,
				resolved_at      TEXT
			);

			CREATE INDEX idx_tickets_status ON tickets (status, created_at);
			CREATE INDEX idx_tickets_owner ON tickets (owner_id);
			CREATE INDEX idx_tickets_agent ON tickets (assigned_agent_id) WHERE assigned_agent_id != '';
		`,
	},
	{
		Version: 2,
		Name:    "create agents",
		SQL: `
			CREATE TABLE agents (
				id             TEXT PRIMARY KEY,
				name           TEXT NOT NULL DEFAULT '',
				role           TEXT NOT NULL DEFAULT 'agent',
				status         TEXT NOT NULL,
				department     TEXT NOT NULL DEFAULT '',
				languages_json TEXT,
				skills_json    TEXT,
				max_chats      INTEGER NOT NULL DEFAULT 1,
				active_chats   INTEGER NOT NULL DEFAULT 0,
				last_heartbeat TEXT,
				last_assigned_at TEXT,
				joined_at      TEXT NOT NULL
			);

			CREATE INDEX idx_agents_department ON agents (department, status);
		`,
	},
}
