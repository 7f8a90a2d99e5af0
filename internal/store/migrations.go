package store

// allMigrations is the ordered schema history. Migrations are additive and
// forward-only; Down exists for the rollback command and for tests.
var allMigrations = []Migration{
	{
		Version:     1,
		Description: "Core tables: sprints, epics, issues, cycles",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS sprints (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				sprint_id    TEXT    NOT NULL UNIQUE,
				status       TEXT    NOT NULL DEFAULT 'created',
				prompt       TEXT,
				epic_id      TEXT,
				issues_total INTEGER DEFAULT 0,
				issues_done  INTEGER DEFAULT 0,
				pid          INTEGER,
				error        TEXT,
				created_at   TEXT    NOT NULL,
				started_at   TEXT,
				paused_at    TEXT,
				completed_at TEXT,
				updated_at   TEXT    NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sprints_status ON sprints(status)`,
			`CREATE INDEX IF NOT EXISTS idx_sprints_created ON sprints(created_at)`,
			`CREATE TABLE IF NOT EXISTS epics (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				epic_id    TEXT    NOT NULL UNIQUE,
				sprint_id  TEXT,
				status     TEXT    NOT NULL DEFAULT 'pending',
				metadata   TEXT,
				created_at TEXT    NOT NULL,
				updated_at TEXT    NOT NULL,
				FOREIGN KEY (sprint_id) REFERENCES sprints(sprint_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_epics_sprint ON epics(sprint_id)`,
			`CREATE TABLE IF NOT EXISTS issues (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				issue_number      INTEGER NOT NULL,
				epic_id           TEXT    NOT NULL,
				sprint_id         TEXT,
				status            TEXT    NOT NULL DEFAULT 'pending',
				assigned_agent    TEXT,
				branch_name       TEXT,
				pr_number         INTEGER,
				review_cycles     INTEGER DEFAULT 0,
				qa_cycles         INTEGER DEFAULT 0,
				self_fix_attempts INTEGER DEFAULT 0,
				created_at        TEXT    NOT NULL,
				updated_at        TEXT    NOT NULL,
				UNIQUE(issue_number, epic_id),
				FOREIGN KEY (epic_id)   REFERENCES epics(epic_id),
				FOREIGN KEY (sprint_id) REFERENCES sprints(sprint_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_epic ON issues(epic_id)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_sprint ON issues(sprint_id)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status)`,
			`CREATE TABLE IF NOT EXISTS cycles (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				issue_id     INTEGER NOT NULL,
				cycle_number INTEGER NOT NULL,
				agent_from   TEXT    NOT NULL,
				agent_to     TEXT    NOT NULL,
				action       TEXT    NOT NULL,
				result       TEXT,
				timestamp    TEXT    NOT NULL,
				FOREIGN KEY (issue_id) REFERENCES issues(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cycles_issue ON cycles(issue_id)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS cycles`,
			`DROP TABLE IF EXISTS issues`,
			`DROP TABLE IF EXISTS epics`,
			`DROP TABLE IF EXISTS sprints`,
		},
	},
	{
		Version:     2,
		Description: "Agent messaging and logging: agent_messages, agent_logs",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS agent_messages (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				sprint_id     TEXT    NOT NULL,
				agent_id      TEXT    NOT NULL,
				message_type  TEXT    NOT NULL,
				content       TEXT    NOT NULL,
				epic_id       TEXT,
				issue_id      INTEGER,
				level         TEXT    DEFAULT 'INFO',
				related_agent TEXT,
				metadata      TEXT,
				timestamp     TEXT    NOT NULL,
				FOREIGN KEY (sprint_id) REFERENCES sprints(sprint_id)
			)`,
			// Primary query pattern: tail by sprint+agent, ordered by timestamp.
			`CREATE INDEX IF NOT EXISTS idx_messages_sprint_agent
				ON agent_messages(sprint_id, agent_id, timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_timestamp
				ON agent_messages(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_type
				ON agent_messages(message_type)`,
			`CREATE TABLE IF NOT EXISTS agent_logs (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				sprint_id TEXT    NOT NULL,
				agent_id  TEXT    NOT NULL,
				event     TEXT    NOT NULL,
				level     TEXT    NOT NULL DEFAULT 'INFO',
				data      TEXT,
				timestamp TEXT    NOT NULL,
				FOREIGN KEY (sprint_id) REFERENCES sprints(sprint_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_logs_sprint_agent
				ON agent_logs(sprint_id, agent_id, timestamp)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS agent_logs`,
			`DROP TABLE IF EXISTS agent_messages`,
		},
	},
	{
		Version:     3,
		Description: "Scorecards and recycle patterns",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS issue_scorecards (
				id                   INTEGER PRIMARY KEY AUTOINCREMENT,
				issue_id             INTEGER NOT NULL,
				agent_id             TEXT    NOT NULL,
				scope_control        INTEGER DEFAULT 0,
				behavior_fidelity    INTEGER DEFAULT 0,
				evidence_orientation INTEGER DEFAULT 0,
				actionability        INTEGER DEFAULT 0,
				risk_awareness       INTEGER DEFAULT 0,
				total                INTEGER DEFAULT 0,
				interpretation       TEXT,
				created_at           TEXT    NOT NULL,
				FOREIGN KEY (issue_id) REFERENCES issues(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scorecards_issue
				ON issue_scorecards(issue_id)`,
			`CREATE INDEX IF NOT EXISTS idx_scorecards_agent
				ON issue_scorecards(agent_id)`,
			`CREATE TABLE IF NOT EXISTS issue_recycle_patterns (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				issue_id      INTEGER NOT NULL,
				pattern_type  TEXT    NOT NULL,
				pattern_value TEXT    NOT NULL,
				applied_by    TEXT,
				applied_at    TEXT    NOT NULL,
				FOREIGN KEY (issue_id) REFERENCES issues(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_recycle_issue
				ON issue_recycle_patterns(issue_id)`,
			`CREATE INDEX IF NOT EXISTS idx_recycle_type
				ON issue_recycle_patterns(pattern_type)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS issue_recycle_patterns`,
			`DROP TABLE IF EXISTS issue_scorecards`,
		},
	},
}
