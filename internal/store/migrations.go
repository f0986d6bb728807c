package store

import (
	"fmt"
	"strconv"
)

type migration struct {
	version int
	name    string
	schema  string
}

var migrations = []migration{
	{
		version: 1,
		name:    "projects and artifacts",
		schema: `
	CREATE TABLE IF NOT EXISTS projects (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		episodes_planned INTEGER NOT NULL CHECK (episodes_planned >= 1),
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_created ON projects(created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id),
		template_code TEXT NOT NULL,
		episode       INTEGER,
		version       INTEGER NOT NULL CHECK (version >= 1),
		status        TEXT NOT NULL DEFAULT 'draft',
		storage_path  TEXT NOT NULL,
		content_type  TEXT NOT NULL,
		created_by    TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_key_version
		ON artifacts(project_id, template_code, COALESCE(episode, -1), version);
	CREATE INDEX IF NOT EXISTS idx_artifacts_project ON artifacts(project_id, created_at);
	`,
	},
	{
		version: 2,
		name:    "chat sessions, messages and events",
		schema: `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id         TEXT PRIMARY KEY,
		project_id TEXT REFERENCES projects(id),
		title      TEXT,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_sessions_project ON chat_sessions(project_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_status ON chat_sessions(status);

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id),
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		extra      TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS chat_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id),
		type       TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_events_session ON chat_events(session_id, id);
	`,
	},
}

// LatestSchemaVersion is the version New migrates to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current := s.schemaVersion()
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return err
		}
		s.logger.Info().Int("version", m.version).Str("name", m.name).Msg("Applied migration")
	}
	return nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.schema); err != nil {
		return fmt.Errorf("failed to execute migration v%d: %w", m.version, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(m.version)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func (s *Store) SchemaVersion() int {
	return s.schemaVersion()
}

func (s *Store) schemaVersion() int {
	var raw string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
