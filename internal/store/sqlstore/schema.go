package sqlstore

// Findings and dialogs are linked without a foreign key: the store accepts any
// dialog id and Dialogs.Delete removes findings explicitly.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		picture       TEXT NOT NULL DEFAULT '',
		trusted_sites JSONB NOT NULL DEFAULT '[]',
		created_at    TIMESTAMPTZ NOT NULL,
		last_login_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS dialogs (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT NOT NULL,
		title        TEXT NOT NULL,
		chat_history JSONB NOT NULL DEFAULT '[]',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS dialogs_user_id ON dialogs (user_id)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id                 BIGSERIAL PRIMARY KEY,
		dialog_id          BIGINT NOT NULL,
		title              TEXT NOT NULL,
		source             TEXT NOT NULL DEFAULT '',
		relevance_reason   TEXT NOT NULL DEFAULT '',
		citations          INTEGER NOT NULL DEFAULT 0,
		websites           INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT 'new',
		non_relevance_mark BOOLEAN NOT NULL DEFAULT FALSE,
		news_links         JSONB NOT NULL DEFAULT '[]',
		paper_links        JSONB NOT NULL DEFAULT '[]',
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS findings_dialog_id ON findings (dialog_id)`,
}

// AUTOINCREMENT keeps SQLite from reusing the ids of deleted rows.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		picture       TEXT NOT NULL DEFAULT '',
		trusted_sites TEXT NOT NULL DEFAULT '[]',
		created_at    DATETIME NOT NULL,
		last_login_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS dialogs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      INTEGER NOT NULL,
		title        TEXT NOT NULL,
		chat_history TEXT NOT NULL DEFAULT '[]',
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS dialogs_user_id ON dialogs (user_id)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		dialog_id          INTEGER NOT NULL,
		title              TEXT NOT NULL,
		source             TEXT NOT NULL DEFAULT '',
		relevance_reason   TEXT NOT NULL DEFAULT '',
		citations          INTEGER NOT NULL DEFAULT 0,
		websites           INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT 'new',
		non_relevance_mark BOOLEAN NOT NULL DEFAULT FALSE,
		news_links         TEXT NOT NULL DEFAULT '[]',
		paper_links        TEXT NOT NULL DEFAULT '[]',
		created_at         DATETIME NOT NULL,
		updated_at         DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS findings_dialog_id ON findings (dialog_id)`,
}
