package graph

// schemaStatements create the relationship tables. Timestamps are unix
// seconds so the same DDL runs on PostgreSQL and SQLite.
//
// Edges map onto tables as follows: authored and belongs_to are columns of
// changesets, touches is changeset_files, uses_technology is file_technologies.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS contributors (
	handle TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	changeset_count BIGINT NOT NULL DEFAULT 0,
	additions BIGINT NOT NULL DEFAULT 0,
	deletions BIGINT NOT NULL DEFAULT 0,
	last_active BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS changesets (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	repository_id TEXT NOT NULL DEFAULT '',
	number BIGINT NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	author_handle TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS technologies (
	name TEXT PRIMARY KEY
)`,
	`CREATE TABLE IF NOT EXISTS changeset_files (
	changeset_id TEXT NOT NULL,
	file_id TEXT NOT NULL,
	additions BIGINT NOT NULL DEFAULT 0,
	deletions BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (changeset_id, file_id)
)`,
	`CREATE TABLE IF NOT EXISTS file_technologies (
	file_id TEXT NOT NULL,
	technology TEXT NOT NULL,
	PRIMARY KEY (file_id, technology)
)`,
	`CREATE INDEX IF NOT EXISTS idx_changesets_author ON changesets (author_handle)`,
	`CREATE INDEX IF NOT EXISTS idx_changesets_number ON changesets (number)`,
	`CREATE INDEX IF NOT EXISTS idx_changeset_files_file ON changeset_files (file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_file_technologies_tech ON file_technologies (technology)`,
}

// refreshContributorStats recomputes aggregate activity from the loaded
// changesets so repeated or partial loads never double count.
const refreshContributorStats = `UPDATE contributors SET
	changeset_count = (SELECT COUNT(*) FROM changesets c WHERE c.author_handle = contributors.handle),
	additions = (SELECT COALESCE(SUM(cf.additions), 0) FROM changesets c JOIN changeset_files cf ON cf.changeset_id = c.id WHERE c.author_handle = contributors.handle),
	deletions = (SELECT COALESCE(SUM(cf.deletions), 0) FROM changesets c JOIN changeset_files cf ON cf.changeset_id = c.id WHERE c.author_handle = contributors.handle),
	last_active = (SELECT COALESCE(MAX(c.created_at), 0) FROM changesets c WHERE c.author_handle = contributors.handle)`
