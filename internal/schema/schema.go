// Package schema defines the derived index's fixed SQL shape: the base
// vault table, its FTS5 projection, and its vector similarity table.
//
// Unlike a document store serving many different shapes, the vault has one
// fixed row shape, so the schema here is a static set of SQL statements
// rather than a generic fluent builder.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces" // registers the vec0 module
	_ "github.com/ncruces/go-sqlite3/driver"              // registers the "sqlite3" driver
)

// Version is bumped whenever the SQL below changes shape. It is stored in
// PRAGMA user_version; when the stored version doesn't match, Open creates
// any missing tables and records Version. It does not rebuild rows from
// markdown files.
const Version = 5

const createVaultTable = `
CREATE TABLE IF NOT EXISTS vault (
	row_id       INTEGER PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	category     TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	tags         TEXT NOT NULL DEFAULT '[]',
	meta         TEXT NOT NULL DEFAULT '{}',
	source       TEXT NOT NULL DEFAULT '',
	identity_key TEXT NOT NULL DEFAULT '',
	expires_at   INTEGER,
	file_path    TEXT NOT NULL UNIQUE,
	created_at   INTEGER NOT NULL,
	mtime_ns     INTEGER NOT NULL DEFAULT 0,
	size_bytes   INTEGER NOT NULL DEFAULT 0
);
`

const createKindIdentityIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_vault_kind_identity
	ON vault(kind, identity_key)
	WHERE identity_key != '';
`

const createCategoryIndex = `
CREATE INDEX IF NOT EXISTS idx_vault_category ON vault(category);
`

const createKindIndex = `
CREATE INDEX IF NOT EXISTS idx_vault_kind ON vault(kind);
`

const createFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS vault_fts USING fts5(
	title, body, tags, kind,
	content = 'vault',
	content_rowid = 'row_id'
);
`

const createFTSInsertTrigger = `
CREATE TRIGGER IF NOT EXISTS vault_fts_ai AFTER INSERT ON vault BEGIN
	INSERT INTO vault_fts(rowid, title, body, tags, kind)
	VALUES (new.row_id, new.title, new.body, new.tags, new.kind);
END;
`

const createFTSDeleteTrigger = `
CREATE TRIGGER IF NOT EXISTS vault_fts_ad AFTER DELETE ON vault BEGIN
	INSERT INTO vault_fts(vault_fts, rowid, title, body, tags, kind)
	VALUES ('delete', old.row_id, old.title, old.body, old.tags, old.kind);
END;
`

const createFTSUpdateTrigger = `
CREATE TRIGGER IF NOT EXISTS vault_fts_au AFTER UPDATE ON vault BEGIN
	INSERT INTO vault_fts(vault_fts, rowid, title, body, tags, kind)
	VALUES ('delete', old.row_id, old.title, old.body, old.tags, old.kind);
	INSERT INTO vault_fts(rowid, title, body, tags, kind)
	VALUES (new.row_id, new.title, new.body, new.tags, new.kind);
END;
`

// vecTableFmt is a format string taking the embedding dimensionality,
// matching sqlite-vec's vec0 virtual table declaration syntax.
const vecTableFmt = `
CREATE VIRTUAL TABLE IF NOT EXISTS vault_vec USING vec0(
	row_id INTEGER PRIMARY KEY,
	embedding float[%d]
);
`

// Statements that must run inside the schema transaction.
var txStatements = []string{
	createVaultTable,
	createKindIdentityIndex,
	createCategoryIndex,
	createKindIndex,
}

// Statements that sqlite-vec/fts5 require to run outside any transaction.
var virtualTableStatements = []string{
	createFTSTable,
	createFTSInsertTrigger,
	createFTSDeleteTrigger,
	createFTSUpdateTrigger,
}

// Open opens (creating if needed) the SQLite index database at path, with
// the pragmas the engine's single-writer model needs, and ensures the
// schema is current.
func Open(ctx context.Context, path string, embedDims int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("schema: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("schema: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		PRAGMA busy_timeout = 10000;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("schema: pragmas: %w", err)
	}

	if err := ensure(ctx, db, embedDims); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// ensure creates the schema if the database is empty or stale (detected via
// PRAGMA user_version), and is a no-op otherwise. It never drops or
// rewrites existing vault rows; that is reindex's job.
func ensure(ctx context.Context, db *sql.DB, embedDims int) error {
	current, err := userVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("schema: read user_version: %w", err)
	}

	if current == Version {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range txStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schema: commit: %w", err)
	}

	for _, stmt := range virtualTableStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: exec virtual table: %w", err)
		}
	}

	vecSQL := fmt.Sprintf(vecTableFmt, embedDims)
	if _, err := db.ExecContext(ctx, vecSQL); err != nil {
		return fmt.Errorf("schema: create vault_vec: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", Version)); err != nil {
		return fmt.Errorf("schema: set user_version: %w", err)
	}

	return nil
}

// userVersion reads the database's PRAGMA user_version.
func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}

	return v, nil
}

// NeedsReindex reports whether the schema version stored in db differs from
// Version, meaning the caller should run a full reindex from markdown
// files before trusting existing rows.
func NeedsReindex(ctx context.Context, db *sql.DB) (bool, error) {
	v, err := userVersion(ctx, db)
	if err != nil {
		return false, err
	}

	return v != Version, nil
}
