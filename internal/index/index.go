// Package index maintains the derived SQLite projection of vault entries:
// the row-level upsert used by capture, and the bulk reindex/delete
// operations used to keep the index in sync with the markdown files on
// disk.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/kind"
	"github.com/contextvault/vault/internal/vaulterr"
)

// Indexer applies entries to the derived SQLite index.
type Indexer struct {
	db       *sql.DB
	embedder embedder
	log      *slog.Logger
}

// embedder is the single-method view of internal/embed.Embedder that the
// index package depends on, so capture_and_index callers can supply a test
// double without importing internal/embed.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New returns an Indexer writing to db and computing vectors with embedder.
func New(db *sql.DB, emb embedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}

	return &Indexer{db: db, embedder: emb, log: log}
}

// IndexEntry idempotently upserts e into the derived index: entity-category
// entries are matched and updated by (kind, identity_key) first; everything
// else is matched and upserted by file_path. The entry's embedding is
// computed and written in a second transaction, after the row transaction
// commits, so a slow embedding call never holds the row lock open.
func (ix *Indexer) IndexEntry(ctx context.Context, e entry.Entry) error {
	rowID, err := ix.upsertRow(ctx, e)
	if err != nil {
		return err
	}

	vec, err := ix.embedder.Embed(ctx, e.Title+" "+e.Body)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID), vaulterr.WithPath(e.FilePath))
	}

	if err := ix.writeVector(ctx, rowID, vec); err != nil {
		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID))
	}

	return nil
}

// querier is the subset of *sql.Tx (and *sql.DB) that upsertRowTx needs, so
// the same upsert logic runs inside a lone transaction (IndexEntry) or
// inside a shared one (reindex's batched apply).
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertRow writes e's base-table row inside its own transaction and
// returns its row_id.
func (ix *Indexer) upsertRow(ctx context.Context, e entry.Entry) (int64, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID))
	}
	defer tx.Rollback() //nolint:errcheck

	rowID, _, err := upsertRowTx(ctx, tx, e, insertStrict)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID))
	}

	return rowID, nil
}

// insertMode selects how upsertRowTx's final INSERT behaves when neither
// UPDATE branch matches an existing row.
type insertMode int

const (
	// insertStrict is a plain INSERT: a duplicate id is a hard error. Used by
	// the live single-entry capture path, where ids.New() makes a collision
	// effectively impossible.
	insertStrict insertMode = iota
	// insertOrIgnoreDuplicateID tolerates a duplicate id by leaving the
	// second file unindexed rather than aborting. Used by reindex, where two
	// files can carry copy-pasted frontmatter with the same id.
	insertOrIgnoreDuplicateID
)

// upsertRowTx implements the upsert algorithm: entity-category entries are
// matched and updated by (kind, identity_key) first; everything else is
// matched and upserted by file_path. skipped reports, only under
// insertOrIgnoreDuplicateID, that the insert was ignored because e.ID
// already belongs to a different row.
func upsertRowTx(ctx context.Context, tx querier, e entry.Entry, mode insertMode) (rowID int64, skipped bool, err error) {
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return 0, false, vaulterr.Wrap(err, vaulterr.InvalidInput, vaulterr.WithEntryID(e.ID))
	}

	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return 0, false, vaulterr.Wrap(err, vaulterr.InvalidInput, vaulterr.WithEntryID(e.ID))
	}

	var expiresAt sql.NullInt64
	if e.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: e.ExpiresAt.UnixMilli(), Valid: true}
	}

	matchedByIdentity := false

	if e.IdentityKey != "" && e.Category == string(kind.Entity) {
		res, err := tx.ExecContext(ctx, `
			UPDATE vault
			SET id = ?, title = ?, body = ?, tags = ?, meta = ?, source = ?,
			    expires_at = ?, file_path = ?, created_at = ?, mtime_ns = ?, size_bytes = ?
			WHERE kind = ? AND identity_key = ?`,
			e.ID, e.Title, e.Body, string(tagsJSON), string(metaJSON), e.Source,
			expiresAt, e.FilePath, e.CreatedAt.UnixMilli(), e.MTimeNS, e.SizeBytes,
			e.Kind, e.IdentityKey,
		)
		if err != nil {
			return 0, false, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID))
		}

		n, _ := res.RowsAffected()
		matchedByIdentity = n > 0
	}

	if !matchedByIdentity {
		res, err := tx.ExecContext(ctx, `
			UPDATE vault
			SET id = ?, kind = ?, category = ?, title = ?, body = ?, tags = ?,
			    meta = ?, source = ?, identity_key = ?, expires_at = ?, created_at = ?,
			    mtime_ns = ?, size_bytes = ?
			WHERE file_path = ?`,
			e.ID, e.Kind, e.Category, e.Title, e.Body, string(tagsJSON),
			string(metaJSON), e.Source, e.IdentityKey, expiresAt, e.CreatedAt.UnixMilli(),
			e.MTimeNS, e.SizeBytes,
			e.FilePath,
		)
		if err != nil {
			return 0, false, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID))
		}

		n, _ := res.RowsAffected()

		if n == 0 {
			insertSQL := `
				INSERT INTO vault (id, kind, category, title, body, tags, meta,
				                   source, identity_key, expires_at, file_path, created_at,
				                   mtime_ns, size_bytes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
			if mode == insertOrIgnoreDuplicateID {
				insertSQL = `
				INSERT OR IGNORE INTO vault (id, kind, category, title, body, tags, meta,
				                   source, identity_key, expires_at, file_path, created_at,
				                   mtime_ns, size_bytes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
			}

			res, err := tx.ExecContext(ctx, insertSQL,
				e.ID, e.Kind, e.Category, e.Title, e.Body, string(tagsJSON),
				string(metaJSON), e.Source, e.IdentityKey, expiresAt, e.FilePath, e.CreatedAt.UnixMilli(),
				e.MTimeNS, e.SizeBytes,
			)
			if err != nil {
				return 0, false, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID))
			}

			if mode == insertOrIgnoreDuplicateID {
				n, _ := res.RowsAffected()
				if n == 0 {
					return 0, true, nil
				}
			}
		}
	}

	if scanErr := tx.QueryRowContext(ctx, `SELECT row_id FROM vault WHERE file_path = ?`, e.FilePath).Scan(&rowID); scanErr != nil {
		if mode == insertOrIgnoreDuplicateID && errors.Is(scanErr, sql.ErrNoRows) {
			return 0, true, nil
		}

		return 0, false, vaulterr.Wrap(scanErr, vaulterr.InvalidRowId, vaulterr.WithEntryID(e.ID), vaulterr.WithPath(e.FilePath))
	}

	return rowID, false, nil
}

// writeVector replaces rowID's vector row with vec.
func (ix *Indexer) writeVector(ctx context.Context, rowID int64, vec []float32) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_vec WHERE row_id = ?`, rowID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vault_vec (row_id, embedding) VALUES (?, ?)`, rowID, serializeVector(vec)); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteEntry removes id's row, FTS projection (via trigger), and vector
// row, all or nothing.
func (ix *Indexer) DeleteEntry(ctx context.Context, id string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(id))
	}
	defer tx.Rollback() //nolint:errcheck

	var rowID int64
	if err := tx.QueryRowContext(ctx, `SELECT row_id FROM vault WHERE id = ?`, id).Scan(&rowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vaulterr.New(vaulterr.NotFound, vaulterr.WithEntryID(id))
		}

		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(id))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_vec WHERE row_id = ?`, rowID); err != nil {
		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(id))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault WHERE row_id = ?`, rowID); err != nil {
		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(id))
	}

	if err := tx.Commit(); err != nil {
		return vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(id))
	}

	return nil
}
