// Package operations wires capture, index, retrieve, and status into the
// five operations a tool layer (CLI, MCP server) calls directly:
// save_context, get_context, list_context, delete_context, context_status.
package operations

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/contextvault/vault/internal/capture"
	"github.com/contextvault/vault/internal/config"
	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/index"
	"github.com/contextvault/vault/internal/kind"
	"github.com/contextvault/vault/internal/retrieve"
	"github.com/contextvault/vault/internal/status"
	"github.com/contextvault/vault/internal/vaulterr"
	"github.com/contextvault/vault/internal/vaultfs"
)

// Engine is the single entry point a tool layer holds: one per open vault,
// bundling the config it was resolved from, the filesystem, the derived
// index, and the embedder used to score new entries and queries.
type Engine struct {
	Config config.Config
	FS     vaultfs.FS
	DB     *sql.DB
	Index  *index.Indexer
	Search *retrieve.Retriever
	Embed  embedder
	Log    *slog.Logger
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewEngine builds an Engine from its already-opened collaborators.
func NewEngine(cfg config.Config, fs vaultfs.FS, db *sql.DB, ix *index.Indexer, emb embedder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		Config: cfg,
		FS:     fs,
		DB:     db,
		Index:  ix,
		Search: retrieve.New(db),
		Embed:  emb,
		Log:    log,
	}
}

// SaveInput is save_context's request shape.
type SaveInput struct {
	Kind        string
	Title       string
	Body        string
	Tags        []string
	Meta        map[string]string
	Folder      string
	Source      string
	IdentityKey string
	ExpiresAt   *time.Time
}

// SaveContext writes a new or re-captured entry and indexes it, rolling the
// file back if indexing fails.
func (e *Engine) SaveContext(ctx context.Context, in SaveInput) (entry.Entry, error) {
	wctx := capture.WriteCtx{VaultDir: e.Config.VaultDir, FS: e.FS}

	captureInput := capture.Input{
		Kind:        in.Kind,
		Title:       in.Title,
		Body:        in.Body,
		Tags:        in.Tags,
		Meta:        in.Meta,
		Folder:      in.Folder,
		Source:      in.Source,
		IdentityKey: in.IdentityKey,
		ExpiresAt:   in.ExpiresAt,
	}

	saved, err := capture.CaptureAndIndex(ctx, wctx, captureInput, e.Index)
	if err != nil && vaulterr.KindOf(err) == vaulterr.CaptureRolledBack {
		e.Log.Warn("save_context: indexing failed, capture rolled back", "error", err)
	}

	return saved, err
}

// GetInput is get_context's request shape.
type GetInput struct {
	Query    string
	Kind     string
	Category string
	Tags     []string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// GetContext runs hybrid_search, embedding the query text first if an
// embedder is configured, and filtering by category/time window after the
// fused score is applied.
func (e *Engine) GetContext(ctx context.Context, in GetInput) ([]retrieve.Scored, error) {
	var vec []float32

	if in.Query != "" && e.Embed != nil {
		v, err := e.Embed.Embed(ctx, in.Query)
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.IoError)
		}

		vec = v
	}

	q := retrieve.Query{
		Text:   in.Query,
		Vector: vec,
		Filters: retrieve.Filters{
			Kind: kind.Normalize(in.Kind),
			Tags: in.Tags,
		},
		Limit: in.Limit,
	}

	results, err := e.Search.Search(ctx, q)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.IoError)
	}

	return filterByCategoryAndWindow(results, in.Category, in.Since, in.Until), nil
}

// listTagOverfetchN mirrors retrieve's tagOverfetchN: tags are filtered
// in-process after the SQL pass, so list_context over-fetches by this
// factor to keep offset+limit meaningful once filtering thins the rows.
const listTagOverfetchN = 10

func filterByCategoryAndWindow(results []retrieve.Scored, category string, since, until *time.Time) []retrieve.Scored {
	out := make([]retrieve.Scored, 0, len(results))
	now := time.Now().UTC()

	for _, r := range results {
		if r.Entry.ExpiresAt != nil && !r.Entry.ExpiresAt.After(now) {
			continue
		}

		if category != "" && r.Entry.Category != category {
			continue
		}

		if since != nil && r.Entry.CreatedAt.Before(*since) {
			continue
		}

		if until != nil && r.Entry.CreatedAt.After(*until) {
			continue
		}

		out = append(out, r)
	}

	return out
}

// ListInput is list_context's request shape: an unscored browse, not a
// search.
type ListInput struct {
	Category string
	Kind     string
	Tags     []string
	Offset   int
	Limit    int
}

// ListContext returns entries matching the given filters in descending
// created_at order, without any relevance scoring. Tag filtering happens
// in-process (tags are JSON-encoded in storage), so when tags are given the
// SQL pass over-fetches past offset+limit and pagination is applied after
// filtering, the same way retrieve.Search over-fetches around its tag
// filter.
func (e *Engine) ListContext(ctx context.Context, in ListInput) ([]entry.Entry, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}

	fetchLimit := limit + in.Offset
	if len(in.Tags) > 0 {
		fetchLimit *= listTagOverfetchN
	}

	query := `SELECT id, kind, category, title, body, tags, meta, source,
	                 identity_key, expires_at, file_path, created_at, mtime_ns, size_bytes
	          FROM vault WHERE (expires_at IS NULL OR expires_at > ?)`
	args := []any{time.Now().UTC().UnixMilli()}

	if in.Category != "" {
		query += ` AND category = ?`
		args = append(args, in.Category)
	}

	if in.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind.Normalize(in.Kind))
	}

	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, fetchLimit)

	rows, err := e.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.IoError)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.IoError)
	}

	if len(in.Tags) > 0 {
		filtered := make([]entry.Entry, 0, len(entries))

		for _, en := range entries {
			if hasAnyTag(en.Tags, in.Tags) {
				filtered = append(filtered, en)
			}
		}

		entries = filtered
	}

	if in.Offset >= len(entries) {
		return []entry.Entry{}, nil
	}

	entries = entries[in.Offset:]

	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func hasAnyTag(tags, want []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	for _, w := range want {
		if set[w] {
			return true
		}
	}

	return false
}

// DeleteContext removes id's file and its index row. The file is removed
// first; a failure to remove it is logged and the row is removed anyway.
// NotFound is returned when no index row has that id.
func (e *Engine) DeleteContext(ctx context.Context, id string) error {
	var relPath string
	if err := e.DB.QueryRowContext(ctx, `SELECT file_path FROM vault WHERE id = ?`, id).Scan(&relPath); err != nil {
		return vaulterr.Wrap(err, vaulterr.NotFound, vaulterr.WithEntryID(id))
	}

	full, err := vaultfs.SafeJoin(e.Config.VaultDir, relPath)
	if err != nil {
		return err
	}

	if err := e.FS.Remove(full); err != nil {
		e.Log.Warn("delete_context: file remove failed, continuing to remove index row", "id", id, "error", err)
	}

	return e.Index.DeleteEntry(ctx, id)
}

// ContextStatus gathers a fresh status snapshot, persisting it as the
// cached fallback. If the database is unavailable, it falls back to the
// last persisted snapshot, marked stale.
func (e *Engine) ContextStatus(ctx context.Context) (status.Status, error) {
	if e.DB != nil {
		if err := e.DB.PingContext(ctx); err == nil {
			st, err := status.Gather(ctx, e.DB, e.Config.VaultDir, e.Config.DBPath, e.Config.VaultDirFrom)
			if err != nil {
				return fallbackStatus(e.Config.DataDir, err)
			}

			if persistErr := status.Persist(e.Config.DataDir, st); persistErr != nil {
				e.Log.Warn("context_status: failed to persist cache", "error", persistErr)
			}

			return st, nil
		}
	}

	return fallbackStatus(e.Config.DataDir, vaulterr.New(vaulterr.IoError))
}

func fallbackStatus(dataDir string, cause error) (status.Status, error) {
	st, err := status.LoadCached(dataDir)
	if err != nil {
		return status.Status{}, vaulterr.Wrap(cause, vaulterr.IoError)
	}

	return st, nil
}

func scanEntries(rows *sql.Rows) ([]entry.Entry, error) {
	var entries []entry.Entry

	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
