package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/frontmatter"
	"github.com/contextvault/vault/internal/ids"
	"github.com/contextvault/vault/internal/kind"
	"github.com/contextvault/vault/internal/vaulterr"
)

// embeddingBatchSize is how many entries the reindex embedding pass steps
// through per batch. Within a batch each vector still comes from its own
// Embed call and is written in its own short transaction.
const embeddingBatchSize = 32

// Mode selects how Reindex reconciles the index against the files on disk.
type Mode int

const (
	// FullSync removes index rows whose file no longer exists.
	FullSync Mode = iota
	// AddOnly only adds rows for files not yet indexed; files that already
	// have a row are counted as unchanged, even if they changed on disk. It
	// never deletes.
	AddOnly
)

// ReindexOptions configures a Reindex run.
type ReindexOptions struct {
	Mode Mode
}

// ReindexResult summarizes what a Reindex run changed.
type ReindexResult struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// ignoredFiles are well-known files that are never treated as entries even
// though they live inside the vault directory tree.
var ignoredFiles = map[string]bool{
	"README.md":  true,
	"context.md": true,
	"memory.md":  true,
}

// ignoredDirs are directory names skipped entirely during the walk.
var ignoredDirs = map[string]bool{
	"projects":  true,
	"_archive":  true,
	".contextvault": true,
}

// Reindex walks vaultDir for markdown files, parses each into an entry, and
// reconciles the derived index with what it finds in a single write
// transaction. Embeddings are computed in a second pass, after the row
// transaction commits, so the row-level transaction never blocks on a
// suspension point.
func (ix *Indexer) Reindex(ctx context.Context, vaultDir string, opts ReindexOptions) (ReindexResult, error) {
	var result ReindexResult

	start := time.Now()

	onDisk, malformed, err := scanVault(vaultDir)
	if err != nil {
		return result, vaulterr.Wrap(err, vaulterr.ReindexFailed)
	}

	for _, m := range malformed {
		ix.log.Warn("skipping malformed entry during reindex", "path", m.path, "err", m.err)
	}

	existing, err := ix.loadExistingProjections(ctx)
	if err != nil {
		return result, vaulterr.Wrap(err, vaulterr.ReindexFailed)
	}

	var (
		toUpsert   []entry.Entry
		needsEmbed []bool
	)

	seenPaths := make(map[string]bool, len(onDisk))

	for _, e := range onDisk {
		seenPaths[e.FilePath] = true

		tagsJSON, err := json.Marshal(e.Tags)
		if err != nil {
			return result, vaulterr.Wrap(err, vaulterr.ReindexFailed, vaulterr.WithPath(e.FilePath))
		}

		metaJSON, err := json.Marshal(e.Meta)
		if err != nil {
			return result, vaulterr.Wrap(err, vaulterr.ReindexFailed, vaulterr.WithPath(e.FilePath))
		}

		prev, had := existing[e.FilePath]

		if had && opts.Mode == AddOnly {
			result.Unchanged++

			continue
		}

		textChanged := !had || prev.title != e.Title || prev.body != e.Body
		unchanged := had && !textChanged && prev.tagsJSON == string(tagsJSON) && prev.metaJSON == string(metaJSON)

		if unchanged {
			result.Unchanged++

			continue
		}

		if had {
			result.Updated++
		} else {
			result.Added++
		}

		toUpsert = append(toUpsert, e)
		needsEmbed = append(needsEmbed, textChanged)
	}

	var toRemove []string

	if opts.Mode == FullSync {
		for path, meta := range existing {
			if !seenPaths[path] {
				toRemove = append(toRemove, meta.id)
			}
		}
	}

	result.Removed = len(toRemove)

	appliedEntries, rowIDs, appliedNeedsEmbed, err := ix.applyRows(ctx, toUpsert, needsEmbed, toRemove)
	if err != nil {
		return result, vaulterr.Wrap(err, vaulterr.ReindexFailed)
	}

	if err := ix.backfillEmbeddings(ctx, appliedEntries, rowIDs, appliedNeedsEmbed); err != nil {
		return result, vaulterr.Wrap(err, vaulterr.ReindexFailed)
	}

	ix.log.Info("reindex complete", "added", result.Added, "updated", result.Updated,
		"removed", result.Removed, "unchanged", result.Unchanged, "duration", time.Since(start))

	return result, nil
}

// applyRows writes every upsert and every removal inside one transaction,
// tolerating a duplicate frontmatter id by skipping that entry rather than
// aborting the whole batch. It returns only the entries that were actually
// written, alongside their row_id and whether they need re-embedding, all
// in the same relative order as upserts/needsEmbed.
func (ix *Indexer) applyRows(ctx context.Context, upserts []entry.Entry, needsEmbed []bool, removeIDs []string) ([]entry.Entry, []int64, []bool, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	appliedEntries := make([]entry.Entry, 0, len(upserts))
	appliedRowIDs := make([]int64, 0, len(upserts))
	appliedNeedsEmbed := make([]bool, 0, len(upserts))

	for i, e := range upserts {
		rowID, skipped, err := upsertRowTx(ctx, tx, e, insertOrIgnoreDuplicateID)
		if err != nil {
			return nil, nil, nil, err
		}

		if skipped {
			ix.log.Warn("skipping duplicate id during reindex", "id", e.ID, "path", e.FilePath)

			continue
		}

		appliedEntries = append(appliedEntries, e)
		appliedRowIDs = append(appliedRowIDs, rowID)
		appliedNeedsEmbed = append(appliedNeedsEmbed, needsEmbed[i])
	}

	for _, id := range removeIDs {
		var rowID int64
		if err := tx.QueryRowContext(ctx, `SELECT row_id FROM vault WHERE id = ?`, id).Scan(&rowID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}

			return nil, nil, nil, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM vault_vec WHERE row_id = ?`, rowID); err != nil {
			return nil, nil, nil, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM vault WHERE row_id = ?`, rowID); err != nil {
			return nil, nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, err
	}

	return appliedEntries, appliedRowIDs, appliedNeedsEmbed, nil
}

// backfillEmbeddings computes and writes vectors for entries whose
// needsEmbed flag is set, after the row-level transaction has already
// committed, stepping through them embeddingBatchSize at a time; each vector
// is written in its own transaction. Entries whose searchable text didn't
// change keep their existing vector untouched.
func (ix *Indexer) backfillEmbeddings(ctx context.Context, entries []entry.Entry, rowIDs []int64, needsEmbed []bool) error {
	for start := 0; start < len(entries); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(entries))

		for i := start; i < end; i++ {
			if !needsEmbed[i] {
				continue
			}

			vec, err := ix.embedder.Embed(ctx, entries[i].Title+" "+entries[i].Body)
			if err != nil {
				return err
			}

			if err := ix.writeVector(ctx, rowIDs[i], vec); err != nil {
				return err
			}
		}
	}

	return nil
}

type indexMeta struct {
	id       string
	title    string
	body     string
	tagsJSON string
	metaJSON string
}

type malformedFile struct {
	path string
	err  error
}

// loadExistingProjections returns the current index's file_path -> {id,
// title, body, tags, meta} view, used to diff against the on-disk files
// during reindex. tags/meta are read back as the same canonical JSON
// upsertRowTx writes, so comparing them as strings matches byte for byte.
func (ix *Indexer) loadExistingProjections(ctx context.Context) (map[string]indexMeta, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT id, file_path, title, body, tags, meta FROM vault`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]indexMeta)

	for rows.Next() {
		var id, path, title, body, tagsJSON, metaJSON string

		if err := rows.Scan(&id, &path, &title, &body, &tagsJSON, &metaJSON); err != nil {
			return nil, err
		}

		out[path] = indexMeta{id: id, title: title, body: body, tagsJSON: tagsJSON, metaJSON: metaJSON}
	}

	return out, rows.Err()
}

// scanVault walks vaultDir for markdown files and parses each into an Entry.
// Files that fail to parse are reported separately rather than aborting the
// whole scan.
func scanVault(vaultDir string) ([]entry.Entry, []malformedFile, error) {
	var (
		found     []entry.Entry
		malformed []malformedFile
	)

	walkErr := filepath.WalkDir(vaultDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(vaultDir, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			base := d.Name()
			if rel != "." && (strings.HasPrefix(base, "_") || ignoredDirs[base]) {
				return filepath.SkipDir
			}

			return nil
		}

		if filepath.Ext(path) != ".md" {
			return nil
		}

		if ignoredFiles[d.Name()] {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			malformed = append(malformed, malformedFile{path: rel, err: readErr})

			return nil
		}

		e, parseErr := parseEntryFile(rel, raw)
		if parseErr != nil {
			malformed = append(malformed, malformedFile{path: rel, err: parseErr})

			return nil
		}

		e.MTimeNS = info.ModTime().UnixNano()
		e.SizeBytes = info.Size()

		found = append(found, e)

		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	return found, malformed, nil
}

// reservedFrontmatterKeys are fields with a dedicated meaning in the entry
// schema, excluded when reconstructing meta from arbitrary frontmatter
// fields. folder is reserved too but is never read from frontmatter at
// all: it is always derived fresh from the file's path.
var reservedFrontmatterKeys = map[string]bool{
	"id": true, "title": true, "tags": true, "source": true,
	"created": true, "identity_key": true, "expires_at": true, "kind": true,
	"folder": true,
}

// metaFromFrontmatter reconstructs meta from whatever frontmatter fields
// aren't part of the fixed schema.
func metaFromFrontmatter(fm *frontmatter.Frontmatter) map[string]string {
	meta := map[string]string{}

	for _, key := range fm.Keys() {
		if reservedFrontmatterKeys[key] {
			continue
		}

		if v, ok := fm.GetString(key); ok {
			meta[key] = v
		}
	}

	return meta
}

// parseEntryFile converts a markdown file's frontmatter and body into an
// Entry. relPath's directory structure determines the entry's kind when the
// frontmatter omits it, via kind.FromDir, and also determines the derived
// folder meta field: folder is never read from frontmatter, only from the
// file's on-disk location.
func parseEntryFile(relPath string, raw []byte) (entry.Entry, error) {
	fm, body, err := frontmatter.Parse(raw)
	if err != nil {
		return entry.Entry{}, err
	}

	id, _ := fm.GetString("id")

	k := kind.FromDir(filepath.Base(filepath.Dir(relPath)))
	if rawKind, ok := fm.GetString("kind"); ok {
		k = kind.Normalize(rawKind)
	}

	title, _ := fm.GetString("title")
	source, _ := fm.GetString("source")
	identityKey, _ := fm.GetString("identity_key")
	tags, _ := fm.GetList("tags")

	if tags == nil {
		tags = []string{}
	}

	var createdAt time.Time

	if createdRaw, ok := fm.GetString("created"); ok {
		if t, err := time.Parse(time.RFC3339, createdRaw); err == nil {
			createdAt = t
		}
	}

	var expiresAt *time.Time

	if expiresRaw, ok := fm.GetString("expires_at"); ok && expiresRaw != "" {
		if t, err := time.Parse(time.RFC3339, expiresRaw); err == nil {
			expiresAt = &t
		}
	}

	if id == "" {
		id = ids.New()
	}

	meta := metaFromFrontmatter(fm)
	meta["folder"] = filepath.ToSlash(filepath.Dir(relPath))

	return entry.Entry{
		ID:          id,
		Kind:        k,
		Category:    string(kind.CategoryOf(k)),
		Title:       title,
		Body:        body,
		Tags:        tags,
		Meta:        meta,
		Source:      source,
		IdentityKey: identityKey,
		ExpiresAt:   expiresAt,
		FilePath:    relPath,
		CreatedAt:   createdAt,
	}, nil
}
