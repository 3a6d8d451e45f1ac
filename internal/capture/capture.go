// Package capture turns caller input into a written markdown entry and,
// when paired with an indexer, atomically keeps the derived index in step
// with what landed on disk.
package capture

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/frontmatter"
	"github.com/contextvault/vault/internal/ids"
	"github.com/contextvault/vault/internal/kind"
	"github.com/contextvault/vault/internal/vaultfs"
	"github.com/contextvault/vault/internal/vaulterr"
)

// reservedFrontmatterKeys are fields with a dedicated meaning in the entry
// schema; a meta key using one of these names is never written to or read
// from frontmatter as a meta field. folder is reserved for the same reason
// but is never persisted at all: it is always derived from FilePath.
var reservedFrontmatterKeys = map[string]bool{
	"id": true, "title": true, "tags": true, "source": true,
	"created": true, "identity_key": true, "expires_at": true, "kind": true,
	"folder": true,
}

// folderOf derives the meta folder value for a file path: its directory,
// relative to the vault root, with forward slashes.
func folderOf(relPath string) string {
	return filepath.ToSlash(filepath.Dir(relPath))
}

// metaFromFrontmatter reconstructs the meta map from whatever frontmatter
// fields aren't part of the fixed schema. folder is excluded here since it
// is never persisted; callers inject it separately, derived from the path.
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

// Input is the caller-supplied shape of a new or re-captured entry.
type Input struct {
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

// WriteCtx carries the state write_entry needs: the vault root and the
// filesystem it writes through. It is a small, explicit struct rather than
// an untyped options bag so call sites read as documentation.
type WriteCtx struct {
	VaultDir string
	FS       vaultfs.FS
}

// Indexer is the single method capture_and_index needs from the index
// package, kept minimal so tests can supply a double without pulling in
// SQLite.
type Indexer interface {
	IndexEntry(ctx context.Context, e entry.Entry) error
}

// WriteEntry validates input, resolves its file path (deterministic for
// entity-category kinds with an identity_key, freshly minted otherwise),
// and atomically writes the markdown file. Re-capturing an existing entity
// preserves its id and created_at.
func WriteEntry(ctx WriteCtx, in Input) (entry.Entry, error) {
	if err := validate(in); err != nil {
		return entry.Entry{}, err
	}

	k := kind.Normalize(in.Kind)
	category := kind.CategoryOf(k)

	if category == kind.Entity && in.IdentityKey == "" {
		return entry.Entry{}, vaulterr.New(vaulterr.MissingIdentityKey)
	}

	relPath, existing, err := resolvePath(ctx, k, in)
	if err != nil {
		return entry.Entry{}, err
	}

	now := time.Now().UTC()

	e := entry.Entry{
		ID:          ids.New(),
		Kind:        k,
		Category:    string(category),
		Title:       resolveTitle(in.Title, in.Body),
		Body:        in.Body,
		Tags:        normalizeTags(in.Tags),
		Meta:        copyMeta(in.Meta),
		Source:      in.Source,
		IdentityKey: in.IdentityKey,
		ExpiresAt:   in.ExpiresAt,
		FilePath:    relPath,
		CreatedAt:   now,
	}

	e.Meta["folder"] = folderOf(relPath)

	if existing != nil {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	}

	full, err := safeJoin(ctx.VaultDir, relPath)
	if err != nil {
		return entry.Entry{}, err
	}

	if err := ctx.FS.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return entry.Entry{}, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithPath(relPath))
	}

	content := render(e)

	if err := ctx.FS.WriteFileAtomic(full, []byte(content), 0o644); err != nil {
		return entry.Entry{}, vaulterr.Wrap(err, vaulterr.IoError, vaulterr.WithEntryID(e.ID), vaulterr.WithPath(relPath))
	}

	info, statErr := ctx.FS.Stat(full)
	if statErr == nil {
		e.MTimeNS = info.ModTime().UnixNano()
		e.SizeBytes = info.Size()
	}

	return e, nil
}

// CaptureAndIndex writes the entry then indexes it. Before writing, it
// snapshots whatever previously lived at the resolved file path. If indexing
// fails, the rollback restores that snapshot (an entity upsert's prior
// contents) or, when there was nothing there before, removes the just-written
// file. Either way the error is reported as CaptureRolledBack so callers
// never see a file on disk with no matching index row.
func CaptureAndIndex(ctx context.Context, wctx WriteCtx, in Input, indexer Indexer) (entry.Entry, error) {
	k := kind.Normalize(in.Kind)

	relPath, _, err := resolvePath(wctx, k, in)
	if err != nil {
		return entry.Entry{}, err
	}

	prevRaw, hadPrev := snapshotIfExists(wctx, relPath)

	e, err := WriteEntry(wctx, in)
	if err != nil {
		return entry.Entry{}, err
	}

	if err := indexer.IndexEntry(ctx, e); err != nil {
		full, joinErr := safeJoin(wctx.VaultDir, e.FilePath)
		if joinErr == nil {
			if hadPrev {
				_ = wctx.FS.WriteFileAtomic(full, prevRaw, 0o644)
			} else {
				_ = wctx.FS.Remove(full)
			}
		}

		return entry.Entry{}, vaulterr.Wrap(err, vaulterr.CaptureRolledBack, vaulterr.WithEntryID(e.ID), vaulterr.WithPath(e.FilePath))
	}

	return e, nil
}

// snapshotIfExists best-effort reads whatever file currently lives at
// relPath, for CaptureAndIndex to restore on rollback. A read failure (file
// missing, escapes vaultDir, unreadable) is reported as "nothing to restore"
// rather than aborting the capture itself.
func snapshotIfExists(wctx WriteCtx, relPath string) ([]byte, bool) {
	full, err := safeJoin(wctx.VaultDir, relPath)
	if err != nil {
		return nil, false
	}

	exists, err := wctx.FS.Exists(full)
	if err != nil || !exists {
		return nil, false
	}

	raw, err := wctx.FS.ReadFile(full)
	if err != nil {
		return nil, false
	}

	return raw, true
}

// resolvePath computes an entry's file path. Entity-category kinds with an
// identity_key get a deterministic, stable path; re-capturing the same
// identity_key returns the previously-written entry's id/created_at via
// existing, and anything else mints a fresh path.
func resolvePath(ctx WriteCtx, k string, in Input) (relPath string, existing *entry.Entry, err error) {
	category := kind.CategoryOf(k)

	if category == kind.Entity && in.IdentityKey != "" {
		slug := ids.Slugify(in.IdentityKey)
		if slug == "" {
			slug = ids.New()
		}

		relPath = filepath.Join(kind.ToPath(k), slug+".md")

		full, joinErr := safeJoin(ctx.VaultDir, relPath)
		if joinErr != nil {
			return "", nil, joinErr
		}

		exists, statErr := ctx.FS.Exists(full)
		if statErr == nil && exists {
			raw, readErr := ctx.FS.ReadFile(full)
			if readErr == nil {
				if fm, _, parseErr := frontmatter.Parse(raw); parseErr == nil {
					id, _ := fm.GetString("id")
					created, _ := fm.GetString("created")

					createdAt, _ := time.Parse(time.RFC3339, created)
					existing = &entry.Entry{ID: id, CreatedAt: createdAt}
				}
			}
		}

		return relPath, existing, nil
	}

	folderHint := folderFor(k, in.Folder)
	slug := ids.Slugify(in.Title)

	if slug == "" {
		slug = strings.ToLower(ids.New())
	}

	relPath = filepath.Join(folderHint, slug+".md")

	// A slug already taken by another file gets a random ID tail, so a new
	// entry never overwrites an existing one.
	if full, joinErr := safeJoin(ctx.VaultDir, relPath); joinErr == nil {
		if exists, statErr := ctx.FS.Exists(full); statErr == nil && exists {
			tail := strings.ToLower(ids.New()[ids.Length-8:])
			relPath = filepath.Join(folderHint, slug+"-"+tail+".md")
		}
	}

	return relPath, nil, nil
}

// folderFor returns the nested directory an entry's file lives under. A
// caller-supplied folder hint is honored only when it matches the kind's
// canonical category (preventing a knowledge-category kind from landing
// under events/, for example); otherwise the canonical path wins.
func folderFor(k, hint string) string {
	canonical := kind.ToPath(k)
	if hint == "" {
		return canonical
	}

	if strings.HasPrefix(canonical, strings.SplitN(hint, "/", 2)[0]+"/") || canonical == hint {
		return hint
	}

	return canonical
}

// resolveTitle returns title, or a title derived from the body's first
// heading when title is empty.
func resolveTitle(title, body string) string {
	if title != "" {
		return title
	}

	return titleFromHeading(body)
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}

	return tags
}

// copyMeta returns an independent copy of in, so injecting a derived folder
// key never mutates a caller-supplied map.
func copyMeta(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}

	return out
}

// render serializes an entry back into a markdown file: frontmatter block
// followed by the body. folder is deliberately not persisted; it is always
// derived from FilePath's location.
func render(e entry.Entry) string {
	fm := frontmatter.New()
	fm.Set("id", e.ID)
	fm.SetList("tags", e.Tags)

	if e.Source != "" {
		fm.Set("source", e.Source)
	}

	fm.Set("created", e.CreatedAt.Format(time.RFC3339))

	if e.IdentityKey != "" {
		fm.Set("identity_key", e.IdentityKey)
	}

	if e.ExpiresAt != nil {
		fm.Set("expires_at", e.ExpiresAt.Format(time.RFC3339))
	}

	if e.Title != "" {
		fm.Set("title", e.Title)
	}

	metaKeys := make([]string, 0, len(e.Meta))

	for k := range e.Meta {
		if reservedFrontmatterKeys[k] {
			continue
		}

		metaKeys = append(metaKeys, k)
	}

	sort.Strings(metaKeys)

	for _, k := range metaKeys {
		fm.Set(k, e.Meta[k])
	}

	return frontmatter.Format(fm, e.Body)
}

// safeJoin joins rel onto vaultDir, rejecting paths that would escape it.
func safeJoin(vaultDir, rel string) (string, error) {
	full, err := vaultfs.SafeJoin(vaultDir, rel)
	if err != nil {
		return "", vaulterr.Wrap(err, vaulterr.PathEscape, vaulterr.WithPath(rel))
	}

	return full, nil
}

func validate(in Input) error {
	k := strings.TrimSpace(in.Kind)
	if k == "" {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("kind"))
	}

	if len(k) > entry.MaxKindChars {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("kind"))
	}

	if strings.TrimSpace(in.Body) == "" {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("body"))
	}

	if len(in.Body) > entry.MaxBodyBytes {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("body"))
	}

	if len(in.Title) > entry.MaxTitleChars {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("title"))
	}

	if len(in.Source) > entry.MaxSourceChars {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("source"))
	}

	if len(in.IdentityKey) > entry.MaxIdentityKeyChars {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("identity_key"))
	}

	if len(in.Tags) > entry.MaxTagCount {
		return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("tags"))
	}

	for _, tag := range in.Tags {
		if len(tag) > entry.MaxTagChars {
			return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("tags"))
		}
	}

	if len(in.Meta) > 0 {
		raw, err := json.Marshal(in.Meta)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.InvalidInput, vaulterr.WithPath("meta"))
		}

		if len(raw) > entry.MaxMetaJSONBytes {
			return vaulterr.New(vaulterr.InvalidInput, vaulterr.WithPath("meta"))
		}
	}

	return nil
}
