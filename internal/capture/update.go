package capture

import (
	"time"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/frontmatter"
	"github.com/contextvault/vault/internal/kind"
	"github.com/contextvault/vault/internal/vaulterr"
)

// Patch is a partial update to an existing entry's file. Nil fields are left
// unchanged; a non-nil Tags or Meta, even an empty one, replaces the
// existing value wholesale
// (this is a merge-patch at the field level, not a deep merge of arrays).
type Patch struct {
	Title     *string
	Body      *string
	Tags      []string
	Meta      map[string]string
	ExpiresAt *time.Time
}

// UpdateEntryFile reads the markdown file at relPath, applies patch, and
// atomically rewrites it, returning the updated Entry. The entry's id,
// kind, identity_key, source, and created_at are preserved from the file.
func UpdateEntryFile(ctx WriteCtx, relPath string, patch Patch) (entry.Entry, error) {
	full, err := safeJoin(ctx.VaultDir, relPath)
	if err != nil {
		return entry.Entry{}, err
	}

	raw, err := ctx.FS.ReadFile(full)
	if err != nil {
		return entry.Entry{}, vaulterr.Wrap(err, vaulterr.NotFound, vaulterr.WithPath(relPath))
	}

	fm, body, err := frontmatter.Parse(raw)
	if err != nil {
		return entry.Entry{}, vaulterr.Wrap(err, vaulterr.MalformedEntry, vaulterr.WithPath(relPath))
	}

	e := entryFromFrontmatter(fm, body, relPath)

	if patch.Title != nil {
		e.Title = *patch.Title
	}

	if patch.Body != nil {
		e.Body = *patch.Body
	}

	if patch.Tags != nil {
		e.Tags = patch.Tags
	}

	if patch.Meta != nil {
		e.Meta = patch.Meta
	}

	if patch.ExpiresAt != nil {
		e.ExpiresAt = patch.ExpiresAt
	}

	if err := validate(Input{Kind: e.Kind, Title: e.Title, Body: e.Body, Tags: e.Tags, Meta: e.Meta, Source: e.Source, IdentityKey: e.IdentityKey}); err != nil {
		return entry.Entry{}, err
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

func entryFromFrontmatter(fm *frontmatter.Frontmatter, body, relPath string) entry.Entry {
	id, _ := fm.GetString("id")
	title, _ := fm.GetString("title")
	source, _ := fm.GetString("source")
	identityKey, _ := fm.GetString("identity_key")
	tags, _ := fm.GetList("tags")

	if tags == nil {
		tags = []string{}
	}

	var createdAt time.Time

	if raw, ok := fm.GetString("created"); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			createdAt = t
		}
	}

	var expiresAt *time.Time

	if raw, ok := fm.GetString("expires_at"); ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			expiresAt = &t
		}
	}

	k := kind.FromDir(dirOf(relPath))

	meta := metaFromFrontmatter(fm)
	meta["folder"] = folderOf(relPath)

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
	}
}

func dirOf(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			start := i

			for j := i - 1; j >= 0; j-- {
				if relPath[j] == '/' {
					start = j + 1

					break
				}

				if j == 0 {
					start = 0
				}
			}

			return relPath[start:i]
		}
	}

	return ""
}
