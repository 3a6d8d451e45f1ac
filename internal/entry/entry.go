// Package entry defines the vault's core data model: the Entry type every
// capture, index, and retrieve operation reads or writes.
package entry

import "time"

// Entry is one row of persistent memory: a markdown file on disk plus the
// metadata that identifies and classifies it.
type Entry struct {
	// ID is the entry's 26-character generated identifier.
	ID string

	// Kind is the normalized, singular kind (e.g. "insight", "contact").
	Kind string

	// Category is derived from Kind: "knowledge", "entity", or "event".
	Category string

	// Title is optional; may be derived from the body's first heading.
	Title string

	// Body is the markdown content. Never empty.
	Body string

	// Tags is never nil; an entry with no tags has an empty, non-nil slice.
	Tags []string

	// Meta holds arbitrary caller-supplied key/value metadata, JSON-encoded
	// in storage.
	Meta map[string]string

	// Source records where the entry came from (e.g. "cli", "agent").
	Source string

	// IdentityKey is required for entity-category kinds; it is the stable
	// key used to upsert an entity's file and row on re-capture.
	IdentityKey string

	// ExpiresAt is nil for entries that never expire.
	ExpiresAt *time.Time

	// FilePath is the entry's markdown file path, relative to the vault root.
	FilePath string

	// CreatedAt is set once at first capture and preserved across re-capture.
	CreatedAt time.Time

	// MTimeNS and SizeBytes mirror the entry's file on disk as of the last
	// time it was written or indexed. They are stored in the index; reindex
	// decides whether a file changed by comparing title, body, tags and meta,
	// not these fields.
	MTimeNS   int64
	SizeBytes int64
}

// Oversize input limits enforced at capture time (spec error taxonomy
// InvalidInput).
const (
	MaxBodyBytes        = 100 * 1024
	MaxTitleChars       = 500
	MaxKindChars        = 64
	MaxTagChars         = 100
	MaxTagCount         = 20
	MaxMetaJSONBytes    = 10 * 1024
	MaxSourceChars      = 200
	MaxIdentityKeyChars = 200
)
