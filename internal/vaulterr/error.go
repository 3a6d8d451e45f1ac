// Package vaulterr defines the closed error taxonomy returned by every
// public vault operation, and the structured *Error type used to carry
// entry/path context alongside it.
package vaulterr

import (
	"errors"
	"strings"
)

// Kind is one of the closed set of failure categories a vault operation can
// return. Callers switch on Kind rather than matching error strings.
type Kind string

const (
	// InvalidInput covers malformed or oversize caller input: empty
	// required fields, bodies/titles/tags over their size limits, bad
	// filter combinations.
	InvalidInput Kind = "invalid_input"

	// MissingIdentityKey is returned when an entity-category kind is
	// captured without an identity_key.
	MissingIdentityKey Kind = "missing_identity_key"

	// PathEscape is returned when a computed or supplied path would land
	// outside the vault directory.
	PathEscape Kind = "path_escape"

	// MalformedEntry is returned when a markdown file's frontmatter block
	// cannot be parsed (missing delimiters, broken scalar/array syntax).
	MalformedEntry Kind = "malformed_entry"

	// NotFound is returned when an operation references an entry id that
	// does not exist.
	NotFound Kind = "not_found"

	// IoError wraps an underlying filesystem or database I/O failure.
	IoError Kind = "io_error"

	// CaptureRolledBack is returned when capture_and_index writes a file
	// successfully but indexing fails and the file write is reverted.
	CaptureRolledBack Kind = "capture_rolled_back"

	// ReindexFailed is returned when a reindex pass fails partway and the
	// index transaction is rolled back.
	ReindexFailed Kind = "reindex_failed"

	// InvalidRowId is returned when the index's internal row identifier
	// for an entry is not the integer the vector table requires.
	InvalidRowId Kind = "invalid_row_id"
)

// Error is the uniform error type returned by every vault operation.
//
// Formats as "<cause> (kind=X entry_id=Y path=Z)". Use [errors.As] to
// recover structured fields, or [KindOf] to read just the Kind.
type Error struct {
	// Kind classifies the failure into the closed taxonomy above.
	Kind Kind

	// EntryID is the entry this error concerns, when known.
	EntryID string

	// Path is the entry's file path relative to the vault root, when known.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error formats the error, cause first, structured context in parens.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := e.cause()
	suffix := e.suffix()

	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Kind != "" {
		parts = append(parts, "kind="+string(e.Kind))
	}

	if e.EntryID != "" {
		parts = append(parts, "entry_id="+e.EntryID)
	}

	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

func (e *Error) cause() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

// KindOf returns the Kind carried by err, walking the error chain. The
// zero Kind ("") is returned if err does not wrap a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// Is lets errors.Is(err, vaulterr.New(kind)) style checks work: two *Error
// values compare equal for errors.Is purposes when their Kind matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind != "" && t.Kind == e.Kind
}

// Option configures an *Error during construction via New/Wrap.
type Option func(*Error)

// WithEntryID attaches an entry id to the error.
func WithEntryID(id string) Option {
	return func(e *Error) { e.EntryID = id }
}

// WithPath attaches a vault-relative path to the error.
func WithPath(path string) Option {
	return func(e *Error) { e.Path = path }
}

// New constructs a bare *Error of the given kind with no underlying cause,
// suitable for errors.Is-style sentinel comparisons, e.g.:
//
//	return nil, vaulterr.New(vaulterr.NotFound, vaulterr.WithEntryID(id))
func New(kind Kind, opts ...Option) error {
	e := &Error{Kind: kind}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Wrap attaches kind and structured context to err, following the same
// inherit-and-avoid-double-wrap discipline as the rest of the engine: if
// err is already a *Error, its EntryID and Path are kept unless opts
// override them, its Kind is kept only when kind is empty, and it is not
// wrapped a second time.
func Wrap(err error, kind Kind, opts ...Option) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	isDirect := errors.As(err, &existing)

	e := &Error{Err: err, Kind: kind}

	if isDirect {
		e.EntryID = existing.EntryID
		e.Path = existing.Path
		e.Err = existing.Err

		if kind == "" {
			e.Kind = existing.Kind
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	if isDirect && kind == "" && len(opts) == 0 {
		return existing
	}

	return e
}
