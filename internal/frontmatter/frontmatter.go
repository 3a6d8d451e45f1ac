// Package frontmatter reads and writes the small YAML-like frontmatter
// block that precedes every vault entry's markdown body.
//
// Only single-line scalars and inline arrays are supported:
//
//	---
//	id: 01HQZX8N3K7VQJ5T8R2M9W4P6S
//	tags: [bug, urgent]
//	source: cli
//	created: 2024-03-01T10:00:00Z
//	identity_key: acme-corp
//	expires_at: 2024-12-31T00:00:00Z
//	---
//
// Nested maps, multi-line scalars, and block-style arrays are not supported;
// a file using them fails to parse with a MalformedEntry error rather than
// being silently misread.
package frontmatter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/contextvault/vault/internal/vaulterr"
)

var (
	errMissingOpenDelimiter  = errors.New("frontmatter: missing opening --- delimiter")
	errMissingCloseDelimiter = errors.New("frontmatter: missing closing --- delimiter")
)

func errMalformedField(line string) error {
	return fmt.Errorf("frontmatter: malformed field %q", line)
}

const delimiter = "---"

// Frontmatter holds the parsed key/value pairs of a frontmatter block,
// preserving insertion order so Format round-trips field order.
type Frontmatter struct {
	keys   []string
	values map[string]string
	lists  map[string][]string
}

func newFrontmatter() *Frontmatter {
	return &Frontmatter{
		values: make(map[string]string),
		lists:  make(map[string][]string),
	}
}

// GetString returns the scalar value for key.
func (fm *Frontmatter) GetString(key string) (string, bool) {
	v, ok := fm.values[key]
	return v, ok
}

// GetList returns the array value for key.
func (fm *Frontmatter) GetList(key string) ([]string, bool) {
	v, ok := fm.lists[key]
	return v, ok
}

// Keys returns every field name present, in insertion order. Callers use
// this to recover arbitrary meta fields that aren't part of the fixed
// id/tags/source/created/identity_key/expires_at/title set.
func (fm *Frontmatter) Keys() []string {
	out := make([]string, len(fm.keys))
	copy(out, fm.keys)

	return out
}

// Has reports whether key is present, as either a scalar or a list.
func (fm *Frontmatter) Has(key string) bool {
	if _, ok := fm.values[key]; ok {
		return true
	}

	_, ok := fm.lists[key]

	return ok
}

// Set adds or overwrites a scalar field, recording key order on first use.
func (fm *Frontmatter) Set(key, value string) {
	if !fm.Has(key) {
		fm.keys = append(fm.keys, key)
	}

	delete(fm.lists, key)
	fm.values[key] = value
}

// SetList adds or overwrites an array field, recording key order on first use.
func (fm *Frontmatter) SetList(key string, values []string) {
	if !fm.Has(key) {
		fm.keys = append(fm.keys, key)
	}

	delete(fm.values, key)
	fm.lists[key] = values
}

// Parse splits raw markdown file content into its frontmatter block and
// body. It returns a MalformedEntry error if the file doesn't open and
// close with a "---" delimiter line.
func Parse(data []byte) (fm *Frontmatter, body string, err error) {
	text := string(data)

	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return nil, "", vaulterr.Wrap(errMissingOpenDelimiter, vaulterr.MalformedEntry)
	}

	closeIdx := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			closeIdx = i

			break
		}
	}

	if closeIdx < 0 {
		return nil, "", vaulterr.Wrap(errMissingCloseDelimiter, vaulterr.MalformedEntry)
	}

	fm = newFrontmatter()

	for _, raw := range lines[1:closeIdx] {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// An indented line belongs to a nested map, block array, or
		// multi-line scalar, none of which this format supports.
		if line[0] == ' ' || line[0] == '\t' {
			return nil, "", vaulterr.Wrap(errMalformedField(line), vaulterr.MalformedEntry)
		}

		key, value, ok := splitField(line)
		if !ok {
			return nil, "", vaulterr.Wrap(errMalformedField(line), vaulterr.MalformedEntry)
		}

		if isInlineArray(value) {
			fm.SetList(key, parseInlineArray(value))
		} else {
			fm.Set(key, unquote(value))
		}
	}

	rest := strings.Join(lines[closeIdx+1:], "\n")
	rest = strings.TrimPrefix(rest, "\n")

	return fm, rest, nil
}

// splitField splits a "key: value" line. Returns ok=false if there is no
// colon, matching the strict grammar's requirement for a delimiter.
func splitField(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}

	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])

	if key == "" {
		return "", "", false
	}

	return key, value, true
}

func isInlineArray(value string) bool {
	return strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]")
}

func parseInlineArray(value string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
	inner = strings.TrimSpace(inner)

	if inner == "" {
		return []string{}
	}

	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		out = append(out, unquote(strings.TrimSpace(p)))
	}

	return out
}

func unquote(s string) string {
	if len(s) >= 2 {
		if s[0] == '"' && s[len(s)-1] == '"' {
			return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
		}

		if s[0] == '\'' && s[len(s)-1] == '\'' {
			return s[1 : len(s)-1]
		}
	}

	return s
}

// quoteIfNeeded wraps a value in double quotes when it contains characters
// that would otherwise change the field's meaning when parsed back.
func quoteIfNeeded(s string) string {
	if s == "" {
		return s
	}

	if strings.ContainsAny(s, ":#[]\"") || strings.TrimSpace(s) != s {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}

	return s
}

// Format serializes fm back into a "---\n...\n---\n" block followed by body.
func Format(fm *Frontmatter, body string) string {
	var b strings.Builder

	b.WriteString(delimiter)
	b.WriteByte('\n')

	for _, key := range fm.keys {
		if list, ok := fm.lists[key]; ok {
			b.WriteString(key)
			b.WriteString(": [")

			for i, item := range list {
				if i > 0 {
					b.WriteString(", ")
				}

				b.WriteString(quoteIfNeeded(item))
			}

			b.WriteString("]\n")

			continue
		}

		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(quoteIfNeeded(fm.values[key]))
		b.WriteByte('\n')
	}

	b.WriteString(delimiter)
	b.WriteByte('\n')

	if body != "" {
		b.WriteByte('\n')
		b.WriteString(body)
	}

	return b.String()
}

// New returns an empty Frontmatter ready for Set/SetList calls, for
// building a file from scratch.
func New() *Frontmatter {
	return newFrontmatter()
}
