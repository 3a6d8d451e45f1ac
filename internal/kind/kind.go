// Package kind maps entry kinds to categories and on-disk directories.
//
// Save and search must agree on the normalized form of a kind, so
// normalization happens in exactly one place: [Normalize], called once at
// the entry point of every capture and retrieve operation.
package kind

import "strings"

// Category is one of the three retrieval/upsert semantics a kind can carry.
type Category string

const (
	Knowledge Category = "knowledge"
	Entity    Category = "entity"
	Event     Category = "event"
)

// categoryDirs maps a category to its nested on-disk directory name.
var categoryDirs = map[Category]string{
	Knowledge: "knowledge",
	Entity:    "entities",
	Event:     "events",
}

// kindCategories is the static kind -> category table from the data model.
// Unknown kinds default to Knowledge.
var kindCategories = map[string]Category{
	"insight":   Knowledge,
	"decision":  Knowledge,
	"pattern":   Knowledge,
	"prompt":    Knowledge,
	"note":      Knowledge,
	"document":  Knowledge,
	"reference": Knowledge,

	"contact": Entity,
	"project": Entity,
	"tool":    Entity,
	"source":  Entity,

	"conversation": Event,
	"message":      Event,
	"session":      Event,
	"task":         Event,
	"log":          Event,
}

// pluralToSingular holds the known plural forms accepted by Normalize.
var pluralToSingular = map[string]string{
	"insights":      "insight",
	"decisions":     "decision",
	"patterns":      "pattern",
	"prompts":       "prompt",
	"notes":         "note",
	"documents":     "document",
	"references":    "reference",
	"contacts":      "contact",
	"projects":      "project",
	"tools":         "tool",
	"sources":       "source",
	"conversations": "conversation",
	"messages":      "message",
	"sessions":      "session",
	"tasks":         "task",
	"logs":          "log",
}

// Normalize maps a raw kind string to its canonical singular form. Known
// plurals (e.g. "insights") map to their singular. Unknown kinds pass
// through unchanged (lowercase, trimmed) so callers see the same value they
// will later query with.
func Normalize(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	if singular, ok := pluralToSingular[k]; ok {
		return singular
	}

	return k
}

// CategoryOf returns the category for a (normalized or raw) kind. Unknown
// kinds default to Knowledge per the data model.
func CategoryOf(rawOrNormalized string) Category {
	k := Normalize(rawOrNormalized)
	if cat, ok := kindCategories[k]; ok {
		return cat
	}

	return Knowledge
}

// ToPath returns the nested directory a kind's files live under, relative
// to the vault root: "knowledge/insights", "entities/contacts", etc.
func ToPath(rawOrNormalized string) string {
	k := Normalize(rawOrNormalized)
	cat := CategoryOf(k)

	return categoryDirs[cat] + "/" + pluralize(k)
}

// FromDir inverts ToPath's trailing directory component: it strips a
// trailing "s" when the resulting singular is a known kind, otherwise it
// returns the directory name unchanged (legacy/unknown kind directories).
func FromDir(dirName string) string {
	if singular, ok := pluralToSingular[dirName]; ok {
		return singular
	}

	trimmed := strings.TrimSuffix(dirName, "s")
	if _, known := kindCategories[trimmed]; known {
		return trimmed
	}

	return dirName
}

// pluralize appends "s" to a normalized kind to produce its directory name.
// Every kind in kindCategories pluralizes this way; this only needs to
// handle the closed set above, not general English pluralization.
func pluralize(k string) string {
	return k + "s"
}
