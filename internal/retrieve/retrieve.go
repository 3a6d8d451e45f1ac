// Package retrieve implements hybrid_search: fusing an FTS5 keyword pass
// with a sqlite-vec similarity pass, then re-weighting by category-aware
// recency decay before tag filtering and pagination are applied.
package retrieve

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/contextvault/vault/internal/entry"
)

const (
	defaultLimit  = 10
	ftsWeight     = 0.4
	vectorWeight  = 0.6
	ftsVecLimit   = 15
	scopedVecCap  = 30
	tagOverfetchN = 10
	defaultDecay  = 30.0
)

// categoryDecayDays maps a category to its recency half-life in days. Entry
// categories with no entry here are not decayed (their score is left as-is).
var categoryDecayDays = map[string]float64{
	"event": defaultDecay,
}

// Filters narrows a search to a kind, a set of tags (OR semantics), or both.
type Filters struct {
	Kind string
	Tags []string
}

// Query is a single hybrid_search request.
type Query struct {
	Text    string
	Vector  []float32
	Filters Filters
	Limit   int
	Offset  int
}

// Scored pairs a retrieved entry with the fused score that ranked it.
type Scored struct {
	Entry entry.Entry
	Score float64
}

// Retriever runs hybrid_search against the derived SQLite index.
type Retriever struct {
	db *sql.DB
}

// New returns a Retriever reading from db.
func New(db *sql.DB) *Retriever {
	return &Retriever{db: db}
}

// Search runs the FTS and vector passes, fuses their scores by row id,
// applies recency decay, filters by tag (if any), and returns the top
// q.Limit results after skipping q.Offset.
func (r *Retriever) Search(ctx context.Context, q Query) ([]Scored, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	fetchLimit := limit + q.Offset
	if len(q.Filters.Tags) > 0 && fetchLimit*tagOverfetchN > fetchLimit {
		fetchLimit *= tagOverfetchN
	}

	now := time.Now().UTC()
	nowMS := now.UnixMilli()

	scores := map[int64]float64{}

	if text := strings.TrimSpace(q.Text); text != "" {
		ftsScores, err := r.ftsPass(ctx, text, q.Filters.Kind, fetchLimit, nowMS)
		if err != nil {
			return nil, err
		}

		for rowID, s := range ftsScores {
			scores[rowID] += s
		}
	}

	if len(q.Vector) > 0 {
		vecScores, err := r.vectorPass(ctx, q.Vector, q.Filters.Kind, fetchLimit, nowMS)
		if err != nil {
			return nil, err
		}

		for rowID, s := range vecScores {
			scores[rowID] += s
		}
	}

	if len(scores) == 0 {
		return nil, nil
	}

	rowIDs := make([]int64, 0, len(scores))
	for id := range scores {
		rowIDs = append(rowIDs, id)
	}

	entries, err := r.loadEntries(ctx, rowIDs)
	if err != nil {
		return nil, err
	}

	results := make([]Scored, 0, len(entries))

	for rowID, e := range entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			continue
		}

		if !matchesTags(e.Tags, q.Filters.Tags) {
			continue
		}

		score := scores[rowID] * recencyDecay(e, now)

		results = append(results, Scored{Entry: e, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})

	if q.Offset >= len(results) {
		return nil, nil
	}

	results = results[q.Offset:]

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// ftsStripChars are FTS5 query-syntax metacharacters. hybrid_search treats
// the query text as plain keywords, so they are stripped before the MATCH
// query is built, rather than relying on FTS5's own error handling.
const ftsStripChars = `*"()-:^~{}`

func sanitizeFTSQuery(text string) string {
	var b strings.Builder

	for _, r := range text {
		if strings.ContainsRune(ftsStripChars, r) {
			b.WriteRune(' ')

			continue
		}

		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}

// ftsPass runs the keyword search and returns each matching row_id's
// normalized FTS score, weighted by ftsWeight. nowMS bounds results to the
// always-on expiry predicate: expires_at IS NULL OR expires_at > nowMS.
func (r *Retriever) ftsPass(ctx context.Context, text, kindFilter string, limit int, nowMS int64) (map[int64]float64, error) {
	clean := sanitizeFTSQuery(text)
	if clean == "" {
		return nil, nil
	}

	query := `
		SELECT vault_fts.rowid, bm25(vault_fts)
		FROM vault_fts
		JOIN vault ON vault.row_id = vault_fts.rowid
		WHERE vault_fts MATCH ?
		  AND (vault.expires_at IS NULL OR vault.expires_at > ?)`
	args := []any{clean, nowMS}

	if kindFilter != "" {
		query += ` AND vault.kind = ?`
		args = append(args, kindFilter)
	}

	query += ` ORDER BY bm25(vault_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		// FTS5 raises a query-syntax error on degenerate input (e.g. a
		// bare AND/OR/NOT left after stripping); treat it as "no
		// keyword matches" rather than failing the whole search. Any
		// other error is returned.
		if strings.Contains(err.Error(), "fts5: syntax error") {
			return nil, nil //nolint:nilerr
		}

		return nil, err
	}
	defer rows.Close()

	raw := map[int64]float64{}

	var maxAbs float64

	for rows.Next() {
		var rowID int64

		var rank float64

		if err := rows.Scan(&rowID, &rank); err != nil {
			return nil, err
		}

		abs := math.Abs(rank)
		raw[rowID] = abs

		if abs > maxAbs {
			maxAbs = abs
		}
	}

	out := map[int64]float64{}

	if maxAbs == 0 {
		for rowID := range raw {
			out[rowID] = ftsWeight
		}

		return out, rows.Err()
	}

	for rowID, abs := range raw {
		out[rowID] = (abs / maxAbs) * ftsWeight
	}

	return out, rows.Err()
}

// vectorPass runs the similarity search and returns each matching row_id's
// similarity (1 - distance/2, clamped to 0), weighted by vectorWeight. nowMS
// bounds results to the always-on expiry predicate: expires_at IS NULL OR
// expires_at > nowMS.
func (r *Retriever) vectorPass(ctx context.Context, vec []float32, kindFilter string, limit int, nowMS int64) (map[int64]float64, error) {
	vecLimit := ftsVecLimit
	if kindFilter != "" {
		vecLimit = scopedVecCap
	}

	if limit > vecLimit {
		vecLimit = limit
	}

	query := `
		SELECT vault_vec.row_id, distance
		FROM vault_vec
		JOIN vault ON vault.row_id = vault_vec.row_id
		WHERE embedding MATCH ? AND k = ?
		  AND (vault.expires_at IS NULL OR vault.expires_at > ?)`
	args := []any{serializeVector(vec), vecLimit, nowMS}

	if kindFilter != "" {
		query += ` AND vault.kind = ?`
		args = append(args, kindFilter)
	}

	query += ` ORDER BY distance`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		// A freshly created vault_vec table with no rows yet, or one
		// missing entirely on a pre-reindex database, is "no vector
		// matches" rather than a search failure.
		if strings.Contains(err.Error(), "no such table") {
			return nil, nil //nolint:nilerr
		}

		return nil, err
	}
	defer rows.Close()

	out := map[int64]float64{}

	for rows.Next() {
		var rowID int64

		var distance float64

		if err := rows.Scan(&rowID, &distance); err != nil {
			return nil, err
		}

		similarity := 1 - distance/2
		if similarity < 0 {
			similarity = 0
		}

		out[rowID] = similarity * vectorWeight
	}

	return out, rows.Err()
}

// loadEntries hydrates full Entry rows for the given row ids.
func (r *Retriever) loadEntries(ctx context.Context, rowIDs []int64) (map[int64]entry.Entry, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(rowIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}

	query := `
		SELECT row_id, id, kind, category, title, body, tags, meta, source,
		       identity_key, expires_at, file_path, created_at, mtime_ns, size_bytes
		FROM vault WHERE row_id IN (` + placeholders + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]entry.Entry{}

	for rows.Next() {
		var (
			rowID              int64
			e                  entry.Entry
			tagsJSON, metaJSON string
			createdAtMS        int64
			expiresAtMS        sql.NullInt64
		)

		if err := rows.Scan(&rowID, &e.ID, &e.Kind, &e.Category, &e.Title, &e.Body,
			&tagsJSON, &metaJSON, &e.Source, &e.IdentityKey, &expiresAtMS,
			&e.FilePath, &createdAtMS, &e.MTimeNS, &e.SizeBytes); err != nil {
			return nil, err
		}

		_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
		_ = json.Unmarshal([]byte(metaJSON), &e.Meta)

		e.CreatedAt = time.UnixMilli(createdAtMS).UTC()

		if expiresAtMS.Valid {
			t := time.UnixMilli(expiresAtMS.Int64).UTC()
			e.ExpiresAt = &t
		}

		out[rowID] = e
	}

	return out, rows.Err()
}

// recencyDecay returns a multiplier in (0, 1] applied on top of the fused
// score. Knowledge and entity entries don't go stale by age and are left at
// full weight; categories in categoryDecayDays fade out as they age.
func recencyDecay(e entry.Entry, now time.Time) float64 {
	decayDays, ok := categoryDecayDays[e.Category]
	if !ok {
		return 1.0
	}

	ageDays := now.Sub(e.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	return 1.0 / (1.0 + ageDays/decayDays)
}

// matchesTags reports whether e's tags satisfy filter under OR semantics:
// an entry matches if it carries ANY of the filter tags. An empty filter
// matches everything.
func matchesTags(tags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	for _, want := range filter {
		if set[want] {
			return true
		}
	}

	return false
}
