// Package status implements gather_vault_status: a snapshot of a vault's
// on-disk and indexed state, with a persisted JSON fallback for when the
// index database is transiently unavailable.
package status

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// snapshotFileName is the cached status sidecar, written alongside the
// index database rather than inside the vault (it is index metadata, not a
// vault entry).
const snapshotFileName = "status_cache.json"

// Status is a point-in-time snapshot of a vault's state.
type Status struct {
	VaultPath      string            `json:"vault_path"`
	Exists         bool              `json:"exists"`
	FileCounts     map[string]int    `json:"file_counts"`
	KindCounts     map[string]int    `json:"kind_counts"`
	CategoryCounts map[string]int    `json:"category_counts"`
	DBSizeBytes    int64             `json:"db_size_bytes"`
	StalePathCount int               `json:"stale_path_count"`
	Embeddings     EmbeddingCoverage `json:"embeddings"`
	ResolvedFrom   string            `json:"resolved_from"`
	CachedAt       time.Time         `json:"cached_at"`
	Stale          bool              `json:"stale"`
}

// EmbeddingCoverage reports how many indexed rows have a computed vector.
type EmbeddingCoverage struct {
	Indexed int `json:"indexed"`
	Total   int `json:"total"`
	Missing int `json:"missing"`
}

// Gather builds a fresh Status by reading the vault directory and querying
// db. resolvedFrom is the provenance label reported as resolved_from; the
// engine passes the vault directory's label (config.Config.VaultDirFrom).
func Gather(ctx context.Context, db *sql.DB, vaultDir, dbPath, resolvedFrom string) (Status, error) {
	st := Status{
		VaultPath:    vaultDir,
		ResolvedFrom: resolvedFrom,
		CachedAt:     time.Now().UTC(),
	}

	if info, err := os.Stat(vaultDir); err == nil && info.IsDir() {
		st.Exists = true
	}

	if st.Exists {
		counts, err := fileCountsByTopDir(vaultDir)
		if err != nil {
			return Status{}, err
		}

		st.FileCounts = counts
	} else {
		st.FileCounts = map[string]int{}
	}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	kindCounts, err := countBy(ctx, db, "kind")
	if err != nil {
		return Status{}, err
	}

	st.KindCounts = kindCounts

	categoryCounts, err := countBy(ctx, db, "category")
	if err != nil {
		return Status{}, err
	}

	st.CategoryCounts = categoryCounts

	stale, err := stalePathCount(ctx, db, vaultDir)
	if err != nil {
		return Status{}, err
	}

	st.StalePathCount = stale

	coverage, err := embeddingCoverage(ctx, db)
	if err != nil {
		return Status{}, err
	}

	st.Embeddings = coverage

	return st, nil
}

func fileCountsByTopDir(vaultDir string) (map[string]int, error) {
	counts := map[string]int{}

	entries, err := os.ReadDir(vaultDir)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		n, err := countMarkdownFiles(filepath.Join(vaultDir, e.Name()))
		if err != nil {
			continue
		}

		counts[e.Name()] = n
	}

	return counts, nil
}

func countMarkdownFiles(dir string) (int, error) {
	n := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			n++
		}

		return nil
	})

	return n, err
}

func countBy(ctx context.Context, db *sql.DB, column string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM vault GROUP BY `+column) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}

	for rows.Next() {
		var key string

		var n int

		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}

		out[key] = n
	}

	return out, rows.Err()
}

func stalePathCount(ctx context.Context, db *sql.DB, vaultDir string) (int, error) {
	rows, err := db.QueryContext(ctx, `SELECT file_path FROM vault`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0

	for rows.Next() {
		var relPath string
		if err := rows.Scan(&relPath); err != nil {
			return 0, err
		}

		full := filepath.Join(vaultDir, relPath)
		if _, err := os.Stat(full); err != nil {
			n++
		}
	}

	return n, rows.Err()
}

func embeddingCoverage(ctx context.Context, db *sql.DB) (EmbeddingCoverage, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault`).Scan(&total); err != nil {
		return EmbeddingCoverage{}, err
	}

	var indexed int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_vec`).Scan(&indexed); err != nil {
		return EmbeddingCoverage{}, err
	}

	missing := total - indexed
	if missing < 0 {
		missing = 0
	}

	return EmbeddingCoverage{Indexed: indexed, Total: total, Missing: missing}, nil
}

// Persist writes st as the cached fallback snapshot next to the index
// database, via a temp-file-and-rename so a concurrent reader never
// observes a partial write.
func Persist(dataDir string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, snapshotFileName)

	return atomic.WriteFile(path, bytes.NewReader(data))
}

// LoadCached reads the last persisted snapshot, marking it Stale so callers
// can tell a fallback result from a live one.
func LoadCached(dataDir string) (Status, error) {
	path := filepath.Join(dataDir, snapshotFileName)

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return Status{}, err
	}

	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, err
	}

	st.Stale = true

	return st, nil
}
