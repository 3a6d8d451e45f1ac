package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/contextvault/vault/internal/schema"
)

type countingEmbedder struct {
	calls atomic.Int64
	vec   []float32
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls.Add(1)

	return c.vec, nil
}

func writeVaultFile(t *testing.T, dir, relPath, content string) {
	t.Helper()

	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestReindex_AddsNewFiles(t *testing.T) {
	ix := newTestIndexer(t)
	dir := t.TempDir()

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\n---\n\nbody text")

	result, err := ix.Reindex(context.Background(), dir, ReindexOptions{Mode: FullSync})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	if result.Added != 1 {
		t.Fatalf("Added=%d, want 1", result.Added)
	}
}

func TestReindex_SkipsUnchangedOnSecondRun(t *testing.T) {
	ix := newTestIndexer(t)
	dir := t.TempDir()

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\n---\n\nbody text")

	ctx := context.Background()

	if _, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync}); err != nil {
		t.Fatalf("Reindex (first): %v", err)
	}

	result, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync})
	if err != nil {
		t.Fatalf("Reindex (second): %v", err)
	}

	if result.Unchanged != 1 || result.Added != 0 {
		t.Fatalf("got %+v, want Unchanged=1 Added=0", result)
	}
}

func TestReindex_FullSyncRemovesDeletedFiles(t *testing.T) {
	ix := newTestIndexer(t)
	dir := t.TempDir()

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\n---\n\nbody text")

	ctx := context.Background()

	if _, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync}); err != nil {
		t.Fatalf("Reindex (first): %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "knowledge/insights/a.md")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	result, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync})
	if err != nil {
		t.Fatalf("Reindex (second): %v", err)
	}

	if result.Removed != 1 {
		t.Fatalf("Removed=%d, want 1", result.Removed)
	}
}

func TestReindex_IgnoresWellKnownFiles(t *testing.T) {
	ix := newTestIndexer(t)
	dir := t.TempDir()

	writeVaultFile(t, dir, "README.md", "not an entry")
	writeVaultFile(t, dir, "_archive/old.md", "---\nid: x\n---\nbody")

	result, err := ix.Reindex(context.Background(), dir, ReindexOptions{Mode: FullSync})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	if result.Added != 0 {
		t.Fatalf("Added=%d, want 0 (ignored files should not be indexed)", result.Added)
	}
}

func TestReindex_DerivesFolderAndKeepsFlatMetaKeys(t *testing.T) {
	ix := newTestIndexer(t)
	dir := t.TempDir()

	writeVaultFile(t, dir, "knowledge/insights/a.md",
		"---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\npriority: high\n---\n\nbody text")

	if _, err := ix.Reindex(context.Background(), dir, ReindexOptions{Mode: FullSync}); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	var metaJSON string
	if err := ix.db.QueryRowContext(context.Background(), `SELECT meta FROM vault WHERE id = ?`, "01AAAAAAAAAAAAAAAAAAAAAAAA").Scan(&metaJSON); err != nil {
		t.Fatalf("query meta: %v", err)
	}

	if !strings.Contains(metaJSON, `"folder":"knowledge/insights"`) {
		t.Fatalf("meta=%q, want derived folder key", metaJSON)
	}

	if !strings.Contains(metaJSON, `"priority":"high"`) {
		t.Fatalf("meta=%q, want flat scalar meta key preserved", metaJSON)
	}
}

func TestReindex_ToleratesDuplicateFrontmatterID(t *testing.T) {
	ix := newTestIndexer(t)
	dir := t.TempDir()

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01DUPEDUPEDUPEDUPEDUPEDUPE\ncreated: 2024-01-01T00:00:00Z\n---\n\nfirst copy")
	writeVaultFile(t, dir, "knowledge/insights/b.md", "---\nid: 01DUPEDUPEDUPEDUPEDUPEDUPE\ncreated: 2024-01-01T00:00:00Z\n---\n\nsecond copy")

	result, err := ix.Reindex(context.Background(), dir, ReindexOptions{Mode: FullSync})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	if result.Added != 2 {
		t.Fatalf("Added=%d, want 2 (both files counted even though one is tolerated, not indexed)", result.Added)
	}

	var count int
	if err := ix.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM vault WHERE id = ?`, "01DUPEDUPEDUPEDUPEDUPEDUPE").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}

	if count != 1 {
		t.Fatalf("count=%d, want 1 (the duplicate id must not abort the whole reindex)", count)
	}
}

func TestReindex_OnlyReembedsOnTitleOrBodyChange(t *testing.T) {
	emb := &countingEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}}

	db, err := schema.Open(context.Background(), ":memory:", 4)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	ix := New(db, emb, nil)

	dir := t.TempDir()

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\n---\n\nbody text")

	ctx := context.Background()

	if _, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync}); err != nil {
		t.Fatalf("Reindex (first): %v", err)
	}

	if got := emb.calls.Load(); got != 1 {
		t.Fatalf("embed calls after first reindex=%d, want 1", got)
	}

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\ntags: [x]\n---\n\nbody text")

	if _, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync}); err != nil {
		t.Fatalf("Reindex (second, tags only): %v", err)
	}

	if got := emb.calls.Load(); got != 1 {
		t.Fatalf("embed calls after tags-only change=%d, want 1 (no re-embed)", got)
	}

	writeVaultFile(t, dir, "knowledge/insights/a.md", "---\nid: 01AAAAAAAAAAAAAAAAAAAAAAAA\ncreated: 2024-01-01T00:00:00Z\ntags: [x]\n---\n\nchanged body text")

	if _, err := ix.Reindex(ctx, dir, ReindexOptions{Mode: FullSync}); err != nil {
		t.Fatalf("Reindex (third, body changed): %v", err)
	}

	if got := emb.calls.Load(); got != 2 {
		t.Fatalf("embed calls after body change=%d, want 2 (re-embed on body change)", got)
	}
}
