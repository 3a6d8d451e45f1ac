package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/contextvault/vault/internal/schema"
)

func TestGather_ReportsFileAndRowCounts(t *testing.T) {
	ctx := context.Background()
	vaultDir := t.TempDir()
	dataDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(vaultDir, "knowledge", "insights"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := os.WriteFile(filepath.Join(vaultDir, "knowledge", "insights", "a.md"), []byte("---\nid: x\n---\nbody"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	db, err := schema.Open(ctx, dbPath, 4)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO vault (id, kind, category, title, body, tags, meta, source,
		                    identity_key, expires_at, file_path, created_at)
		VALUES ('e1', 'insight', 'knowledge', 't', 'b', '[]', '{}', '', '', NULL, 'knowledge/insights/a.md', 0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	st, err := Gather(ctx, db, vaultDir, dbPath, "default")
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	if !st.Exists {
		t.Fatal("expected Exists=true")
	}

	if st.FileCounts["knowledge"] != 1 {
		t.Fatalf("FileCounts[knowledge]=%d, want 1", st.FileCounts["knowledge"])
	}

	if st.KindCounts["insight"] != 1 {
		t.Fatalf("KindCounts[insight]=%d, want 1", st.KindCounts["insight"])
	}

	if st.Embeddings.Total != 1 || st.Embeddings.Indexed != 0 || st.Embeddings.Missing != 1 {
		t.Fatalf("unexpected coverage: %+v", st.Embeddings)
	}
}

func TestPersistAndLoadCached_RoundTripsMarkingStale(t *testing.T) {
	dataDir := t.TempDir()

	st := Status{VaultPath: "/tmp/vault", Exists: true}

	if err := Persist(dataDir, st); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, err := LoadCached(dataDir)
	if err != nil {
		t.Fatalf("LoadCached: %v", err)
	}

	if !loaded.Stale {
		t.Fatal("expected loaded snapshot to be marked Stale")
	}

	if loaded.VaultPath != "/tmp/vault" {
		t.Fatalf("VaultPath=%q, want /tmp/vault", loaded.VaultPath)
	}
}

func TestGather_StalePathCountsMissingFiles(t *testing.T) {
	ctx := context.Background()
	vaultDir := t.TempDir()
	dataDir := t.TempDir()
	dbPath := filepath.Join(dataDir, "index.db")

	db, err := schema.Open(ctx, dbPath, 4)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO vault (id, kind, category, title, body, tags, meta, source,
		                    identity_key, expires_at, file_path, created_at)
		VALUES ('e1', 'insight', 'knowledge', 't', 'b', '[]', '{}', '', '', NULL, 'gone.md', 0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	st, err := Gather(ctx, db, vaultDir, dbPath, "default")
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	if st.StalePathCount != 1 {
		t.Fatalf("StalePathCount=%d, want 1", st.StalePathCount)
	}
}
