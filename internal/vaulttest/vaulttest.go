// Package vaulttest provides a ready-to-use vault for tests that exercise
// more than one package together (capture, index, retrieve, and status all
// backed by the same on-disk vault and temp-file index).
package vaulttest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/contextvault/vault/internal/config"
	"github.com/contextvault/vault/internal/embed"
	"github.com/contextvault/vault/internal/index"
	"github.com/contextvault/vault/internal/operations"
	"github.com/contextvault/vault/internal/schema"
	"github.com/contextvault/vault/internal/vaultfs"
)

// New opens an Engine backed by a fresh temp-dir vault and a SQLite index
// file in the same temp dir, using the deterministic Local embedder so tests never
// depend on network access.
func New(t *testing.T) *operations.Engine {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Config{
		VaultDir:     filepath.Join(dir, "vault"),
		DataDir:      filepath.Join(dir, "data"),
		DBPath:       filepath.Join(dir, "data", "index.db"),
		VaultDirFrom: "test",
		DataDirFrom:  "test",
	}

	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		t.Fatalf("vaulttest: create data dir: %v", err)
	}

	db, err := schema.Open(ctx, cfg.DBPath, embed.Dims)
	if err != nil {
		t.Fatalf("vaulttest: schema.Open: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	emb := embed.NewLocal()
	ix := index.New(db, emb, nil)

	return operations.NewEngine(cfg, vaultfs.NewReal(), db, ix, emb, nil)
}
