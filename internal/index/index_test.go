package index

import (
	"context"
	"testing"
	"time"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/schema"
	"github.com/contextvault/vault/internal/vaulterr"
)

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()

	db, err := schema.Open(context.Background(), ":memory:", 4)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return New(db, fixedEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}}, nil)
}

func TestIndexEntry_InsertThenFindByPath(t *testing.T) {
	ix := newTestIndexer(t)
	ctx := context.Background()

	e := entry.Entry{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", Kind: "insight", Category: "knowledge",
		Title: "t", Body: "b", Tags: []string{}, Meta: map[string]string{},
		FilePath: "knowledge/insights/a.md", CreatedAt: time.Now(),
	}

	if err := ix.IndexEntry(ctx, e); err != nil {
		t.Fatalf("IndexEntry: %v", err)
	}

	var count int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault WHERE file_path = ?`, e.FilePath).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}

	if count != 1 {
		t.Fatalf("count=%d, want 1", count)
	}
}

func TestIndexEntry_IdentityKeyUpsertPreservesID(t *testing.T) {
	ix := newTestIndexer(t)
	ctx := context.Background()

	first := entry.Entry{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", Kind: "contact", Category: "entity",
		Title: "Ada", Body: "b", Tags: []string{}, Meta: map[string]string{},
		IdentityKey: "ada-lovelace", FilePath: "entities/contacts/ada-lovelace.md",
		CreatedAt: time.Now(),
	}

	if err := ix.IndexEntry(ctx, first); err != nil {
		t.Fatalf("IndexEntry: %v", err)
	}

	second := first
	second.Body = "updated body"

	if err := ix.IndexEntry(ctx, second); err != nil {
		t.Fatalf("IndexEntry (second): %v", err)
	}

	var count int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault WHERE kind = 'contact' AND identity_key = 'ada-lovelace'`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}

	if count != 1 {
		t.Fatalf("count=%d, want 1 (upsert by identity should not duplicate rows)", count)
	}
}

func TestDeleteEntry_NotFound(t *testing.T) {
	ix := newTestIndexer(t)

	err := ix.DeleteEntry(context.Background(), "missing")
	if vaulterr.KindOf(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound for missing id, got %v", err)
	}
}

func TestDeleteEntry_RemovesRow(t *testing.T) {
	ix := newTestIndexer(t)
	ctx := context.Background()

	e := entry.Entry{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", Kind: "note", Category: "knowledge",
		Title: "t", Body: "b", Tags: []string{}, Meta: map[string]string{},
		FilePath: "knowledge/notes/a.md", CreatedAt: time.Now(),
	}

	if err := ix.IndexEntry(ctx, e); err != nil {
		t.Fatalf("IndexEntry: %v", err)
	}

	if err := ix.DeleteEntry(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}

	var count int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault WHERE id = ?`, e.ID).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}

	if count != 0 {
		t.Fatalf("count=%d, want 0 after delete", count)
	}
}
