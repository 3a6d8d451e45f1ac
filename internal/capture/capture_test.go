package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/vaultfs"
	"github.com/contextvault/vault/internal/vaulterr"
)

func newWriteCtx(t *testing.T) WriteCtx {
	t.Helper()

	return WriteCtx{VaultDir: t.TempDir(), FS: vaultfs.NewReal()}
}

func TestWriteEntry_InsightWritesNestedPath(t *testing.T) {
	wctx := newWriteCtx(t)

	e, err := WriteEntry(wctx, Input{Kind: "insight", Title: "Hybrid search wins", Body: "content here"})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	want := "knowledge/insights/hybrid-search-wins.md"
	if e.FilePath != want {
		t.Fatalf("FilePath=%q, want=%q", e.FilePath, want)
	}

	if _, err := os.Stat(filepath.Join(wctx.VaultDir, want)); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestWriteEntry_EntityRequiresIdentityKey(t *testing.T) {
	wctx := newWriteCtx(t)

	_, err := WriteEntry(wctx, Input{Kind: "contact", Title: "Ada", Body: "notes"})
	if vaulterr.KindOf(err) != vaulterr.MissingIdentityKey {
		t.Fatalf("expected MissingIdentityKey, got %v", err)
	}
}

func TestWriteEntry_EntityRecapturePreservesID(t *testing.T) {
	wctx := newWriteCtx(t)

	first, err := WriteEntry(wctx, Input{Kind: "contact", Title: "Ada", Body: "v1", IdentityKey: "ada-lovelace"})
	if err != nil {
		t.Fatalf("WriteEntry (first): %v", err)
	}

	second, err := WriteEntry(wctx, Input{Kind: "contact", Title: "Ada", Body: "v2", IdentityKey: "ada-lovelace"})
	if err != nil {
		t.Fatalf("WriteEntry (second): %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("ID changed across re-capture: %q != %q", second.ID, first.ID)
	}

	if second.FilePath != first.FilePath {
		t.Fatalf("FilePath changed across re-capture: %q != %q", second.FilePath, first.FilePath)
	}
}

func TestWriteEntry_RejectsEmptyBody(t *testing.T) {
	wctx := newWriteCtx(t)

	_, err := WriteEntry(wctx, Input{Kind: "note", Body: "   "})
	if vaulterr.KindOf(err) != vaulterr.InvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestWriteEntry_TitleFallsBackToFirstHeading(t *testing.T) {
	wctx := newWriteCtx(t)

	e, err := WriteEntry(wctx, Input{Kind: "note", Body: "# My Heading\n\nbody text"})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	if e.Title != "My Heading" {
		t.Fatalf("Title=%q, want=%q", e.Title, "My Heading")
	}
}

type fakeIndexer struct {
	fail bool
}

func (f fakeIndexer) IndexEntry(_ context.Context, _ entry.Entry) error {
	if f.fail {
		return vaulterr.New(vaulterr.IoError)
	}

	return nil
}

func TestCaptureAndIndex_RollsBackFileOnIndexFailure(t *testing.T) {
	wctx := newWriteCtx(t)

	_, err := CaptureAndIndex(context.Background(), wctx, Input{Kind: "insight", Title: "will fail", Body: "x"}, fakeIndexer{fail: true})
	if vaulterr.KindOf(err) != vaulterr.CaptureRolledBack {
		t.Fatalf("expected CaptureRolledBack, got %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(wctx.VaultDir, "knowledge/insights/will-fail.md")); !os.IsNotExist(statErr) {
		t.Fatalf("expected file to be removed after rollback, stat err=%v", statErr)
	}
}

func TestCaptureAndIndex_RestoresPriorContentsOnEntityUpsertFailure(t *testing.T) {
	wctx := newWriteCtx(t)

	first, err := CaptureAndIndex(context.Background(), wctx, Input{Kind: "contact", Title: "Ada", Body: "v1", IdentityKey: "ada-lovelace"}, fakeIndexer{})
	if err != nil {
		t.Fatalf("CaptureAndIndex (first): %v", err)
	}

	path := filepath.Join(wctx.VaultDir, first.FilePath)

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read first write: %v", err)
	}

	_, err = CaptureAndIndex(context.Background(), wctx, Input{Kind: "contact", Title: "Ada", Body: "v2 will fail", IdentityKey: "ada-lovelace"}, fakeIndexer{fail: true})
	if vaulterr.KindOf(err) != vaulterr.CaptureRolledBack {
		t.Fatalf("expected CaptureRolledBack, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after rollback: %v", err)
	}

	if string(after) != string(before) {
		t.Fatalf("rollback did not restore prior contents:\nbefore=%q\nafter=%q", before, after)
	}
}

func TestWriteEntry_PersistsMetaAsFlatScalarKeysExcludingFolder(t *testing.T) {
	wctx := newWriteCtx(t)

	e, err := WriteEntry(wctx, Input{Kind: "insight", Title: "t", Body: "b", Meta: map[string]string{"priority": "high"}})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(wctx.VaultDir, e.FilePath))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	content := string(raw)
	if !strings.Contains(content, "priority: high") {
		t.Fatalf("content=%q, want flat priority field", content)
	}

	if strings.Contains(content, "folder:") {
		t.Fatalf("content=%q, folder must never be persisted to frontmatter", content)
	}

	if e.Meta["folder"] != "knowledge/insights" {
		t.Fatalf("Meta[folder]=%q, want derived folder", e.Meta["folder"])
	}
}

func TestUpdateEntryFile_RoundTripsMetaAndDerivesFolder(t *testing.T) {
	wctx := newWriteCtx(t)

	e, err := WriteEntry(wctx, Input{Kind: "insight", Title: "t", Body: "b", Meta: map[string]string{"priority": "high"}})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	updated, err := UpdateEntryFile(wctx, e.FilePath, Patch{})
	if err != nil {
		t.Fatalf("UpdateEntryFile: %v", err)
	}

	if updated.Meta["priority"] != "high" {
		t.Fatalf("Meta[priority]=%q, want %q", updated.Meta["priority"], "high")
	}

	if updated.Meta["folder"] != "knowledge/insights" {
		t.Fatalf("Meta[folder]=%q, want derived folder", updated.Meta["folder"])
	}
}

func TestCaptureAndIndex_Succeeds(t *testing.T) {
	wctx := newWriteCtx(t)

	e, err := CaptureAndIndex(context.Background(), wctx, Input{Kind: "insight", Title: "works", Body: "x"}, fakeIndexer{})
	if err != nil {
		t.Fatalf("CaptureAndIndex: %v", err)
	}

	if e.ID == "" {
		t.Fatal("expected non-empty ID")
	}
}
