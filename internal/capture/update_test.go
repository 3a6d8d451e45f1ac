package capture

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/contextvault/vault/internal/vaulterr"
)

func TestUpdateEntryFile_PatchesOnlyGivenFields(t *testing.T) {
	wctx := newWriteCtx(t)

	original, err := WriteEntry(wctx, Input{Kind: "insight", Title: "original title", Body: "original body", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	newBody := "updated body"

	updated, err := UpdateEntryFile(wctx, original.FilePath, Patch{Body: &newBody})
	if err != nil {
		t.Fatalf("UpdateEntryFile: %v", err)
	}

	want := original
	want.Body = newBody
	want.MTimeNS = updated.MTimeNS
	want.SizeBytes = updated.SizeBytes

	if diff := cmp.Diff(want, updated, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Fatalf("UpdateEntryFile result mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateEntryFile_ReplacesTagsWholesale(t *testing.T) {
	wctx := newWriteCtx(t)

	original, err := WriteEntry(wctx, Input{Kind: "insight", Title: "tagged", Body: "body", Tags: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	updated, err := UpdateEntryFile(wctx, original.FilePath, Patch{Tags: []string{"c"}})
	if err != nil {
		t.Fatalf("UpdateEntryFile: %v", err)
	}

	if diff := cmp.Diff([]string{"c"}, updated.Tags); diff != "" {
		t.Fatalf("Tags mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateEntryFile_MissingFileReturnsNotFound(t *testing.T) {
	wctx := newWriteCtx(t)

	_, err := UpdateEntryFile(wctx, "knowledge/insights/missing.md", Patch{})
	if got := vaulterr.KindOf(err); got != vaulterr.NotFound {
		t.Fatalf("KindOf(err)=%q, want %q (err=%v)", got, vaulterr.NotFound, err)
	}
}
