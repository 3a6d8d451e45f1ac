package frontmatter

import (
	"strings"
	"testing"

	"github.com/contextvault/vault/internal/vaulterr"
)

func TestParse_ScalarsAndLists(t *testing.T) {
	input := `---
id: 01HQZX8N3K7VQJ5T8R2M9W4P6S
tags: [bug, urgent]
source: cli
created: 2024-03-01T10:00:00Z
---

the body text
spans lines`

	fm, body, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, _ := fm.GetString("id"); got != "01HQZX8N3K7VQJ5T8R2M9W4P6S" {
		t.Errorf("id=%q", got)
	}

	if got, _ := fm.GetList("tags"); len(got) != 2 || got[0] != "bug" || got[1] != "urgent" {
		t.Errorf("tags=%v", got)
	}

	wantBody := "the body text\nspans lines"
	if body != wantBody {
		t.Errorf("body=%q, want=%q", body, wantBody)
	}
}

func TestParse_EmptyList(t *testing.T) {
	input := "---\ntags: []\n---\nbody"

	fm, _, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got, ok := fm.GetList("tags")
	if !ok {
		t.Fatal("expected tags list present")
	}

	if len(got) != 0 {
		t.Errorf("tags=%v, want empty", got)
	}
}

func TestParse_QuotedValue(t *testing.T) {
	input := `---
title: "a: title with colon"
---
body`

	fm, _, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, _ := fm.GetString("title"); got != "a: title with colon" {
		t.Errorf("title=%q", got)
	}
}

func TestParse_MissingOpenDelimiter(t *testing.T) {
	_, _, err := Parse([]byte("id: abc\n---\nbody"))
	if vaulterr.KindOf(err) != vaulterr.MalformedEntry {
		t.Fatalf("expected MalformedEntry, got %v", err)
	}
}

func TestParse_MissingCloseDelimiter(t *testing.T) {
	_, _, err := Parse([]byte("---\nid: abc\nbody"))
	if vaulterr.KindOf(err) != vaulterr.MalformedEntry {
		t.Fatalf("expected MalformedEntry, got %v", err)
	}
}

func TestParse_MalformedField(t *testing.T) {
	_, _, err := Parse([]byte("---\nnotakeyvaluepair\n---\nbody"))
	if vaulterr.KindOf(err) != vaulterr.MalformedEntry {
		t.Fatalf("expected MalformedEntry, got %v", err)
	}
}

func TestFormat_RoundTrips(t *testing.T) {
	fm := New()
	fm.Set("id", "abc123")
	fm.SetList("tags", []string{"bug", "urgent"})
	fm.Set("source", "cli")

	out := Format(fm, "body text")

	fm2, body, err := Parse([]byte(out))
	if err != nil {
		t.Fatalf("Parse(Format(...)): %v", err)
	}

	if got, _ := fm2.GetString("id"); got != "abc123" {
		t.Errorf("id=%q", got)
	}

	if got, _ := fm2.GetList("tags"); len(got) != 2 {
		t.Errorf("tags=%v", got)
	}

	if body != "body text" {
		t.Errorf("body=%q", body)
	}
}

func TestFormat_QuotesValuesWithColon(t *testing.T) {
	fm := New()
	fm.Set("title", "note: with colon")

	out := Format(fm, "")
	if !strings.Contains(out, `title: "note: with colon"`) {
		t.Errorf("output missing quoted title: %q", out)
	}
}
