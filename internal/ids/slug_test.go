package ids

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hybrid search wins", "hybrid-search-wins"},
		{"  leading and trailing  ", "leading-and-trailing"},
		{"multiple---dashes", "multiple-dashes"},
		{"Ada Lovelace!!", "ada-lovelace"},
		{"stripe", "stripe"},
		{"", ""},
		{"!!!", ""},
		{"CamelCase123", "camelcase123"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q)=%q, want=%q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_TruncatesTo80(t *testing.T) {
	in := strings.Repeat("a", 200)

	got := Slugify(in)
	if len(got) > maxSlugLen {
		t.Fatalf("len(got)=%d, want<=%d", len(got), maxSlugLen)
	}
}

func TestSlugify_NoTrailingDashAfterTruncation(t *testing.T) {
	in := strings.Repeat("a", 79) + "-" + strings.Repeat("b", 10)

	got := Slugify(in)
	if strings.HasSuffix(got, "-") {
		t.Fatalf("Slugify(%q)=%q, should not end in dash", in, got)
	}
}
