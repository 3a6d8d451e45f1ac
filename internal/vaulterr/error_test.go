package vaulterr

import (
	"errors"
	"testing"
)

func TestError_Format(t *testing.T) {
	err := Wrap(errors.New("permission denied"), IoError, WithEntryID("abc123"), WithPath("knowledge/insights/foo.md"))

	want := "permission denied (kind=io_error entry_id=abc123 path=knowledge/insights/foo.md)"
	if got := err.Error(); got != want {
		t.Fatalf("Error()=%q, want=%q", got, want)
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if err := Wrap(nil, IoError); err != nil {
		t.Fatalf("Wrap(nil, ...)=%v, want nil", err)
	}
}

func TestWrap_DoesNotDoubleWrap(t *testing.T) {
	inner := Wrap(errors.New("boom"), NotFound, WithEntryID("id1"))
	outer := Wrap(inner, "")

	var e *Error
	if !errors.As(outer, &e) {
		t.Fatal("expected *Error")
	}

	if e.EntryID != "id1" || e.Kind != NotFound {
		t.Fatalf("expected inherited fields, got %+v", e)
	}
}

func TestWrap_OverridesInheritedContext(t *testing.T) {
	inner := Wrap(errors.New("boom"), NotFound, WithEntryID("old"))
	outer := Wrap(inner, NotFound, WithEntryID("new"))

	var e *Error
	if !errors.As(outer, &e) {
		t.Fatal("expected *Error")
	}

	if e.EntryID != "new" {
		t.Fatalf("EntryID=%q, want=new", e.EntryID)
	}
}

func TestKindOf(t *testing.T) {
	err := New(PathEscape, WithPath("../escape.md"))
	if got := KindOf(err); got != PathEscape {
		t.Fatalf("KindOf=%q, want=%q", got, PathEscape)
	}

	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("KindOf(plain)=%q, want empty", got)
	}
}

func TestErrors_Is_MatchesByKind(t *testing.T) {
	sentinel := New(NotFound)
	actual := Wrap(errors.New("no row"), NotFound, WithEntryID("id1"))

	if !errors.Is(actual, sentinel) {
		t.Fatal("expected errors.Is to match on Kind")
	}

	other := New(InvalidInput)
	if errors.Is(actual, other) {
		t.Fatal("expected errors.Is to not match different Kind")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, IoError)

	if got := errors.Unwrap(err); !errors.Is(got, cause) {
		t.Fatalf("Unwrap=%v, want=%v", got, cause)
	}
}
