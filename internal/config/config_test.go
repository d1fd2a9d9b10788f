package config

import "testing"

func TestMergeOverride_ScalarOverwritesLeaveOriginalUntouched(t *testing.T) {
	base := New(map[string]any{"llm_model": "a", "nested": map[string]any{"x": float64(1), "y": float64(2)}})

	merged := base.MergeOverride(map[string]any{"llm_model": "b", "nested": map[string]any{"x": float64(9)}})

	if got := merged.String("llm_model", ""); got != "b" {
		t.Fatalf("expected override to win, got %q", got)
	}
	if got := base.String("llm_model", ""); got != "a" {
		t.Fatalf("expected base tree untouched, got %q", got)
	}
	if got := merged.Int("nested.x", 0); got != 9 {
		t.Fatalf("expected nested.x overwritten to 9, got %d", got)
	}
	if got := merged.Int("nested.y", 0); got != 2 {
		t.Fatalf("expected nested.y to survive the merge untouched, got %d", got)
	}
	if got := base.Int("nested.x", 0); got != 1 {
		t.Fatalf("expected base nested.x untouched, got %d", got)
	}
}

func TestMergeOverride_NilOverrideIsIdentity(t *testing.T) {
	base := New(map[string]any{"a": "1", "b": map[string]any{"c": "2"}})
	merged := base.MergeOverride(nil)

	if got := merged.String("a", ""); got != "1" {
		t.Fatalf("expected identity merge to preserve a, got %q", got)
	}
	if got := merged.String("b.c", ""); got != "2" {
		t.Fatalf("expected identity merge to preserve b.c, got %q", got)
	}
}

func TestMergeOverride_SliceValueOverwritesWholesale(t *testing.T) {
	base := New(map[string]any{"wake_words": []any{"小智"}})
	merged := base.MergeOverride(map[string]any{"wake_words": []any{"alexa"}})

	got := merged.StringSlice("wake_words")
	if len(got) != 1 || got[0] != "alexa" {
		t.Fatalf("expected slice to be replaced wholesale, got %v", got)
	}
}

func TestClone_IsIndependentOfOriginal(t *testing.T) {
	base := New(map[string]any{"a": map[string]any{"b": "1"}})
	clone := base.Clone()

	clone.SetPath("a.b", "2")

	if got := base.String("a.b", ""); got != "1" {
		t.Fatalf("expected mutating the clone to leave the original untouched, got %q", got)
	}
	if got := clone.String("a.b", ""); got != "2" {
		t.Fatalf("expected clone to reflect its own mutation, got %q", got)
	}
}

func TestSetPath_CreatesIntermediateMaps(t *testing.T) {
	tr := New(nil)
	tr.SetPath("a.b.c", "deep")

	if got := tr.String("a.b.c", ""); got != "deep" {
		t.Fatalf("expected a.b.c = deep, got %q", got)
	}
}

func TestGetPath_UnknownKeyIsNotOK(t *testing.T) {
	tr := New(map[string]any{"a": "1"})
	if _, ok := tr.GetPath("missing"); ok {
		t.Fatal("expected unknown top-level key to report ok=false")
	}
	if _, ok := tr.GetPath("a.nested"); ok {
		t.Fatal("expected descending into a scalar to report ok=false")
	}
}
