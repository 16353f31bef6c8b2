package module_test

import (
	"reflect"
	"testing"

	"brandforge/internal/module"
)

func TestMergeReplace(t *testing.T) {
	got := module.Merge(module.MergeReplace, []any{"a"}, "b")
	if got != "b" {
		t.Fatalf("replace: %v", got)
	}
}

func TestMergeAppendArrays(t *testing.T) {
	got := module.Merge(module.MergeAppend, []any{"a"}, []any{"b", "c"})
	if !reflect.DeepEqual(got, []any{"a", "b", "c"}) {
		t.Fatalf("append arrays: %v", got)
	}
}

func TestMergeAppendStrings(t *testing.T) {
	if got := module.Merge(module.MergeAppend, "first", "second"); got != "first\nsecond" {
		t.Fatalf("append strings: %v", got)
	}
	if got := module.Merge(module.MergeAppend, "", "second"); got != "second" {
		t.Fatalf("append to empty string: %v", got)
	}
}

func TestMergeAppendMixedDegradesToReplace(t *testing.T) {
	if got := module.Merge(module.MergeAppend, []any{"a"}, "b"); got != "b" {
		t.Fatalf("mixed append: %v", got)
	}
	if got := module.Merge(module.MergeAppend, 1.0, 2.0); got != 2.0 {
		t.Fatalf("numeric append: %v", got)
	}
}

func TestMergeMergeMaps(t *testing.T) {
	existing := map[string]any{"keep": "old", "clash": "old"}
	incoming := map[string]any{"clash": "new", "add": "new"}
	got, ok := module.Merge(module.MergeMerge, existing, incoming).(map[string]any)
	if !ok {
		t.Fatal("merge should produce a map")
	}
	want := map[string]any{"keep": "old", "clash": "new", "add": "new"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merge maps: %v", got)
	}
	// Inputs are not mutated.
	if existing["clash"] != "old" {
		t.Fatal("existing map mutated")
	}
}

func TestMergeMergeNonMapsDegradesToReplace(t *testing.T) {
	if got := module.Merge(module.MergeMerge, map[string]any{"a": 1}, "x"); got != "x" {
		t.Fatalf("merge with non-map: %v", got)
	}
}

func TestGetPath(t *testing.T) {
	doc := map[string]any{
		"scores": map[string]any{"clarte": 80.0},
	}
	if v, ok := module.GetPath(doc, "scores.clarte"); !ok || v != 80.0 {
		t.Fatalf("GetPath: %v %v", v, ok)
	}
	if _, ok := module.GetPath(doc, "scores.missing"); ok {
		t.Fatal("missing path should not resolve")
	}
	if v, ok := module.GetPath(doc, ""); !ok || !reflect.DeepEqual(v, doc) {
		t.Fatal("empty path should return the document")
	}
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	doc := map[string]any{}
	module.SetPath(doc, "a.b.c", 1.0)
	if v, ok := module.GetPath(doc, "a.b.c"); !ok || v != 1.0 {
		t.Fatalf("SetPath: %v %v", v, ok)
	}
	// Overwriting a scalar intermediate replaces it with an object.
	module.SetPath(doc, "a.b.c.d", 2.0)
	if v, ok := module.GetPath(doc, "a.b.c.d"); !ok || v != 2.0 {
		t.Fatalf("SetPath through scalar: %v %v", v, ok)
	}
}
