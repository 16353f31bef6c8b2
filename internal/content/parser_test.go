package content_test

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"brandforge/internal/content"
	"brandforge/internal/schema"
)

func TestParseStoredNil(t *testing.T) {
	res := content.ParseStored(schema.SlotIdentite, nil)
	if res.Success {
		t.Fatal("nil content cannot be a success")
	}
	if res.Err != "Content is null" {
		t.Fatalf("err: %q", res.Err)
	}
	if !reflect.DeepEqual(res.Doc, schema.Defaults(schema.SlotIdentite)) {
		t.Fatal("nil content should yield the default skeleton")
	}
}

func TestParseStoredLegacyString(t *testing.T) {
	raw := "une identité écrite à la main, pas du JSON"
	res := content.ParseStored(schema.SlotIdentite, &raw)
	if res.Success {
		t.Fatal("legacy string cannot be a success")
	}
	if !strings.Contains(res.Err, "legacy string") {
		t.Fatalf("err: %q", res.Err)
	}
	if !reflect.DeepEqual(res.Doc, schema.Defaults(schema.SlotIdentite)) {
		t.Fatal("legacy string should yield the default skeleton")
	}
}

func TestParseStoredCleanJSON(t *testing.T) {
	doc := schema.Defaults(schema.SlotIdentite)
	doc["mission"] = "exister"
	payload, _ := json.Marshal(doc)
	raw := string(payload)
	res := content.ParseStored(schema.SlotIdentite, &raw)
	if !res.Success || res.Err != "" {
		t.Fatalf("clean content should succeed: %+v", res)
	}
	if res.Doc["mission"] != "exister" {
		t.Fatalf("mission: %v", res.Doc["mission"])
	}
}

func TestParseStoredCoercionTier(t *testing.T) {
	raw := `{"mission": 7, "score_coherence": "8"}`
	res := content.ParseStored(schema.SlotIdentite, &raw)
	if res.Success {
		t.Fatal("repaired content is not a success")
	}
	if res.Doc["mission"] != "7" || res.Doc["score_coherence"] != 8.0 {
		t.Fatalf("coercion tier: %v %v", res.Doc["mission"], res.Doc["score_coherence"])
	}
	if len(res.Issues) == 0 {
		t.Fatal("repairs must be recorded as issues")
	}
}

func TestParseStoredSalvageTier(t *testing.T) {
	// valeurs as a string is a container mismatch, which fails coercion and
	// lands in deep-merge salvage.
	raw := `{"mission": "garder", "valeurs": "oops"}`
	res := content.ParseStored(schema.SlotIdentite, &raw)
	if res.Success {
		t.Fatal("salvaged content is not a success")
	}
	if !strings.Contains(res.Err, "salvaged") {
		t.Fatalf("err: %q", res.Err)
	}
	if res.Doc["mission"] != "garder" {
		t.Fatalf("good field should survive salvage: %v", res.Doc["mission"])
	}
	if arr, ok := res.Doc["valeurs"].([]any); !ok || len(arr) != 0 {
		t.Fatalf("bad field should default: %v", res.Doc["valeurs"])
	}
}

func TestParseStoredNonObjectJSON(t *testing.T) {
	raw := `[1,2,3]`
	res := content.ParseStored(schema.SlotIdentite, &raw)
	if res.Success {
		t.Fatal("array content is not a success")
	}
	if !reflect.DeepEqual(res.Doc, schema.Defaults(schema.SlotIdentite)) {
		t.Fatal("non-object content should yield the default skeleton")
	}
}

func TestParseGeneratedFenceEquivalence(t *testing.T) {
	payload := `{"mission": "dire vrai"}`
	plain := content.ParseGenerated(schema.SlotIdentite, payload)
	fenced := content.ParseGenerated(schema.SlotIdentite, "```json\n"+payload+"\n```")
	if !reflect.DeepEqual(plain.Doc, fenced.Doc) {
		t.Fatal("fenced and unfenced input must parse identically")
	}
	if plain.Doc["mission"] != "dire vrai" {
		t.Fatalf("mission: %v", plain.Doc["mission"])
	}
}

func TestParseGeneratedGarbage(t *testing.T) {
	res := content.ParseGenerated(schema.SlotTonalite, "Voici le document demandé :")
	if res.Success {
		t.Fatal("garbage cannot succeed")
	}
	if !strings.Contains(res.Err, "JSON parse failed") {
		t.Fatalf("err: %q", res.Err)
	}
	if !reflect.DeepEqual(res.Doc, schema.Defaults(schema.SlotTonalite)) {
		t.Fatal("garbage should yield the default skeleton")
	}
}

func TestStripFence(t *testing.T) {
	cases := []struct{ in, want string }{
		{"no fence here", "no fence here"},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := content.StripFence(c.in); got != c.want {
			t.Errorf("StripFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateForSave(t *testing.T) {
	// Legacy plain strings are exempt.
	if ok, _ := content.ValidateForSave(schema.SlotIdentite, "pas du JSON"); !ok {
		t.Fatal("legacy string should pass write validation")
	}
	// Clean content passes.
	doc := schema.Defaults(schema.SlotAuditR)
	payload, _ := json.Marshal(doc)
	if ok, issues := content.ValidateForSave(schema.SlotAuditR, string(payload)); !ok {
		t.Fatalf("clean content should pass: %v", issues)
	}
	// Typed JSON with a mismatch does not.
	if ok, issues := content.ValidateForSave(schema.SlotAuditR, `{"score_global": "high"}`); ok || len(issues) == 0 {
		t.Fatal("mismatched JSON should fail write validation")
	}
}
