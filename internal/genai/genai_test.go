package genai_test

import (
	"context"
	"testing"

	"brandforge/internal/content"
	"brandforge/internal/genai"
	"brandforge/internal/schema"
)

func TestStaticProviderServesParsableTone(t *testing.T) {
	gen := genai.ForProvider("static")
	text, err := gen.Generate(context.Background(), string(schema.SlotTonalite), "archetype=createur")
	if err != nil {
		t.Fatal(err)
	}
	res := content.ParseGenerated(schema.SlotTonalite, text)
	if !res.Success {
		t.Fatalf("canned tone document should parse cleanly: %s %v", res.Err, res.Issues)
	}
	if res.Doc["registre"] != "inspirant" {
		t.Fatalf("registre = %v", res.Doc["registre"])
	}
	if traits, ok := res.Doc["traits"].([]any); !ok || len(traits) == 0 {
		t.Fatalf("traits = %v", res.Doc["traits"])
	}
}

func TestStaticProviderFallsBackToEmptyDoc(t *testing.T) {
	gen := genai.ForProvider("static")
	text, err := gen.Generate(context.Background(), string(schema.SlotIdentite), "")
	if err != nil {
		t.Fatal(err)
	}
	if text != "{}" {
		t.Fatalf("unknown slot should get an empty object, got %q", text)
	}
}

func TestUnknownProviderIsNone(t *testing.T) {
	gen := genai.ForProvider("does-not-exist")
	text, err := gen.Generate(context.Background(), string(schema.SlotTonalite), "")
	if err != nil || text != "" {
		t.Fatalf("none generator: %q %v", text, err)
	}
}
