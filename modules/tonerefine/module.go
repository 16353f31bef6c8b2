// Package tonerefine asks the text-generation collaborator for a refined
// tone-of-voice document. The returned text is never trusted: it goes
// through the generated-content parser, which always yields a usable
// document even for malformed output.
package tonerefine

import (
	"context"
	"fmt"

	"brandforge/internal/content"
	"brandforge/internal/module"
	"brandforge/internal/schema"
)

type Module struct{}

func (m *Module) Register(r *module.Registry) error {
	return r.Register(&module.Handler{
		Descriptor: module.Descriptor{
			ID:          "tone-refine",
			Name:        "Tone refinement",
			Description: "Refines the tone-of-voice document via the generation service.",
			Category:    module.CategoryRefine,
			Inputs: []module.InputSource{
				{Kind: module.InputSlot, Slot: schema.SlotTonalite},
				{Kind: module.InputSlot, Slot: schema.SlotIdentite, Path: "archetype"},
				{Kind: module.InputAnswers, Keys: []string{"ton", "vocabulaire"}},
			},
			Outputs: []module.OutputTarget{
				{Slot: schema.SlotTonalite, Strategy: module.MergeReplace},
			},
			OutputSchema: schema.For(schema.SlotTonalite),
		},
		Execute: execute,
	})
}

func execute(ctx context.Context, ec module.ExecContext) (module.Result, error) {
	if ec.Gen == nil {
		return module.Result{Error: "no generation service configured"}, nil
	}
	archetype, _ := ec.Inputs["slot_identite_archetype"].(string)
	prompt := fmt.Sprintf("archetype=%s", archetype)
	text, err := ec.Gen.Generate(ctx, string(schema.SlotTonalite), prompt)
	if err != nil {
		return module.Result{}, fmt.Errorf("generate tone: %w", err)
	}
	res := content.ParseGenerated(schema.SlotTonalite, text)
	if !res.Success && ec.Logger != nil {
		ec.Logger.Warn("generated tone content needed repair", "error", res.Err, "issues", res.Issues)
	}
	// Keep the current document's fields the generator left empty.
	current, _ := ec.Inputs["slot_tonalite"].(map[string]any)
	doc := res.Doc
	for key, value := range current {
		if empty(doc[key]) && !empty(value) {
			doc[key] = value
		}
	}
	return module.Result{Success: true, Data: doc}, nil
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}
