// Package identitysynth deduces a first identity document from the founder
// answers and the brand record.
package identitysynth

import (
	"context"
	"strings"

	"brandforge/internal/module"
	"brandforge/internal/schema"
)

// AnswerKeys are the free-form answers this module reads.
var AnswerKeys = []string{
	"mission", "vision", "valeurs", "histoire", "promesse",
	"personnalite", "preuves", "style", "tagline",
}

// archetypeHints maps answer vocabulary to the closest brand archetype.
// First hit wins; the schema fallback applies when nothing matches.
var archetypeHints = []struct {
	keyword   string
	archetype string
}{
	{"innov", "createur"},
	{"créat", "createur"},
	{"exper", "sage"},
	{"conseil", "sage"},
	{"avent", "explorateur"},
	{"défi", "heros"},
	{"transform", "magicien"},
	{"proxim", "amoureux"},
	{"protég", "protecteur"},
	{"sécur", "protecteur"},
	{"leader", "souverain"},
	{"simpl", "innocent"},
	{"disrupt", "rebelle"},
}

type Module struct{}

func (m *Module) Register(r *module.Registry) error {
	return r.Register(&module.Handler{
		Descriptor: module.Descriptor{
			ID:          "identity-synth",
			Name:        "Identity synthesis",
			Description: "Builds the identity document from answers and brand metadata.",
			Category:    module.CategoryDeduce,
			Inputs: []module.InputSource{
				{Kind: module.InputAnswers, Keys: AnswerKeys},
				{Kind: module.InputBrandFields, Keys: []string{"name", "sector"}},
			},
			Outputs: []module.OutputTarget{
				{Slot: schema.SlotIdentite, Strategy: module.MergeReplace},
			},
			OutputSchema: schema.For(schema.SlotIdentite),
		},
		Execute: execute,
	})
}

func execute(ctx context.Context, ec module.ExecContext) (module.Result, error) {
	answers, _ := ec.Inputs["answers"].(map[string]any)
	get := func(key string) string {
		s, _ := answers[key].(string)
		return strings.TrimSpace(s)
	}
	name, _ := ec.Inputs["name"].(string)

	doc := schema.Defaults(schema.SlotIdentite)
	doc["mission"] = get("mission")
	doc["vision"] = get("vision")
	doc["histoire"] = get("histoire")
	doc["promesse"] = get("promesse")
	doc["tagline"] = get("tagline")
	doc["valeurs"] = splitList(get("valeurs"))
	doc["personnalite"] = splitList(get("personnalite"))
	doc["preuves"] = splitList(get("preuves"))
	doc["style_keywords"] = splitList(get("style"))
	doc["essence"] = name

	corpus := strings.ToLower(get("mission") + " " + get("vision") + " " + get("personnalite"))
	for _, hint := range archetypeHints {
		if strings.Contains(corpus, hint.keyword) {
			doc["archetype"] = hint.archetype
			break
		}
	}
	return module.Result{Success: true, Data: doc}, nil
}

func splitList(s string) []any {
	if s == "" {
		return []any{}
	}
	var out []any
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
