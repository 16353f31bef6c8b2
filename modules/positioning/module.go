// Package positioning derives positioning fields from answers, the market
// study and the latest identity synthesis. Results merge into the existing
// positionnement document rather than replacing it.
package positioning

import (
	"context"
	"strings"

	"brandforge/internal/module"
	"brandforge/internal/schema"
)

type Module struct{}

func (m *Module) Register(r *module.Registry) error {
	return r.Register(&module.Handler{
		Descriptor: module.Descriptor{
			ID:          "positioning",
			Name:        "Positioning draft",
			Description: "Drafts positioning statement, differentiators and competitor list.",
			Category:    module.CategoryDeduce,
			Inputs: []module.InputSource{
				{Kind: module.InputAnswers, Keys: []string{"cible", "benefice", "differenciateurs", "categorie"}},
				{Kind: module.InputBrandFields, Keys: []string{"name", "sector"}},
				{Kind: module.InputStudy},
				{Kind: module.InputModuleOutput, ModuleID: "identity-synth"},
			},
			Outputs: []module.OutputTarget{
				{Slot: schema.SlotPositionnement, Strategy: module.MergeMerge},
			},
			OutputSchema: schema.Object(map[string]*schema.Spec{
				"statement":        schema.String(""),
				"categorie":        schema.String(""),
				"cible_resume":     schema.String(""),
				"benefice_cle":     schema.String(""),
				"differenciateurs": schema.Strings(),
				"concurrents": schema.Array(schema.Object(map[string]*schema.Spec{
					"nom":            schema.String(""),
					"positionnement": schema.String(""),
					"forces":         schema.Strings(),
					"faiblesses":     schema.Strings(),
				})),
			}),
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
	sector, _ := ec.Inputs["sector"].(string)

	categorie := get("categorie")
	if categorie == "" {
		categorie = sector
	}
	cible := get("cible")
	benefice := get("benefice")

	var statement strings.Builder
	statement.WriteString("Pour ")
	statement.WriteString(orDefault(cible, "sa cible"))
	statement.WriteString(", ")
	statement.WriteString(orDefault(name, "la marque"))
	if categorie != "" {
		statement.WriteString(" est la référence " + categorie)
	}
	if benefice != "" {
		statement.WriteString(" qui apporte " + benefice)
	}
	statement.WriteString(".")

	data := map[string]any{
		"statement":        statement.String(),
		"categorie":        categorie,
		"cible_resume":     cible,
		"benefice_cle":     benefice,
		"differenciateurs": splitList(get("differenciateurs")),
		"concurrents":      competitorsFromStudy(ec.Inputs["study"]),
	}
	return module.Result{Success: true, Data: data}, nil
}

// competitorsFromStudy projects the market study's competitor entries into
// the positionnement shape. The study is owned outside this core; anything
// unreadable collapses to an empty list.
func competitorsFromStudy(study any) []any {
	m, ok := study.(map[string]any)
	if !ok {
		return []any{}
	}
	raw, ok := m["concurrents"].([]any)
	if !ok {
		return []any{}
	}
	out := make([]any, 0, len(raw))
	for _, entry := range raw {
		em, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		nom, _ := em["nom"].(string)
		pos, _ := em["positionnement"].(string)
		out = append(out, map[string]any{
			"nom":            nom,
			"positionnement": pos,
			"forces":         anyList(em["forces"]),
			"faiblesses":     anyList(em["faiblesses"]),
		})
	}
	return out
}

func anyList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
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

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
