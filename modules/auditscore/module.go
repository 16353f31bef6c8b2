// Package auditscore computes the rational audit from the identity and
// positioning documents. Findings and recommendations append to whatever
// the audit slot already holds; scores are replaced.
package auditscore

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
			ID:          "audit-score",
			Name:        "Rational audit scoring",
			Description: "Scores clarity, coherence and differentiation of the current strategy.",
			Category:    module.CategoryCompute,
			AutoTrigger: true,
			Inputs: []module.InputSource{
				{Kind: module.InputSlot, Slot: schema.SlotIdentite},
				{Kind: module.InputSlot, Slot: schema.SlotPositionnement},
				{Kind: module.InputModuleOutput, ModuleID: "identity-synth"},
			},
			Outputs: []module.OutputTarget{
				{Slot: schema.SlotAuditR, Key: "score_global", Path: "score_global", Strategy: module.MergeReplace},
				{Slot: schema.SlotAuditR, Key: "scores", Path: "scores", Strategy: module.MergeReplace},
				{Slot: schema.SlotAuditR, Key: "constats", Path: "constats", Strategy: module.MergeAppend},
				{Slot: schema.SlotAuditR, Key: "recommandations", Path: "recommandations", Strategy: module.MergeAppend},
			},
			OutputSchema: schema.Object(map[string]*schema.Spec{
				"score_global": schema.Number(0),
				"scores": schema.Object(map[string]*schema.Spec{
					"clarte":          schema.Number(0),
					"coherence":       schema.Number(0),
					"differenciation": schema.Number(0),
					"memorabilite":    schema.Number(0),
				}),
				"constats": schema.Array(schema.Object(map[string]*schema.Spec{
					"titre":    schema.String(""),
					"detail":   schema.String(""),
					"severite": schema.Enum("info", "info", "mineur", "majeur", "critique"),
				})),
				"recommandations": schema.Strings(),
			}),
		},
		Execute: execute,
	})
}

func execute(ctx context.Context, ec module.ExecContext) (module.Result, error) {
	identite, _ := ec.Inputs["slot_identite"].(map[string]any)
	positionnement, _ := ec.Inputs["slot_positionnement"].(map[string]any)

	clarte := scoreText(identite, "mission", "promesse")
	coherence := scoreText(identite, "vision", "histoire")
	differenciation := scoreList(positionnement, "differenciateurs")
	memorabilite := scoreText(identite, "tagline")

	var constats []any
	var recommandations []any
	if clarte < 50 {
		constats = append(constats, finding("Mission floue", "La mission ou la promesse est vide ou trop courte.", "majeur"))
		recommandations = append(recommandations, "Reformuler la mission en une phrase concrète.")
	}
	if differenciation < 50 {
		constats = append(constats, finding("Différenciation faible", "Moins de deux différenciateurs déclarés.", "critique"))
		recommandations = append(recommandations, "Identifier au moins trois différenciateurs défendables.")
	}
	if memorabilite < 50 {
		constats = append(constats, finding("Tagline absente", "Aucune tagline mémorisable.", "mineur"))
	}
	if constats == nil {
		constats = []any{}
	}
	if recommandations == nil {
		recommandations = []any{}
	}

	global := (clarte + coherence + differenciation + memorabilite) / 4
	return module.Result{Success: true, Data: map[string]any{
		"score_global": global,
		"scores": map[string]any{
			"clarte":          clarte,
			"coherence":       coherence,
			"differenciation": differenciation,
			"memorabilite":    memorabilite,
		},
		"constats":        constats,
		"recommandations": recommandations,
	}}, nil
}

func finding(titre, detail, severite string) map[string]any {
	return map[string]any{"titre": titre, "detail": detail, "severite": severite}
}

// scoreText rates string fields on presence and length, 0-100.
func scoreText(doc map[string]any, keys ...string) float64 {
	if len(keys) == 0 {
		return 0
	}
	total := 0.0
	for _, key := range keys {
		s, _ := doc[key].(string)
		switch n := len(strings.TrimSpace(s)); {
		case n == 0:
		case n < 20:
			total += 50
		default:
			total += 100
		}
	}
	return total / float64(len(keys))
}

// scoreList rates a list field: 100 for three or more entries.
func scoreList(doc map[string]any, key string) float64 {
	l, _ := doc[key].([]any)
	switch len(l) {
	case 0:
		return 0
	case 1:
		return 40
	case 2:
		return 70
	default:
		return 100
	}
}
