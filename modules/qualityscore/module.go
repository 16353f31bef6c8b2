// Package qualityscore scores how completely the identity slot is filled.
// It is a read-only analysis module: it declares no outputs and never
// writes a slot.
package qualityscore

import (
	"context"
	"strings"

	"brandforge/internal/module"
	"brandforge/internal/schema"
)

var placeholders = []string{"tbd", "todo", "a completer", "à compléter", "xxx", "..."}

type Module struct{}

func (m *Module) Register(r *module.Registry) error {
	return r.Register(&module.Handler{
		Descriptor: module.Descriptor{
			ID:          "quality-score",
			Name:        "Identity quality score",
			Description: "Scores identity completeness; placeholder values count against it.",
			Category:    module.CategoryCompute,
			Inputs: []module.InputSource{
				{Kind: module.InputSlot, Slot: schema.SlotIdentite},
			},
			OutputSchema: schema.Object(map[string]*schema.Spec{
				"score":        schema.Number(0),
				"filled":       schema.Number(0),
				"total":        schema.Number(0),
				"placeholders": schema.Strings(),
			}),
		},
		Execute: execute,
	})
}

func execute(ctx context.Context, ec module.ExecContext) (module.Result, error) {
	doc, _ := ec.Inputs["slot_identite"].(map[string]any)
	total, filled := 0, 0
	var flagged []any
	for name, value := range doc {
		total++
		if !isFilled(value) {
			continue
		}
		if s, ok := value.(string); ok && isPlaceholder(s) {
			flagged = append(flagged, name)
			continue
		}
		filled++
	}
	score := 0.0
	if total > 0 {
		score = float64(filled) / float64(total) * 100
	}
	if flagged == nil {
		flagged = []any{}
	}
	return module.Result{Success: true, Data: map[string]any{
		"score":        score,
		"filled":       float64(filled),
		"total":        float64(total),
		"placeholders": flagged,
	}}, nil
}

func isFilled(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case bool:
		return t
	case []any:
		return len(t) > 0
	case map[string]any:
		for _, inner := range t {
			if isFilled(inner) {
				return true
			}
		}
		return false
	}
	return v != nil
}

func isPlaceholder(s string) bool {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, p := range placeholders {
		if norm == p {
			return true
		}
	}
	return false
}
