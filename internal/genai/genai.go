// Package genai abstracts the external text-generation collaborator. The
// engine never assumes the returned text is well-formed; everything passes
// through the content parser.
package genai

import "context"

// Generator supplies raw text for a given slot type. Implementations may
// call an external service; the engine treats the result as opaque.
type Generator interface {
	Generate(ctx context.Context, slotType string, prompt string) (string, error)
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, slotType string, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, slotType, prompt string) (string, error) {
	return f(ctx, slotType, prompt)
}

// None is the stub generator wired when no provider is configured.
var None Generator = Func(func(ctx context.Context, slotType, prompt string) (string, error) {
	return "", nil
})

// Static returns a generator that always yields the same text, regardless of
// slot type or prompt. Used by the static provider and in tests.
func Static(text string) Generator {
	return Func(func(ctx context.Context, slotType, prompt string) (string, error) {
		return text, nil
	})
}

// staticDocs holds the canned documents served by the static provider,
// fenced the way a text model typically returns JSON.
var staticDocs = map[string]string{
	"tonalite": "```json\n" + `{
  "registre": "inspirant",
  "traits": ["chaleureux", "direct", "precis"],
  "do": ["tutoyer le lecteur", "preferer les phrases courtes"],
  "dont": ["jargon corporate", "superlatifs creux"],
  "vocabulaire": ["atelier", "savoir-faire", "transmission"],
  "emojis_permis": false,
  "signature": "— l'equipe"
}` + "\n```",
}

// ForProvider resolves a configured provider name to a Generator. The static
// provider serves canned per-slot documents for offline use.
func ForProvider(provider string) Generator {
	switch provider {
	case "static":
		return Func(func(ctx context.Context, slotType, prompt string) (string, error) {
			if doc, ok := staticDocs[slotType]; ok {
				return doc, nil
			}
			return "{}", nil
		})
	default:
		return None
	}
}
