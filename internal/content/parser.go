// Package content turns arbitrary stored or freshly-generated slot content
// into a guaranteed-valid typed document. All entry points are total: they
// never panic and always hand back a usable document.
package content

import (
	"encoding/json"
	"strings"

	"brandforge/internal/schema"
)

// Result is the outcome of a parse. Doc is never nil and always carries the
// complete skeleton for the slot type. Success is true only when the input
// matched the schema as-is; otherwise Err names what went wrong and Issues
// lists per-field diagnostics.
type Result struct {
	Doc     schema.Doc
	Success bool
	Issues  []string
	Err     string
}

// ParseStored parses content read from the slot store. raw may be nil, a
// legacy plain string, or structured JSON.
func ParseStored(t schema.SlotType, raw *string) Result {
	if raw == nil {
		return Result{Doc: schema.Defaults(t), Err: "Content is null"}
	}
	var v any
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		// Legacy records hold a bare unstructured string. The caller still
		// gets a full skeleton, not an empty object.
		return Result{Doc: schema.Defaults(t), Err: "legacy string content, returning defaults"}
	}
	return parseValue(t, v)
}

// ParseGenerated parses raw text from the generation collaborator. A single
// enclosing fenced code block is stripped before the text is treated as JSON.
func ParseGenerated(t schema.SlotType, text string) Result {
	var v any
	if err := json.Unmarshal([]byte(StripFence(text)), &v); err != nil {
		return Result{Doc: schema.Defaults(t), Err: "JSON parse failed: " + err.Error()}
	}
	return parseValue(t, v)
}

// parseValue runs the tiered chain: strict, coerce, deep-merge salvage,
// full defaults.
func parseValue(t schema.SlotType, v any) Result {
	if v == nil {
		return Result{Doc: schema.Defaults(t), Err: "Content is null"}
	}
	if doc, issues, err := schema.Validate(t, v); err == nil && len(issues) == 0 {
		return Result{Doc: doc, Success: true}
	}
	if doc, issues, err := schema.Coerce(t, v); err == nil {
		return Result{Doc: doc, Issues: issues, Err: "content coerced to schema"}
	}
	if m, ok := v.(map[string]any); ok {
		return Result{Doc: schema.MergeDefaults(t, m), Err: "content salvaged into defaults"}
	}
	return Result{Doc: schema.Defaults(t), Err: "content is not an object, returning defaults"}
}

// ValidateForSave is the strict write-time check. Legacy plain-string content
// is unstructured by contract and skips validation entirely.
func ValidateForSave(t schema.SlotType, raw string) (ok bool, issues []string) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// Legacy string: exempt, not rejected.
		return true, nil
	}
	_, issues, err := schema.Validate(t, v)
	if err != nil {
		return false, []string{err.Error()}
	}
	return len(issues) == 0, issues
}

// StripFence removes exactly one enclosing fenced code block, if the whole
// text is wrapped in one. Text without a fence passes through unchanged.
func StripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	rest := trimmed[3:]
	// Drop an optional language tag on the opening line.
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		first := strings.TrimSpace(rest[:idx])
		if first == "" || isLanguageTag(first) {
			rest = rest[idx+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(s) > 0
}
