package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Doc is a structured slot document. Every document produced by this package
// carries the complete field skeleton of its schema.
type Doc = map[string]any

// Kind discriminates the node types of a Spec tree.
type Kind int

const (
	KindObject Kind = iota
	KindString
	KindNumber
	KindBool
	KindEnum
	KindArray
)

// Spec describes one node of a document schema. Every node has a default, so
// applying a Spec to an empty input always yields a complete skeleton.
type Spec struct {
	Kind     Kind
	Fields   map[string]*Spec // KindObject
	Elem     *Spec            // KindArray
	Default  any              // scalar kinds
	Allowed  []string         // KindEnum
	Fallback string           // KindEnum; used when coercing an unknown value
}

func Object(fields map[string]*Spec) *Spec { return &Spec{Kind: KindObject, Fields: fields} }
func String(def string) *Spec              { return &Spec{Kind: KindString, Default: def} }
func Number(def float64) *Spec             { return &Spec{Kind: KindNumber, Default: def} }
func Bool(def bool) *Spec                  { return &Spec{Kind: KindBool, Default: def} }
func Array(elem *Spec) *Spec               { return &Spec{Kind: KindArray, Elem: elem} }
func Strings() *Spec                       { return Array(String("")) }

func Enum(fallback string, allowed ...string) *Spec {
	return &Spec{Kind: KindEnum, Allowed: allowed, Fallback: fallback, Default: fallback}
}

// Defaults builds the full default value for this node, recursively.
func (s *Spec) Defaults() any {
	switch s.Kind {
	case KindObject:
		doc := Doc{}
		for name, f := range s.Fields {
			doc[name] = f.Defaults()
		}
		return doc
	case KindArray:
		return []any{}
	default:
		return s.Default
	}
}

// Apply checks v against the spec and returns a value with the complete
// skeleton: missing fields are filled from defaults and unknown fields are
// stripped in both modes. In strict mode a scalar type mismatch is recorded
// as an issue; in coerce mode it is converted where possible (numeric string
// to number, number to string, unknown enum to fallback), recording an issue
// for every repair. A container mismatch (object where an array belongs and
// the like) aborts with an error in both modes.
func (s *Spec) Apply(v any, coerce bool) (any, []string, error) {
	return s.apply(v, coerce, "")
}

func (s *Spec) apply(v any, coerce bool, path string) (any, []string, error) {
	if v == nil {
		return s.Defaults(), nil, nil
	}
	switch s.Kind {
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%s: expected object, got %T", pathOrRoot(path), v)
		}
		doc := Doc{}
		var issues []string
		for name, f := range s.Fields {
			raw, present := m[name]
			if !present {
				doc[name] = f.Defaults()
				continue
			}
			val, iss, err := f.apply(raw, coerce, join(path, name))
			if err != nil {
				return nil, nil, err
			}
			doc[name] = val
			issues = append(issues, iss...)
		}
		// Unknown fields are dropped, never an error.
		return doc, issues, nil
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, nil, fmt.Errorf("%s: expected array, got %T", pathOrRoot(path), v)
		}
		out := make([]any, 0, len(arr))
		var issues []string
		for i, raw := range arr {
			val, iss, err := s.Elem.apply(raw, coerce, fmt.Sprintf("%s[%d]", pathOrRoot(path), i))
			if err != nil {
				return nil, nil, err
			}
			out = append(out, val)
			issues = append(issues, iss...)
		}
		return out, issues, nil
	case KindString:
		if str, ok := v.(string); ok {
			return str, nil, nil
		}
		if !coerce {
			return s.Default, []string{fmt.Sprintf("%s: expected string, got %T", pathOrRoot(path), v)}, nil
		}
		switch t := v.(type) {
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), []string{fmt.Sprintf("%s: number coerced to string", pathOrRoot(path))}, nil
		case bool:
			return strconv.FormatBool(t), []string{fmt.Sprintf("%s: bool coerced to string", pathOrRoot(path))}, nil
		default:
			return nil, nil, fmt.Errorf("%s: cannot coerce %T to string", pathOrRoot(path), v)
		}
	case KindNumber:
		if n, ok := asNumber(v); ok {
			return n, nil, nil
		}
		if !coerce {
			return s.Default, []string{fmt.Sprintf("%s: expected number, got %T", pathOrRoot(path), v)}, nil
		}
		if str, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				return n, []string{fmt.Sprintf("%s: numeric string coerced to number", pathOrRoot(path))}, nil
			}
		}
		return nil, nil, fmt.Errorf("%s: cannot coerce %T to number", pathOrRoot(path), v)
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil, nil
		}
		if !coerce {
			return s.Default, []string{fmt.Sprintf("%s: expected bool, got %T", pathOrRoot(path), v)}, nil
		}
		if str, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(str)); err == nil {
				return b, []string{fmt.Sprintf("%s: string coerced to bool", pathOrRoot(path))}, nil
			}
		}
		return nil, nil, fmt.Errorf("%s: cannot coerce %T to bool", pathOrRoot(path), v)
	case KindEnum:
		str, ok := v.(string)
		if !ok {
			if !coerce {
				return s.Default, []string{fmt.Sprintf("%s: expected enum string, got %T", pathOrRoot(path), v)}, nil
			}
			return s.Fallback, []string{fmt.Sprintf("%s: non-string enum value replaced by %q", pathOrRoot(path), s.Fallback)}, nil
		}
		for _, a := range s.Allowed {
			if a == str {
				return str, nil, nil
			}
		}
		if !coerce {
			return s.Default, []string{fmt.Sprintf("%s: %q is not an allowed value", pathOrRoot(path), str)}, nil
		}
		return s.Fallback, []string{fmt.Sprintf("%s: unknown value %q replaced by %q", pathOrRoot(path), str, s.Fallback)}, nil
	}
	return nil, nil, fmt.Errorf("%s: unhandled spec kind %d", pathOrRoot(path), s.Kind)
}

// MergeDefaults salvages whatever fields of v fit the schema tree, layered
// over the full default skeleton. Leaves that match survive, nested or not;
// anything malformed falls back to its default. Never fails.
func (s *Spec) MergeDefaults(v any) any {
	switch s.Kind {
	case KindObject:
		doc := Doc{}
		m, _ := v.(map[string]any)
		for name, f := range s.Fields {
			raw, present := m[name]
			if !present {
				doc[name] = f.Defaults()
				continue
			}
			doc[name] = f.MergeDefaults(raw)
		}
		return doc
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return []any{}
		}
		out := make([]any, 0, len(arr))
		for _, raw := range arr {
			if val, _, err := s.Elem.apply(raw, true, ""); err == nil {
				out = append(out, val)
			}
		}
		return out
	default:
		// Coercible scalars are still worth keeping.
		if val, _, err := s.apply(v, true, ""); err == nil {
			return val
		}
		return s.Defaults()
	}
}

// FieldAt resolves a dot-path to the spec node it addresses, for
// registration-time validation of declared paths.
func (s *Spec) FieldAt(path string) (*Spec, bool) {
	if path == "" {
		return s, true
	}
	cur := s
	for _, part := range strings.Split(path, ".") {
		if cur.Kind != KindObject {
			return nil, false
		}
		next, ok := cur.Fields[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
