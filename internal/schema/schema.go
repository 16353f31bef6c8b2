// Package schema owns one validation/coercion schema per slot type. Every
// field carries a default, so validating an empty input always succeeds and
// yields a complete document skeleton.
package schema

import "fmt"

// SlotType identifies one of the fixed content containers per brand.
type SlotType string

const (
	SlotIdentite       SlotType = "identite"
	SlotPositionnement SlotType = "positionnement"
	SlotAudience       SlotType = "audience"
	SlotTonalite       SlotType = "tonalite"
	SlotAuditR         SlotType = "audit_r"
	SlotAuditT         SlotType = "audit_t"
	SlotImplementation SlotType = "implementation"
	SlotCockpit        SlotType = "cockpit"
)

// SlotTypes lists every slot type; a brand owns exactly one slot per entry.
var SlotTypes = []SlotType{
	SlotIdentite,
	SlotPositionnement,
	SlotAudience,
	SlotTonalite,
	SlotAuditR,
	SlotAuditT,
	SlotImplementation,
	SlotCockpit,
}

// ParseSlotType resolves a stored slot type name.
func ParseSlotType(name string) (SlotType, bool) {
	for _, t := range SlotTypes {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

var specs = map[SlotType]*Spec{
	SlotIdentite:       identiteSpec,
	SlotPositionnement: positionnementSpec,
	SlotAudience:       audienceSpec,
	SlotTonalite:       tonaliteSpec,
	SlotAuditR:         auditSpec,
	SlotAuditT:         auditSpec,
	SlotImplementation: implementationSpec,
	SlotCockpit:        cockpitSpec,
}

func init() {
	// A new slot type without a schema must fail loudly at process start,
	// not at the first parse.
	for _, t := range SlotTypes {
		if specs[t] == nil {
			panic(fmt.Sprintf("schema: no spec registered for slot type %q", t))
		}
	}
	if len(specs) != len(SlotTypes) {
		panic("schema: spec table does not match slot type list")
	}
}

// For returns the document spec for a slot type.
func For(t SlotType) *Spec { return specs[t] }

// Defaults returns the complete default document for a slot type.
func Defaults(t SlotType) Doc { return specs[t].Defaults().(Doc) }

// Validate strictly checks v against the slot schema. The returned document
// always has the full skeleton; a non-empty issue list means v did not match
// as-is. A non-nil error means the value is shape-incompatible.
func Validate(t SlotType, v any) (Doc, []string, error) {
	val, issues, err := specs[t].Apply(v, false)
	if err != nil {
		return nil, nil, err
	}
	return val.(Doc), issues, nil
}

// Coerce repairs loosely-typed scalars and unknown enum values, recording an
// issue per repair. A non-nil error means coercion could not make sense of
// the shape at all.
func Coerce(t SlotType, v any) (Doc, []string, error) {
	val, issues, err := specs[t].Apply(v, true)
	if err != nil {
		return nil, nil, err
	}
	return val.(Doc), issues, nil
}

// MergeDefaults deep-merges whatever v got right into the default skeleton.
func MergeDefaults(t SlotType, v any) Doc {
	return specs[t].MergeDefaults(v).(Doc)
}
