// Package phase defines the ordered pipeline phases and validates
// forward/backward movement between them.
package phase

import "fmt"

// Phase is one of the ordered pipeline stages.
type Phase string

const (
	Fiche          Phase = "fiche"
	FicheReview    Phase = "fiche-review"
	AuditR         Phase = "audit-r"
	MarketStudy    Phase = "market-study"
	AuditT         Phase = "audit-t"
	AuditReview    Phase = "audit-review"
	Implementation Phase = "implementation"
	Cockpit        Phase = "cockpit"
	Complete       Phase = "complete"
)

// All lists every phase in pipeline order. Index in this slice is the
// ordering used by Advance/Revert.
var All = []Phase{
	Fiche,
	FicheReview,
	AuditR,
	MarketStudy,
	AuditT,
	AuditReview,
	Implementation,
	Cockpit,
	Complete,
}

// skippable phases may be jumped over during an advance without being
// individually completed.
var skippable = map[Phase]bool{
	MarketStudy: true,
}

// legacyNames maps phase names from old records to their current names.
// Normalization happens before any comparison.
var legacyNames = map[string]Phase{
	"brief":           Fiche,
	"brief-review":    FicheReview,
	"audit-rationnel": AuditR,
	"etude-marche":    MarketStudy,
	"audit-tonal":     AuditT,
	"revue-audits":    AuditReview,
	"mise-en-oeuvre":  Implementation,
	"pilotage":        Cockpit,
	"done":            Complete,
}

// Normalize resolves a stored phase name, remapping legacy names. The second
// return is false for names that are neither current nor legacy.
func Normalize(name string) (Phase, bool) {
	p := Phase(name)
	if _, ok := index(p); ok {
		return p, true
	}
	if mapped, ok := legacyNames[name]; ok {
		return mapped, true
	}
	return "", false
}

func index(p Phase) (int, bool) {
	for i, c := range All {
		if c == p {
			return i, true
		}
	}
	return -1, false
}

// Skippable reports whether p may be passed through implicitly.
func Skippable(p Phase) bool { return skippable[p] }

// Terminal reports whether p is the last pipeline phase.
func Terminal(p Phase) bool { return p == Complete }

// InvalidTransitionError is returned for rejected advance/revert requests.
// Rejections never mutate the brand and are safe to retry after correction.
type InvalidTransitionError struct {
	From   Phase
	To     Phase
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// EnsureAdvance validates a forward transition from current to target.
// Any phase strictly between the two must be skippable.
func EnsureAdvance(current, target Phase) error {
	ci, ok := index(current)
	if !ok {
		return &InvalidTransitionError{From: current, To: target, Reason: "unknown current phase"}
	}
	ti, ok := index(target)
	if !ok {
		return &InvalidTransitionError{From: current, To: target, Reason: "unknown target phase"}
	}
	if ti <= ci {
		return &InvalidTransitionError{From: current, To: target, Reason: "target is not ahead of current phase"}
	}
	for i := ci + 1; i < ti; i++ {
		if !skippable[All[i]] {
			return &InvalidTransitionError{From: current, To: target, Reason: fmt.Sprintf("phase %s cannot be skipped", All[i])}
		}
	}
	return nil
}

// EnsureRevert validates a backward transition. Reverting is always allowed
// regardless of what later-phase content exists; only ordering is checked.
func EnsureRevert(current, target Phase) error {
	ci, ok := index(current)
	if !ok {
		return &InvalidTransitionError{From: current, To: target, Reason: "unknown current phase"}
	}
	ti, ok := index(target)
	if !ok {
		return &InvalidTransitionError{From: current, To: target, Reason: "unknown target phase"}
	}
	if ti >= ci {
		return &InvalidTransitionError{From: current, To: target, Reason: "target is not behind current phase"}
	}
	return nil
}
