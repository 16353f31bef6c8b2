package phase_test

import (
	"errors"
	"testing"

	"brandforge/internal/phase"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want phase.Phase
		ok   bool
	}{
		{"fiche", phase.Fiche, true},
		{"audit-review", phase.AuditReview, true},
		{"brief", phase.Fiche, true},
		{"audit-rationnel", phase.AuditR, true},
		{"etude-marche", phase.MarketStudy, true},
		{"pilotage", phase.Cockpit, true},
		{"done", phase.Complete, true},
		{"nonsense", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := phase.Normalize(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("Normalize(%q) = %q,%v want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestEnsureAdvance(t *testing.T) {
	if err := phase.EnsureAdvance(phase.Fiche, phase.FicheReview); err != nil {
		t.Fatalf("single step: %v", err)
	}
	// market-study is skippable, so audit-r -> audit-t is allowed
	if err := phase.EnsureAdvance(phase.AuditR, phase.AuditT); err != nil {
		t.Fatalf("skip market-study: %v", err)
	}
	// fiche-review is not skippable
	err := phase.EnsureAdvance(phase.Fiche, phase.AuditR)
	var te *phase.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if te.From != phase.Fiche || te.To != phase.AuditR {
		t.Fatalf("error fields: %+v", te)
	}
	// backward and same-phase advances are rejected
	if err := phase.EnsureAdvance(phase.AuditT, phase.AuditR); err == nil {
		t.Fatal("backward advance accepted")
	}
	if err := phase.EnsureAdvance(phase.Fiche, phase.Fiche); err == nil {
		t.Fatal("no-op advance accepted")
	}
}

func TestEnsureRevert(t *testing.T) {
	if err := phase.EnsureRevert(phase.Cockpit, phase.Fiche); err != nil {
		t.Fatalf("long revert: %v", err)
	}
	if err := phase.EnsureRevert(phase.Fiche, phase.AuditR); err == nil {
		t.Fatal("forward revert accepted")
	}
	if err := phase.EnsureRevert(phase.AuditR, phase.AuditR); err == nil {
		t.Fatal("no-op revert accepted")
	}
}

func TestTerminalAndSkippable(t *testing.T) {
	if !phase.Terminal(phase.Complete) {
		t.Fatal("complete should be terminal")
	}
	if phase.Terminal(phase.Cockpit) {
		t.Fatal("cockpit is not terminal")
	}
	if !phase.Skippable(phase.MarketStudy) {
		t.Fatal("market-study should be skippable")
	}
	if phase.Skippable(phase.AuditReview) {
		t.Fatal("audit-review must not be skippable")
	}
}

func TestOrdering(t *testing.T) {
	if len(phase.All) != 9 {
		t.Fatalf("expected 9 phases, got %d", len(phase.All))
	}
	if phase.All[0] != phase.Fiche || phase.All[len(phase.All)-1] != phase.Complete {
		t.Fatalf("unexpected ordering: %v", phase.All)
	}
}
