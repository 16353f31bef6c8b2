package module_test

import (
	"context"
	"strings"
	"testing"

	"brandforge/internal/module"
	"brandforge/internal/schema"
)

func noopExecute(ctx context.Context, ec module.ExecContext) (module.Result, error) {
	return module.Result{Success: true, Data: map[string]any{}}, nil
}

func handler(id string, mutate func(*module.Descriptor)) *module.Handler {
	d := module.Descriptor{
		ID:       id,
		Name:     id,
		Category: module.CategoryCompute,
		Outputs: []module.OutputTarget{
			{Slot: schema.SlotIdentite, Path: "mission", Strategy: module.MergeReplace},
		},
	}
	if mutate != nil {
		mutate(&d)
	}
	return &module.Handler{Descriptor: d, Execute: noopExecute}
}

func TestRegisterValidatesDescriptor(t *testing.T) {
	r := module.NewRegistry(nil)

	if err := r.Register(handler("", nil)); err == nil {
		t.Fatal("missing id accepted")
	}
	if err := r.Register(&module.Handler{Descriptor: module.Descriptor{ID: "x", Category: module.CategoryCompute}}); err == nil {
		t.Fatal("missing execute accepted")
	}
	if err := r.Register(handler("bad-cat", func(d *module.Descriptor) { d.Category = "wild" })); err == nil {
		t.Fatal("unknown category accepted")
	}
	err := r.Register(handler("bad-path", func(d *module.Descriptor) {
		d.Outputs[0].Path = "no.such.field"
	}))
	if err == nil || !strings.Contains(err.Error(), "no.such.field") {
		t.Fatalf("bad output path accepted: %v", err)
	}
	err = r.Register(handler("bad-strategy", func(d *module.Descriptor) {
		d.Outputs[0].Strategy = "squash"
	}))
	if err == nil {
		t.Fatal("unknown strategy accepted")
	}
	err = r.Register(handler("bad-input", func(d *module.Descriptor) {
		d.Inputs = []module.InputSource{{Kind: module.InputSlot, Slot: schema.SlotAuditR, Path: "scores.bogus"}}
	}))
	if err == nil {
		t.Fatal("bad input path accepted")
	}
}

func TestRegisterCollisionOverwrites(t *testing.T) {
	r := module.NewRegistry(nil)
	first := handler("dup", nil)
	second := handler("dup", func(d *module.Descriptor) { d.Name = "second" })
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("collision should not error: %v", err)
	}
	got, ok := r.Get("dup")
	if !ok || got.Descriptor.Name != "second" {
		t.Fatal("last registration should win")
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected one handler, got %d", len(r.All()))
	}
}

func TestRegistryQueries(t *testing.T) {
	r := module.NewRegistry(nil)
	must := func(h *module.Handler) {
		t.Helper()
		if err := r.Register(h); err != nil {
			t.Fatal(err)
		}
	}
	must(handler("b-writer", nil))
	must(handler("a-writer", nil))
	must(handler("auto-dep", func(d *module.Descriptor) {
		d.AutoTrigger = true
		d.Inputs = []module.InputSource{{Kind: module.InputModuleOutput, ModuleID: "a-writer"}}
		d.Outputs = []module.OutputTarget{{Slot: schema.SlotAuditR, Path: "score_global", Strategy: module.MergeReplace}}
	}))

	all := r.All()
	if len(all) != 3 || all[0].Descriptor.ID != "a-writer" {
		t.Fatalf("All not sorted: %v", all)
	}
	producers := r.ProducersFor(schema.SlotIdentite)
	if len(producers) != 2 {
		t.Fatalf("ProducersFor identite: %d", len(producers))
	}
	triggered := r.AutoTriggeredBy("a-writer")
	if len(triggered) != 1 || triggered[0].Descriptor.ID != "auto-dep" {
		t.Fatalf("AutoTriggeredBy: %v", triggered)
	}
	if len(r.AutoTriggeredBy("b-writer")) != 0 {
		t.Fatal("b-writer should trigger nothing")
	}
	if len(r.ByCategory(module.CategoryCompute)) != 3 {
		t.Fatal("ByCategory compute should list all three")
	}
}
