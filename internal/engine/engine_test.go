package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"brandforge/internal/app"
	"brandforge/internal/config"
	"brandforge/internal/content"
	"brandforge/internal/db"
	"brandforge/internal/domain"
	"brandforge/internal/engine"
	"brandforge/internal/migrate"
	"brandforge/internal/module"
	"brandforge/internal/phase"
	"brandforge/internal/schema"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, registry *module.Registry) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if registry == nil {
		registry = module.NewRegistry(nil)
	}
	eng := engine.New(conn, config.Default(), registry, nil)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createBrand(t *testing.T, env testEnv) domain.Brand {
	t.Helper()
	b, err := env.Engine.CreateBrand(env.Ctx, engine.BrandCreateOptions{Name: "Acme", Sector: "retail", OwnerID: "tester"})
	if err != nil {
		t.Fatalf("create brand: %v", err)
	}
	return b
}

func advanceTo(t *testing.T, env testEnv, brandID string, targets ...string) {
	t.Helper()
	for _, target := range targets {
		if _, err := env.Engine.Advance(env.Ctx, brandID, target, "tester"); err != nil {
			t.Fatalf("advance to %s: %v", target, err)
		}
	}
}

func TestCreateBrandCreatesAllSlots(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	if b.Phase != string(phase.Fiche) || b.Status != "draft" {
		t.Fatalf("new brand state: %s/%s", b.Phase, b.Status)
	}
	slots, err := env.Engine.Repo.ListSlots(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != len(schema.SlotTypes) {
		t.Fatalf("expected %d slots, got %d", len(schema.SlotTypes), len(slots))
	}
	for _, s := range slots {
		if s.Status != "pending" || s.Version != 1 {
			t.Fatalf("slot %s: %s v%d", s.Type, s.Status, s.Version)
		}
		st, _ := schema.ParseSlotType(s.Type)
		res := content.ParseStored(st, s.Content)
		if !res.Success {
			t.Fatalf("slot %s default content does not parse clean: %s", s.Type, res.Err)
		}
	}
}

func TestAdvanceRules(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)

	// fiche -> audit-t skips fiche-review, which is not skippable
	_, err := env.Engine.Advance(env.Ctx, b.ID, string(phase.AuditT), "tester")
	var te *phase.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	fresh, _ := env.Engine.GetBrand(env.Ctx, b.ID, "tester")
	if fresh.Phase != string(phase.Fiche) {
		t.Fatal("rejected advance must not move the phase")
	}

	advanceTo(t, env, b.ID, string(phase.FicheReview))
	if _, err := env.Engine.SaveAnswersAndAdvance(env.Ctx, b.ID, map[string]string{"mission": "x"}, "tester"); err != nil {
		t.Fatalf("fiche-review commit: %v", err)
	}
	// audit-r -> audit-t jumps the skippable market-study
	advanceTo(t, env, b.ID, string(phase.AuditT))
	fresh, _ = env.Engine.GetBrand(env.Ctx, b.ID, "tester")
	if fresh.Phase != string(phase.AuditT) || fresh.Status != "generating" {
		t.Fatalf("state after skip: %s/%s", fresh.Phase, fresh.Status)
	}
}

func TestAdvanceToCompleteSetsStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	advanceTo(t, env, b.ID, string(phase.FicheReview))
	if _, err := env.Engine.SaveAnswersAndAdvance(env.Ctx, b.ID, map[string]string{}, "tester"); err != nil {
		t.Fatal(err)
	}
	advanceTo(t, env, b.ID,
		string(phase.AuditT), string(phase.AuditReview))
	if _, err := env.Engine.CommitAuditsAndAdvance(env.Ctx, b.ID,
		schema.Defaults(schema.SlotAuditR), schema.Defaults(schema.SlotAuditT), "tester"); err != nil {
		t.Fatal(err)
	}
	advanceTo(t, env, b.ID, string(phase.Cockpit), string(phase.Complete))
	fresh, _ := env.Engine.GetBrand(env.Ctx, b.ID, "tester")
	if fresh.Status != "complete" {
		t.Fatalf("terminal phase should set status complete, got %s", fresh.Status)
	}
}

func TestRevertPreservesSlotContent(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	advanceTo(t, env, b.ID, string(phase.FicheReview))
	if _, err := env.Engine.SaveAnswersAndAdvance(env.Ctx, b.ID, map[string]string{"k": "v"}, "tester"); err != nil {
		t.Fatal(err)
	}

	// Write content in the audit-r slot, then revert behind it.
	doc := schema.Defaults(schema.SlotAuditR)
	doc["score_global"] = 62.0
	payload, _ := json.Marshal(doc)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpdateSlotContentTx(env.Ctx, tx, b.ID, string(schema.SlotAuditR), string(payload), "complete", nil, "2025-06-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Revert(env.Ctx, b.ID, string(phase.Fiche), "tester"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	slot, err := env.Engine.Repo.GetSlot(env.Ctx, b.ID, string(schema.SlotAuditR))
	if err != nil {
		t.Fatal(err)
	}
	if slot.Content == nil || *slot.Content != string(payload) {
		t.Fatal("revert must not touch slot content")
	}
	// forward revert is rejected
	if _, err := env.Engine.Revert(env.Ctx, b.ID, string(phase.Cockpit), "tester"); err == nil {
		t.Fatal("forward revert accepted")
	}
}

func TestOwnershipChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	if _, err := env.Engine.GetBrand(env.Ctx, b.ID, "intruder"); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := env.Engine.Advance(env.Ctx, b.ID, string(phase.FicheReview), "intruder"); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on advance, got %v", err)
	}
}

func TestSaveAnswersAndAdvanceWrongPhase(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	// still in fiche, not fiche-review
	_, err := env.Engine.SaveAnswersAndAdvance(env.Ctx, b.ID, map[string]string{"k": "v"}, "tester")
	var te *phase.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	fresh, _ := env.Engine.GetBrand(env.Ctx, b.ID, "tester")
	if len(fresh.Answers) != 0 {
		t.Fatal("rejected commit must not save answers")
	}
}

func TestCommitAuditsRejectsInvalidContent(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	advanceTo(t, env, b.ID, string(phase.FicheReview))
	if _, err := env.Engine.SaveAnswersAndAdvance(env.Ctx, b.ID, map[string]string{}, "tester"); err != nil {
		t.Fatal(err)
	}
	advanceTo(t, env, b.ID, string(phase.AuditT), string(phase.AuditReview))

	bad := schema.Defaults(schema.SlotAuditR)
	bad["score_global"] = "very high"
	_, err := env.Engine.CommitAuditsAndAdvance(env.Ctx, b.ID, bad, schema.Defaults(schema.SlotAuditT), "tester")
	if err == nil {
		t.Fatal("invalid audit content accepted")
	}
	fresh, _ := env.Engine.GetBrand(env.Ctx, b.ID, "tester")
	if fresh.Phase != string(phase.AuditReview) {
		t.Fatal("failed commit must not advance the phase")
	}
	slot, _ := env.Engine.Repo.GetSlot(env.Ctx, b.ID, string(schema.SlotAuditR))
	if slot.Version != 1 {
		t.Fatal("failed commit must not write slots")
	}
}

func TestCommitAuditsAndAdvance(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)
	advanceTo(t, env, b.ID, string(phase.FicheReview))
	if _, err := env.Engine.SaveAnswersAndAdvance(env.Ctx, b.ID, map[string]string{}, "tester"); err != nil {
		t.Fatal(err)
	}
	advanceTo(t, env, b.ID, string(phase.AuditT), string(phase.AuditReview))

	auditR := schema.Defaults(schema.SlotAuditR)
	auditR["score_global"] = 71.0
	b2, err := env.Engine.CommitAuditsAndAdvance(env.Ctx, b.ID, auditR, schema.Defaults(schema.SlotAuditT), "tester")
	if err != nil {
		t.Fatalf("commit audits: %v", err)
	}
	if b2.Phase != string(phase.Implementation) {
		t.Fatalf("phase after commit: %s", b2.Phase)
	}
	ps, err := env.Engine.GetParsedSlot(env.Ctx, b.ID, string(schema.SlotAuditR), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if ps.Doc["score_global"] != 71.0 {
		t.Fatalf("committed audit lost: %v", ps.Doc["score_global"])
	}
	if ps.Slot.Version != 2 || ps.Slot.Status != "complete" {
		t.Fatalf("slot after commit: v%d %s", ps.Slot.Version, ps.Slot.Status)
	}
}

// testModule builds a registrable module for executor scenarios.
func testModule(id string, d module.Descriptor, exec module.ExecuteFunc) *module.Handler {
	d.ID = id
	d.Name = id
	if d.Category == "" {
		d.Category = module.CategoryCompute
	}
	return &module.Handler{Descriptor: d, Execute: exec}
}

func TestExecuteModuleWritesSlot(t *testing.T) {
	registry := module.NewRegistry(nil)
	err := registry.Register(testModule("set-mission", module.Descriptor{
		Outputs: []module.OutputTarget{
			{Slot: schema.SlotIdentite, Key: "mission", Path: "mission", Strategy: module.MergeReplace},
		},
	}, func(ctx context.Context, ec module.ExecContext) (module.Result, error) {
		return module.Result{Success: true, Data: map[string]any{"mission": "exister fort"}}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "set-mission", b.ID, "tester", "manual")
	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	ps, err := env.Engine.GetParsedSlot(env.Ctx, b.ID, string(schema.SlotIdentite), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if ps.Doc["mission"] != "exister fort" {
		t.Fatalf("mission not applied: %v", ps.Doc["mission"])
	}
	if ps.Slot.Version != 2 || ps.Slot.Status != "complete" {
		t.Fatalf("slot after run: v%d %s", ps.Slot.Version, ps.Slot.Status)
	}
	run, err := env.Engine.Repo.GetModuleRun(env.Ctx, result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "complete" || run.OutputData == nil {
		t.Fatalf("run record: %+v", run)
	}
}

func TestExecuteModuleFailureWritesNoSlot(t *testing.T) {
	registry := module.NewRegistry(nil)
	err := registry.Register(testModule("always-fails", module.Descriptor{
		Outputs: []module.OutputTarget{
			{Slot: schema.SlotIdentite, Key: "mission", Path: "mission", Strategy: module.MergeReplace},
		},
	}, func(ctx context.Context, ec module.ExecContext) (module.Result, error) {
		return module.Result{Error: "nothing to do"}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "always-fails", b.ID, "tester", "manual")
	if result.Success {
		t.Fatal("failing module reported success")
	}
	if result.RunID == "" {
		t.Fatal("failed run should still have an audit record")
	}
	run, err := env.Engine.Repo.GetModuleRun(env.Ctx, result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "error" || run.ErrorMessage == nil {
		t.Fatalf("run record: %+v", run)
	}
	slot, _ := env.Engine.Repo.GetSlot(env.Ctx, b.ID, string(schema.SlotIdentite))
	if slot.Version != 1 {
		t.Fatal("failed run must not write slots")
	}
}

func TestExecuteModuleOutputGate(t *testing.T) {
	registry := module.NewRegistry(nil)
	err := registry.Register(testModule("bad-output", module.Descriptor{
		Outputs: []module.OutputTarget{
			{Slot: schema.SlotIdentite, Key: "mission", Path: "mission", Strategy: module.MergeReplace},
		},
		OutputSchema: schema.Object(map[string]*schema.Spec{
			"mission": schema.String(""),
		}),
	}, func(ctx context.Context, ec module.ExecContext) (module.Result, error) {
		return module.Result{Success: true, Data: map[string]any{"mission": 12.0}}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "bad-output", b.ID, "tester", "manual")
	if result.Success {
		t.Fatal("output gate did not fire")
	}
	slot, _ := env.Engine.Repo.GetSlot(env.Ctx, b.ID, string(schema.SlotIdentite))
	if slot.Version != 1 {
		t.Fatal("gated run must not write slots")
	}
}

func TestExecuteModulePanicIsContained(t *testing.T) {
	registry := module.NewRegistry(nil)
	err := registry.Register(testModule("panics", module.Descriptor{},
		func(ctx context.Context, ec module.ExecContext) (module.Result, error) {
			panic("boom")
		}))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "panics", b.ID, "tester", "manual")
	if result.Success {
		t.Fatal("panicking module reported success")
	}
	run, err := env.Engine.Repo.GetModuleRun(env.Ctx, result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "error" {
		t.Fatalf("run status: %s", run.Status)
	}
}

func TestExecuteModuleUnknownAndUnowned(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "ghost", b.ID, "tester", "manual")
	if result.Success || result.RunID != "" {
		t.Fatalf("unknown module must fail without a run record: %+v", result)
	}
	result = env.Engine.ExecuteModule(env.Ctx, "ghost", b.ID, "intruder", "manual")
	if result.Success || result.RunID != "" {
		t.Fatalf("unowned brand must fail without a run record: %+v", result)
	}
	runs, _ := env.Engine.Repo.ListModuleRuns(env.Ctx, b.ID, 0)
	if len(runs) != 0 {
		t.Fatalf("no run rows expected, got %d", len(runs))
	}
}

func TestAutoTriggerChain(t *testing.T) {
	registry := module.NewRegistry(nil)
	err := registry.Register(testModule("primary", module.Descriptor{
		Outputs: []module.OutputTarget{
			{Slot: schema.SlotIdentite, Key: "mission", Path: "mission", Strategy: module.MergeReplace},
		},
	}, func(ctx context.Context, ec module.ExecContext) (module.Result, error) {
		return module.Result{Success: true, Data: map[string]any{"mission": "primaire"}}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = registry.Register(testModule("follower", module.Descriptor{
		AutoTrigger: true,
		Inputs: []module.InputSource{
			{Kind: module.InputModuleOutput, ModuleID: "primary"},
		},
		Outputs: []module.OutputTarget{
			{Slot: schema.SlotAuditR, Key: "score_global", Path: "score_global", Strategy: module.MergeReplace},
		},
	}, func(ctx context.Context, ec module.ExecContext) (module.Result, error) {
		out, _ := ec.Inputs["module_primary"].(map[string]any)
		score := 0.0
		if out != nil && out["mission"] != "" {
			score = 90.0
		}
		return module.Result{Success: true, Data: map[string]any{"score_global": score}}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "primary", b.ID, "tester", "manual")
	if !result.Success {
		t.Fatalf("primary failed: %s", result.Error)
	}
	runs, err := env.Engine.Repo.ListModuleRuns(env.Ctx, b.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected primary + auto run, got %d", len(runs))
	}
	byModule := map[string]domain.ModuleRun{}
	for _, r := range runs {
		byModule[r.ModuleID] = r
	}
	if byModule["follower"].TriggeredBy != "auto" || byModule["follower"].Status != "complete" {
		t.Fatalf("follower run: %+v", byModule["follower"])
	}
	ps, _ := env.Engine.GetParsedSlot(env.Ctx, b.ID, string(schema.SlotAuditR), "tester")
	if ps.Doc["score_global"] != 90.0 {
		t.Fatalf("auto-triggered output missing: %v", ps.Doc["score_global"])
	}
}

func TestQualityScoreIsReadOnly(t *testing.T) {
	registry, err := app.NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	result := env.Engine.ExecuteModule(env.Ctx, "quality-score", b.ID, "tester", "manual")
	if !result.Success {
		t.Fatalf("quality-score failed: %s", result.Error)
	}
	if _, ok := result.Data["score"]; !ok {
		t.Fatalf("expected a score in the result, got %v", result.Data)
	}
	slot, _ := env.Engine.Repo.GetSlot(env.Ctx, b.ID, string(schema.SlotIdentite))
	if slot.Version != 1 {
		t.Fatal("read-only module must not bump slot versions")
	}
}

func TestQualityScoreCountsPlaceholders(t *testing.T) {
	registry, err := app.NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, registry)
	b := createBrand(t, env)

	// 8 real values plus the two enum defaults make 10 filled of 16;
	// mission and promesse hold placeholder text and count against the score.
	doc := schema.Defaults(schema.SlotIdentite)
	doc["essence"] = "artisanat radical"
	doc["vision"] = "le sur-mesure pour tous"
	doc["histoire"] = "née dans un atelier lyonnais"
	doc["tagline"] = "fait main, fait juste"
	doc["manifesto"] = "nous refusons le jetable"
	doc["valeurs"] = []any{"audace", "sincerite"}
	doc["personnalite"] = []any{"directe"}
	doc["score_coherence"] = 7.0
	doc["mission"] = "TBD"
	doc["promesse"] = "todo"
	payload, _ := json.Marshal(doc)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpdateSlotContentTx(env.Ctx, tx, b.ID, string(schema.SlotIdentite), string(payload), "complete", nil, "2025-06-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	result := env.Engine.ExecuteModule(env.Ctx, "quality-score", b.ID, "tester", "manual")
	if !result.Success {
		t.Fatalf("quality-score failed: %s", result.Error)
	}
	if got := result.Data["score"]; got != 62.5 {
		t.Fatalf("score = %v, want 62.5", got)
	}
	if got := result.Data["filled"]; got != 10.0 {
		t.Fatalf("filled = %v, want 10", got)
	}
	if got := result.Data["total"]; got != 16.0 {
		t.Fatalf("total = %v, want 16", got)
	}
	flagged, _ := result.Data["placeholders"].([]any)
	if len(flagged) != 2 {
		t.Fatalf("placeholders = %v, want mission and promesse", flagged)
	}
	seen := map[any]bool{}
	for _, name := range flagged {
		seen[name] = true
	}
	if !seen["mission"] || !seen["promesse"] {
		t.Fatalf("placeholders = %v, want mission and promesse", flagged)
	}
}

func TestSaveStudyAndResolveIntoModule(t *testing.T) {
	env := newTestEnv(t, nil)
	b := createBrand(t, env)

	if _, err := env.Engine.SaveStudy(env.Ctx, b.ID, `{"concurrents":[{"nom":"Rival"}]}`, "tester"); err != nil {
		t.Fatalf("save study: %v", err)
	}
	if _, err := env.Engine.SaveStudy(env.Ctx, b.ID, `not json`, "tester"); err == nil {
		t.Fatal("invalid study JSON accepted")
	}
	s, err := env.Engine.GetStudy(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if s.DataJSON == "" {
		t.Fatal("study lost")
	}
}
