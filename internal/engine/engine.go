package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"brandforge/internal/config"
	"brandforge/internal/content"
	"brandforge/internal/domain"
	"brandforge/internal/events"
	"brandforge/internal/genai"
	"brandforge/internal/module"
	"brandforge/internal/phase"
	"brandforge/internal/repo"
	"brandforge/internal/schema"
)

// Engine owns every state mutation of the pipeline: brand lifecycle, phase
// transitions and module execution.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *module.Registry
	Config   *config.Config
	Gen      genai.Generator
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, registry *module.Registry, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	gen := genai.None
	if cfg != nil {
		gen = genai.ForProvider(cfg.Generation.Provider)
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Registry: registry,
		Config:   cfg,
		Gen:      gen,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

var ErrNotOwner = errors.New("brand not owned by requesting user")

// getOwnedBrand loads a brand and checks ownership. Not-found and
// not-owned are both reported immediately, with no partial effect.
func (e Engine) getOwnedBrand(ctx context.Context, brandID, actorID string) (domain.Brand, error) {
	b, err := e.Repo.GetBrand(ctx, brandID)
	if err != nil {
		return b, err
	}
	if b.OwnerID != actorID {
		return b, ErrNotOwner
	}
	return b, nil
}

// GetBrand loads a brand the actor owns.
func (e Engine) GetBrand(ctx context.Context, brandID, actorID string) (domain.Brand, error) {
	return e.getOwnedBrand(ctx, brandID, actorID)
}

// ListRuns returns the brand's module run history, newest first.
func (e Engine) ListRuns(ctx context.Context, brandID, actorID string, limit int) ([]domain.ModuleRun, error) {
	if _, err := e.getOwnedBrand(ctx, brandID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListModuleRuns(ctx, brandID, limit)
}

// BrandCreateOptions are parameters for creating a brand.
type BrandCreateOptions struct {
	ID      string
	Name    string
	Sector  string
	OwnerID string
}

// CreateBrand inserts the brand and its full set of empty slots in one
// transaction. Slots are never created later or deleted individually.
func (e Engine) CreateBrand(ctx context.Context, opts BrandCreateOptions) (domain.Brand, error) {
	if opts.Name == "" {
		return domain.Brand{}, errors.New("name is required")
	}
	if opts.OwnerID == "" {
		return domain.Brand{}, errors.New("owner is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	b := domain.Brand{
		ID:        id,
		OwnerID:   opts.OwnerID,
		Name:      opts.Name,
		Sector:    opts.Sector,
		Phase:     string(phase.Fiche),
		Status:    "draft",
		Answers:   map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brand{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBrandTx(ctx, tx, b); err != nil {
		return domain.Brand{}, fmt.Errorf("insert brand: %w", err)
	}
	for _, t := range schema.SlotTypes {
		payload, err := json.Marshal(schema.Defaults(t))
		if err != nil {
			return domain.Brand{}, err
		}
		contentStr := string(payload)
		slot := domain.Slot{
			ID:        uuid.New().String(),
			BrandID:   b.ID,
			Type:      string(t),
			Status:    "pending",
			Content:   &contentStr,
			Version:   1,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertSlotTx(ctx, tx, slot); err != nil {
			return domain.Brand{}, fmt.Errorf("insert slot %s: %w", t, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "brand.created", b.ID, "brand", b.ID, opts.OwnerID, events.EventPayload{"name": b.Name, "phase": b.Phase}); err != nil {
		return domain.Brand{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brand{}, err
	}
	return b, nil
}

// SaveAnswers replaces the brand's free-form answer map.
func (e Engine) SaveAnswers(ctx context.Context, brandID string, answers map[string]string, actorID string) (domain.Brand, error) {
	b, err := e.getOwnedBrand(ctx, brandID, actorID)
	if err != nil {
		return b, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateBrandAnswersTx(ctx, tx, b.ID, answers, now); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "answers.saved", b.ID, "brand", b.ID, actorID, events.EventPayload{"keys": len(answers)}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.Answers = answers
	b.UpdatedAt = now
	return b, nil
}

// Advance moves the brand forward to target. Phases strictly between the
// current phase and the target must all be skippable.
func (e Engine) Advance(ctx context.Context, brandID, target, actorID string) (domain.Brand, error) {
	return e.transition(ctx, brandID, target, actorID, true)
}

// Revert moves the brand backward to target. Content of later-phase slots
// stays untouched; only the phase pointer moves.
func (e Engine) Revert(ctx context.Context, brandID, target, actorID string) (domain.Brand, error) {
	return e.transition(ctx, brandID, target, actorID, false)
}

func (e Engine) transition(ctx context.Context, brandID, target, actorID string, forward bool) (domain.Brand, error) {
	b, err := e.getOwnedBrand(ctx, brandID, actorID)
	if err != nil {
		return b, err
	}
	current, ok := phase.Normalize(b.Phase)
	if !ok {
		return b, fmt.Errorf("brand has unknown phase %q", b.Phase)
	}
	targetPhase, ok := phase.Normalize(target)
	if !ok {
		return b, fmt.Errorf("unknown phase %q", target)
	}
	if forward {
		if err := phase.EnsureAdvance(current, targetPhase); err != nil {
			return b, err
		}
	} else {
		if err := phase.EnsureRevert(current, targetPhase); err != nil {
			return b, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	// Re-check the source phase against committed state; a concurrent
	// transition turns into a rejection instead of a silent overwrite.
	fresh, err := e.Repo.GetBrandTx(ctx, tx, b.ID)
	if err != nil {
		return b, err
	}
	if freshPhase, _ := phase.Normalize(fresh.Phase); freshPhase != current {
		return b, &phase.InvalidTransitionError{From: current, To: targetPhase, Reason: "phase changed concurrently"}
	}
	status := fresh.Status
	evtType := "phase.reverted"
	if forward {
		status = "generating"
		if phase.Terminal(targetPhase) {
			status = "complete"
		}
		evtType = "phase.advanced"
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateBrandPhaseTx(ctx, tx, b.ID, string(targetPhase), status, now); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, evtType, b.ID, "brand", b.ID, actorID, events.EventPayload{
		"from": string(current),
		"to":   string(targetPhase),
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.Phase = string(targetPhase)
	b.Status = status
	b.UpdatedAt = now
	return b, nil
}

// SaveAnswersAndAdvance commits edited answers and the fiche-review ->
// audit-r advance in one transaction. The brand must currently sit exactly
// in fiche-review.
func (e Engine) SaveAnswersAndAdvance(ctx context.Context, brandID string, answers map[string]string, actorID string) (domain.Brand, error) {
	b, err := e.getOwnedBrand(ctx, brandID, actorID)
	if err != nil {
		return b, err
	}
	return e.commitAndAdvance(ctx, b, phase.FicheReview, phase.AuditR, actorID, func(tx *sql.Tx, now string) error {
		if err := e.Repo.UpdateBrandAnswersTx(ctx, tx, b.ID, answers, now); err != nil {
			return err
		}
		b.Answers = answers
		return e.Events.Append(ctx, tx, "answers.saved", b.ID, "brand", b.ID, actorID, events.EventPayload{"keys": len(answers)})
	})
}

// CommitAuditsAndAdvance saves the edited rational and tonal audit slots and
// performs the audit-review -> implementation advance atomically.
func (e Engine) CommitAuditsAndAdvance(ctx context.Context, brandID string, auditR, auditT map[string]any, actorID string) (domain.Brand, error) {
	b, err := e.getOwnedBrand(ctx, brandID, actorID)
	if err != nil {
		return b, err
	}
	edits := []struct {
		slot schema.SlotType
		doc  map[string]any
	}{
		{schema.SlotAuditR, auditR},
		{schema.SlotAuditT, auditT},
	}
	return e.commitAndAdvance(ctx, b, phase.AuditReview, phase.Implementation, actorID, func(tx *sql.Tx, now string) error {
		for _, edit := range edits {
			payload, err := json.Marshal(edit.doc)
			if err != nil {
				return err
			}
			if ok, issues := content.ValidateForSave(edit.slot, string(payload)); !ok {
				return fmt.Errorf("slot %s content invalid: %v", edit.slot, issues)
			}
			if err := e.Repo.UpdateSlotContentTx(ctx, tx, b.ID, string(edit.slot), string(payload), "complete", nil, now); err != nil {
				return fmt.Errorf("save slot %s: %w", edit.slot, err)
			}
		}
		return e.Events.Append(ctx, tx, "review.committed", b.ID, "brand", b.ID, actorID, events.EventPayload{
			"slots": []string{string(schema.SlotAuditR), string(schema.SlotAuditT)},
		})
	})
}

// commitAndAdvance runs a data mutation plus a guarded single-step advance
// in one transaction. Mutation and phase change succeed or fail together.
func (e Engine) commitAndAdvance(ctx context.Context, b domain.Brand, from, to phase.Phase, actorID string, mutate func(tx *sql.Tx, now string) error) (domain.Brand, error) {
	current, ok := phase.Normalize(b.Phase)
	if !ok {
		return b, fmt.Errorf("brand has unknown phase %q", b.Phase)
	}
	if current != from {
		return b, &phase.InvalidTransitionError{From: current, To: to, Reason: fmt.Sprintf("brand must be in phase %s", from)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	fresh, err := e.Repo.GetBrandTx(ctx, tx, b.ID)
	if err != nil {
		return b, err
	}
	if freshPhase, _ := phase.Normalize(fresh.Phase); freshPhase != from {
		return b, &phase.InvalidTransitionError{From: freshPhase, To: to, Reason: "phase changed concurrently"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := mutate(tx, now); err != nil {
		return b, err
	}
	if err := e.Repo.UpdateBrandPhaseTx(ctx, tx, b.ID, string(to), "generating", now); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "phase.advanced", b.ID, "brand", b.ID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(to),
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.Phase = string(to)
	b.Status = "generating"
	b.UpdatedAt = now
	return b, nil
}

// ExecuteModule runs one module, then any auto-trigger modules that declare
// a dependency on it, sequentially. Auto-trigger failures are logged and do
// not affect the primary result.
func (e Engine) ExecuteModule(ctx context.Context, moduleID, brandID, userID, triggeredBy string) module.RunResult {
	exec := e.executor()
	result := exec.Execute(ctx, module.ExecuteOptions{
		ModuleID:    moduleID,
		BrandID:     brandID,
		UserID:      userID,
		TriggeredBy: triggeredBy,
	})
	if !result.Success {
		return result
	}
	visited := map[string]bool{moduleID: true}
	queue := []string{moduleID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, h := range e.Registry.AutoTriggeredBy(id) {
			depID := h.Descriptor.ID
			if visited[depID] {
				continue
			}
			visited[depID] = true
			auto := exec.Execute(ctx, module.ExecuteOptions{
				ModuleID:    depID,
				BrandID:     brandID,
				UserID:      userID,
				TriggeredBy: "auto",
			})
			if auto.Success {
				queue = append(queue, depID)
			} else {
				e.Logger.Warn("auto-triggered module failed", "module", depID, "brand", brandID, "error", auto.Error)
			}
		}
	}
	return result
}

func (e Engine) executor() module.Executor {
	strict := false
	if e.Config != nil {
		strict = e.Config.Pipeline.StrictRevalidate
	}
	return module.Executor{
		DB:       e.DB,
		Repo:     e.Repo,
		Registry: e.Registry,
		Events:   e.Events,
		Applier: module.Applier{
			Repo:             e.Repo,
			StrictRevalidate: strict,
			Logger:           e.Logger,
			Now:              e.Now,
		},
		Gen:    e.Gen,
		Logger: e.Logger,
		Now:    e.Now,
	}
}

// ParsedSlot is a slot together with its parsed, always-complete document.
type ParsedSlot struct {
	Slot domain.Slot
	Doc  schema.Doc
	// Diagnostics from the tiered parse; empty for clean content.
	ParseError string
}

// GetParsedSlot reads one slot through the content parser. Export and
// dashboard readers go through here, never through raw content.
func (e Engine) GetParsedSlot(ctx context.Context, brandID, slotType, actorID string) (ParsedSlot, error) {
	if _, err := e.getOwnedBrand(ctx, brandID, actorID); err != nil {
		return ParsedSlot{}, err
	}
	t, ok := schema.ParseSlotType(slotType)
	if !ok {
		return ParsedSlot{}, fmt.Errorf("unknown slot type %q", slotType)
	}
	slot, err := e.Repo.GetSlot(ctx, brandID, slotType)
	if err != nil {
		return ParsedSlot{}, err
	}
	res := content.ParseStored(t, slot.Content)
	return ParsedSlot{Slot: slot, Doc: res.Doc, ParseError: res.Err}, nil
}

// GetStudy returns the brand's market-study record, if any.
func (e Engine) GetStudy(ctx context.Context, brandID, actorID string) (domain.Study, error) {
	if _, err := e.getOwnedBrand(ctx, brandID, actorID); err != nil {
		return domain.Study{}, err
	}
	return e.Repo.GetStudy(ctx, brandID)
}

// ListParsedSlots reads every slot of a brand through the content parser.
func (e Engine) ListParsedSlots(ctx context.Context, brandID, actorID string) ([]ParsedSlot, error) {
	if _, err := e.getOwnedBrand(ctx, brandID, actorID); err != nil {
		return nil, err
	}
	slots, err := e.Repo.ListSlots(ctx, brandID)
	if err != nil {
		return nil, err
	}
	out := make([]ParsedSlot, 0, len(slots))
	for _, slot := range slots {
		t, ok := schema.ParseSlotType(slot.Type)
		if !ok {
			continue
		}
		res := content.ParseStored(t, slot.Content)
		out = append(out, ParsedSlot{Slot: slot, Doc: res.Doc, ParseError: res.Err})
	}
	return out, nil
}

// SaveStudy attaches or replaces the brand's market-study record.
func (e Engine) SaveStudy(ctx context.Context, brandID, dataJSON, actorID string) (domain.Study, error) {
	b, err := e.getOwnedBrand(ctx, brandID, actorID)
	if err != nil {
		return domain.Study{}, err
	}
	var tmp any
	if err := json.Unmarshal([]byte(dataJSON), &tmp); err != nil {
		return domain.Study{}, fmt.Errorf("study data: %w", err)
	}
	s := domain.Study{
		ID:        uuid.New().String(),
		BrandID:   b.ID,
		DataJSON:  dataJSON,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.UpsertStudy(ctx, s); err != nil {
		return domain.Study{}, err
	}
	return s, nil
}
