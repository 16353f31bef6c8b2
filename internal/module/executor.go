package module

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"brandforge/internal/domain"
	"brandforge/internal/events"
	"brandforge/internal/genai"
	"brandforge/internal/repo"
)

// Executor orchestrates one module run end to end and persists the immutable
// run record that forms the audit trail.
type Executor struct {
	DB       *sql.DB
	Repo     repo.Repo
	Registry *Registry
	Events   events.Writer
	Applier  Applier
	Gen      genai.Generator
	Logger   *slog.Logger
	Now      func() time.Time
}

// ExecuteOptions parameterize one invocation.
type ExecuteOptions struct {
	ModuleID    string
	BrandID     string
	UserID      string
	TriggeredBy string // manual, auto, webhook
}

// Execute runs a module. Failures of any kind come back as a RunResult with
// Success=false; the caller never sees a panic or a raw error. No slot write
// happens unless both the input and the output schema gates pass.
func (e Executor) Execute(ctx context.Context, opts ExecuteOptions) RunResult {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}

	handler, ok := e.Registry.Get(opts.ModuleID)
	if !ok {
		return RunResult{Error: fmt.Sprintf("module %s not found", opts.ModuleID)}
	}
	brand, err := e.Repo.GetBrand(ctx, opts.BrandID)
	if err != nil {
		return RunResult{Error: fmt.Sprintf("brand %s: %v", opts.BrandID, err)}
	}
	if brand.OwnerID != opts.UserID {
		return RunResult{Error: "brand not owned by requesting user"}
	}

	run := domain.ModuleRun{
		ID:          uuid.New().String(),
		ModuleID:    opts.ModuleID,
		BrandID:     opts.BrandID,
		UserID:      opts.UserID,
		Status:      "running",
		TriggeredBy: opts.TriggeredBy,
		CreatedAt:   now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertModuleRun(ctx, run); err != nil {
		return RunResult{Error: fmt.Sprintf("create run record: %v", err)}
	}
	start := now()

	result, runErr := e.run(ctx, handler, brand, run, start)
	if runErr != nil {
		e.failRun(ctx, run.ID, runErr.Error(), sinceMs(now, start))
		logger.Warn("module run failed", "module", opts.ModuleID, "brand", opts.BrandID, "run", run.ID, "error", runErr)
		return RunResult{RunID: run.ID, Error: runErr.Error()}
	}
	return result
}

// run performs steps 4-9 of the lifecycle; any returned error is recorded on
// the run by the caller.
func (e Executor) run(ctx context.Context, handler *Handler, brand domain.Brand, run domain.ModuleRun, start time.Time) (_ RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module panicked: %v", r)
		}
	}()
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	d := handler.Descriptor

	inputs, err := Resolver{Repo: e.Repo}.Resolve(ctx, brand, d.Inputs)
	if err != nil {
		return RunResult{}, fmt.Errorf("resolve inputs: %w", err)
	}
	if d.InputSchema != nil {
		if _, issues, verr := d.InputSchema.Apply(inputs, false); verr != nil || len(issues) > 0 {
			if verr != nil {
				return RunResult{}, fmt.Errorf("input validation: %v", verr)
			}
			return RunResult{}, fmt.Errorf("input validation: %v", issues)
		}
	}

	result, execErr := handler.Execute(ctx, ExecContext{
		Brand:  brand,
		Inputs: inputs,
		Gen:    e.Gen,
		Logger: e.Logger,
	})
	if execErr != nil {
		return RunResult{}, fmt.Errorf("execute: %w", execErr)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "module reported failure"
		}
		return RunResult{}, fmt.Errorf("execute: %s", msg)
	}

	data := result.Data
	if d.OutputSchema != nil {
		// Output-shape mismatch is a hard stop, unlike the soft
		// revalidation that runs after the slots are merged.
		validated, issues, verr := d.OutputSchema.Apply(data, false)
		if verr != nil {
			return RunResult{}, fmt.Errorf("output validation: %v", verr)
		}
		if len(issues) > 0 {
			return RunResult{}, fmt.Errorf("output validation: %v", issues)
		}
		if doc, ok := validated.(map[string]any); ok {
			data = doc
		}
	}

	inputSnapshot, err := json.Marshal(inputs)
	if err != nil {
		return RunResult{}, fmt.Errorf("snapshot inputs: %w", err)
	}
	outputData, err := json.Marshal(data)
	if err != nil {
		return RunResult{}, fmt.Errorf("snapshot output: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RunResult{}, err
	}
	defer tx.Rollback()

	if len(d.Outputs) > 0 {
		if err := e.Applier.Apply(ctx, tx, brand.ID, d.Outputs, data); err != nil {
			return RunResult{}, fmt.Errorf("apply outputs: %w", err)
		}
	}
	inStr, outStr := string(inputSnapshot), string(outputData)
	if err := e.Repo.CompleteModuleRunTx(ctx, tx, run.ID, "complete", &inStr, &outStr, nil, sinceMs(now, start)); err != nil {
		return RunResult{}, fmt.Errorf("complete run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "module.run.completed", brand.ID, "module_run", run.ID, run.UserID, events.EventPayload{
		"module":       d.ID,
		"triggered_by": run.TriggeredBy,
	}); err != nil {
		return RunResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RunResult{}, err
	}
	return RunResult{Success: true, RunID: run.ID, Data: data}, nil
}

// failRun marks the run record as errored. A failure to record the failure
// is logged and swallowed; the caller still gets the original error.
func (e Executor) failRun(ctx context.Context, runID, msg string, durationMs int64) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := e.Repo.CompleteModuleRunTx(ctx, nil, runID, "error", nil, nil, &msg, durationMs); err != nil {
		logger.Error("record run failure", "run", runID, "error", err)
		return
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	run, err := e.Repo.GetModuleRun(ctx, runID)
	if err != nil {
		return
	}
	if err := e.Events.Append(ctx, tx, "module.run.failed", run.BrandID, "module_run", runID, run.UserID, events.EventPayload{
		"module": run.ModuleID,
		"error":  msg,
	}); err != nil {
		return
	}
	_ = tx.Commit()
}

func sinceMs(now func() time.Time, start time.Time) int64 {
	d := now().Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
