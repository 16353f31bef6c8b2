// Package module implements the pluggable computation engine: a registry of
// declaratively-described modules, an input resolver, a merge-disciplined
// output applier and the run executor that ties them together.
package module

import (
	"context"
	"log/slog"

	"brandforge/internal/domain"
	"brandforge/internal/genai"
	"brandforge/internal/schema"
)

// Category classifies what a module does with its inputs.
type Category string

const (
	CategoryCollect Category = "collect"
	CategoryDeduce  Category = "deduce"
	CategoryRefine  Category = "refine"
	CategoryCompute Category = "compute"
)

// InputKind discriminates the source of one resolved input.
type InputKind string

const (
	InputSlot         InputKind = "slot"
	InputAnswers      InputKind = "answers"
	InputBrandFields  InputKind = "brand"
	InputStudy        InputKind = "study"
	InputModuleOutput InputKind = "moduleOutput"
)

// InputSource declares one typed input of a module.
type InputSource struct {
	Kind InputKind
	// Slot holds the slot type for InputSlot sources; Path optionally drills
	// into the parsed document.
	Slot schema.SlotType
	Path string
	// Keys projects a subset for InputAnswers, InputBrandFields and
	// InputStudy sources. Empty means everything.
	Keys []string
	// ModuleID names the dependency for InputModuleOutput sources.
	ModuleID string
}

// MergeStrategy is the discipline used to combine module output with a
// slot's existing value at a target path.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "replace"
	MergeAppend  MergeStrategy = "append"
	MergeMerge   MergeStrategy = "merge"
)

// OutputTarget declares where one piece of module output lands. Path "" means
// the whole slot document.
type OutputTarget struct {
	Slot schema.SlotType
	// Key selects the field of the module's output object to write; empty
	// means the whole output object.
	Key      string
	Path     string
	Strategy MergeStrategy
}

// Descriptor is the immutable declarative description of a module,
// registered once at process start. An empty Outputs list denotes a
// read-only analysis module.
type Descriptor struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Inputs      []InputSource
	Outputs     []OutputTarget
	AutoTrigger bool
	// InputSchema and OutputSchema gate execution; both are hard stops,
	// unlike the soft revalidation after output application.
	InputSchema  *schema.Spec
	OutputSchema *schema.Spec
}

// ExecContext is handed to a module's execute function.
type ExecContext struct {
	Brand  domain.Brand
	Inputs map[string]any
	Gen    genai.Generator
	Logger *slog.Logger
}

// Result is what a module execution produces. Success=false is treated the
// same as a returned error.
type Result struct {
	Success bool
	Data    map[string]any
	Error   string
}

// ExecuteFunc is the pure unit of computation.
type ExecuteFunc func(ctx context.Context, ec ExecContext) (Result, error)

// Handler pairs a descriptor with its execute function.
type Handler struct {
	Descriptor Descriptor
	Execute    ExecuteFunc
}

// RunResult is returned by the executor to callers. The executor never lets
// a failure escape as a panic or unwrapped error; failed runs come back as
// Success=false with the run id for audit lookup.
type RunResult struct {
	Success bool           `json:"success"`
	RunID   string         `json:"run_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}
