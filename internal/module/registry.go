package module

import (
	"fmt"
	"log/slog"
	"sort"

	"brandforge/internal/schema"
)

// Registry is the addressable table of modules. It is an explicit object
// built once at startup and passed by reference, so tests can construct
// isolated registries.
type Registry struct {
	handlers map[string]*Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]*Handler),
		logger:   logger,
	}
}

// Register adds a handler. Declared output paths are checked against the
// target slot schema so a descriptor typo fails at startup rather than at
// run time. An id collision overwrites the previous registration (last wins,
// for override scenarios) and is always logged.
func (r *Registry) Register(h *Handler) error {
	d := h.Descriptor
	if d.ID == "" {
		return fmt.Errorf("module descriptor missing id")
	}
	if h.Execute == nil {
		return fmt.Errorf("module %s has no execute function", d.ID)
	}
	switch d.Category {
	case CategoryCollect, CategoryDeduce, CategoryRefine, CategoryCompute:
	default:
		return fmt.Errorf("module %s has unknown category %q", d.ID, d.Category)
	}
	for _, out := range d.Outputs {
		spec := schema.For(out.Slot)
		if spec == nil {
			return fmt.Errorf("module %s output targets unknown slot type %q", d.ID, out.Slot)
		}
		if _, ok := spec.FieldAt(out.Path); !ok {
			return fmt.Errorf("module %s output path %q does not exist in slot %s", d.ID, out.Path, out.Slot)
		}
		switch out.Strategy {
		case MergeReplace, MergeAppend, MergeMerge:
		default:
			return fmt.Errorf("module %s output has unknown merge strategy %q", d.ID, out.Strategy)
		}
	}
	for _, in := range d.Inputs {
		if in.Kind == InputSlot {
			spec := schema.For(in.Slot)
			if spec == nil {
				return fmt.Errorf("module %s input references unknown slot type %q", d.ID, in.Slot)
			}
			if _, ok := spec.FieldAt(in.Path); !ok {
				return fmt.Errorf("module %s input path %q does not exist in slot %s", d.ID, in.Path, in.Slot)
			}
		}
	}
	if _, exists := r.handlers[d.ID]; exists {
		r.logger.Warn("module id collision, previous registration overwritten", "module", d.ID)
	}
	r.handlers[d.ID] = h
	return nil
}

// Get returns the handler for a module id.
func (r *Registry) Get(id string) (*Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// All returns every registered handler, sorted by id.
func (r *Registry) All() []*Handler {
	out := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.ID < out[j].Descriptor.ID })
	return out
}

// ByCategory returns handlers of one category, sorted by id.
func (r *Registry) ByCategory(c Category) []*Handler {
	var out []*Handler
	for _, h := range r.All() {
		if h.Descriptor.Category == c {
			out = append(out, h)
		}
	}
	return out
}

// ProducersFor returns handlers with at least one output targeting the slot
// type, sorted by id.
func (r *Registry) ProducersFor(t schema.SlotType) []*Handler {
	var out []*Handler
	for _, h := range r.All() {
		for _, target := range h.Descriptor.Outputs {
			if target.Slot == t {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// AutoTriggeredBy returns auto-trigger handlers declaring a moduleOutput
// input on the given module, sorted by id.
func (r *Registry) AutoTriggeredBy(moduleID string) []*Handler {
	var out []*Handler
	for _, h := range r.All() {
		if !h.Descriptor.AutoTrigger {
			continue
		}
		for _, in := range h.Descriptor.Inputs {
			if in.Kind == InputModuleOutput && in.ModuleID == moduleID {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
