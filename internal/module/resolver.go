package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"brandforge/internal/content"
	"brandforge/internal/domain"
	"brandforge/internal/repo"
)

// Resolver gathers a module's declared inputs into a flat label->value map.
// Sources are read concurrently and merged once all reads finish.
type Resolver struct {
	Repo repo.Repo
}

// Resolve fans out one read per declared source. A dependency module that
// has not run yet resolves to nil, not an error.
func (rs Resolver) Resolve(ctx context.Context, brand domain.Brand, inputs []InputSource) (map[string]any, error) {
	resolved := make(map[string]any, len(inputs)+4)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range inputs {
		g.Go(func() error {
			label, value, err := rs.resolveOne(gctx, brand, src)
			if err != nil {
				return err
			}
			mu.Lock()
			resolved[label] = value
			if src.Kind == InputBrandFields {
				// Brand fields are also flattened to the top level.
				if fields, ok := value.(map[string]any); ok {
					for k, v := range fields {
						resolved[k] = v
					}
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (rs Resolver) resolveOne(ctx context.Context, brand domain.Brand, src InputSource) (string, any, error) {
	switch src.Kind {
	case InputSlot:
		slot, err := rs.Repo.GetSlot(ctx, brand.ID, string(src.Slot))
		if err != nil {
			return "", nil, fmt.Errorf("resolve slot %s: %w", src.Slot, err)
		}
		res := content.ParseStored(src.Slot, slot.Content)
		label := "slot_" + string(src.Slot)
		if src.Path == "" {
			return label, res.Doc, nil
		}
		value, _ := GetPath(res.Doc, src.Path)
		return label + "_" + strings.ReplaceAll(src.Path, ".", "_"), value, nil
	case InputAnswers:
		answers := map[string]any{}
		if len(src.Keys) == 0 {
			for k, v := range brand.Answers {
				answers[k] = v
			}
		} else {
			for _, k := range src.Keys {
				answers[k] = brand.Answers[k]
			}
		}
		return "answers", answers, nil
	case InputBrandFields:
		fields := map[string]any{}
		keys := src.Keys
		if len(keys) == 0 {
			keys = []string{"id", "name", "sector", "phase", "status"}
		}
		for _, k := range keys {
			fields[k] = brandField(brand, k)
		}
		return "brand", fields, nil
	case InputStudy:
		study, err := rs.Repo.GetStudy(ctx, brand.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return "study", nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("resolve study: %w", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(study.DataJSON), &data); err != nil {
			return "study", nil, nil
		}
		if len(src.Keys) > 0 {
			projected := map[string]any{}
			for _, k := range src.Keys {
				projected[k] = data[k]
			}
			return "study", projected, nil
		}
		return "study", data, nil
	case InputModuleOutput:
		label := "module_" + src.ModuleID
		run, err := rs.Repo.LatestCompleteRun(ctx, brand.ID, src.ModuleID)
		if errors.Is(err, repo.ErrNotFound) {
			// Dependency not yet run is a valid state.
			return label, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("resolve module output %s: %w", src.ModuleID, err)
		}
		if run.OutputData == nil {
			return label, nil, nil
		}
		var data any
		if err := json.Unmarshal([]byte(*run.OutputData), &data); err != nil {
			return label, nil, nil
		}
		return label, data, nil
	}
	return "", nil, fmt.Errorf("unknown input kind %q", src.Kind)
}

func brandField(b domain.Brand, key string) any {
	switch key {
	case "id":
		return b.ID
	case "owner_id":
		return b.OwnerID
	case "name":
		return b.Name
	case "sector":
		return b.Sector
	case "phase":
		return b.Phase
	case "status":
		return b.Status
	case "created_at":
		return b.CreatedAt
	}
	return nil
}
