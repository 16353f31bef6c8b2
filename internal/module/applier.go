package module

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"brandforge/internal/content"
	"brandforge/internal/repo"
	"brandforge/internal/schema"
)

// Applier writes validated module output into target slots. The current
// content is always read through the content parser, so every merge starts
// from a complete, valid document regardless of what is stored.
type Applier struct {
	Repo repo.Repo
	// StrictRevalidate turns post-apply validation warnings into failures.
	StrictRevalidate bool
	Logger           *slog.Logger
	Now              func() time.Time
}

// Apply groups targets by destination slot and applies each group inside the
// caller's transaction. Post-apply revalidation is soft by default: issues
// are logged, the write still lands.
func (a Applier) Apply(ctx context.Context, tx *sql.Tx, brandID string, outputs []OutputTarget, data map[string]any) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	bySlot := map[schema.SlotType][]OutputTarget{}
	var order []schema.SlotType
	for _, out := range outputs {
		if _, seen := bySlot[out.Slot]; !seen {
			order = append(order, out.Slot)
		}
		bySlot[out.Slot] = append(bySlot[out.Slot], out)
	}

	for _, slotType := range order {
		slot, err := a.Repo.GetSlotTx(ctx, tx, brandID, string(slotType))
		if err != nil {
			return fmt.Errorf("read slot %s: %w", slotType, err)
		}
		doc := content.ParseStored(slotType, slot.Content).Doc
		for _, target := range bySlot[slotType] {
			incoming := any(data)
			if target.Key != "" {
				incoming = data[target.Key]
			}
			if target.Path == "" {
				if merged, ok := Merge(target.Strategy, any(doc), incoming).(map[string]any); ok {
					doc = merged
				}
				continue
			}
			existing, _ := GetPath(doc, target.Path)
			SetPath(doc, target.Path, Merge(target.Strategy, existing, incoming))
		}

		if _, issues, err := schema.Validate(slotType, doc); err != nil || len(issues) > 0 {
			if a.StrictRevalidate {
				return fmt.Errorf("slot %s failed revalidation after apply: %v", slotType, issues)
			}
			logger.Warn("slot content imperfect after apply, persisting anyway",
				"slot", slotType, "issues", issues)
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal slot %s: %w", slotType, err)
		}
		ts := now().UTC().Format(time.RFC3339)
		if err := a.Repo.UpdateSlotContentTx(ctx, tx, brandID, string(slotType), string(payload), "complete", nil, ts); err != nil {
			return fmt.Errorf("write slot %s: %w", slotType, err)
		}
	}
	return nil
}
