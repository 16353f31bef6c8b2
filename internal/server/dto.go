package server

import (
	"encoding/json"

	"brandforge/internal/domain"
	"brandforge/internal/engine"
	"brandforge/internal/module"
)

// Request payloads

type CreateBrandRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   string  `json:"name"`
	Sector *string `json:"sector,omitempty"`
}

type SaveAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

type TransitionRequest struct {
	Target string `json:"target"`
}

type CommitFicheRequest struct {
	Answers map[string]string `json:"answers"`
}

type CommitAuditsRequest struct {
	AuditR map[string]any `json:"audit_r"`
	AuditT map[string]any `json:"audit_t"`
}

type SaveStudyRequest struct {
	Data map[string]any `json:"data"`
}

// Response payloads

type BrandResponse struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name"`
	Sector    string            `json:"sector,omitempty"`
	Phase     string            `json:"phase"`
	Status    string            `json:"status" enum:"draft,generating,complete"`
	Answers   map[string]string `json:"answers"`
	CreatedAt string            `json:"created_at" format:"date-time"`
	UpdatedAt string            `json:"updated_at" format:"date-time"`
}

type SlotResponse struct {
	ID           string         `json:"id"`
	BrandID      string         `json:"brand_id"`
	Type         string         `json:"type"`
	Status       string         `json:"status" enum:"pending,generating,complete,error"`
	Content      map[string]any `json:"content"`
	Version      int            `json:"version"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	ParseError   string         `json:"parse_error,omitempty"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type ModuleInfoResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category" enum:"collect,deduce,refine,compute"`
	AutoTrigger bool     `json:"auto_trigger"`
	Writes      []string `json:"writes"`
}

type RunResponse struct {
	ID           string         `json:"id"`
	ModuleID     string         `json:"module_id"`
	BrandID      string         `json:"brand_id"`
	UserID       string         `json:"user_id"`
	Status       string         `json:"status" enum:"pending,running,complete,error"`
	TriggeredBy  string         `json:"triggered_by" enum:"manual,auto,webhook"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type RunResultResponse struct {
	Success bool           `json:"success"`
	RunID   string         `json:"run_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type StudyResponse struct {
	ID        string         `json:"id"`
	BrandID   string         `json:"brand_id"`
	Data      map[string]any `json:"data"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	BrandID    string         `json:"brand_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func brandResponse(b domain.Brand) BrandResponse {
	if b.Answers == nil {
		b.Answers = map[string]string{}
	}
	return BrandResponse(b)
}

func slotResponse(ps engine.ParsedSlot) SlotResponse {
	return SlotResponse{
		ID:           ps.Slot.ID,
		BrandID:      ps.Slot.BrandID,
		Type:         ps.Slot.Type,
		Status:       ps.Slot.Status,
		Content:      ps.Doc,
		Version:      ps.Slot.Version,
		ErrorMessage: ps.Slot.ErrorMessage,
		ParseError:   ps.ParseError,
		UpdatedAt:    ps.Slot.UpdatedAt,
	}
}

func moduleInfoResponse(h *module.Handler) ModuleInfoResponse {
	writes := make([]string, 0, len(h.Descriptor.Outputs))
	seen := map[string]bool{}
	for _, out := range h.Descriptor.Outputs {
		s := string(out.Slot)
		if !seen[s] {
			seen[s] = true
			writes = append(writes, s)
		}
	}
	return ModuleInfoResponse{
		ID:          h.Descriptor.ID,
		Name:        h.Descriptor.Name,
		Description: h.Descriptor.Description,
		Category:    string(h.Descriptor.Category),
		AutoTrigger: h.Descriptor.AutoTrigger,
		Writes:      writes,
	}
}

func runResponse(r domain.ModuleRun) RunResponse {
	var output map[string]any
	if r.OutputData != nil {
		output = decodeJSONMap(*r.OutputData)
	}
	return RunResponse{
		ID:           r.ID,
		ModuleID:     r.ModuleID,
		BrandID:      r.BrandID,
		UserID:       r.UserID,
		Status:       r.Status,
		TriggeredBy:  r.TriggeredBy,
		OutputData:   output,
		ErrorMessage: r.ErrorMessage,
		DurationMs:   r.DurationMs,
		CreatedAt:    r.CreatedAt,
	}
}

func studyResponse(s domain.Study) StudyResponse {
	return StudyResponse{
		ID:        s.ID,
		BrandID:   s.BrandID,
		Data:      decodeJSONMap(s.DataJSON),
		CreatedAt: s.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		BrandID:    e.BrandID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
