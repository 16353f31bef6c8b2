package domain

// Brand is the entity taken through the strategy pipeline.
type Brand struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name"`
	Sector    string            `json:"sector,omitempty"`
	Phase     string            `json:"phase"`
	Status    string            `json:"status" enum:"draft,generating,complete"`
	Answers   map[string]string `json:"answers,omitempty"`
	CreatedAt string            `json:"created_at" format:"date-time"`
	UpdatedAt string            `json:"updated_at" format:"date-time"`
}

// Slot is one of the fixed content containers attached to a brand. Content is
// stored as JSON text; legacy records may hold a raw unstructured string.
type Slot struct {
	ID           string  `json:"id"`
	BrandID      string  `json:"brand_id"`
	Type         string  `json:"type"`
	Status       string  `json:"status" enum:"pending,generating,complete,error"`
	Content      *string `json:"content,omitempty"`
	Version      int     `json:"version"`
	ErrorMessage *string `json:"error_message,omitempty"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// ModuleRun is the immutable audit record of one module invocation.
type ModuleRun struct {
	ID            string  `json:"id"`
	ModuleID      string  `json:"module_id"`
	BrandID       string  `json:"brand_id"`
	UserID        string  `json:"user_id"`
	Status        string  `json:"status" enum:"pending,running,complete,error"`
	TriggeredBy   string  `json:"triggered_by" enum:"manual,auto,webhook"`
	InputSnapshot *string `json:"input_snapshot,omitempty"`
	OutputData    *string `json:"output_data,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	DurationMs    int64   `json:"duration_ms"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// Study is the market-study record attached to a brand; its shape is owned
// outside this core and passed through to modules as-is.
type Study struct {
	ID        string `json:"id"`
	BrandID   string `json:"brand_id"`
	DataJSON  string `json:"data_json"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	BrandID    string `json:"brand_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
