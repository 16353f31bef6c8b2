package brandforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Brandforge HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Brand represents the API brand model.
type Brand struct {
	ID      string            `json:"id"`
	OwnerID string            `json:"owner_id"`
	Name    string            `json:"name"`
	Sector  string            `json:"sector"`
	Phase   string            `json:"phase"`
	Status  string            `json:"status"`
	Answers map[string]string `json:"answers"`
}

// Slot represents a content slot with its parsed document.
type Slot struct {
	ID         string         `json:"id"`
	BrandID    string         `json:"brand_id"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Content    map[string]any `json:"content"`
	Version    int            `json:"version"`
	ParseError string         `json:"parse_error,omitempty"`
}

// RunResult is the outcome of a module run.
type RunResult struct {
	Success bool           `json:"success"`
	RunID   string         `json:"run_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	BrandID    string         `json:"brand_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateBrand creates a brand.
func (c *Client) CreateBrand(ctx context.Context, name, sector string) (Brand, error) {
	body := map[string]any{
		"name":   name,
		"sector": sector,
	}
	var resp Brand
	err := c.do(ctx, http.MethodPost, "v0/brands", body, &resp)
	return resp, err
}

// GetBrand fetches a brand by id.
func (c *Client) GetBrand(ctx context.Context, id string) (Brand, error) {
	var resp Brand
	err := c.do(ctx, http.MethodGet, c.brandPath(id, ""), nil, &resp)
	return resp, err
}

// ListBrands lists the caller's brands.
func (c *Client) ListBrands(ctx context.Context) ([]Brand, error) {
	var resp []Brand
	err := c.do(ctx, http.MethodGet, "v0/brands", nil, &resp)
	return resp, err
}

// SaveAnswers replaces the brand's answer map.
func (c *Client) SaveAnswers(ctx context.Context, brandID string, answers map[string]string) (Brand, error) {
	var resp Brand
	err := c.do(ctx, http.MethodPut, c.brandPath(brandID, "answers"), map[string]any{"answers": answers}, &resp)
	return resp, err
}

// Advance moves the brand forward to the target phase.
func (c *Client) Advance(ctx context.Context, brandID, target string) (Brand, error) {
	var resp Brand
	err := c.do(ctx, http.MethodPost, c.brandPath(brandID, "advance"), map[string]any{"target": target}, &resp)
	return resp, err
}

// Revert moves the brand back to the target phase.
func (c *Client) Revert(ctx context.Context, brandID, target string) (Brand, error) {
	var resp Brand
	err := c.do(ctx, http.MethodPost, c.brandPath(brandID, "revert"), map[string]any{"target": target}, &resp)
	return resp, err
}

// CommitFicheReview saves edited answers and advances past fiche review.
func (c *Client) CommitFicheReview(ctx context.Context, brandID string, answers map[string]string) (Brand, error) {
	var resp Brand
	err := c.do(ctx, http.MethodPost, c.brandPath(brandID, "fiche-review/commit"), map[string]any{"answers": answers}, &resp)
	return resp, err
}

// CommitAuditReview saves the edited audits and advances past audit review.
func (c *Client) CommitAuditReview(ctx context.Context, brandID string, auditR, auditT map[string]any) (Brand, error) {
	body := map[string]any{"audit_r": auditR, "audit_t": auditT}
	var resp Brand
	err := c.do(ctx, http.MethodPost, c.brandPath(brandID, "audit-review/commit"), body, &resp)
	return resp, err
}

// GetSlot fetches one slot with parsed content.
func (c *Client) GetSlot(ctx context.Context, brandID, slotType string) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodGet, c.brandPath(brandID, "slots/"+url.PathEscape(slotType)), nil, &resp)
	return resp, err
}

// ListSlots fetches all slots with parsed content.
func (c *Client) ListSlots(ctx context.Context, brandID string) ([]Slot, error) {
	var resp []Slot
	err := c.do(ctx, http.MethodGet, c.brandPath(brandID, "slots"), nil, &resp)
	return resp, err
}

// RunModule runs a module against a brand.
func (c *Client) RunModule(ctx context.Context, brandID, moduleID string) (RunResult, error) {
	var resp RunResult
	endpoint := c.brandPath(brandID, fmt.Sprintf("modules/%s/run", url.PathEscape(moduleID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SaveStudy attaches or replaces the brand's market study.
func (c *Client) SaveStudy(ctx context.Context, brandID string, data map[string]any) error {
	return c.do(ctx, http.MethodPut, c.brandPath(brandID, "study"), map[string]any{"data": data}, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Items, err
}

// EventsPage returns a paginated event listing starting after a cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, after int64) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if after > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%safter=%d", endpoint, sep, after)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) brandPath(brandID, p string) string {
	brand := url.PathEscape(brandID)
	if p == "" {
		return fmt.Sprintf("v0/brands/%s", brand)
	}
	return fmt.Sprintf("v0/brands/%s/%s", brand, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
