package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"brandforge/internal/config"
	"brandforge/internal/db"
	"brandforge/internal/engine"
	"brandforge/internal/migrate"
	"brandforge/internal/module"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, module.NewRegistry(nil), nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/brands", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestBrandLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/brands",
		map[string]any{"name": "Acme", "sector": "retail"}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, body)
	}
	var brand BrandResponse
	if err := json.Unmarshal(body, &brand); err != nil {
		t.Fatalf("decode brand: %v", err)
	}
	if brand.Phase != "fiche" {
		t.Fatalf("new brand phase: %s", brand.Phase)
	}

	// Another actor cannot read it.
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/brands/"+brand.ID, nil, asActor("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign read: %d", res.StatusCode)
	}

	// Slots are created with the brand.
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/brands/"+brand.ID+"/slots", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("slots: %d", res.StatusCode)
	}
	var slots []SlotResponse
	if err := json.Unmarshal(body, &slots); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}

	// Illegal skip is a conflict with the error envelope.
	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/brands/"+brand.ID+"/advance",
		map[string]any{"target": "audit-t"}, asActor("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("illegal advance: %d %s", res.StatusCode, body)
	}
	var envelope struct {
		Body apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Body.Code != "invalid_transition" {
		t.Fatalf("error code: %s", envelope.Body.Code)
	}

	// Legal advance.
	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/brands/"+brand.ID+"/advance",
		map[string]any{"target": "fiche-review"}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance: %d", res.StatusCode)
	}

	// Unknown brand is 404.
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/brands/nope", nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing brand: %d", res.StatusCode)
	}
}
