package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"brandforge/internal/config"
	"brandforge/internal/db"
	"brandforge/internal/engine"
	"brandforge/internal/migrate"
	"brandforge/internal/module"
)

func TestZZProbeAdvance(t *testing.T) {
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, module.NewRegistry(nil), nil)

	b, err := e.CreateBrand(context.Background(), engine.BrandCreateOptions{Name: "Acme", OwnerID: "alice", Sector: "retail"})
	fmt.Printf("direct create: %+v err=%v\n", b.ID, err)
	_, err = e.Advance(context.Background(), b.ID, "audit-t", "alice")
	fmt.Printf("direct advance err: %v\n", err)

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	hts := httptest.NewServer(handler)
	defer hts.Close()
	srv := &testServer{URL: hts.URL, client: hts.Client(), close: func() {}}

	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/brands/"+b.ID+"/advance",
		map[string]any{"target": "audit-t"}, asActor("alice"))
	fmt.Printf("http advance: %d %s\n", res.StatusCode, body)

	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/brands/"+b.ID+"/advance",
		map[string]any{"target": "fiche-review"}, asActor("alice"))
	fmt.Printf("http advance legal: %d %s\n", res.StatusCode, body)

	var brand BrandResponse
	_ = json.Unmarshal(body, &brand)
	fmt.Printf("after: phase=%q\n", brand.Phase)
}

