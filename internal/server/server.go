package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"brandforge/internal/engine"
	"brandforge/internal/phase"
	"brandforge/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot advance from fiche to audit-t"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"fiche\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Brandforge API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Brandforge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerBrands(group, cfg.Engine)
	registerAnswers(group, cfg.Engine)
	registerSlots(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerModules(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerStudies(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te *phase.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(te.From),
			"to":   string(te.To),
		})
	}
	if errors.Is(err, engine.ErrNotOwner) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "content invalid"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "unknown") || strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type brandPath struct {
	BrandID string `path:"brand_id"`
}

func registerBrands(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-brand",
		Method:        http.MethodPost,
		Path:          "/brands",
		Summary:       "Create brand",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBrandRequest `json:"body"`
	}) (*struct {
		Body BrandResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.BrandCreateOptions{Name: input.Body.Name, OwnerID: userID}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Sector != nil {
			opts.Sector = *input.Body.Sector
		}
		b, err := e.CreateBrand(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BrandResponse `json:"body"`
		}{Body: brandResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-brands",
		Method:      http.MethodGet,
		Path:        "/brands",
		Summary:     "List brands owned by the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []BrandResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		brands, err := e.Repo.ListBrands(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]BrandResponse, 0, len(brands))
		for _, b := range brands {
			out = append(out, brandResponse(b))
		}
		return &struct {
			Body []BrandResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-brand",
		Method:      http.MethodGet,
		Path:        "/brands/{brand_id}",
		Summary:     "Get brand",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *brandPath) (*struct {
		Body BrandResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBrand(ctx, input.BrandID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BrandResponse `json:"body"`
		}{Body: brandResponse(b)}, nil
	})
}

func registerAnswers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-answers",
		Method:      http.MethodPut,
		Path:        "/brands/{brand_id}/answers",
		Summary:     "Replace the brand's answer map",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		brandPath
		Body SaveAnswersRequest `json:"body"`
	}) (*struct {
		Body BrandResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Answers == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "answers is required", nil)
		}
		b, err := e.SaveAnswers(ctx, input.BrandID, input.Body.Answers, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BrandResponse `json:"body"`
		}{Body: brandResponse(b)}, nil
	})
}

func registerSlots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-slots",
		Method:      http.MethodGet,
		Path:        "/brands/{brand_id}/slots",
		Summary:     "List slots with parsed content",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *brandPath) (*struct {
		Body []SlotResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slots, err := e.ListParsedSlots(ctx, input.BrandID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, slotResponse(s))
		}
		return &struct {
			Body []SlotResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-slot",
		Method:      http.MethodGet,
		Path:        "/brands/{brand_id}/slots/{slot_type}",
		Summary:     "Get one slot with parsed content",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		brandPath
		SlotType string `path:"slot_type"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ps, err := e.GetParsedSlot(ctx, input.BrandID, input.SlotType, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(ps)}, nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	transition := func(forward bool) func(ctx context.Context, input *struct {
		brandPath
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body BrandResponse `json:"body"`
	}, error) {
		return func(ctx context.Context, input *struct {
			brandPath
			Body TransitionRequest `json:"body"`
		}) (*struct {
			Body BrandResponse `json:"body"`
		}, error) {
			userID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if input.Body.Target == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "target is required", nil)
			}
			move := e.Revert
			if forward {
				move = e.Advance
			}
			b, err := move(ctx, input.BrandID, input.Body.Target, userID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body BrandResponse `json:"body"`
			}{Body: brandResponse(b)}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "advance-phase",
		Method:      http.MethodPost,
		Path:        "/brands/{brand_id}/advance",
		Summary:     "Advance the brand to a later phase",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, transition(true))

	huma.Register(api, huma.Operation{
		OperationID: "revert-phase",
		Method:      http.MethodPost,
		Path:        "/brands/{brand_id}/revert",
		Summary:     "Revert the brand to an earlier phase",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, transition(false))

	huma.Register(api, huma.Operation{
		OperationID: "commit-fiche-review",
		Method:      http.MethodPost,
		Path:        "/brands/{brand_id}/fiche-review/commit",
		Summary:     "Save edited answers and advance past fiche review",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		brandPath
		Body CommitFicheRequest `json:"body"`
	}) (*struct {
		Body BrandResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Answers == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "answers is required", nil)
		}
		b, err := e.SaveAnswersAndAdvance(ctx, input.BrandID, input.Body.Answers, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BrandResponse `json:"body"`
		}{Body: brandResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "commit-audit-review",
		Method:      http.MethodPost,
		Path:        "/brands/{brand_id}/audit-review/commit",
		Summary:     "Save edited audits and advance past audit review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		brandPath
		Body CommitAuditsRequest `json:"body"`
	}) (*struct {
		Body BrandResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.AuditR == nil || input.Body.AuditT == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "audit_r and audit_t are required", nil)
		}
		b, err := e.CommitAuditsAndAdvance(ctx, input.BrandID, input.Body.AuditR, input.Body.AuditT, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BrandResponse `json:"body"`
		}{Body: brandResponse(b)}, nil
	})
}

func registerModules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-modules",
		Method:      http.MethodGet,
		Path:        "/modules",
		Summary:     "List registered modules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ModuleInfoResponse `json:"body"`
	}, error) {
		handlers := e.Registry.All()
		out := make([]ModuleInfoResponse, 0, len(handlers))
		for _, h := range handlers {
			out = append(out, moduleInfoResponse(h))
		}
		return &struct {
			Body []ModuleInfoResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-module",
		Method:      http.MethodPost,
		Path:        "/brands/{brand_id}/modules/{module_id}/run",
		Summary:     "Run a module against a brand",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		brandPath
		ModuleID    string `path:"module_id"`
		TriggeredBy string `query:"triggered_by" default:"manual" enum:"manual,webhook"`
	}) (*struct {
		Body RunResultResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result := e.ExecuteModule(ctx, input.ModuleID, input.BrandID, userID, input.TriggeredBy)
		return &struct {
			Body RunResultResponse `json:"body"`
		}{Body: RunResultResponse(result)}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/brands/{brand_id}/runs",
		Summary:     "List module runs, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		brandPath
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []RunResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		runs, err := e.ListRuns(ctx, input.BrandID, userID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RunResponse, 0, len(runs))
		for _, r := range runs {
			out = append(out, runResponse(r))
		}
		return &struct {
			Body []RunResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerStudies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-study",
		Method:      http.MethodPut,
		Path:        "/brands/{brand_id}/study",
		Summary:     "Attach or replace the brand's market study",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		brandPath
		Body SaveStudyRequest `json:"body"`
	}) (*struct {
		Body StudyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Data == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "data is required", nil)
		}
		payload, err := json.Marshal(input.Body.Data)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.SaveStudy(ctx, input.BrandID, string(payload), userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StudyResponse `json:"body"`
		}{Body: studyResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-study",
		Method:      http.MethodGet,
		Path:        "/brands/{brand_id}/study",
		Summary:     "Get the brand's market study",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *brandPath) (*struct {
		Body StudyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetStudy(ctx, input.BrandID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StudyResponse `json:"body"`
		}{Body: studyResponse(s)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events after a cursor",
	}, func(ctx context.Context, input *struct {
		After   int64  `query:"after" default:"0" minimum:"0"`
		Limit   int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
		BrandID string `query:"brand_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.EventsAfter(ctx, input.Limit, input.After, input.BrandID)
		if err != nil {
			return nil, handleError(err)
		}
		out := paginatedEvents{Items: make([]EventResponse, 0, len(events))}
		for _, evt := range events {
			out.Items = append(out.Items, eventResponse(evt))
		}
		if len(events) == input.Limit && len(events) > 0 {
			out.NextCursor = fmt.Sprintf("%d", events[len(events)-1].ID)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: out}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Brandforge API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
