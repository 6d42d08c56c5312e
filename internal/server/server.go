package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/api"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/events"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/repo"
)

// EventSource lists persisted audit events.
type EventSource interface {
	RecentEvents(ctx context.Context, kind string, limit int) ([]events.Record, error)
}

// Config for the admin HTTP handler.
type Config struct {
	API      *api.API
	Events   EventSource
	Hub      *Hub
	BasePath string
	Auth     AuthConfig
	// Now is used to default report dates. Defaults to time.Now.
	Now func() time.Time
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"Task with ID 7 does not exist."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing read access to the running server.
func New(cfg Config) (http.Handler, error) {
	if cfg.API == nil {
		return nil, errors.New("server: API is required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("MicroTask Admin API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	hapi := humachi.New(router, hcfg)
	group := huma.NewGroup(hapi, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg)
	registerMe(group)
	registerTasks(group, cfg.API)
	registerTimeCategories(group, cfg.API)
	registerBugzilla(group, cfg)
	registerReports(group, cfg)
	registerEvents(group, cfg.Events)
	registerOpenAPI(router, hapi, basePath)

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
	switch {
	case errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, engine.ErrCategoryNotFound),
		errors.Is(err, engine.ErrCodeNotFound),
		errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidDate):
		return newAPIError(http.StatusBadRequest, "invalid_date", err.Error(), nil)
	}
	var domainErr *engine.Error
	if errors.As(err, &domainErr) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, hapi huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		// built on first use, once every operation is registered
		once.Do(func() {
			oas := hapi.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
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
    <title>MicroTask Admin API</title>
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
  </body>
</html>`, specURL)
}

type healthBody struct {
	Status       string `json:"status" example:"ok"`
	Connections  int    `json:"connections"`
	Tasks        int    `json:"tasks"`
	ActiveTaskID int32  `json:"active_task_id,omitempty"`
}

func registerHealth(hapi huma.API, cfg Config) {
	huma.Register(hapi, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body healthBody `json:"body"`
	}, error) {
		body := healthBody{
			Status:      "ok",
			Connections: cfg.Hub.Count(),
			Tasks:       len(cfg.API.Tasks()),
		}
		if id, ok := cfg.API.ActiveTask(); ok {
			body.ActiveTaskID = int32(id)
		}
		return &struct {
			Body healthBody `json:"body"`
		}{Body: body}, nil
	})
}

func registerMe(hapi huma.API) {
	huma.Register(hapi, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		body := map[string]string{"subject": "anonymous", "source": "none"}
		if p, ok := principalFromContext(ctx); ok {
			body = map[string]string{"subject": p.Subject, "source": p.Source}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: body}, nil
	})
}

func registerTasks(hapi huma.API, a *api.API) {
	huma.Register(hapi, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State    string `query:"state" enum:"inactive,active,finished"`
		ParentID int32  `query:"parent_id" default:"-1"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		out := []TaskResponse{}
		for _, t := range a.Tasks() {
			if input.State != "" && t.State.String() != input.State {
				continue
			}
			if input.ParentID >= 0 && int32(t.ParentID) != input.ParentID {
				continue
			}
			out = append(out, taskResponse(t))
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int32 `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, ok := a.Task(domain.TaskID(input.ID))
		if !ok {
			return nil, handleError(&engine.Error{
				Kind:    engine.ErrTaskNotFound,
				Message: fmt.Sprintf("Task with ID %d does not exist.", input.ID),
			})
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerTimeCategories(hapi huma.API, a *api.API) {
	huma.Register(hapi, huma.Operation{
		OperationID: "list-time-categories",
		Method:      http.MethodGet,
		Path:        "/time-categories",
		Summary:     "List time categories and their codes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TimeCategoryResponse `json:"body"`
	}, error) {
		out := []TimeCategoryResponse{}
		for _, c := range a.TimeCategories() {
			out = append(out, timeCategoryResponse(c))
		}
		return &struct {
			Body []TimeCategoryResponse `json:"body"`
		}{Body: out}, nil
	})
}

type refreshBody struct {
	Messages int `json:"messages"`
	Clients  int `json:"clients"`
}

func registerBugzilla(hapi huma.API, cfg Config) {
	huma.Register(hapi, huma.Operation{
		OperationID: "list-bugzilla-instances",
		Method:      http.MethodGet,
		Path:        "/bugzilla",
		Summary:     "List Bugzilla instances",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []BugzillaInstanceResponse `json:"body"`
	}, error) {
		out := []BugzillaInstanceResponse{}
		for _, b := range cfg.API.BugzillaInstances() {
			out = append(out, bugzillaInstanceResponse(b))
		}
		return &struct {
			Body []BugzillaInstanceResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "refresh-bugzilla",
		Method:      http.MethodPost,
		Path:        "/bugzilla/refresh",
		Summary:     "Refresh every Bugzilla instance and broadcast the changes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body refreshBody `json:"body"`
	}, error) {
		msgs := cfg.API.RefreshAll(ctx)
		body := refreshBody{Messages: len(msgs)}
		if len(msgs) > 0 {
			body.Clients = cfg.Hub.Broadcast(msgs)
		}
		return &struct {
			Body refreshBody `json:"body"`
		}{Body: body}, nil
	})
}

func registerReports(hapi huma.API, cfg Config) {
	huma.Register(hapi, huma.Operation{
		OperationID: "daily-report",
		Method:      http.MethodGet,
		Path:        "/reports/daily",
		Summary:     "Daily time report",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" example:"2025-02-03" doc:"Day to report, YYYY-MM-DD. Defaults to today."`
	}) (*struct {
		Body DailyReportResponse `json:"body"`
	}, error) {
		y, m, d, err := reportDate(input.Date, cfg.Now)
		if err != nil {
			return nil, err
		}
		report, err := cfg.API.DailyReport(m, d, y)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DailyReportResponse `json:"body"`
		}{Body: dailyReportResponse(report)}, nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "weekly-report",
		Method:      http.MethodGet,
		Path:        "/reports/weekly",
		Summary:     "Weekly time report for the Sunday-to-Saturday week holding date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" example:"2025-02-03" doc:"Any day of the week to report, YYYY-MM-DD. Defaults to today."`
	}) (*struct {
		Body WeeklyReportResponse `json:"body"`
	}, error) {
		y, m, d, err := reportDate(input.Date, cfg.Now)
		if err != nil {
			return nil, err
		}
		report, err := cfg.API.WeeklyReport(m, d, y)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WeeklyReportResponse `json:"body"`
		}{Body: weeklyReportResponse(report)}, nil
	})
}

// reportDate splits a YYYY-MM-DD query value. The numbers are handed to
// the report builder unchecked so an impossible day gets its message.
func reportDate(value string, now func() time.Time) (int, int, int, error) {
	if strings.TrimSpace(value) == "" {
		t := now()
		return t.Year(), int(t.Month()), t.Day(), nil
	}
	var y, m, d int
	var rest string
	n, _ := fmt.Sscanf(value, "%d-%d-%d%s", &y, &m, &d, &rest)
	if n != 3 {
		return 0, 0, 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid date", map[string]any{"date": value})
	}
	return y, m, d, nil
}

func registerEvents(hapi huma.API, src EventSource) {
	huma.Register(hapi, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent persistence events",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"kind" enum:"task,time_entry_config,time_category,time_code,bugzilla_instance"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if src == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "", "event log not available", nil)
		}
		items, err := src.RecentEvents(ctx, input.EntityKind, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := []EventResponse{}
		for _, rec := range items {
			out = append(out, eventResponse(rec))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
