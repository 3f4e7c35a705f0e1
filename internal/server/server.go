package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"squadboard/internal/domain"
	"squadboard/internal/engine"
	"squadboard/internal/engine/auth"
	"squadboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task 42 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":\"42\"}"`
}

// apiError models the error envelope every failure uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the squad read API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
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

	keys := auth.Service{Repo: cfg.Engine.Repo, Events: cfg.Engine.Events, Now: cfg.Engine.Now}
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, keys))
	hcfg := huma.DefaultConfig("Squadboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerSnapshot(group, e)
	registerMembers(group, e)
	registerTasks(group, e)
	registerDecisions(group, e)
	registerLogs(group, e)
	registerIssues(group, e)
	registerControl(group, e)
	registerEvents(group, e)
	registerAPIKeys(group, e, keys, cfg.Auth)
	registerMe(group)
	registerOpenAPI(router, api, basePath)

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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ue auth.UnauthorizedError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	}
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func eachOperation(item *huma.PathItem, fn func(op *huma.Operation)) {
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			fn(op)
		}
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		eachOperation(item, func(op *huma.Operation) {
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
		})
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		open := route == healthPath
		eachOperation(item, func(op *huma.Operation) {
			if open {
				op.Security = []map[string][]string{}
				return
			}
			op.Security = security
		})
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Squadboard API Docs</title>
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

func registerSnapshot(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "snapshot",
		Method:      http.MethodGet,
		Path:        "/snapshot",
		Summary:     "Current snapshot metadata",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(s, e.CachedRoots())}, nil
	})
}

func registerMembers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List squad members with derived status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MembersResponse `json:"body"`
	}, error) {
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MembersResponse `json:"body"`
		}{Body: MembersResponse{Generation: s.Generation, Items: s.Members}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-member-tasks",
		Method:      http.MethodGet,
		Path:        "/members/{name}/tasks",
		Summary:     "List tasks assigned to a member",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		tasks, err := e.ListTasksForMember(ctx, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{Generation: s.Generation, Items: tasks}}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List synthesized tasks",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,in_progress,completed"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := s.Tasks
		if input.Status != "" {
			items = []domain.Task{}
			for _, t := range s.Tasks {
				if string(t.Status) == input.Status {
					items = append(items, t)
				}
			}
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{Generation: s.Generation, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-details",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Task with its assignee and referencing log entries",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.WorkDetails `json:"body"`
	}, error) {
		wd, ok, err := e.GetWorkDetails(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("task %s not found", input.ID), map[string]any{"task_id": input.ID})
		}
		return &struct {
			Body domain.WorkDetails `json:"body"`
		}{Body: wd}, nil
	})
}

func registerDecisions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List decisions, newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DecisionsResponse `json:"body"`
	}, error) {
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionsResponse `json:"body"`
		}{Body: DecisionsResponse{Generation: s.Generation, Items: s.Decisions}}, nil
	})
}

func registerLogs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "List session log entries of one stream, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stream string `query:"stream" default:"active" enum:"active,narrative"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body LogsResponse `json:"body"`
	}, error) {
		stream := domain.Stream(input.Stream)
		items, err := e.ListLogEntries(ctx, stream)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Limit > 0 && len(items) > input.Limit {
			items = items[:input.Limit]
		}
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogsResponse `json:"body"`
		}{Body: LogsResponse{Generation: s.Generation, Stream: stream, Items: items}}, nil
	})
}

func registerIssues(api huma.API, e *engine.Engine) {
	type issueQuery struct {
		State string `query:"state" default:"closed" enum:"open,closed"`
		Force bool   `query:"force"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "Issues from the configured source, cached with a TTL",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *issueQuery) (*struct {
		Body IssuesResponse `json:"body"`
	}, error) {
		list, err := e.Issues(ctx, input.State, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssuesResponse `json:"body"`
		}{Body: issuesResponse(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues-by-member",
		Method:      http.MethodGet,
		Path:        "/issues/by-member",
		Summary:     "Issues correlated to members by label and assignee",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *issueQuery) (*struct {
		Body IssuesByMemberResponse `json:"body"`
	}, error) {
		byMember, err := e.IssuesByMember(ctx, input.State, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		members, err := e.ListMembers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := IssuesByMemberResponse{State: input.State, Items: []MemberIssues{}}
		for _, name := range engine.MemberNames(byMember, members) {
			res.Items = append(res.Items, MemberIssues{Member: name, Issues: byMember[name]})
		}
		return &struct {
			Body IssuesByMemberResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerControl(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/refresh",
		Summary:     "Discard cached state for the current root",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		actorID, _ := actorIDFromContext(ctx)
		if err := e.Refresh(ctx, actorID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(s, e.CachedRoots())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-root",
		Method:      http.MethodPut,
		Path:        "/root",
		Summary:     "Switch the source root and squad folder",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SetRootRequest `json:"body"`
	}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Root) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "root is required", map[string]any{"field": "root"})
		}
		actorID, _ := actorIDFromContext(ctx)
		if err := e.SetRoot(ctx, input.Body.Root, input.Body.Folder, actorID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(s, e.CachedRoots())}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Root   string `query:"root"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if e.DB == nil {
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: paginatedEvents{Items: []EventResponse{}}}, nil
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, repo.EventFilter{Root: input.Root, Type: input.Type, Before: cursorID})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e *engine.Engine, keys auth.Service, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key; the plaintext is only returned here",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if e.DB == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "api keys need a state store", nil)
		}
		p, ok := principalFromContext(ctx)
		if cfg.Required && (!ok || p.Source == sourceAnonymous) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "authenticated caller required", nil)
		}
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", map[string]any{"field": "actor_id"})
		}
		plain, key, err := keys.Issue(ctx, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key, plain)}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
