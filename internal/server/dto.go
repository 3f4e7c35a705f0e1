package server

import (
	"encoding/json"
	"time"

	"squadboard/internal/domain"
	"squadboard/internal/engine"
)

// Request payloads

type SetRootRequest struct {
	Root   string `json:"root" minLength:"1"`
	Folder string `json:"folder,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type MembersResponse struct {
	Generation string          `json:"generation"`
	Items      []domain.Member `json:"items"`
}

type TasksResponse struct {
	Generation string        `json:"generation"`
	Items      []domain.Task `json:"items"`
}

type DecisionsResponse struct {
	Generation string                 `json:"generation"`
	Items      []domain.DecisionEntry `json:"items"`
}

type LogsResponse struct {
	Generation string            `json:"generation"`
	Stream     domain.Stream     `json:"stream" enum:"active,narrative"`
	Items      []domain.LogEntry `json:"items"`
}

type IssuesResponse struct {
	State     string         `json:"state" enum:"open,closed"`
	FetchedAt string         `json:"fetched_at,omitempty"`
	Cached    bool           `json:"cached"`
	Degraded  bool           `json:"degraded"`
	Items     []domain.Issue `json:"items"`
}

type MemberIssues struct {
	Member string         `json:"member"`
	Issues []domain.Issue `json:"issues"`
}

type IssuesByMemberResponse struct {
	State string         `json:"state" enum:"open,closed"`
	Items []MemberIssues `json:"items"`
}

type SnapshotResponse struct {
	Root         string                      `json:"root"`
	Folder       string                      `json:"folder"`
	Exists       bool                        `json:"exists"`
	Generation   string                      `json:"generation"`
	BuiltAt      string                      `json:"built_at"`
	Owner        string                      `json:"owner,omitempty"`
	Repository   string                      `json:"repository,omitempty"`
	Counts       map[string]int              `json:"counts"`
	CachedRoots  int                         `json:"cached_roots"`
	Capabilities *domain.CopilotCapabilities `json:"copilot_capabilities,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	Root       string          `json:"root,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

func snapshotResponse(s *engine.Snapshot, cachedRoots int) SnapshotResponse {
	res := SnapshotResponse{
		Root:        s.Layout.Root,
		Folder:      s.Layout.Folder,
		Exists:      s.Layout.Exists,
		Generation:  s.Generation,
		BuiltAt:     s.BuiltAt.Format(time.RFC3339),
		CachedRoots: cachedRoots,
		Counts: map[string]int{
			"members":   len(s.Members),
			"tasks":     len(s.Tasks),
			"decisions": len(s.Decisions),
			"active":    len(s.Active),
			"narrative": len(s.Narrative),
		},
	}
	if s.Roster != nil {
		res.Owner = s.Roster.Owner
		res.Repository = s.Roster.Repository
		res.Capabilities = s.Roster.Capabilities
	}
	return res
}

func issuesResponse(list engine.IssueList) IssuesResponse {
	res := IssuesResponse{State: list.State, Cached: list.Cached, Degraded: list.Degraded, Items: list.Issues}
	if !list.FetchedAt.IsZero() {
		res.FetchedAt = list.FetchedAt.UTC().Format(time.RFC3339)
	}
	if res.Items == nil {
		res.Items = []domain.Issue{}
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	res := EventResponse{ID: evt.ID, TS: evt.TS, Type: evt.Type, Root: evt.Root, ActorID: evt.ActorID}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			res.Payload = json.RawMessage(evt.Payload)
		} else {
			res.PayloadRaw = evt.Payload
		}
	}
	return res
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt, Key: plain}
}
