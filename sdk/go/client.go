package squadsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Squadboard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task is a unit of work synthesized from session logs.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Description string     `json:"description,omitempty"`
}

type Member struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Status      string   `json:"status"`
	CurrentTask *Task    `json:"current_task,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

type LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Date          string    `json:"date"`
	Topic         string    `json:"topic"`
	Title         string    `json:"title"`
	Participants  []string  `json:"participants"`
	Summary       string    `json:"summary"`
	RelatedIssues []string  `json:"related_issues"`
	Decisions     []string  `json:"decisions"`
	Outcomes      []string  `json:"outcomes"`
	Stream        string    `json:"stream"`
	FilePath      string    `json:"file_path,omitempty"`
}

type Decision struct {
	Title      string `json:"title"`
	Date       string `json:"date,omitempty"`
	Author     string `json:"author,omitempty"`
	Content    string `json:"content,omitempty"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
}

type WorkDetails struct {
	Task   Task       `json:"task"`
	Member Member     `json:"member"`
	Logs   []LogEntry `json:"logs"`
}

type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Labels    []string   `json:"labels"`
	Assignee  string     `json:"assignee,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	URL       string     `json:"url,omitempty"`
}

// IssueList is one issue listing with its cache metadata.
type IssueList struct {
	State     string  `json:"state"`
	FetchedAt string  `json:"fetched_at,omitempty"`
	Cached    bool    `json:"cached"`
	Degraded  bool    `json:"degraded"`
	Items     []Issue `json:"items"`
}

type MemberIssues struct {
	Member string  `json:"member"`
	Issues []Issue `json:"issues"`
}

type Snapshot struct {
	Root         string         `json:"root"`
	Folder       string         `json:"folder"`
	Exists       bool           `json:"exists"`
	Generation   string         `json:"generation"`
	BuiltAt      string         `json:"built_at"`
	Owner        string         `json:"owner,omitempty"`
	Repository   string         `json:"repository,omitempty"`
	Counts       map[string]int `json:"counts"`
	CachedRoots  int            `json:"cached_roots"`
	Capabilities *Capabilities  `json:"copilot_capabilities,omitempty"`
}

// Capabilities describes which work the roster hands to the coding agent.
type Capabilities struct {
	AutoAssign  bool     `json:"auto_assign"`
	GoodFit     []string `json:"good_fit"`
	NeedsReview []string `json:"needs_review"`
	NotSuitable []string `json:"not_suitable"`
}

// Event represents a log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	Root       string          `json:"root,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery narrows an event listing. Zero values mean no filter.
type EventQuery struct {
	Type   string
	Root   string
	Limit  int
	Cursor string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code returns the error envelope code, or "" when the body is not one.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// Members lists squad members with derived status.
func (c *Client) Members(ctx context.Context) ([]Member, error) {
	var resp struct {
		Items []Member `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "members", nil, &resp)
	return resp.Items, err
}

// TasksForMember lists tasks assigned to one member.
func (c *Client) TasksForMember(ctx context.Context, name string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("members/%s/tasks", url.PathEscape(name)), nil, &resp)
	return resp.Items, err
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("tasks", url.Values{"status": {status}}), nil, &resp)
	return resp.Items, err
}

// WorkDetails returns a task with its member and related logs. A missing
// task yields an *APIError with StatusCode 404.
func (c *Client) WorkDetails(ctx context.Context, taskID string) (WorkDetails, error) {
	var resp WorkDetails
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s", url.PathEscape(strings.TrimPrefix(taskID, "#"))), nil, &resp)
	return resp, err
}

func (c *Client) Decisions(ctx context.Context) ([]Decision, error) {
	var resp struct {
		Items []Decision `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "decisions", nil, &resp)
	return resp.Items, err
}

// Logs lists entries of one stream ("active" or "narrative"), newest first.
func (c *Client) Logs(ctx context.Context, stream string, limit int) ([]LogEntry, error) {
	q := url.Values{"stream": {stream}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("logs", q), nil, &resp)
	return resp.Items, err
}

// Issues lists issues in one state; force bypasses the server cache.
func (c *Client) Issues(ctx context.Context, state string, force bool) (IssueList, error) {
	var resp IssueList
	err := c.do(ctx, http.MethodGet, withQuery("issues", issueQuery(state, force)), nil, &resp)
	return resp, err
}

func (c *Client) IssuesByMember(ctx context.Context, state string, force bool) ([]MemberIssues, error) {
	var resp struct {
		Items []MemberIssues `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("issues/by-member", issueQuery(state, force)), nil, &resp)
	return resp.Items, err
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodGet, "snapshot", nil, &resp)
	return resp, err
}

// Refresh discards server-side caches and returns the rebuilt snapshot.
func (c *Client) Refresh(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, "refresh", nil, &resp)
	return resp, err
}

// SetRoot switches the server to another root and squad folder.
func (c *Client) SetRoot(ctx context.Context, root, folder string) (Snapshot, error) {
	body := map[string]any{"root": root}
	if folder != "" {
		body["folder"] = folder
	}
	var resp Snapshot
	err := c.do(ctx, http.MethodPut, "root", body, &resp)
	return resp, err
}

// Events returns one page of the event log, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	v := url.Values{"type": {q.Type}, "root": {q.Root}, "cursor": {q.Cursor}}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", v), nil, &resp)
	return resp, err
}

func issueQuery(state string, force bool) url.Values {
	v := url.Values{"state": {state}}
	if force {
		v.Set("force", "true")
	}
	return v
}

// withQuery drops empty values so server defaults apply.
func withQuery(endpoint string, v url.Values) string {
	for k, vals := range v {
		if len(vals) == 0 || vals[0] == "" {
			v.Del(k)
		}
	}
	if len(v) == 0 {
		return endpoint
	}
	return endpoint + "?" + v.Encode()
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

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		basePath = "v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
