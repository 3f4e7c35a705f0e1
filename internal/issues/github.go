package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"squadboard/internal/domain"
)

const DefaultGitHubURL = "https://api.github.com"

// GitHubSource lists issues through the GitHub REST API. Pull requests, which
// the issues endpoint also returns, are dropped.
type GitHubSource struct {
	BaseURL    string
	Repository string // "owner/name"
	Token      string
	PerPage    int
	MaxPages   int
	HTTPClient *http.Client
	Timeout    time.Duration
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: status=%d body=%s", e.StatusCode, e.Body)
}

type ghIssue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	PullRequest json.RawMessage `json:"pull_request"`
}

func (s *GitHubSource) Issues(ctx context.Context, state string) ([]domain.Issue, error) {
	owner, name, ok := strings.Cut(s.Repository, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("github repository %q: want owner/name", s.Repository)
	}
	perPage := s.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}
	if state == "" {
		state = "all"
	}
	out := []domain.Issue{}
	for page := 1; page <= maxPages; page++ {
		endpoint := fmt.Sprintf("repos/%s/%s/issues?state=%s&per_page=%d&page=%d",
			url.PathEscape(owner), url.PathEscape(name), url.QueryEscape(state), perPage, page)
		var batch []ghIssue
		if err := s.get(ctx, endpoint, &batch); err != nil {
			return nil, err
		}
		for _, gi := range batch {
			if len(gi.PullRequest) > 0 && string(gi.PullRequest) != "null" {
				continue
			}
			out = append(out, gi.toDomain())
		}
		if len(batch) < perPage {
			break
		}
	}
	return out, nil
}

func (gi ghIssue) toDomain() domain.Issue {
	issue := domain.Issue{
		Number:    gi.Number,
		Title:     gi.Title,
		State:     gi.State,
		Labels:    make([]string, 0, len(gi.Labels)),
		CreatedAt: gi.CreatedAt,
		UpdatedAt: gi.UpdatedAt,
		ClosedAt:  gi.ClosedAt,
		URL:       gi.HTMLURL,
	}
	for _, l := range gi.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	if gi.Assignee != nil {
		issue.Assignee = gi.Assignee.Login
	}
	return issue
}

func (s *GitHubSource) get(ctx context.Context, endpoint string, out any) error {
	client := s.HTTPClient
	if client == nil {
		timeout := s.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultGitHubURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
