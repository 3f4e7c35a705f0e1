package issues

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/spf13/afero"

	"squadboard/internal/domain"
)

func numbers(list []domain.Issue) []int {
	out := make([]int, len(list))
	for i, is := range list {
		out[i] = is.Number
	}
	return out
}

func TestLabelStrategyIsCaseSensitive(t *testing.T) {
	members := []domain.Member{{Name: "Alice"}, {Name: "Bob"}}
	issues := []domain.Issue{
		{Number: 1, Labels: []string{"squad:alice"}},
		{Number: 2, Labels: []string{"Squad:Alice"}},
		{Number: 3, Labels: []string{"bug"}},
	}
	got := Correlator{Strategies: []Strategy{StrategyLabels}}.Correlate(issues, members)
	if !reflect.DeepEqual(numbers(got["Alice"]), []int{1}) {
		t.Fatalf("alice = %v", numbers(got["Alice"]))
	}
	if _, ok := got["Bob"]; ok {
		t.Fatalf("bob should be absent: %v", got)
	}
	if len(got) != 1 {
		t.Fatalf("map = %v", got)
	}
}

func TestAssigneeStrategyUsesAliases(t *testing.T) {
	members := []domain.Member{
		{Name: "Alice", Aliases: []string{"alice-gh"}},
		{Name: "Bob"},
	}
	c := Correlator{
		Strategies: []Strategy{StrategyAssignees},
		Aliases:    map[string][]string{"Bob": {"@bobby"}},
	}
	issues := []domain.Issue{
		{Number: 4, Assignee: "alice-gh"},
		{Number: 5, Assignee: "bobby"},
		{Number: 6, Assignee: "Alice"},
	}
	got := c.Correlate(issues, members)
	if !reflect.DeepEqual(numbers(got["Alice"]), []int{4}) || !reflect.DeepEqual(numbers(got["Bob"]), []int{5}) {
		t.Fatalf("got %v", got)
	}
}

func TestMultiMatchAndDedup(t *testing.T) {
	members := []domain.Member{{Name: "Alice", Aliases: []string{"al"}}, {Name: "Bob"}}
	issues := []domain.Issue{
		{Number: 9, Labels: []string{"squad:alice", "squad:bob"}, Assignee: "al"},
		{Number: 7, Labels: []string{"squad:alice", "squad:alice"}},
	}
	got := Correlator{}.Correlate(issues, members)
	if !reflect.DeepEqual(numbers(got["Alice"]), []int{7, 9}) {
		t.Errorf("alice = %v", numbers(got["Alice"]))
	}
	if !reflect.DeepEqual(numbers(got["Bob"]), []int{9}) {
		t.Errorf("bob = %v", numbers(got["Bob"]))
	}
}

func TestCustomPrefix(t *testing.T) {
	got := Correlator{LabelPrefix: "team/"}.Correlate(
		[]domain.Issue{{Number: 1, Labels: []string{"team/zoë"}}},
		[]domain.Member{{Name: "Zoë"}},
	)
	if len(got["Zoë"]) != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestParseStrategies(t *testing.T) {
	got, err := ParseStrategies(nil)
	if err != nil || !reflect.DeepEqual(got, DefaultStrategies) {
		t.Fatalf("default = %v %v", got, err)
	}
	got, err = ParseStrategies([]string{"assignees", " labels"})
	if err != nil || !reflect.DeepEqual(got, []Strategy{StrategyAssignees, StrategyLabels}) {
		t.Fatalf("ordered = %v %v", got, err)
	}
	if _, err := ParseStrategies([]string{"fuzzy"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestFileSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := `[{"number":1,"title":"a","state":"closed","labels":["squad:alice"]},{"number":2,"title":"b","state":"OPEN","labels":[]}]`
	if err := afero.WriteFile(fs, "/ws/issues.json", []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	src := FileSource{Fs: fs, Path: "/ws/issues.json"}
	closed, err := src.Issues(context.Background(), StateClosed)
	if err != nil || !reflect.DeepEqual(numbers(closed), []int{1}) {
		t.Fatalf("closed = %v %v", numbers(closed), err)
	}
	open, err := src.Issues(context.Background(), StateOpen)
	if err != nil || !reflect.DeepEqual(numbers(open), []int{2}) {
		t.Fatalf("open = %v %v", numbers(open), err)
	}
	if _, err := (FileSource{Fs: fs, Path: "/missing.json"}).Issues(context.Background(), StateClosed); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGitHubSource(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/issues" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("state")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"number":12,"title":"Fix login","state":"closed","html_url":"https://github.com/acme/widgets/issues/12",
			 "created_at":"2026-02-01T10:00:00Z","updated_at":"2026-02-03T10:00:00Z","closed_at":"2026-02-03T10:00:00Z",
			 "labels":[{"name":"squad:carol"}],"assignee":{"login":"carol-gh"}},
			{"number":13,"title":"A PR","state":"closed","created_at":"2026-02-01T10:00:00Z","updated_at":"2026-02-01T10:00:00Z",
			 "labels":[],"pull_request":{"url":"x"}}
		]`))
	}))
	defer srv.Close()

	src := &GitHubSource{BaseURL: srv.URL, Repository: "acme/widgets", Token: "t0k"}
	got, err := src.Issues(context.Background(), StateClosed)
	if err != nil {
		t.Fatalf("issues: %v", err)
	}
	if gotAuth != "Bearer t0k" || gotQuery != "closed" {
		t.Errorf("auth=%q state=%q", gotAuth, gotQuery)
	}
	if len(got) != 1 {
		t.Fatalf("got %+v", got)
	}
	is := got[0]
	if is.Number != 12 || is.Assignee != "carol-gh" || !reflect.DeepEqual(is.Labels, []string{"squad:carol"}) || is.ClosedAt == nil {
		t.Fatalf("issue = %+v", is)
	}
}

func TestGitHubSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := (&GitHubSource{BaseURL: srv.URL, Repository: "acme/widgets"}).Issues(context.Background(), StateClosed)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("err = %v", err)
	}
	if _, err := (&GitHubSource{Repository: "nope"}).Issues(context.Background(), StateClosed); err == nil {
		t.Fatal("expected error for bad repository")
	}
}

func TestNoopSource(t *testing.T) {
	got, err := NoopSource{}.Issues(context.Background(), StateClosed)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("got %v %v", got, err)
	}
}
