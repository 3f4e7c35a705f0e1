package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/afero"

	"squadboard/internal/domain"
	"squadboard/internal/engine"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/ws/.squad/team.md": "## Members\n| Name | Role |\n|---|---|\n| Alice | Lead |\n| Carol | Tester |\n",
		"/ws/.squad/orchestration-log/2026-02-14-auth.md": "# Auth\n**Participants:** Carol\n**Related Issues:** #12, #13\n**Outcomes:** Closed #12\n",
		"/ws/.squad/log/2026-02-10-retro.md":              "# Retro\nLooked back.\n",
		"/ws/.squad/log/2026-02-11-planning.md":           "# Planning\nNext steps.\n",
	}
	for p, body := range files {
		if err := afero.WriteFile(fs, p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e, err := engine.New(engine.Options{
		Fs:     fs,
		Root:   "/ws",
		Logger: log.New(io.Discard, "", 0),
		Now:    func() time.Time { return time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func call(t *testing.T, h server.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %#v", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestListMembers(t *testing.T) {
	e := newTestEngine(t)
	out, isErr := call(t, listMembersHandler(e), nil)
	if isErr {
		t.Fatalf("error result: %s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Alice  Lead  idle") {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[1], "working  #13") {
		t.Fatalf("carol line = %q", lines[1])
	}
}

func TestMemberTasksAndWorkDetails(t *testing.T) {
	e := newTestEngine(t)
	out, isErr := call(t, memberTasksHandler(e), map[string]any{"name": "Carol"})
	if isErr {
		t.Fatalf("error result: %s", out)
	}
	var tasks []domain.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil || len(tasks) != 2 {
		t.Fatalf("tasks = %s (%v)", out, err)
	}

	if out, isErr := call(t, memberTasksHandler(e), map[string]any{}); !isErr {
		t.Fatalf("missing name accepted: %s", out)
	}

	out, isErr = call(t, workDetailsHandler(e), map[string]any{"task_id": "#12"})
	if isErr {
		t.Fatalf("error result: %s", out)
	}
	var wd domain.WorkDetails
	if err := json.Unmarshal([]byte(out), &wd); err != nil || wd.Task.Status != domain.TaskCompleted {
		t.Fatalf("work details = %s (%v)", out, err)
	}
	if out, isErr := call(t, workDetailsHandler(e), map[string]any{"task_id": "99"}); !isErr || !strings.Contains(out, "not found") {
		t.Fatalf("missing task = %s", out)
	}
}

func TestListLogs(t *testing.T) {
	e := newTestEngine(t)
	out, _ := call(t, logsHandler(e), map[string]any{"stream": "narrative", "limit": 1})
	var entries []domain.LogEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if len(entries) != 1 || entries[0].Topic != "planning" {
		t.Fatalf("entries = %+v", entries)
	}
	if out, isErr := call(t, logsHandler(e), map[string]any{"stream": "archive"}); !isErr {
		t.Fatalf("unknown stream accepted: %s", out)
	}
}

func TestRefreshAndEmptyResults(t *testing.T) {
	e := newTestEngine(t)
	before, err := e.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out, isErr := call(t, refreshHandler(e), nil)
	if isErr || !strings.HasPrefix(out, "refreshed: generation ") || strings.Contains(out, before.Generation) {
		t.Fatalf("refresh = %s", out)
	}
	if out, _ := call(t, decisionsHandler(e), nil); out != "No decisions." {
		t.Fatalf("decisions = %q", out)
	}
	if out, _ := call(t, issuesByMemberHandler(e), nil); out != "No correlated issues." {
		t.Fatalf("issues by member = %q", out)
	}
}

func TestNewServerListsTools(t *testing.T) {
	s := NewServer(newTestEngine(t), "test")
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"snapshot", "list_members", "member_tasks", "work_details", "list_decisions", "list_logs", "list_issues", "issues_by_member", "refresh"} {
		if !strings.Contains(string(data), `"name":"`+name+`"`) {
			t.Errorf("tool %s not listed in %s", name, data)
		}
	}
}

func TestSnapshotShowsCapabilities(t *testing.T) {
	fs := afero.NewMemMapFs()
	team := "## Members\n| Name | Role |\n|---|---|\n| Alice | Lead |\n\n<!-- copilot-auto-assign: true -->\n- 🟢 **Good fit:** bug fixes\n"
	if err := afero.WriteFile(fs, "/ws/.squad/team.md", []byte(team), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := engine.New(engine.Options{Fs: fs, Root: "/ws", Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	out, isErr := call(t, snapshotHandler(e), nil)
	if isErr {
		t.Fatalf("error result: %s", out)
	}
	var got struct {
		Members      int                         `json:"members"`
		Capabilities *domain.CopilotCapabilities `json:"copilot_capabilities"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if got.Members != 1 || got.Capabilities == nil || !got.Capabilities.AutoAssign {
		t.Fatalf("snapshot = %s", out)
	}
	if len(got.Capabilities.GoodFit) != 1 || got.Capabilities.GoodFit[0] != "bug fixes" {
		t.Fatalf("good fit = %v", got.Capabilities.GoodFit)
	}

	plain, _ := call(t, snapshotHandler(newTestEngine(t)), nil)
	if strings.Contains(plain, "copilot_capabilities") {
		t.Fatalf("capabilities without marker: %s", plain)
	}
}
