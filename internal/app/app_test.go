package app

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"squadboard/internal/config"
	"squadboard/internal/issues"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIssueSourceSelection(t *testing.T) {
	env := map[string]string{"GH_TOKEN": "secret"}
	getenv := func(k string) string { return env[k] }
	cases := []struct {
		name    string
		issues  config.IssuesConfig
		check   func(t *testing.T, src issues.Source)
		wantErr bool
	}{
		{"default is noop", config.IssuesConfig{}, func(t *testing.T, src issues.Source) {
			if _, ok := src.(issues.NoopSource); !ok {
				t.Fatalf("source = %T", src)
			}
		}, false},
		{"file resolves against workspace", config.IssuesConfig{Source: config.SourceFile, File: "issues.json"}, func(t *testing.T, src issues.Source) {
			fs, ok := src.(issues.FileSource)
			if !ok || fs.Path != filepath.Join("/work", "issues.json") {
				t.Fatalf("source = %#v", src)
			}
		}, false},
		{"github reads token env", config.IssuesConfig{Source: config.SourceGitHub, Repository: "o/r", TokenEnv: "GH_TOKEN"}, func(t *testing.T, src issues.Source) {
			gh, ok := src.(*issues.GitHubSource)
			if !ok || gh.Token != "secret" || gh.Repository != "o/r" {
				t.Fatalf("source = %#v", src)
			}
		}, false},
		{"unknown", config.IssuesConfig{Source: "jira"}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src, err := IssueSource(&config.Config{Issues: tc.issues}, "/work", getenv)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tc.check(t, src)
		})
	}
}

func TestEngineOptionsOverrides(t *testing.T) {
	cfg := config.Default()
	opts, err := EngineOptions(cfg, "/work", Overrides{Root: "other", Folder: ".ai-team"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Root != filepath.Join("/work", "other") || opts.Folder != ".ai-team" {
		t.Fatalf("root/folder = %q/%q", opts.Root, opts.Folder)
	}
	if len(opts.Correlator.Strategies) != 2 || opts.Correlator.LabelPrefix != "squad:" {
		t.Fatalf("correlator = %+v", opts.Correlator)
	}

	opts, err = EngineOptions(cfg, "/work", Overrides{Root: "/abs"}, nil)
	if err != nil || opts.Root != "/abs" {
		t.Fatalf("absolute root = %q %v", opts.Root, err)
	}
}

func TestOpenRestoresPersistedRoot(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".squad", "team.md"), "## Members\n| Name | Role |\n|---|---|\n| Alice | Lead |\n")
	other := filepath.Join(ws, "other")
	writeFile(t, filepath.Join(other, ".squad", "team.md"), "## Members\n| Name | Role |\n|---|---|\n| Bob | Dev |\n| Carol | QA |\n")
	logger := log.New(io.Discard, "", 0)
	ctx := context.Background()

	a, err := Open(ctx, ws, Overrides{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	members, err := a.Engine.ListMembers(ctx)
	if err != nil || len(members) != 1 {
		t.Fatalf("members = %+v %v", members, err)
	}
	if err := a.Engine.SetRoot(ctx, other, "", "tester"); err != nil {
		t.Fatal(err)
	}
	a.Close()

	a, err = Open(ctx, ws, Overrides{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	members, err = a.Engine.ListMembers(ctx)
	if err != nil || len(members) != 2 {
		t.Fatalf("restored members = %+v %v", members, err)
	}

	pinned, err := Open(ctx, ws, Overrides{Root: "."}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer pinned.Close()
	if got := pinned.Engine.Layout().Root; got != ws {
		t.Fatalf("pinned root = %q, want %q", got, ws)
	}
}

func TestOpenWithoutStore(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), ws, Overrides{NoStore: true}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	if a.DB != nil {
		t.Fatal("store opened")
	}
	if _, err := os.Stat(filepath.Join(ws, ".squadboard")); !os.IsNotExist(err) {
		t.Fatalf("state dir created: %v", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, config.FileName), "issues:\n  source: jira\n")
	if _, err := Open(context.Background(), ws, Overrides{}, nil); err == nil {
		t.Fatal("expected config error")
	}
}
