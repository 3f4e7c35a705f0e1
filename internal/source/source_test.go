package source

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"squadboard/internal/domain"
)

func writeFile(t *testing.T, fs afero.Fs, path, body string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/ws/.ai-team", 0o755)

	l := Resolve(fs, "/ws", "", Names{})
	if l.Folder != ".ai-team" || !l.Exists {
		t.Fatalf("legacy only: %+v", l)
	}

	_ = fs.MkdirAll("/ws/.squad", 0o755)
	if l := Resolve(fs, "/ws", "", Names{}); l.Folder != ".squad" {
		t.Fatalf("both present: %+v", l)
	}
	if l := Resolve(fs, "/ws", ".ai-team", Names{}); l.Folder != ".ai-team" {
		t.Fatalf("configured wins: %+v", l)
	}
	if l := Resolve(fs, "/ws", ".custom", Names{}); l.Folder != ".squad" {
		t.Fatalf("missing configured falls back: %+v", l)
	}

	empty := Resolve(afero.NewMemMapFs(), "/none", ".custom", Names{})
	if empty.Exists || empty.Folder != ".custom" || empty.Names.RosterFile != "team.md" {
		t.Fatalf("nothing present: %+v", empty)
	}
}

func TestLoadFolder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/ws/.squad/team.md", "## Members\n| Name | Role |\n|---|---|\n| Carol | Tester |\n")
	writeFile(t, fs, "/ws/.squad/orchestration-log/2026-02-14-auth.md", "# Auth\n**Participants:** Carol\n**Related Issues:** #12\n")
	writeFile(t, fs, "/ws/.squad/orchestration-log/notes.txt", "ignored")
	writeFile(t, fs, "/ws/.squad/orchestration-log/undated.md", "# Undated\n**Participants:** Carol\n")
	writeFile(t, fs, "/ws/.squad/log/2026-02-10-retro.md", "# Retro\nLooked back.\n")
	writeFile(t, fs, "/ws/.squad/decisions.md", "# Decisions\n### 2026-02-01: Use Go\nBecause.\n")
	writeFile(t, fs, "/ws/.squad/decisions/inbox/2026/pick-db.md", "# Decision: Pick SQLite\n**Date:** 2026-02-05\n")
	writeFile(t, fs, "/ws/.squad/decisions/readme.txt", "not a decision")

	mod := time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC)
	if err := fs.Chtimes("/ws/.squad/orchestration-log/undated.md", mod, mod); err != nil {
		t.Fatal(err)
	}

	layout := Resolve(fs, "/ws", "", Names{})
	var buf bytes.Buffer
	loader := &Loader{Fs: fs, Logger: log.New(&buf, "", 0), MaxConcurrency: 2}
	b, err := loader.Load(context.Background(), layout)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Roster == nil || len(b.Roster.Members) != 1 {
		t.Fatalf("roster = %+v", b.Roster)
	}
	if len(b.Active) != 2 || len(b.Narrative) != 1 {
		t.Fatalf("active=%d narrative=%d", len(b.Active), len(b.Narrative))
	}
	for _, e := range b.Active {
		if e.Stream != domain.StreamActive {
			t.Errorf("stream = %s", e.Stream)
		}
		if e.Topic == "undated" && e.Date != "2026-01-09" {
			t.Errorf("undated entry should use mod time, got %q", e.Date)
		}
		if e.Topic == "auth" && e.FilePath != ".squad/orchestration-log/2026-02-14-auth.md" {
			t.Errorf("file path = %q", e.FilePath)
		}
	}
	if b.Narrative[0].Stream != domain.StreamNarrative {
		t.Errorf("narrative stream = %s", b.Narrative[0].Stream)
	}
	if len(b.Decisions) != 2 || b.Decisions[0].Title != "Pick SQLite" || b.Decisions[1].Title != "Use Go" {
		t.Fatalf("decisions = %+v", b.Decisions)
	}
}

func TestLoadMissingFolderIsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	b, err := (&Loader{Fs: fs}).Load(context.Background(), Resolve(fs, "/ws", "", Names{}))
	if err != nil {
		t.Fatal(err)
	}
	if b.Roster != nil || len(b.Active) != 0 || len(b.Narrative) != 0 || len(b.Decisions) != 0 {
		t.Fatalf("bundle = %+v", b)
	}
}

func TestUnreadableFileIsSkipped(t *testing.T) {
	base := afero.NewMemMapFs()
	writeFile(t, base, "/ws/.squad/orchestration-log/2026-02-01-good.md", "# Good\n**Participants:** A\n")
	writeFile(t, base, "/ws/.squad/orchestration-log/2026-02-02-bad.md", "# Bad\n")
	fs := &failingFs{Fs: base, fail: "2026-02-02-bad.md"}

	var buf bytes.Buffer
	loader := &Loader{Fs: fs, Logger: log.New(&buf, "", 0)}
	b, err := loader.Load(context.Background(), Resolve(fs, "/ws", "", Names{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Active) != 1 || b.Active[0].Topic != "good" {
		t.Fatalf("active = %+v", b.Active)
	}
	if !strings.Contains(buf.String(), "source: skip log") {
		t.Fatalf("expected skip log line, got %q", buf.String())
	}
	if _, ok := loader.ReadLog(Resolve(fs, "/ws", "", Names{}), "/ws/.squad/orchestration-log/2026-02-02-bad.md", domain.StreamActive); ok {
		t.Fatal("single-file read should report absence")
	}
}

func TestCancelledLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/ws/.squad", 0o755)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&Loader{Fs: fs}).Load(ctx, Resolve(fs, "/ws", "", Names{})); err == nil {
		t.Fatal("expected context error")
	}
}

// failingFs refuses to open one file name.
type failingFs struct {
	afero.Fs
	fail string
}

func (f *failingFs) Open(name string) (afero.File, error) {
	if strings.HasSuffix(name, f.fail) {
		return nil, &failErr{name}
	}
	return f.Fs.Open(name)
}

type failErr struct{ name string }

func (e *failErr) Error() string { return "permission denied: " + e.name }
