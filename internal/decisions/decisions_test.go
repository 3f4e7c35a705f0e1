package decisions

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"squadboard/internal/domain"
)

const ledger = `# Decisions

Shared decision ledger for the squad.

### 2026-02-14/15: Adopt SQLite for snapshots
**By:** Bob
**Author:** Alice

We persist snapshots.

#### Rationale
It is embedded.

## Use chi for routing
**Date:** 2026-01-20

Chi is small.

## Context
Still part of the chi decision.

# Decision: ADR-007: Freeze the API
**Date:** 2026-03-01

### Context
Clients depend on it.

### 2026-03-02: Nested dated heading stays inside

# Appendix

### Alternatives considered
None.
`

func TestParseLedger(t *testing.T) {
	got := ParseLedger(ledger, ".squad/decisions.md")
	if len(got) != 3 {
		for _, d := range got {
			t.Logf("%+v", d)
		}
		t.Fatalf("decisions = %d, want 3", len(got))
	}

	sqlite := got[0]
	if sqlite.Title != "Adopt SQLite for snapshots" || sqlite.Date != "2026-02-14" {
		t.Errorf("first = %q %q", sqlite.Title, sqlite.Date)
	}
	if sqlite.Author != "Alice" {
		t.Errorf("author = %q, want Author over By", sqlite.Author)
	}
	if sqlite.LineNumber != 5 || sqlite.FilePath != ".squad/decisions.md" {
		t.Errorf("location = %s:%d", sqlite.FilePath, sqlite.LineNumber)
	}
	if !strings.Contains(sqlite.Content, "It is embedded.") {
		t.Errorf("nested rationale missing from content: %q", sqlite.Content)
	}

	chi := got[1]
	if chi.Title != "Use chi for routing" || chi.Date != "2026-01-20" {
		t.Errorf("second = %q %q", chi.Title, chi.Date)
	}
	if !strings.Contains(chi.Content, "Still part of the chi decision.") {
		t.Errorf("sibling context not retained: %q", chi.Content)
	}

	freeze := got[2]
	if freeze.Title != "Freeze the API" || freeze.Date != "2026-03-01" {
		t.Errorf("third = %q %q", freeze.Title, freeze.Date)
	}
	if !strings.Contains(freeze.Content, "Nested dated heading stays inside") || strings.Contains(freeze.Content, "Appendix") {
		t.Errorf("content bounds wrong: %q", freeze.Content)
	}
}

func TestDateRangeUsesFirstDay(t *testing.T) {
	got := ParseLedger("### 2026-02-14/15: Title\nbody", "d.md")
	if len(got) != 1 || got[0].Date != "2026-02-14" || got[0].Title != "Title" {
		t.Fatalf("got %+v", got)
	}
}

func TestDateLineOverridesHeading(t *testing.T) {
	got := ParseLedger("### 2026-02-14: Title\n**Date:** 2026-02-20", "d.md")
	if len(got) != 1 || got[0].Date != "2026-02-20" {
		t.Fatalf("got %+v", got)
	}
}

func TestDocumentTitleIsNotADecision(t *testing.T) {
	got := ParseLedger("# Team Decisions\n\nNothing yet.\n\n## Context\nwhy", "d.md")
	if len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestDenylisted(t *testing.T) {
	for _, h := range []string{"Context", "rationale:", "Items deferred to v2", "Alternatives considered", "2026-01-01: Background"} {
		if !Denylisted(h) {
			t.Errorf("%q should be denylisted", h)
		}
	}
	for _, h := range []string{
		"Contextual help",
		"Use Go",
		"Decision: Vision board",
		"2026-02-14: Status bar shows active member count",
		"Context menu on members",
		"Notes panel: pin to sidebar",
		"Background refresh every minute",
	} {
		if Denylisted(h) {
			t.Errorf("%q should not be denylisted", h)
		}
	}
}

func TestTitlesStartingWithSubsectionWords(t *testing.T) {
	text := "# Decisions\n\n" +
		"### 2026-02-14: Status bar shows active member count\nShow it.\n\n" +
		"#### Rationale\nUsers asked.\n\n" +
		"### 2026-02-10: Context menu on members\nRight click.\n\n" +
		"### Context\nnot a decision\n"
	got := ParseLedger(text, "decisions.md")
	if len(got) != 2 {
		t.Fatalf("parsed %d decisions: %+v", len(got), got)
	}
	if got[0].Title != "Status bar shows active member count" || got[1].Title != "Context menu on members" {
		t.Fatalf("titles = %q, %q", got[0].Title, got[1].Title)
	}
	if !strings.Contains(got[0].Content, "Users asked.") {
		t.Fatalf("nested rationale dropped: %q", got[0].Content)
	}
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"Decision: Use Go":          "Use Go",
		"Decided - ship it":         "ship it",
		"ADR-12: **Pin** versions":  "Pin versions",
		"2026-01-01: Decision: Foo": "Foo",
		"Plain title":               "Plain title",
	}
	for in, want := range tests {
		if got := CleanTitle(in); got != want {
			t.Errorf("CleanTitle(%q) = %q want %q", in, got, want)
		}
	}
}

func TestParseFile(t *testing.T) {
	created := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	d := ParseFile("# Decision: Use huma\n\n**By:** Carol\n\n## Context\nOpenAPI for free.", "decisions/huma.md", created)
	if d.Title != "Use huma" || d.Author != "Carol" || d.Date != "2026-04-02" || d.LineNumber != 1 {
		t.Errorf("fallback to created: %+v", d)
	}
	if !strings.Contains(d.Content, "OpenAPI for free.") {
		t.Errorf("content = %q", d.Content)
	}

	d = ParseFile("---\ndate: 2026-01-05\nauthor: Dana\n---\n# 2026-01-01: Pick a name\n", "decisions/name.md", created)
	if d.Date != "2026-01-05" || d.Author != "Dana" || d.Title != "Pick a name" || d.LineNumber != 5 {
		t.Errorf("frontmatter: %+v", d)
	}

	d = ParseFile("just some words", "decisions/loose.md", time.Time{})
	if d.Title != UntitledDecision || d.Date != "" || d.Content != "just some words" {
		t.Errorf("untitled: %+v", d)
	}
}

func TestSortIsDeterministic(t *testing.T) {
	in := []domain.DecisionEntry{
		{Title: "undated b", FilePath: "a"},
		{Title: "old", Date: "2025-12-01"},
		{Title: "new b", Date: "2026-02-01"},
		{Title: "undated a", FilePath: "a"},
		{Title: "new a", Date: "2026-02-01"},
	}
	want := []string{"new a", "new b", "old", "undated a", "undated b"}

	fwd := append([]domain.DecisionEntry(nil), in...)
	Sort(fwd)
	rev := make([]domain.DecisionEntry, len(in))
	for i := range in {
		rev[len(in)-1-i] = in[i]
	}
	Sort(rev)
	if !reflect.DeepEqual(titles(fwd), want) || !reflect.DeepEqual(titles(rev), want) {
		t.Fatalf("fwd=%q rev=%q", titles(fwd), titles(rev))
	}
}

func titles(ds []domain.DecisionEntry) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Title
	}
	return out
}

