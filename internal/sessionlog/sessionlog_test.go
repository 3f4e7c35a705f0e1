package sessionlog

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseProseLog(t *testing.T) {
	doc := `# 2026-02-14 — Auth refactor

**Participants:** [Carol](../agents/carol.md), Zoë , Bob

Carol reworked the *token* refresh path.
It now retries once.

## Related Issues
- #12
- #13 and #12 again

## Outcomes
- Closed #12
- Working on #13
`
	e := Parse(doc, ".squad/orchestration-log/2026-02-14T0930-auth-refactor.md")
	if e.Date != "2026-02-14" {
		t.Fatalf("date = %q", e.Date)
	}
	if want := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC); !e.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v want %v", e.Timestamp, want)
	}
	if e.Topic != "auth-refactor" || e.Title != "Auth refactor" {
		t.Errorf("topic/title = %q/%q", e.Topic, e.Title)
	}
	if !reflect.DeepEqual(e.Participants, []string{"Carol", "Zoë", "Bob"}) {
		t.Errorf("participants = %q", e.Participants)
	}
	if e.Summary != "Carol reworked the token refresh path. It now retries once." {
		t.Errorf("summary = %q", e.Summary)
	}
	if !reflect.DeepEqual(e.RelatedIssues, []string{"#12", "#13"}) {
		t.Errorf("related = %q", e.RelatedIssues)
	}
	if !reflect.DeepEqual(e.Outcomes, []string{"Closed #12", "Working on #13"}) {
		t.Errorf("outcomes = %q", e.Outcomes)
	}
	if e.Decisions != nil {
		t.Errorf("decisions = %#v, want nil", e.Decisions)
	}
}

func TestSummaryPriority(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "summary section wins",
			doc:  "# Log\n\nFirst prose.\n\n## Summary\nThe **real** summary.\n\n| Field | Value |\n|---|---|\n| Outcome | table |",
			want: "The real summary.",
		},
		{
			name: "outcome table row",
			doc:  "# Log\n\n| Field | Value |\n|---|---|\n| **Outcome** | Shipped `v2` parser |\n| Who | Bob |\n\nLater prose.",
			want: "Shipped v2 parser",
		},
		{
			name: "first prose paragraph skips tables and quotes",
			doc:  "# Log\n**Date:** 2026-01-01\n> quoted aside\n| a | b |\n|---|---|\n| 1 | 2 |\n- a bullet\n\nActual prose here.\n\nSecond paragraph.",
			want: "Actual prose here.",
		},
		{
			name: "fallback",
			doc:  "# Log\n| a | b |\n|---|---|\n| 1 | 2 |\n> quote",
			want: NoSummary,
		},
		{
			name: "empty document",
			doc:  "",
			want: NoSummary,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.doc, "2026-01-01-log.md").Summary
			if got != tt.want {
				t.Fatalf("summary = %q want %q", got, tt.want)
			}
			if strings.Contains(got, "|") {
				t.Fatalf("summary contains table markup: %q", got)
			}
		})
	}
}

func TestDateOverrides(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"filename only", "# Notes\ntext", "2026-03-01"},
		{"date label", "# Notes\n**Date:** 2026-03-05\ntext", "2026-03-05"},
		{"heading prefix", "# 2026-03-07: Notes\ntext", "2026-03-07"},
		{"label beats heading", "# 2026-03-07: Notes\n**Date:** 2026-03-09", "2026-03-09"},
		{"frontmatter", "---\ndate: 2026-03-11\n---\n# Notes", "2026-03-11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Parse(tt.doc, "2026-03-01-notes.md")
			if e.Date != tt.want {
				t.Fatalf("date = %q want %q", e.Date, tt.want)
			}
			if e.Timestamp.Format("2006-01-02") != tt.want {
				t.Fatalf("timestamp = %v", e.Timestamp)
			}
		})
	}
}

func TestTitleFromHeading(t *testing.T) {
	tests := map[string]string{
		"# Session Log — Decision sweep": "Decision sweep",
		"# 2026-02-14: Planning":         "Planning",
		"# Retro":                        "Retro",
	}
	for heading, want := range tests {
		if got := Parse(heading+"\nbody", "x.md").Title; got != want {
			t.Errorf("%q -> %q want %q", heading, got, want)
		}
	}
}

func TestOptionalListsDistinguishEmpty(t *testing.T) {
	e := Parse("# Log\n## Decisions\n\n## Outcomes\n- Shipped\n", "2026-01-01-log.md")
	if e.Decisions == nil || len(e.Decisions) != 0 {
		t.Errorf("decisions = %#v, want empty non-nil", e.Decisions)
	}
	if e.RelatedIssues != nil {
		t.Errorf("related = %#v, want nil", e.RelatedIssues)
	}
	if !reflect.DeepEqual(e.Outcomes, []string{"Shipped"}) {
		t.Errorf("outcomes = %#v", e.Outcomes)
	}
}

func TestLabeledLists(t *testing.T) {
	doc := "# Log\n**Related Issues:** #4, #5\n**Decisions:** use sqlite, keep cli\n**Outcome:** fixed #4"
	e := Parse(doc, "2026-01-01-log.md")
	if !reflect.DeepEqual(e.RelatedIssues, []string{"#4", "#5"}) {
		t.Errorf("related = %q", e.RelatedIssues)
	}
	if !reflect.DeepEqual(e.Decisions, []string{"use sqlite", "keep cli"}) {
		t.Errorf("decisions = %q", e.Decisions)
	}
	if !reflect.DeepEqual(e.Outcomes, []string{"fixed #4"}) {
		t.Errorf("outcomes = %q", e.Outcomes)
	}
}

func TestParticipantsFromTable(t *testing.T) {
	doc := "# Log\n| Field | Value |\n|---|---|\n| Participants | Xander, Yolanda |"
	e := Parse(doc, "2026-01-01-log.md")
	if !reflect.DeepEqual(e.Participants, []string{"Xander", "Yolanda"}) {
		t.Fatalf("participants = %q", e.Participants)
	}
}

func TestUndatedFilename(t *testing.T) {
	e := Parse("no heading, no date", "scratch notes.md")
	if !e.Timestamp.IsZero() || e.Date != "" {
		t.Errorf("expected no date, got %v %q", e.Timestamp, e.Date)
	}
	if e.Topic != "scratch-notes" {
		t.Errorf("topic = %q", e.Topic)
	}
	if e.Participants == nil {
		t.Error("participants should be empty, not nil")
	}
}

func TestCompletionMatcher(t *testing.T) {
	var m *CompletionMatcher
	tests := []struct {
		outcome string
		want    []string
	}{
		{"Closed #12", []string{"12"}},
		{"fixes #3, #4 and #5", []string{"3", "4", "5"}},
		{"RESOLVED issue #7", []string{"7"}},
		{"Fixed bug in #8", []string{"8"}},
		{"#9 is merged", []string{"9"}},
		{"Working on #13", nil},
		{"closed the thread, working on #14", nil},
		{"Closing in on #15", nil},
	}
	for _, tt := range tests {
		got := m.Completed([]string{tt.outcome})
		want := map[string]bool{}
		for _, id := range tt.want {
			want[id] = true
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%q -> %v want %v", tt.outcome, got, want)
		}
	}
}

func TestCompletionMatcherExtraPatterns(t *testing.T) {
	m, err := NewCompletionMatcher(`shipped\s+#(\d+)`, `done:\s*#\d+`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := m.Completed([]string{"Shipped #21", "done: #22", "Closed #23", "started #24"})
	want := map[string]bool{"21": true, "22": true, "23": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := NewCompletionMatcher(`(unclosed`); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestIssueHelpers(t *testing.T) {
	got := IssueNumbers("see #1, https://github.com/a/b/issues/2 and x#3 &#39;")
	if !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("IssueNumbers = %q", got)
	}
	if IssueID(" #42 ") != "42" {
		t.Error("IssueID")
	}
	if Slugify("Hello, **World** 2!") != "hello-world-2" {
		t.Errorf("Slugify = %q", Slugify("Hello, **World** 2!"))
	}
}
