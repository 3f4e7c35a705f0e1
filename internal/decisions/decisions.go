// Package decisions parses decision records from the consolidated ledger and
// from standalone decision files.
//
// A ledger heading becomes a decision only when it has one of the shapes in
// headingShapes. Headings in the denylist ("Context", "Rationale", ...) never
// start a decision; inside a decision they stay part of its content.
package decisions

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"squadboard/internal/domain"
	"squadboard/internal/markdown"
)

// UntitledDecision is the title of a standalone file without any heading.
const UntitledDecision = "Untitled Decision"

var (
	dateLabel   = markdown.NewLabel("Date")
	authorLabel = markdown.NewLabel("Author", "Authors")
	byLabel     = markdown.NewLabel("By", "Decided by", "Proposed by")

	markerRe    = regexp.MustCompile(`(?i)^decision\s*:\s*(.*)$`)
	editorialRe = regexp.MustCompile(`(?i)^(?:(?:decision|decided)\s*[:\-–—]\s*|adr[-\s]?\d+\s*[:\-–—.]?\s*)`)
)

// denylist holds subsection names that are never decisions on their own.
// A heading matches only when it is the whole name, optionally followed by
// a colon.
var denylist = []string{
	"context",
	"vision",
	"rationale",
	"deferred",
	"consequences",
	"alternatives",
	"implications",
	"background",
	"status",
	"notes",
	"open questions",
	"references",
	"decision drivers",
}

// denyPrefixes name subsection families whose headings carry a tail, as in
// "Items deferred to v2".
var denyPrefixes = []string{
	"items deferred",
	"alternatives considered",
}

// shape is one recognized decision heading convention. body holds the lines
// between the heading and the next heading of any level.
type shape struct {
	name  string
	match func(h markdown.Heading, body []string) (date, title string, ok bool)
}

var headingShapes = []shape{
	{
		// "# Decision: Title", or any level with an explicit marker.
		name: "marker",
		match: func(h markdown.Heading, _ []string) (string, string, bool) {
			date, rest, _ := markdown.LeadingDate(markdown.Plain(h.Text))
			m := markerRe.FindStringSubmatch(rest)
			if m == nil {
				return "", "", false
			}
			return date, m[1], true
		},
	},
	{
		// "### 2026-02-14/15: Title"
		name: "dated",
		match: func(h markdown.Heading, _ []string) (string, string, bool) {
			if h.Level < 2 {
				return "", "", false
			}
			date, rest, ok := markdown.LeadingDate(markdown.Plain(h.Text))
			if !ok || rest == "" {
				return "", "", false
			}
			return date, rest, true
		},
	},
	{
		// "## Title" followed by a **Date:** line.
		name: "date-line",
		match: func(h markdown.Heading, body []string) (string, string, bool) {
			if h.Level != 2 {
				return "", "", false
			}
			if _, _, ok := dateLabel.Find(body); !ok {
				return "", "", false
			}
			return "", markdown.Plain(h.Text), true
		},
	},
}

// Denylisted reports whether a heading names a known non-decision subsection.
func Denylisted(text string) bool {
	_, rest, _ := markdown.LeadingDate(markdown.Plain(text))
	t := strings.ToLower(strings.TrimSpace(rest))
	for _, p := range denyPrefixes {
		if t == p || strings.HasPrefix(t, p+" ") || strings.HasPrefix(t, p+":") {
			return true
		}
	}
	t = strings.TrimSpace(strings.TrimSuffix(t, ":"))
	for _, d := range denylist {
		if t == d {
			return true
		}
	}
	return false
}

func classify(h markdown.Heading, body []string) (date, title string, ok bool) {
	if Denylisted(h.Text) {
		return "", "", false
	}
	for _, s := range headingShapes {
		if date, title, ok := s.match(h, body); ok {
			return date, title, true
		}
	}
	return "", "", false
}

// ParseLedger returns every decision in a consolidated ledger document, in
// document order. LineNumber is one-based.
func ParseLedger(text, filePath string) []domain.DecisionEntry {
	lines := markdown.SplitLines(text)
	heads := markdown.Headings(lines)
	var out []domain.DecisionEntry
	for i := 0; i < len(heads); i++ {
		h := heads[i]
		headDate, title, ok := classify(h, directBody(lines, heads, i))
		if !ok {
			continue
		}
		end := len(lines)
		j := i + 1
		for ; j < len(heads); j++ {
			next := heads[j]
			if next.Level > h.Level || Denylisted(next.Text) {
				continue
			}
			end = next.Line
			break
		}
		content := lines[h.Line+1 : end]
		out = append(out, build(title, headDate, content, filePath, h.Line+1))
		i = j - 1
	}
	return out
}

// directBody is the text between heads[i] and the following heading.
func directBody(lines []string, heads []markdown.Heading, i int) []string {
	end := len(lines)
	if i+1 < len(heads) {
		end = heads[i+1].Line
	}
	return lines[heads[i].Line+1 : end]
}

func build(title, headDate string, content []string, filePath string, line int) domain.DecisionEntry {
	d := domain.DecisionEntry{
		Title:      CleanTitle(title),
		Date:       headDate,
		Author:     author(content),
		Content:    strings.TrimSpace(strings.Join(content, "\n")),
		FilePath:   filePath,
		LineNumber: line,
	}
	if v, _, ok := dateLabel.Find(content); ok {
		if date, ok := markdown.FindDate(v); ok {
			d.Date = date
		}
	}
	if d.Title == "" {
		d.Title = UntitledDecision
	}
	return d
}

func author(lines []string) string {
	if v, _, ok := authorLabel.Find(lines); ok {
		if a := markdown.Plain(v); a != "" {
			return a
		}
	}
	if v, _, ok := byLabel.Find(lines); ok {
		return markdown.Plain(v)
	}
	return ""
}

// CleanTitle strips markup, a leading date and editorial prefixes such as
// "Decision:" or "ADR-004:".
func CleanTitle(title string) string {
	t := markdown.Plain(title)
	if _, rest, ok := markdown.LeadingDate(t); ok {
		t = rest
	}
	for {
		next := strings.TrimSpace(editorialRe.ReplaceAllString(t, ""))
		if next == t {
			return t
		}
		t = next
	}
}

// ParseFile reads a standalone decision document. The first heading holds
// the title and everything after it is content. When no date is found in the
// document, created is used unless it is zero.
func ParseFile(text, filePath string, created time.Time) domain.DecisionEntry {
	fm, body := markdown.Frontmatter(text)
	offset := 0
	if fm != nil {
		offset = len(markdown.SplitLines(text)) - len(markdown.SplitLines(body))
	}
	lines := markdown.SplitLines(body)
	heads := markdown.Headings(lines)

	var d domain.DecisionEntry
	if len(heads) == 0 {
		d = build(UntitledDecision, "", lines, filePath, 1)
	} else {
		h := heads[0]
		date, rest, _ := markdown.LeadingDate(markdown.Plain(h.Text))
		d = build(rest, date, lines[h.Line+1:], filePath, h.Line+1+offset)
	}

	if fm != nil {
		if d.Date == "" || !hasDateLabel(lines) {
			if date := frontmatterDate(fm); date != "" {
				d.Date = date
			}
		}
		if d.Author == "" {
			if a, ok := fm["author"].(string); ok {
				d.Author = strings.TrimSpace(a)
			}
		}
	}
	if d.Date == "" && !created.IsZero() {
		d.Date = created.Format("2006-01-02")
	}
	return d
}

func hasDateLabel(lines []string) bool {
	_, _, ok := dateLabel.Find(lines)
	return ok
}

func frontmatterDate(fm map[string]any) string {
	switch v := fm["date"].(type) {
	case time.Time:
		return v.Format("2006-01-02")
	case string:
		if d, ok := markdown.FindDate(v); ok {
			return d
		}
	}
	return ""
}

// Sort orders decisions by date descending with undated entries last. Ties
// fall back to title, file path and line so the order never depends on the
// input order.
func Sort(ds []domain.DecisionEntry) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if (a.Date == "") != (b.Date == "") {
			return a.Date != ""
		}
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.LineNumber < b.LineNumber
	})
}
