// Package sessionlog parses work-session documents into log entries.
//
// Dates and topics come from the file name ("2026-02-14-topic.md" or
// "2026-02-14T1530-topic.md") and may be overridden by metadata in the body.
// The summary is resolved through a fixed priority chain so that table-style
// and prose-style logs both yield clean text.
package sessionlog

import (
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"squadboard/internal/domain"
	"squadboard/internal/markdown"
)

// NoSummary is used when no summary source in the document qualifies.
const NoSummary = "No summary available"

var (
	filenameRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:T(\d{2}):?(\d{2})(?::?\d{2})?Z?)?(?:[-_ ](.+))?$`)
	dateTimeRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})(?:[T ](\d{2}):?(\d{2}))?`)
	issueRefRe = regexp.MustCompile(`(?:^|[^\w&/])#(\d+)\b|/issues/(\d+)\b`)
	slugRe     = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

var (
	dateLabel         = markdown.NewLabel("Date", "When")
	participantsLabel = markdown.NewLabel("Participants", "Participant", "Attendees", "Who")
	relatedLabel      = markdown.NewLabel("Related Issues", "Related", "Issues")
	decisionsLabel    = markdown.NewLabel("Decisions", "Decision")
	outcomesLabel     = markdown.NewLabel("Outcomes", "Outcome")
)

// Section titles per list field.
var (
	summarySections   = []string{"Summary"}
	relatedSections   = []string{"Related Issues", "Related", "Issues"}
	decisionSections  = []string{"Decisions", "Decisions Made", "Key Decisions"}
	outcomeSections   = []string{"Outcomes", "Outcome", "Results"}
	participantKeys   = []string{"Participants", "Who", "Attendees"}
	tableOutcomeKeys  = []string{"Outcome", "Outcomes"}
	frontmatterPeople = []string{"participants", "attendees"}
)

// Parse never fails. Missing metadata leaves the corresponding field at its
// fallback: zero timestamp, empty participants, NoSummary, nil lists.
func Parse(text, filename string) domain.LogEntry {
	fm, body := markdown.Frontmatter(text)
	lines := markdown.SplitLines(body)
	tables := markdown.Tables(lines)

	e := domain.LogEntry{FilePath: filename, Participants: []string{}}
	ts, slug := fromFilename(filename)

	head, hasHead := titleHeading(lines)
	var headDate string
	if hasHead {
		headDate, e.Title = splitHeading(head.Text)
	}

	if when, clock, ok := bodyDate(lines, fm, tables, headDate); ok {
		ts = mergeDate(ts, when, clock)
	}
	if !ts.IsZero() {
		e.Timestamp = ts
		e.Date = ts.Format("2006-01-02")
	}

	e.Topic = slug
	if e.Topic == "" {
		e.Topic = Slugify(e.Title)
	}
	if e.Title == "" {
		e.Title = strings.ReplaceAll(e.Topic, "-", " ")
	}

	e.Participants = participants(lines, fm, tables)

	from := 0
	if hasHead {
		from = head.Line + 1
	}
	e.Summary = summary(lines, tables, from)
	e.RelatedIssues = relatedIssues(lines)
	e.Decisions = listField(lines, decisionSections, decisionsLabel)
	e.Outcomes = listField(lines, outcomeSections, outcomesLabel)
	if e.Outcomes == nil {
		if v, ok := tableValue(tables, tableOutcomeKeys...); ok && markdown.Plain(v) != "" {
			e.Outcomes = []string{markdown.Plain(v)}
		}
	}
	return e
}

func fromFilename(filename string) (time.Time, string) {
	base := path.Base(filepath.ToSlash(filename))
	base = strings.TrimSuffix(base, path.Ext(base))
	m := filenameRe.FindStringSubmatch(base)
	if m == nil {
		return time.Time{}, Slugify(base)
	}
	day, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return time.Time{}, Slugify(base)
	}
	if m[2] != "" {
		h, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		if h < 24 && mins < 60 {
			day = day.Add(time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute)
		}
	}
	return day, Slugify(m[4])
}

// titleHeading prefers the first level-1 heading and falls back to the first
// heading of any level.
func titleHeading(lines []string) (markdown.Heading, bool) {
	heads := markdown.Headings(lines)
	for _, h := range heads {
		if h.Level == 1 {
			return h, true
		}
	}
	if len(heads) > 0 {
		return heads[0], true
	}
	return markdown.Heading{}, false
}

// splitHeading separates a leading date token from the heading title. Text
// after an em-dash wins as the title.
func splitHeading(text string) (date, title string) {
	text = markdown.Plain(text)
	date, rest, ok := markdown.LeadingDate(text)
	if !ok {
		rest = text
	}
	if i := strings.Index(rest, "—"); i >= 0 {
		if d, ok := markdown.FindDate(rest[:i]); ok && date == "" {
			date = d
		}
		rest = rest[i+len("—"):]
	}
	return date, strings.TrimSpace(rest)
}

// bodyDate applies the override order: **Date:** line, then frontmatter,
// then a metadata table row, then the heading date prefix.
func bodyDate(lines []string, fm map[string]any, tables []markdown.Table, headDate string) (time.Time, bool, bool) {
	if v, _, ok := dateLabel.Find(lines); ok {
		if t, clock, ok := parseWhen(markdown.Plain(v)); ok {
			return t, clock, true
		}
	}
	if fm != nil {
		switch v := fm["date"].(type) {
		case time.Time:
			return v.UTC(), v.Hour() != 0 || v.Minute() != 0, true
		case string:
			if t, clock, ok := parseWhen(v); ok {
				return t, clock, true
			}
		}
	}
	if v, ok := tableValue(tables, "Date"); ok {
		if t, clock, ok := parseWhen(markdown.Plain(v)); ok {
			return t, clock, true
		}
	}
	if headDate != "" {
		t, _ := time.Parse("2006-01-02", headDate)
		return t, false, true
	}
	return time.Time{}, false, false
}

// parseWhen accepts RFC 3339 or a YYYY-MM-DD date with an optional HH:MM.
func parseWhen(s string) (time.Time, bool, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true, true
	}
	for _, m := range dateTimeRe.FindAllStringSubmatch(s, -1) {
		day, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			continue
		}
		if m[2] == "" {
			return day, false, true
		}
		h, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		if h > 23 || mins > 59 {
			return day, false, true
		}
		return day.Add(time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute), true, true
	}
	return time.Time{}, false, false
}

// mergeDate keeps the file name's time of day when the override names the
// same calendar day without a clock.
func mergeDate(fromName, override time.Time, clock bool) time.Time {
	if clock || fromName.IsZero() {
		return override
	}
	if fromName.Format("2006-01-02") == override.Format("2006-01-02") {
		return fromName
	}
	return override
}

func participants(lines []string, fm map[string]any, tables []markdown.Table) []string {
	var raw []string
	if v, _, ok := participantsLabel.Find(lines); ok {
		raw = markdown.SplitList(v)
	} else if list, ok := frontmatterList(fm, frontmatterPeople...); ok {
		raw = list
	} else if v, ok := tableValue(tables, participantKeys...); ok {
		raw = markdown.SplitList(v)
	}
	out := []string{}
	seen := map[string]bool{}
	for _, p := range raw {
		name := NormalizeName(p)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// NormalizeName strips link and emphasis markup from a member name.
func NormalizeName(s string) string {
	return strings.TrimPrefix(markdown.Plain(s), "@")
}

func frontmatterList(fm map[string]any, keys ...string) ([]string, bool) {
	for _, k := range keys {
		switch v := fm[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out, true
		case string:
			return markdown.SplitList(v), true
		}
	}
	return nil, false
}

func tableValue(tables []markdown.Table, keys ...string) (string, bool) {
	for _, t := range tables {
		if v, ok := t.KeyValue(keys...); ok {
			return v, true
		}
	}
	return "", false
}

func summary(lines []string, tables []markdown.Table, from int) string {
	if body, ok := markdown.Section(lines, summarySections...); ok {
		if s := proseText(body); s != "" {
			return s
		}
	}
	if v, ok := tableValue(tables, tableOutcomeKeys...); ok {
		if s := markdown.Plain(v); s != "" {
			return s
		}
	}
	if from > len(lines) {
		from = len(lines)
	}
	if s := firstParagraph(lines[from:]); s != "" {
		return s
	}
	return NoSummary
}

// proseText joins the prose and list lines of a section, dropping table and
// quote lines.
func proseText(body []string) string {
	var parts []string
	inFence := false
	for _, line := range body {
		if markdown.IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence || skippable(line) {
			continue
		}
		if item, ok := markdown.ListItem(line); ok {
			line = item
		}
		if s := markdown.Plain(line); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func skippable(line string) bool {
	if _, ok := markdown.ParseHeading(line); ok {
		return true
	}
	return markdown.IsTableLine(line) || markdown.IsBlockquote(line) ||
		markdown.IsComment(line) || markdown.IsHorizontalRule(line)
}

// firstParagraph returns the first run of consecutive prose lines. Headings,
// tables, blockquotes, labels, list items and comments end a run and are
// never part of one.
func firstParagraph(lines []string) string {
	var cur []string
	inFence := false
	for _, line := range lines {
		if markdown.IsFence(line) {
			inFence = !inFence
			if len(cur) > 0 {
				break
			}
			continue
		}
		if inFence {
			continue
		}
		_, isItem := markdown.ListItem(line)
		if strings.TrimSpace(line) == "" || skippable(line) || isItem || markdown.IsLabelLine(line) {
			if len(cur) > 0 {
				break
			}
			continue
		}
		cur = append(cur, markdown.Plain(line))
	}
	return strings.TrimSpace(strings.Join(cur, " "))
}

func relatedIssues(lines []string) []string {
	var sources []string
	found := false
	if v, _, ok := relatedLabel.Find(lines); ok {
		found = true
		sources = append(sources, v)
	}
	if body, ok := markdown.Section(lines, relatedSections...); ok {
		found = true
		sources = append(sources, body...)
	}
	if !found {
		return nil
	}
	out := []string{}
	seen := map[string]bool{}
	for _, s := range sources {
		for _, n := range IssueNumbers(s) {
			if !seen[n] {
				seen[n] = true
				out = append(out, "#"+n)
			}
		}
	}
	return out
}

// IssueNumbers extracts "#N" and ".../issues/N" references in order.
func IssueNumbers(s string) []string {
	var out []string
	for _, m := range issueRefRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		} else if m[2] != "" {
			out = append(out, m[2])
		}
	}
	return out
}

// IssueID turns a reference like "#12" into the task identifier "12".
func IssueID(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "#")
}

// listField reads a list from a titled section, falling back to a labeled
// comma-separated line. It returns nil when neither is present.
func listField(lines []string, sections []string, label markdown.Label) []string {
	if body, ok := markdown.Section(lines, sections...); ok {
		out := []string{}
		items := markdown.ListItems(body)
		if len(items) == 0 {
			for _, p := range markdown.Paragraphs(body) {
				if s := proseText(p); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
		for _, item := range items {
			if s := markdown.Plain(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if v, _, ok := label.Find(lines); ok {
		out := []string{}
		for _, s := range markdown.SplitList(v) {
			if p := markdown.Plain(s); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// Slugify lowercases s and joins its letter and digit runs with dashes.
func Slugify(s string) string {
	s = strings.ToLower(markdown.Plain(s))
	return strings.Trim(slugRe.ReplaceAllString(s, "-"), "-")
}
