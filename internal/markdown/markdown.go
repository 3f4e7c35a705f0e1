// Package markdown holds the line-oriented primitives shared by the roster,
// session-log and decision parsers. It is not a renderer: it only recognizes
// headings, pipe tables, bold-labeled metadata lines, list items and a few
// inline markups that the parsers need to strip.
package markdown

import (
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Heading is an ATX heading. Line is the zero-based index into the slice the
// heading was found in.
type Heading struct {
	Level int
	Text  string
	Line  int
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)

// SplitLines normalizes line endings and splits text into lines.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// ParseHeading recognizes "# Text" through "###### Text".
func ParseHeading(line string) (Heading, bool) {
	m := headingRe.FindStringSubmatch(strings.TrimRight(line, " \t"))
	if m == nil {
		return Heading{}, false
	}
	return Heading{Level: len(m[1]), Text: strings.TrimSpace(m[2])}, true
}

// Headings lists every heading outside fenced code blocks.
func Headings(lines []string) []Heading {
	var out []Heading
	inFence := false
	for i, line := range lines {
		if IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if h, ok := ParseHeading(line); ok {
			h.Line = i
			out = append(out, h)
		}
	}
	return out
}

func IsFence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

func IsTableLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

func IsBlockquote(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), ">")
}

func IsComment(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "<!--")
}

var ruleRe = regexp.MustCompile(`^\s*([-*_])(\s*[-*_]){2,}\s*$`)

func IsHorizontalRule(line string) bool {
	return ruleRe.MatchString(line)
}

var listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.*)$`)

// ListItem returns the text of a bullet or numbered list line.
func ListItem(line string) (string, bool) {
	if IsHorizontalRule(line) {
		return "", false
	}
	m := listItemRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ListItems collects list item texts, ignoring every other line.
func ListItems(lines []string) []string {
	var out []string
	for _, line := range lines {
		if item, ok := ListItem(line); ok && item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Section returns the body of the first heading whose text matches one of
// titles (case-insensitive, trailing colon ignored). The body ends at the next
// heading of the same or a higher level.
func Section(lines []string, titles ...string) ([]string, bool) {
	heads := Headings(lines)
	for i, h := range heads {
		if !matchesTitle(h.Text, titles) {
			continue
		}
		end := len(lines)
		for _, next := range heads[i+1:] {
			if next.Level <= h.Level {
				end = next.Line
				break
			}
		}
		return lines[h.Line+1 : end], true
	}
	return nil, false
}

func matchesTitle(text string, titles []string) bool {
	t := strings.TrimSuffix(strings.TrimSpace(Plain(text)), ":")
	for _, want := range titles {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// Paragraphs groups consecutive non-blank lines.
func Paragraphs(lines []string) [][]string {
	var out [][]string
	var cur []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, strings.TrimSpace(line))
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

var (
	linkRe     = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	refLinkRe  = regexp.MustCompile(`\[([^\]]*)\]\[[^\]]*\]`)
	boldRe     = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicRe   = regexp.MustCompile(`(^|[^*\w])\*([^*\s][^*]*?)\*`)
	codeRe     = regexp.MustCompile("`+([^`]*)`+")
	strikeRe   = regexp.MustCompile(`~~(.+?)~~`)
	spaceRunRe = regexp.MustCompile(`\s+`)
)

// StripLinks turns "[text](url)" into "text".
func StripLinks(s string) string {
	s = linkRe.ReplaceAllString(s, "$1")
	return refLinkRe.ReplaceAllString(s, "$1")
}

// StripEmphasis removes bold, italic, strike-through and code markup.
func StripEmphasis(s string) string {
	s = boldRe.ReplaceAllString(s, "$1$2")
	s = italicRe.ReplaceAllString(s, "$1$2")
	s = strikeRe.ReplaceAllString(s, "$1")
	return codeRe.ReplaceAllString(s, "$1")
}

// Plain strips inline markup and collapses whitespace.
func Plain(s string) string {
	s = StripEmphasis(StripLinks(s))
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}

// Frontmatter splits a leading YAML block from the body. When the block is
// missing or is not valid YAML the text is returned unchanged with a nil map.
func Frontmatter(text string) (map[string]any, string) {
	trimmed := strings.TrimLeft(text, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return nil, text
	}
	rest := strings.TrimLeft(trimmed[3:], " \t")
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		return nil, text
	}
	rest = strings.TrimLeft(rest, "\r\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, text
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil || fm == nil {
		return nil, text
	}
	body := rest[idx+4:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return fm, body
}

var dateRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// FindDate returns the first valid YYYY-MM-DD in s.
func FindDate(s string) (string, bool) {
	for _, m := range dateRe.FindAllStringSubmatch(s, -1) {
		if ValidDate(m[1]) {
			return m[1], true
		}
	}
	return "", false
}

func ValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// leadingDateRe matches a heading that starts with a date, an optional
// "/DD" range suffix and a separator before the remaining title.
var leadingDateRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:/\d{1,2}(?:-\d{1,2})?)?\s*(?:[:\-–—|]\s*)?(.*)$`)

// LeadingDate splits "2026-02-14/15: Title" into ("2026-02-14", "Title").
func LeadingDate(s string) (date, rest string, ok bool) {
	m := leadingDateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || !ValidDate(m[1]) {
		return "", s, false
	}
	return m[1], strings.TrimSpace(m[2]), true
}
