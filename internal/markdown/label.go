package markdown

import (
	"regexp"
	"strings"
)

// Label recognizes bold-labeled metadata lines such as "**Date:** 2026-02-14",
// "**Date**: 2026-02-14" or "- **Date:** 2026-02-14". Names are matched
// case-insensitively and in the order given.
type Label struct {
	names []string
	re    *regexp.Regexp
}

func NewLabel(names ...string) Label {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	expr := `(?i)^\s*(?:[-*+]\s+)?\*\*\s*(` + strings.Join(quoted, "|") + `)\s*:?\s*\*\*\s*:?\s*(.*?)\s*$`
	return Label{names: names, re: regexp.MustCompile(expr)}
}

// Match returns the value of line when it carries this label.
func (l Label) Match(line string) (string, bool) {
	m := l.re.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[2], true
}

// Find scans lines and returns the first labeled value and its index.
func (l Label) Find(lines []string) (string, int, bool) {
	for i, line := range lines {
		if v, ok := l.Match(line); ok {
			return v, i, true
		}
	}
	return "", -1, false
}

var anyLabelRe = regexp.MustCompile(`^\s*(?:[-*+]\s+)?\*\*[^*]+?:\s*\*\*|^\s*(?:[-*+]\s+)?\*\*[^*]+?\*\*\s*:`)

// IsLabelLine reports whether line looks like any "**Key:** value" metadata line.
func IsLabelLine(line string) bool {
	return anyLabelRe.MatchString(line)
}

// SplitList splits a comma separated value, trimming and dropping empties.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
