package sessionlog

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// closureVerbs precede the issue references they close: "Closed #12",
// "fixes #3, #4", "Fixed bug in #7". At most two words may sit between the
// verb and the reference.
var closureVerbs = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?|complete[sd]?|merged)\b[:\s]+(?:[\w-]+\s+){0,2}?(#\d+(?:\s*(?:,|&|and)\s*#\d+)*)`)

// closedSuffix covers the trailing form: "#12 closed", "#12 is fixed".
var closedSuffix = regexp.MustCompile(`(?i)(#\d+)\s+(?:(?:is|was|has been|now)\s+)?(?:closed|fixed|resolved|completed|merged)\b`)

// CompletionMatcher decides which issues an outcome line marks as completed.
// The built-in closure vocabulary always applies; extra patterns come from
// configuration. A nil matcher uses the built-in vocabulary only.
type CompletionMatcher struct {
	extra []*regexp2.Regexp
}

// NewCompletionMatcher compiles extra patterns in RE2-compatible mode. A
// pattern's first capture group, when present, names the issue; otherwise
// every "#N" inside the match counts.
func NewCompletionMatcher(patterns ...string) (*CompletionMatcher, error) {
	m := &CompletionMatcher{}
	for _, p := range patterns {
		re, err := regexp2.Compile(p, regexp2.RE2|regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("completion pattern %q: %w", p, err)
		}
		re.MatchTimeout = time.Second
		m.extra = append(m.extra, re)
	}
	return m, nil
}

// Completed returns the issue ids ("12", not "#12") that any outcome closes.
func (m *CompletionMatcher) Completed(outcomes []string) map[string]bool {
	done := map[string]bool{}
	for _, o := range outcomes {
		for _, id := range m.closes(o) {
			done[id] = true
		}
	}
	return done
}

func (m *CompletionMatcher) closes(outcome string) []string {
	var ids []string
	for _, match := range closureVerbs.FindAllStringSubmatch(outcome, -1) {
		ids = append(ids, IssueNumbers(" "+match[1])...)
	}
	for _, match := range closedSuffix.FindAllStringSubmatch(outcome, -1) {
		ids = append(ids, IssueNumbers(" "+match[1])...)
	}
	if m == nil {
		return ids
	}
	for _, re := range m.extra {
		match, err := re.FindStringMatch(outcome)
		for err == nil && match != nil {
			if g := match.GroupByNumber(1); g != nil && len(g.Captures) > 0 && g.String() != "" {
				ids = append(ids, IssueID(g.String()))
			} else {
				ids = append(ids, IssueNumbers(" "+match.String())...)
			}
			match, err = re.FindNextMatch(match)
		}
	}
	return ids
}
