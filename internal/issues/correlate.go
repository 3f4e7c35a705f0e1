// Package issues maps externally tracked issues to squad members and fetches
// them from an issue source.
package issues

import (
	"fmt"
	"sort"
	"strings"

	"squadboard/internal/domain"
)

// Strategy names one way of matching an issue to a member.
type Strategy string

const (
	// StrategyLabels matches a label equal to prefix + lowercased member name.
	// The comparison is case-sensitive: "Squad:Alice" does not match
	// "squad:alice". Callers that want folding must normalize labels first.
	StrategyLabels Strategy = "labels"
	// StrategyAssignees matches the issue assignee against member aliases.
	StrategyAssignees Strategy = "assignees"
)

const DefaultLabelPrefix = "squad:"

// DefaultStrategies is the order used when none is configured.
var DefaultStrategies = []Strategy{StrategyLabels, StrategyAssignees}

// ParseStrategies validates configured strategy names, keeping their order.
func ParseStrategies(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return append([]Strategy(nil), DefaultStrategies...), nil
	}
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		switch s := Strategy(strings.TrimSpace(n)); s {
		case StrategyLabels, StrategyAssignees:
			out = append(out, s)
		default:
			return nil, fmt.Errorf("unknown issue matching strategy %q", n)
		}
	}
	return out, nil
}

// Correlator assigns issues to members. Aliases maps a member name to extra
// external identities; they are merged with the aliases carried on each
// member.
type Correlator struct {
	Strategies  []Strategy
	LabelPrefix string
	Aliases     map[string][]string
}

// Correlate returns, per member name, the issues matched by any configured
// strategy. Members without a match are absent from the map and every list
// is deduplicated by issue number, ordered by number.
func (c Correlator) Correlate(issues []domain.Issue, members []domain.Member) map[string][]domain.Issue {
	strategies := c.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	prefix := c.LabelPrefix
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}

	out := map[string][]domain.Issue{}
	seen := map[string]map[int]bool{}
	add := func(member string, issue domain.Issue) {
		if seen[member] == nil {
			seen[member] = map[int]bool{}
		}
		if seen[member][issue.Number] {
			return
		}
		seen[member][issue.Number] = true
		out[member] = append(out[member], issue)
	}

	for _, m := range members {
		label := prefix + strings.ToLower(m.Name)
		aliases := c.aliasSet(m)
		for _, issue := range issues {
			for _, s := range strategies {
				if matches(s, issue, label, aliases) {
					add(m.Name, issue)
					break
				}
			}
		}
	}
	for name := range out {
		list := out[name]
		sort.Slice(list, func(i, j int) bool { return list[i].Number < list[j].Number })
	}
	return out
}

func matches(s Strategy, issue domain.Issue, label string, aliases map[string]bool) bool {
	switch s {
	case StrategyLabels:
		for _, l := range issue.Labels {
			if l == label {
				return true
			}
		}
	case StrategyAssignees:
		return issue.Assignee != "" && aliases[issue.Assignee]
	}
	return false
}

func (c Correlator) aliasSet(m domain.Member) map[string]bool {
	set := map[string]bool{}
	for _, a := range m.Aliases {
		set[a] = true
	}
	for _, a := range c.Aliases[m.Name] {
		set[strings.TrimPrefix(a, "@")] = true
	}
	return set
}
