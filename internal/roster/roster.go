// Package roster parses the squad roster document (team.md) into member rows
// and project metadata.
package roster

import (
	"regexp"
	"strings"
	"unicode"

	"squadboard/internal/domain"
	"squadboard/internal/markdown"
)

// CoordinatorRole rows describe the orchestrating agent, not a participant.
const CoordinatorRole = "Coordinator"

var (
	sectionTitles  = []string{"Members", "Team Members", "Roster"}
	nameColumns    = []string{"Name", "Member", "Agent"}
	roleColumns    = []string{"Role"}
	statusColumns  = []string{"Status", "State"}
	aliasColumns   = []string{"GitHub", "Handle", "Alias", "Aliases", "Login"}
	ownerLabel     = markdown.NewLabel("Owner")
	repoLabel      = markdown.NewLabel("Repository", "Repo")
	autoAssignLbl  = markdown.NewLabel("Auto-assign", "Auto assign", "Copilot auto-assign")
	trailingParen  = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	githubURLRe    = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?github\.com/([^/\s]+/[^/\s#?]+?)(?:\.git)?/?$`)
	autoAssignNote = regexp.MustCompile(`(?i)<!--\s*copilot-auto-assign\s*:\s*(true|false|yes|no|on|off)\s*-->`)
	capabilityRe   = regexp.MustCompile(`(?i)^(good fit|needs review|not suitable)\b[^:]*:\s*(.*)$`)
)

// badgeVocabulary maps status badge phrases to a status hint. Working phrases
// are listed first; anything unrecognized is idle.
var badgeVocabulary = []struct {
	phrase string
	status domain.MemberStatus
}{
	{"working", domain.StatusWorking},
	{"in progress", domain.StatusWorking},
	{"in-progress", domain.StatusWorking},
	{"busy", domain.StatusWorking},
	{"active", domain.StatusIdle},
	{"silent", domain.StatusIdle},
	{"monitor", domain.StatusIdle},
	{"idle", domain.StatusIdle},
	{"standby", domain.StatusIdle},
}

// Parse never fails: missing sections, tables or blank input yield an empty
// member list.
func Parse(text string) domain.Roster {
	r := domain.Roster{Members: []domain.RosterMember{}}
	if strings.TrimSpace(text) == "" {
		return r
	}
	lines := markdown.SplitLines(text)
	r.Owner = parseOwner(lines)
	r.Repository = parseRepository(lines)
	r.Capabilities = parseCapabilities(text, lines)
	r.Members = parseMembers(lines)
	return r
}

func parseMembers(lines []string) []domain.RosterMember {
	members := []domain.RosterMember{}
	section, ok := markdown.Section(lines, sectionTitles...)
	if !ok {
		return members
	}
	tbl, ok := markdown.FindTable(section, 0, len(section))
	if !ok {
		return members
	}
	nameCol := tbl.Column(nameColumns...)
	roleCol := tbl.Column(roleColumns...)
	if nameCol < 0 || roleCol < 0 {
		return members
	}
	statusCol := tbl.Column(statusColumns...)
	aliasCol := tbl.Column(aliasColumns...)
	for _, row := range tbl.Rows {
		name := markdown.Plain(markdown.Cell(row, nameCol))
		role := markdown.Plain(markdown.Cell(row, roleCol))
		if name == "" || role == "" {
			continue
		}
		if strings.EqualFold(role, CoordinatorRole) {
			continue
		}
		badge := markdown.Plain(markdown.Cell(row, statusCol))
		members = append(members, domain.RosterMember{
			Name:       name,
			Role:       role,
			StatusHint: StatusFromBadge(badge),
			Badge:      badge,
			Aliases:    parseAliases(markdown.Cell(row, aliasCol)),
		})
	}
	return members
}

// StatusFromBadge maps a status badge through the fixed vocabulary.
func StatusFromBadge(badge string) domain.MemberStatus {
	lowered := strings.ToLower(badge)
	for _, v := range badgeVocabulary {
		if strings.Contains(lowered, v.phrase) {
			return v.status
		}
	}
	return domain.StatusIdle
}

func parseAliases(cell string) []string {
	var out []string
	for _, a := range markdown.SplitList(markdown.Plain(cell)) {
		a = strings.TrimPrefix(a, "@")
		if a != "" && a != "-" && a != "—" {
			out = append(out, a)
		}
	}
	return out
}

func parseOwner(lines []string) string {
	v, _, ok := ownerLabel.Find(lines)
	if !ok {
		return ""
	}
	return strings.TrimSpace(trailingParen.ReplaceAllString(markdown.Plain(v), ""))
}

func parseRepository(lines []string) string {
	v, _, ok := repoLabel.Find(lines)
	if !ok {
		return ""
	}
	v = markdown.Plain(v)
	if m := githubURLRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return v
}

func parseCapabilities(text string, lines []string) *domain.CopilotCapabilities {
	caps := domain.CopilotCapabilities{
		GoodFit:     []string{},
		NeedsReview: []string{},
		NotSuitable: []string{},
	}
	found := false
	if m := autoAssignNote.FindStringSubmatch(text); m != nil {
		caps.AutoAssign = truthy(m[1])
		found = true
	} else if v, _, ok := autoAssignLbl.Find(lines); ok {
		caps.AutoAssign = truthy(markdown.Plain(v))
		found = true
	}
	for _, line := range lines {
		item, ok := markdown.ListItem(line)
		if !ok {
			continue
		}
		m := capabilityRe.FindStringSubmatch(trimLeadingSymbols(markdown.Plain(item)))
		if m == nil {
			continue
		}
		found = true
		values := markdown.SplitList(m[2])
		switch strings.ToLower(m[1]) {
		case "good fit":
			caps.GoodFit = append(caps.GoodFit, values...)
		case "needs review":
			caps.NeedsReview = append(caps.NeedsReview, values...)
		case "not suitable":
			caps.NotSuitable = append(caps.NotSuitable, values...)
		}
	}
	if !found {
		return nil
	}
	return &caps
}

// trimLeadingSymbols drops emoji and punctuation in front of a category name.
func trimLeadingSymbols(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "enabled", "1":
		return true
	}
	return false
}
