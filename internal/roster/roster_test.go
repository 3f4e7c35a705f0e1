package roster

import (
	"reflect"
	"testing"

	"squadboard/internal/domain"
)

const teamDoc = `# The Squad

**Owner:** Brady (human, not a team member)
**Repository:** https://github.com/acme/widgets

## Members

| Name | Role | Charter | Status | GitHub |
|------|------|---------|--------|--------|
| [Alice](agents/alice/charter.md) | Lead | charter | ✅ Active | @alice-gh |
| Bob | Backend Dev | charter | 🔨 Working | bob1, bob-bot |
| Carol | Tester | charter | 📋 Silent | |
| Scribe | Coordinator | - | 🔄 Monitor | |
|  | Ghost | - | | |
| Dan |  | - | | |

## Coding Agent

<!-- copilot-auto-assign: true -->

- 🟢 **Good fit:** bug fixes, docs
- 🟡 Needs review: refactors
- 🔴 Not suitable: architecture
`

func TestParseMembers(t *testing.T) {
	r := Parse(teamDoc)
	want := []domain.RosterMember{
		{Name: "Alice", Role: "Lead", StatusHint: domain.StatusIdle, Badge: "✅ Active", Aliases: []string{"alice-gh"}},
		{Name: "Bob", Role: "Backend Dev", StatusHint: domain.StatusWorking, Badge: "🔨 Working", Aliases: []string{"bob1", "bob-bot"}},
		{Name: "Carol", Role: "Tester", StatusHint: domain.StatusIdle, Badge: "📋 Silent"},
	}
	if !reflect.DeepEqual(r.Members, want) {
		t.Fatalf("members = %+v", r.Members)
	}
	if r.Owner != "Brady" {
		t.Errorf("owner = %q", r.Owner)
	}
	if r.Repository != "acme/widgets" {
		t.Errorf("repository = %q", r.Repository)
	}
}

func TestParseCapabilities(t *testing.T) {
	r := Parse(teamDoc)
	if r.Capabilities == nil {
		t.Fatal("expected capabilities")
	}
	want := domain.CopilotCapabilities{
		AutoAssign:  true,
		GoodFit:     []string{"bug fixes", "docs"},
		NeedsReview: []string{"refactors"},
		NotSuitable: []string{"architecture"},
	}
	if !reflect.DeepEqual(*r.Capabilities, want) {
		t.Fatalf("capabilities = %+v", *r.Capabilities)
	}
}

func TestCapabilitiesMarkerOnly(t *testing.T) {
	r := Parse("<!-- copilot-auto-assign: false -->\n## Members\n| Name | Role |\n|---|---|\n| A | B |")
	if r.Capabilities == nil {
		t.Fatal("marker should yield capabilities")
	}
	if r.Capabilities.AutoAssign || r.Capabilities.GoodFit == nil || len(r.Capabilities.GoodFit) != 0 {
		t.Fatalf("capabilities = %+v", *r.Capabilities)
	}
}

func TestParseWithoutCapabilities(t *testing.T) {
	r := Parse("## Members\n| Name | Role |\n|---|---|\n| A | B |")
	if r.Capabilities != nil {
		t.Fatalf("capabilities = %+v, want nil", r.Capabilities)
	}
	if len(r.Members) != 1 {
		t.Fatalf("members = %+v", r.Members)
	}
}

func TestParseEmptyOrMissing(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"whitespace":     "  \n\t\n",
		"no section":     "# Team\n| Name | Role |\n|---|---|\n| A | B |",
		"no table":       "## Members\nAlice leads.",
		"missing column": "## Members\n| Name | Charter |\n|---|---|\n| A | x |",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			r := Parse(doc)
			if r.Members == nil || len(r.Members) != 0 {
				t.Fatalf("members = %#v", r.Members)
			}
		})
	}
}

func TestColumnOrderIndependent(t *testing.T) {
	r := Parse("## Members\n| Role | Status | Name |\n|---|---|---|\n| Lead | in progress | Zoë |")
	if len(r.Members) != 1 || r.Members[0].Name != "Zoë" || r.Members[0].Role != "Lead" || r.Members[0].StatusHint != domain.StatusWorking {
		t.Fatalf("members = %+v", r.Members)
	}
}

func TestStatusFromBadge(t *testing.T) {
	tests := map[string]domain.MemberStatus{
		"✅ Active":        domain.StatusIdle,
		"📋 Silent":        domain.StatusIdle,
		"🔄 Monitor":       domain.StatusIdle,
		"Working on #4":   domain.StatusWorking,
		"In Progress":     domain.StatusWorking,
		"on vacation":     domain.StatusIdle,
		"":                domain.StatusIdle,
	}
	for badge, want := range tests {
		if got := StatusFromBadge(badge); got != want {
			t.Errorf("StatusFromBadge(%q) = %s want %s", badge, got, want)
		}
	}
}
