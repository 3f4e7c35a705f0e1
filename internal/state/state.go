// Package state derives member status, tasks and work details from parsed
// roster, session-log and decision records.
//
// A Snapshot is immutable once built. Every Build returns fresh slices so a
// consumer holding an older snapshot never observes a later refresh.
package state

import (
	"sort"
	"strconv"
	"time"

	"squadboard/internal/domain"
	"squadboard/internal/sessionlog"
)

// Input is everything one derivation pass needs. Roster is nil when the
// roster document does not exist.
type Input struct {
	Roster     *domain.Roster
	Active     []domain.LogEntry
	Narrative  []domain.LogEntry
	Decisions  []domain.DecisionEntry
	Completion *sessionlog.CompletionMatcher
}

// Snapshot is the derived view for one source root.
type Snapshot struct {
	Roster    *domain.Roster
	Members   []domain.Member
	Tasks     []domain.Task
	Active    []domain.LogEntry
	Narrative []domain.LogEntry
	Decisions []domain.DecisionEntry

	members map[string]int
	tasks   map[string]int
}

// Build runs the aggregation. It never fails; missing inputs produce empty
// collections.
func Build(in Input) *Snapshot {
	s := &Snapshot{
		Roster:    in.Roster,
		Active:    chronological(in.Active),
		Narrative: chronological(in.Narrative),
		Decisions: append([]domain.DecisionEntry{}, in.Decisions...),
		members:   map[string]int{},
		tasks:     map[string]int{},
	}
	s.Members = resolveMembers(in.Roster, s.Active)
	for i, m := range s.Members {
		s.members[m.Name] = i
	}
	s.Tasks = s.synthesizeTasks(in.Completion)
	for i, t := range s.Tasks {
		s.tasks[t.ID] = i
	}
	s.applyStatus()
	return s
}

func chronological(entries []domain.LogEntry) []domain.LogEntry {
	out := append([]domain.LogEntry{}, entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

// resolveMembers makes the roster authoritative when it lists anyone.
// Otherwise members are the union of active-log participants in order of
// first appearance, each with the generic role.
func resolveMembers(roster *domain.Roster, active []domain.LogEntry) []domain.Member {
	members := []domain.Member{}
	if roster != nil && len(roster.Members) > 0 {
		seen := map[string]bool{}
		for _, rm := range roster.Members {
			name := sessionlog.NormalizeName(rm.Name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			members = append(members, domain.Member{
				Name:    name,
				Role:    rm.Role,
				Status:  domain.StatusIdle,
				Aliases: append([]string(nil), rm.Aliases...),
			})
		}
		return members
	}
	seen := map[string]bool{}
	for _, e := range active {
		for _, p := range e.Participants {
			name := sessionlog.NormalizeName(p)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			members = append(members, domain.Member{Name: name, Role: domain.GenericRole, Status: domain.StatusIdle})
		}
	}
	return members
}

// synthesizeTasks walks active entries oldest first. The first participant
// that resolves to a member owns the entry's issues; entries with no such
// participant contribute no tasks. Completion is sticky and keeps the
// earliest completion time.
func (s *Snapshot) synthesizeTasks(matcher *sessionlog.CompletionMatcher) []domain.Task {
	byID := map[string]*domain.Task{}
	var order []string
	closedAt := map[string]time.Time{}

	for _, e := range s.Active {
		for id := range matcher.Completed(e.Outcomes) {
			if prev, ok := closedAt[id]; !ok || e.Timestamp.Before(prev) {
				closedAt[id] = e.Timestamp
			}
		}
		assignee, ok := s.firstMember(e.Participants)
		if !ok {
			continue
		}
		for _, ref := range e.RelatedIssues {
			id := sessionlog.IssueID(ref)
			if id == "" {
				continue
			}
			if t, ok := byID[id]; ok {
				if e.Timestamp.Before(t.StartedAt) {
					t.StartedAt = e.Timestamp
					t.Assignee = assignee
					t.Title = e.Title
					t.Description = e.Summary
				}
				continue
			}
			byID[id] = &domain.Task{
				ID:          id,
				Title:       e.Title,
				Status:      domain.TaskInProgress,
				Assignee:    assignee,
				StartedAt:   e.Timestamp,
				Description: e.Summary,
			}
			order = append(order, id)
		}
	}

	tasks := make([]domain.Task, 0, len(order))
	for _, id := range order {
		t := *byID[id]
		if at, ok := closedAt[id]; ok {
			done := at
			t.Status = domain.TaskCompleted
			t.CompletedAt = &done
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].StartedAt.Equal(tasks[j].StartedAt) {
			return tasks[i].StartedAt.Before(tasks[j].StartedAt)
		}
		return issueLess(tasks[i].ID, tasks[j].ID)
	})
	return tasks
}

func issueLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func (s *Snapshot) firstMember(participants []string) (string, bool) {
	for _, p := range participants {
		if m, ok := s.Member(p); ok {
			return m.Name, true
		}
	}
	return "", false
}

// applyStatus marks working exactly the participants of the most recent
// active entry that hold at least one in-progress task.
func (s *Snapshot) applyStatus() {
	if len(s.Active) == 0 {
		return
	}
	latest := s.Active[len(s.Active)-1]
	current := map[string]bool{}
	for _, p := range latest.Participants {
		current[sessionlog.NormalizeName(p)] = true
	}
	latestRefs := map[string]bool{}
	for _, ref := range latest.RelatedIssues {
		latestRefs[sessionlog.IssueID(ref)] = true
	}
	for i := range s.Members {
		m := &s.Members[i]
		if !current[m.Name] {
			continue
		}
		var pick *domain.Task
		for j := range s.Tasks {
			t := s.Tasks[j]
			if t.Assignee != m.Name || t.Status != domain.TaskInProgress {
				continue
			}
			if pick == nil || (latestRefs[t.ID] && !latestRefs[pick.ID]) ||
				(latestRefs[t.ID] == latestRefs[pick.ID] && t.StartedAt.After(pick.StartedAt)) {
				tc := t
				pick = &tc
			}
		}
		if pick != nil {
			m.Status = domain.StatusWorking
			m.CurrentTask = pick
		}
	}
}

// Member looks a member up by exact name after stripping link and emphasis
// markup from the query.
func (s *Snapshot) Member(name string) (domain.Member, bool) {
	i, ok := s.members[sessionlog.NormalizeName(name)]
	if !ok {
		return domain.Member{}, false
	}
	return s.Members[i], true
}

func (s *Snapshot) Task(id string) (domain.Task, bool) {
	i, ok := s.tasks[sessionlog.IssueID(id)]
	if !ok {
		return domain.Task{}, false
	}
	return s.Tasks[i], true
}

// TasksForMember returns the member's tasks in start order. Unknown members
// have no tasks.
func (s *Snapshot) TasksForMember(name string) []domain.Task {
	out := []domain.Task{}
	m, ok := s.Member(name)
	if !ok {
		return out
	}
	for _, t := range s.Tasks {
		if t.Assignee == m.Name {
			out = append(out, t)
		}
	}
	return out
}

// WorkDetails joins a task with its assignee and every log entry, from either
// stream, that references the issue. ok is false when no such task exists.
func (s *Snapshot) WorkDetails(id string) (domain.WorkDetails, bool) {
	t, ok := s.Task(id)
	if !ok {
		return domain.WorkDetails{}, false
	}
	m, ok := s.Member(t.Assignee)
	if !ok {
		return domain.WorkDetails{}, false
	}
	logs := []domain.LogEntry{}
	for _, stream := range [][]domain.LogEntry{s.Active, s.Narrative} {
		for _, e := range stream {
			if references(e, t.ID) {
				logs = append(logs, e)
			}
		}
	}
	logs = chronological(logs)
	return domain.WorkDetails{Task: t, Member: m, Logs: logs}, true
}

func references(e domain.LogEntry, id string) bool {
	for _, ref := range e.RelatedIssues {
		if sessionlog.IssueID(ref) == id {
			return true
		}
	}
	for _, o := range e.Outcomes {
		for _, n := range sessionlog.IssueNumbers(o) {
			if n == id {
				return true
			}
		}
	}
	return false
}

// Logs returns one stream newest first.
func (s *Snapshot) Logs(stream domain.Stream) []domain.LogEntry {
	src := s.Active
	if stream == domain.StreamNarrative {
		src = s.Narrative
	}
	out := make([]domain.LogEntry, len(src))
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	return out
}
