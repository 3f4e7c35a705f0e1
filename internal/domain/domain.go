package domain

import "time"

type MemberStatus string

const (
	StatusWorking MemberStatus = "working"
	StatusIdle    MemberStatus = "idle"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Stream tells which log directory an entry came from. Only active entries
// take part in status and task derivation.
type Stream string

const (
	StreamActive    Stream = "active"
	StreamNarrative Stream = "narrative"
)

// GenericRole is assigned to members discovered only through log participants.
const GenericRole = "Squad Member"

type Member struct {
	Name        string       `json:"name"`
	Role        string       `json:"role"`
	Status      MemberStatus `json:"status" enum:"working,idle"`
	CurrentTask *Task        `json:"current_task,omitempty"`
	Aliases     []string     `json:"aliases,omitempty"`
}

// RosterMember is a row of the roster table before log overlay.
type RosterMember struct {
	Name       string       `json:"name"`
	Role       string       `json:"role"`
	StatusHint MemberStatus `json:"status_hint" enum:"working,idle"`
	Badge      string       `json:"badge,omitempty"`
	Aliases    []string     `json:"aliases,omitempty"`
}

// CopilotCapabilities is nil on a Roster when the document carries no
// capability marker at all.
type CopilotCapabilities struct {
	AutoAssign  bool     `json:"auto_assign"`
	GoodFit     []string `json:"good_fit"`
	NeedsReview []string `json:"needs_review"`
	NotSuitable []string `json:"not_suitable"`
}

type Roster struct {
	Members      []RosterMember       `json:"members"`
	Owner        string               `json:"owner,omitempty"`
	Repository   string               `json:"repository,omitempty"`
	Capabilities *CopilotCapabilities `json:"copilot_capabilities,omitempty"`
}

// LogEntry is one parsed session log. RelatedIssues, Decisions and Outcomes
// are nil when the document has no such section and non-nil (possibly empty)
// when it does.
type LogEntry struct {
	Timestamp     time.Time `json:"timestamp" format:"date-time"`
	Date          string    `json:"date" format:"date"`
	Topic         string    `json:"topic"`
	Title         string    `json:"title"`
	Participants  []string  `json:"participants"`
	Summary       string    `json:"summary"`
	RelatedIssues []string  `json:"related_issues"`
	Decisions     []string  `json:"decisions"`
	Outcomes      []string  `json:"outcomes"`
	Stream        Stream    `json:"stream" enum:"active,narrative"`
	FilePath      string    `json:"file_path,omitempty"`
}

type DecisionEntry struct {
	Title      string `json:"title"`
	Date       string `json:"date,omitempty"`
	Author     string `json:"author,omitempty"`
	Content    string `json:"content,omitempty"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status" enum:"pending,in_progress,completed"`
	Assignee    string     `json:"assignee"`
	StartedAt   time.Time  `json:"started_at" format:"date-time"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
	Description string     `json:"description,omitempty"`
}

// WorkDetails joins a task with its assignee and every log entry that
// references the same issue.
type WorkDetails struct {
	Task   Task       `json:"task"`
	Member Member     `json:"member"`
	Logs   []LogEntry `json:"logs"`
}

// Issue is the shape consumed from an external issue tracker.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Labels    []string   `json:"labels"`
	Assignee  string     `json:"assignee,omitempty"`
	CreatedAt time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt time.Time  `json:"updated_at" format:"date-time"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" format:"date-time"`
	URL       string     `json:"url,omitempty"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	Root    string `json:"root,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
