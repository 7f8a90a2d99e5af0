package core

import "time"

// EpicStatus represents the lifecycle state of an epic.
type EpicStatus string

const (
	EpicStatusPending    EpicStatus = "pending"
	EpicStatusInProgress EpicStatus = "in_progress"
	EpicStatusComplete   EpicStatus = "complete"
	EpicStatusFailed     EpicStatus = "failed"
)

// ParseEpicStatus validates a free-text status against the epic status set.
func ParseEpicStatus(s string) (EpicStatus, error) {
	switch EpicStatus(s) {
	case EpicStatusPending, EpicStatusInProgress, EpicStatusComplete, EpicStatusFailed:
		return EpicStatus(s), nil
	}
	return "", ErrValidation(CodeInvalidStatus, "invalid epic status: "+s)
}

// Epic is a planned unit of work containing one or more issues.
type Epic struct {
	ID        string
	SprintID  string
	Status    EpicStatus
	Metadata  string // free-form JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IssueStatus represents the pipeline state of a backlog item.
type IssueStatus string

const (
	IssueStatusPending    IssueStatus = "pending"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusReview     IssueStatus = "review"
	IssueStatusQA         IssueStatus = "qa"
	IssueStatusDone       IssueStatus = "done"
	IssueStatusEscalated  IssueStatus = "escalated"
)

// ParseIssueStatus validates a free-text status against the issue status set.
func ParseIssueStatus(s string) (IssueStatus, error) {
	switch IssueStatus(s) {
	case IssueStatusPending, IssueStatusInProgress, IssueStatusReview,
		IssueStatusQA, IssueStatusDone, IssueStatusEscalated:
		return IssueStatus(s), nil
	}
	return "", ErrValidation(CodeInvalidStatus, "invalid issue status: "+s)
}

// Terminal reports whether the status ends the issue's pipeline.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusDone || s == IssueStatusEscalated
}

// Issue is a single backlog item flowing through
// implement -> review -> QA -> merge.
type Issue struct {
	ID              int64 // row id, referenced by cycles and scorecards
	Number          int   // unique within an epic
	EpicID          string
	SprintID        string
	Status          IssueStatus
	AssignedAgent   string
	BranchName      string
	PRNumber        int
	ReviewCycles    int
	QACycles        int
	SelfFixAttempts int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IssuePatch carries the fields of an issue update. Nil fields are left
// untouched by UpdateIssue.
type IssuePatch struct {
	Status          *string
	AssignedAgent   *string
	BranchName      *string
	PRNumber        *int
	ReviewCycles    *int
	QACycles        *int
	SelfFixAttempts *int
}

// Cycle is one recorded handoff between two agents working on the same
// issue. Cycles are append-only provenance: never updated, never deleted.
type Cycle struct {
	ID        int64
	IssueID   int64
	Number    int // monotonic per issue, starts at 1
	AgentFrom string
	AgentTo   string
	Action    string
	Result    string
	Timestamp time.Time
}

// EpicTree is the full sprint/epic/issue view served to the CLI and API.
type EpicTree struct {
	Epic   Epic
	Issues []IssueNode
}

// IssueNode pairs an issue with its cycle history.
type IssueNode struct {
	Issue  Issue
	Cycles []Cycle
}
