package core

import (
	"context"
	"time"
)

// =============================================================================
// Completion provider port
// =============================================================================

// ChatMessage is one turn of a completion conversation.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// CompleteOptions configures a completion call.
type CompleteOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Thinking    bool
	Timeout     time.Duration
}

// Completion is the result of one provider call.
type Completion struct {
	Content      string
	TokensIn     int
	TokensOut    int
	FinishReason string
}

// CompletionProvider is the single capability the engine needs from a
// language-model vendor. Provider identity and pricing are irrelevant here.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, messages []ChatMessage, opts CompleteOptions) (*Completion, error)
}

// =============================================================================
// Code-hosting port
// =============================================================================

// HostedIssue is an issue as seen by the code-hosting collaborator.
type HostedIssue struct {
	Number int
	Title  string
	Body   string
	State  string
	Labels []string
	URL    string
}

// CreateIssueOptions configures issue creation on the host.
type CreateIssueOptions struct {
	Title   string
	Body    string
	Labels  []string
	EpicRef string // milestone or tracking label tying the issue to an epic
}

// CodeHost is the narrow contract with the code-hosting layer. All calls may
// fail with rate-limit or transient-network errors; callers retry at the
// phase level with backoff, never inside the core.
type CodeHost interface {
	CreateIssue(ctx context.Context, opts CreateIssueOptions) (int, error)
	UpdateIssue(ctx context.Context, number int, title, body string) error
	ListOpenIssues(ctx context.Context, epicRef string) ([]HostedIssue, error)
	CreatePullRequest(ctx context.Context, title, body, head, base string) (int, error)
	GetDiff(ctx context.Context, prNumber int) (string, error)
	MergePullRequest(ctx context.Context, prNumber int, method string) error
	PostComment(ctx context.Context, targetNumber int, body string) error
}

// =============================================================================
// Agent port
// =============================================================================

// AgentRole identifies a pipeline agent.
type AgentRole string

const (
	RolePlanner     AgentRole = "planner"
	RoleArchitect   AgentRole = "architect"
	RoleImplementer AgentRole = "implementer"
	RoleReviewer    AgentRole = "reviewer"
	RoleQA          AgentRole = "qa"
)

// AgentRequest is the context handed to an agent for one phase call.
type AgentRequest struct {
	SprintID    string
	EpicID      string
	IssueNumber int
	PRNumber    int
	Prompt      string
	Diff        string
}

// AgentResult is the outcome of one agent phase call.
//
// Approved is meaningful for reviewer/QA roles; Escalate asks the engine to
// stop processing the issue without aborting the rest of the epic.
type AgentResult struct {
	Success     bool
	Approved    bool
	Escalate    bool
	Error       string
	EpicID      string
	Issues      []PlannedIssue
	PRNumber    int
	BranchName  string
	Feedback    string
	Scorecard   *Scorecard
	Recycle     *RecyclePatterns
	TokensIn    int
	TokensOut   int
}

// PlannedIssue is one backlog item produced by the planning phase.
type PlannedIssue struct {
	Number int
	Title  string
	Body   string
}

// Agent is the contract for the external pipeline agents the engine calls at
// each phase. Calls block on LLM completions or host API calls, so they must
// honor ctx cancellation; the engine treats a timeout like any phase failure.
type Agent interface {
	Role() AgentRole
	Run(ctx context.Context, req AgentRequest) (*AgentResult, error)
}
