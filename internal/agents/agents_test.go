package agents

import (
	"context"
	"testing"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
)

// scriptedProvider returns a fixed reply and records the last conversation.
type scriptedProvider struct {
	reply    string
	err      error
	lastMsgs []core.ChatMessage
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, messages []core.ChatMessage, _ core.CompleteOptions) (*core.Completion, error) {
	p.lastMsgs = messages
	if p.err != nil {
		return nil, p.err
	}
	return &core.Completion{Content: p.reply, TokensIn: 10, TokensOut: 5}, nil
}

func TestPlannerParsesBacklog(t *testing.T) {
	provider := &scriptedProvider{reply: `Here is the plan:
{"epic_id": "epic-auth", "issues": [
  {"number": 7, "title": "add login", "body": "form plus handler"},
  {"number": 7, "title": "add logout", "body": ""}
]}`}
	planner := NewPlanner(provider, logging.NewNop(), Options{})

	result, err := planner.Run(context.Background(), core.AgentRequest{Prompt: "build auth"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %s", result.Error)
	}
	if result.EpicID != "epic-auth" {
		t.Errorf("epic id = %s, want epic-auth", result.EpicID)
	}
	if len(result.Issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(result.Issues))
	}
	// Duplicate model numbering is replaced with a dense sequence.
	if result.Issues[0].Number != 1 || result.Issues[1].Number != 2 {
		t.Errorf("numbers = %d,%d, want 1,2", result.Issues[0].Number, result.Issues[1].Number)
	}
	if len(provider.lastMsgs) != 2 || provider.lastMsgs[0].Role != "system" {
		t.Errorf("conversation shape = %v, want system+user", provider.lastMsgs)
	}
}

func TestPlannerRejectsProseReply(t *testing.T) {
	provider := &scriptedProvider{reply: "I could not produce a plan."}
	planner := NewPlanner(provider, logging.NewNop(), Options{})

	result, err := planner.Run(context.Background(), core.AgentRequest{Prompt: "goal"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Error("expected unsuccessful result for prose reply")
	}
	if result.Error == "" {
		t.Error("expected parse error detail")
	}
}

func TestReviewerVerdict(t *testing.T) {
	provider := &scriptedProvider{reply: `{"approved": false,
"feedback": "missing error handling",
"scorecard": {"scope_control": 2, "behavior_fidelity": 1,
 "evidence_orientation": 1, "actionability": 2, "risk_awareness": 0},
"recycle": {"kept": ["table tests"], "reused": [], "banned": ["panic in lib"]}}`}
	reviewer := NewReviewer(provider, logging.NewNop(), Options{})

	result, err := reviewer.Run(context.Background(), core.AgentRequest{IssueNumber: 3, Diff: "diff"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || result.Approved {
		t.Fatalf("got success=%v approved=%v, want success and not approved", result.Success, result.Approved)
	}
	if result.Feedback != "missing error handling" {
		t.Errorf("feedback = %q", result.Feedback)
	}
	if result.Scorecard == nil || result.Scorecard.ScopeControl != 2 {
		t.Errorf("scorecard = %+v, want scope_control 2", result.Scorecard)
	}
	if result.Recycle == nil || len(result.Recycle.Banned) != 1 {
		t.Errorf("recycle = %+v, want one banned pattern", result.Recycle)
	}
}

func TestImplementerSummaryAndBranch(t *testing.T) {
	provider := &scriptedProvider{reply: "Added retry wrapper.\nDetails follow."}
	impl := NewImplementer(provider, logging.NewNop(), Options{})

	result, err := impl.Run(context.Background(), core.AgentRequest{IssueNumber: 4, EpicID: "epic-x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BranchName != "issue-4" {
		t.Errorf("branch = %s, want issue-4", result.BranchName)
	}
	if result.Feedback != "Added retry wrapper." {
		t.Errorf("feedback = %q, want first line", result.Feedback)
	}
}

func TestExtractJSONSkipsFencesAndBraces(t *testing.T) {
	raw, err := extractJSON("```json\n{\"a\": \"brace } in string\", \"b\": {\"c\": 1}}\n```")
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	want := `{"a": "brace } in string", "b": {"c": 1}}`
	if raw != want {
		t.Errorf("extracted %q, want %q", raw, want)
	}
}

func TestExtractJSONUnterminated(t *testing.T) {
	if _, err := extractJSON(`{"a": 1`); err == nil {
		t.Fatal("expected error for unterminated object")
	}
}
