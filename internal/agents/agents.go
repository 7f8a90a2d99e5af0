// Package agents implements the pipeline roles on top of a completion
// provider. Each agent renders a role prompt, runs one completion, and
// parses the structured verdict out of the reply.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
)

// Options configures one role agent.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

type base struct {
	role     core.AgentRole
	provider core.CompletionProvider
	opts     Options
	log      *logging.Logger
}

func (b *base) Role() core.AgentRole { return b.role }

func (b *base) complete(ctx context.Context, system, user string) (string, int, int, error) {
	result, err := b.provider.Complete(ctx, []core.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, core.CompleteOptions{
		Model:       b.opts.Model,
		MaxTokens:   b.opts.MaxTokens,
		Temperature: b.opts.Temperature,
	})
	if err != nil {
		return "", 0, 0, err
	}
	return result.Content, result.TokensIn, result.TokensOut, nil
}

// Planner breaks a sprint goal into an epic with a numbered backlog.
type Planner struct{ base }

// NewPlanner creates the planning agent.
func NewPlanner(provider core.CompletionProvider, log *logging.Logger, opts Options) *Planner {
	return &Planner{base{role: core.RolePlanner, provider: provider, opts: opts, log: log}}
}

func (a *Planner) Run(ctx context.Context, req core.AgentRequest) (*core.AgentResult, error) {
	content, in, out, err := a.complete(ctx, plannerSystem,
		fmt.Sprintf("Sprint goal:\n%s\n\nProduce the backlog.", req.Prompt))
	if err != nil {
		return nil, err
	}
	plan, err := parsePlan(content)
	if err != nil {
		a.log.Warn("unparseable plan", "error", err)
		return &core.AgentResult{Error: "plan not parseable: " + err.Error()}, nil
	}
	return &core.AgentResult{
		Success:   true,
		EpicID:    plan.EpicID,
		Issues:    plan.Issues,
		TokensIn:  in,
		TokensOut: out,
	}, nil
}

// Implementer makes code changes for one issue, or fixes feedback on one.
type Implementer struct{ base }

// NewImplementer creates the implementation agent.
func NewImplementer(provider core.CompletionProvider, log *logging.Logger, opts Options) *Implementer {
	return &Implementer{base{role: core.RoleImplementer, provider: provider, opts: opts, log: log}}
}

func (a *Implementer) Run(ctx context.Context, req core.AgentRequest) (*core.AgentResult, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Implement issue #%d of epic %s.", req.IssueNumber, req.EpicID)
	}
	content, in, out, err := a.complete(ctx, implementerSystem, prompt)
	if err != nil {
		return nil, err
	}
	return &core.AgentResult{
		Success:    true,
		BranchName: fmt.Sprintf("issue-%d", req.IssueNumber),
		Feedback:   firstLine(content),
		TokensIn:   in,
		TokensOut:  out,
	}, nil
}

// Reviewer judges a diff and produces a scorecard verdict.
type Reviewer struct{ base }

// NewReviewer creates the review agent.
func NewReviewer(provider core.CompletionProvider, log *logging.Logger, opts Options) *Reviewer {
	return &Reviewer{base{role: core.RoleReviewer, provider: provider, opts: opts, log: log}}
}

func (a *Reviewer) Run(ctx context.Context, req core.AgentRequest) (*core.AgentResult, error) {
	return runVerdict(ctx, &a.base, reviewerSystem, req)
}

// QA judges a diff against the issue's acceptance behavior.
type QA struct{ base }

// NewQA creates the QA agent.
func NewQA(provider core.CompletionProvider, log *logging.Logger, opts Options) *QA {
	return &QA{base{role: core.RoleQA, provider: provider, opts: opts, log: log}}
}

func (a *QA) Run(ctx context.Context, req core.AgentRequest) (*core.AgentResult, error) {
	return runVerdict(ctx, &a.base, qaSystem, req)
}

func runVerdict(ctx context.Context, b *base, system string, req core.AgentRequest) (*core.AgentResult, error) {
	content, in, out, err := b.complete(ctx, system, fmt.Sprintf(
		"Issue #%d, PR #%d.\n\nDiff:\n%s\n\nReturn your verdict.",
		req.IssueNumber, req.PRNumber, req.Diff))
	if err != nil {
		return nil, err
	}
	verdict, err := parseVerdict(content)
	if err != nil {
		b.log.Warn("unparseable verdict", "role", string(b.role), "error", err)
		return &core.AgentResult{Error: "verdict not parseable: " + err.Error()}, nil
	}
	return &core.AgentResult{
		Success:   true,
		Approved:  verdict.Approved,
		Feedback:  verdict.Feedback,
		Scorecard: verdict.scorecard(),
		Recycle:   verdict.recycle(),
		TokensIn:  in,
		TokensOut: out,
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const plannerSystem = `You are the planning agent of a delivery pipeline.
Break the sprint goal into a single epic with a numbered list of small,
independently mergeable issues. Reply with only a JSON object:
{"epic_id": "...", "issues": [{"number": 1, "title": "...", "body": "..."}]}`

const implementerSystem = `You are the implementation agent of a delivery
pipeline. Make the requested change on the issue branch. Reply with a short
summary of what you changed, first line first.`

const reviewerSystem = `You are the code review agent of a delivery pipeline.
Judge the diff for scope control, behavior fidelity, evidence orientation,
actionability and risk awareness, each 0-2. Reply with only a JSON object:
{"approved": true/false, "feedback": "...",
 "scorecard": {"scope_control": 0, "behavior_fidelity": 0,
  "evidence_orientation": 0, "actionability": 0, "risk_awareness": 0},
 "recycle": {"kept": [], "reused": [], "banned": []}}`

const qaSystem = `You are the quality agent of a delivery pipeline. Judge
whether the diff satisfies the issue's acceptance behavior. Reply with only
a JSON object in the same shape as a review verdict.`
