package engine

import (
	"context"
	"fmt"

	"github.com/crewflow/crewflow/internal/console"
	"github.com/crewflow/crewflow/internal/core"
)

// processIssue runs one issue through implement, review, QA and merge. Any
// failure that is local to the issue (agent gave up, cycle budget exhausted,
// self-fix exhausted) escalates the issue and lets the epic continue; only
// storage and state-machine corruption abort the sprint.
func (e *Engine) processIssue(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine) PhaseResult {
	machine.SeedCycles(issue.ReviewCycles, issue.QACycles)

	if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
		Status:        strPtr(string(core.IssueStatusInProgress)),
		AssignedAgent: strPtr(string(core.RoleImplementer)),
	}); err != nil {
		return hardFail(err)
	}
	if err := e.state.AddCycle(ctx, issue.Number, epicID, "engine",
		string(core.RoleImplementer), "assign", "issue picked up"); err != nil {
		return hardFail(err)
	}
	e.say(sprintID, string(core.RoleImplementer), console.TypeLog,
		fmt.Sprintf("starting issue #%d", issue.Number))

	impl, err := e.callAgent(ctx, core.RoleImplementer, core.AgentRequest{
		SprintID:    sprintID,
		EpicID:      epicID,
		IssueNumber: issue.Number,
	})
	if err != nil || !impl.Success {
		return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
			"implementation failed: "+errText(impl, err))
	}
	if impl.BranchName != "" {
		if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
			BranchName: strPtr(impl.BranchName),
		}); err != nil {
			return hardFail(err)
		}
	}

	if result, ok := e.selfFixPhase(ctx, sprintID, epicID, issue, machine); !ok {
		return result
	}

	prNumber, result := e.openPullRequest(ctx, sprintID, epicID, issue, machine, impl)
	if !result.Success {
		return result
	}

	// A QA change request sends the fix back through review, so review and
	// QA alternate until QA approves or a guard trips.
	for {
		if result, ok := e.reviewPhase(ctx, sprintID, epicID, issue, machine, prNumber); !ok {
			return result
		}
		result, approved, ok := e.qaPhase(ctx, sprintID, epicID, issue, machine, prNumber)
		if !ok {
			return result
		}
		if approved {
			break
		}
	}
	return e.mergePhase(ctx, sprintID, epicID, issue, machine, prNumber)
}

// selfFixPhase gates the implementation behind the configured checks,
// feeding failures back to the implementer until the attempt budget runs
// out. The bool is false when the caller should return the result as-is.
func (e *Engine) selfFixPhase(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine) (PhaseResult, bool) {
	loop := e.newLoop()
	check := loop.RunChecks(ctx)
	for !check.Passed {
		if !loop.CanRetry() {
			report := loop.EscalationReport()
			e.say(sprintID, string(core.RoleImplementer), console.TypeError, report)
			e.saveArtifact(sprintID,
				fmt.Sprintf("issue-%d-escalation.txt", issue.Number), []byte(report))
			if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
				SelfFixAttempts: intPtr(loop.AttemptCount()),
			}); err != nil {
				return hardFail(err), false
			}
			return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
				"self-fix budget exhausted on "+check.FailedCheck), false
		}

		e.say(sprintID, string(core.RoleImplementer), console.TypeWarning,
			fmt.Sprintf("%s failed, attempting fix %d", check.FailedCheck, loop.AttemptCount()+1))
		fix, err := e.callAgent(ctx, core.RoleImplementer, core.AgentRequest{
			SprintID:    sprintID,
			EpicID:      epicID,
			IssueNumber: issue.Number,
			Prompt:      fmt.Sprintf("fix failing %s check:\n%s", check.FailedCheck, check.OutputTail),
		})
		if err != nil || !fix.Success {
			loop.RecordAttempt(check, "agent fix failed", nil, false)
			return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
				"self-fix agent failed: "+errText(fix, err)), false
		}

		next := loop.RunChecks(ctx)
		loop.RecordAttempt(check, fix.Feedback, nil, next.Passed)
		if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
			SelfFixAttempts: intPtr(loop.AttemptCount()),
		}); err != nil {
			return hardFail(err), false
		}
		check = next
	}
	return PhaseResult{Success: true}, true
}

func (e *Engine) openPullRequest(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine, impl *core.AgentResult) (int, PhaseResult) {
	prNumber := impl.PRNumber
	if prNumber == 0 {
		branch := impl.BranchName
		if branch == "" {
			branch = fmt.Sprintf("issue-%d", issue.Number)
		}
		err := e.hostRetry.Execute(ctx, func(ctx context.Context) error {
			var err error
			prNumber, err = e.host.CreatePullRequest(ctx,
				fmt.Sprintf("Issue #%d", issue.Number),
				fmt.Sprintf("Closes #%d (epic %s)", issue.Number, epicID),
				branch, "main")
			return err
		})
		if err != nil {
			return 0, e.escalateIssue(ctx, sprintID, epicID, issue, machine,
				"opening pull request: "+err.Error())
		}
	}

	if err := machine.Fire(core.TriggerSubmitForReview); err != nil {
		return 0, hardFail(err)
	}
	if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
		Status:   strPtr(string(core.IssueStatusReview)),
		PRNumber: intPtr(prNumber),
	}); err != nil {
		return 0, hardFail(err)
	}
	if err := e.state.AddCycle(ctx, issue.Number, epicID,
		string(core.RoleImplementer), string(core.RoleReviewer),
		"submit_for_review", fmt.Sprintf("PR #%d", prNumber)); err != nil {
		return 0, hardFail(err)
	}
	return prNumber, PhaseResult{Success: true}
}

// reviewPhase loops reviewer feedback and implementer fixes until the
// reviewer approves or the review cycle guard trips.
func (e *Engine) reviewPhase(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine, prNumber int) (PhaseResult, bool) {
	for {
		diff, err := e.getDiff(ctx, prNumber)
		if err != nil {
			return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
				"fetching diff: "+err.Error()), false
		}
		review, err := e.callAgent(ctx, core.RoleReviewer, core.AgentRequest{
			SprintID:    sprintID,
			EpicID:      epicID,
			IssueNumber: issue.Number,
			PRNumber:    prNumber,
			Diff:        diff,
		})
		if err != nil || !review.Success {
			return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
				"review failed: "+errText(review, err)), false
		}
		e.recordVerdict(ctx, sprintID, epicID, issue.Number, string(core.RoleReviewer), review)

		if review.Approved {
			if err := machine.Fire(core.TriggerReviewApproved); err != nil {
				return hardFail(err), false
			}
			if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
				Status: strPtr(string(core.IssueStatusQA)),
			}); err != nil {
				return hardFail(err), false
			}
			if err := e.state.AddCycle(ctx, issue.Number, epicID,
				string(core.RoleReviewer), string(core.RoleQA),
				"review_approved", review.Feedback); err != nil {
				return hardFail(err), false
			}
			return PhaseResult{Success: true}, true
		}

		if err := machine.Fire(core.TriggerRequestReviewChanges); err != nil {
			if core.IsCategory(err, core.ErrCatGuard) {
				return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
					fmt.Sprintf("review cycle budget exhausted after %d cycles", machine.ReviewCycles())), false
			}
			return hardFail(err), false
		}
		if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
			ReviewCycles: intPtr(machine.ReviewCycles()),
		}); err != nil {
			return hardFail(err), false
		}
		if err := e.state.AddCycle(ctx, issue.Number, epicID,
			string(core.RoleReviewer), string(core.RoleImplementer),
			"request_changes", review.Feedback); err != nil {
			return hardFail(err), false
		}
		e.say(sprintID, string(core.RoleReviewer), console.TypeCommunication,
			fmt.Sprintf("changes requested on #%d (cycle %d): %s",
				issue.Number, machine.ReviewCycles(), review.Feedback))

		if result, ok := e.fixAndResubmit(ctx, sprintID, epicID, issue, machine,
			prNumber, review.Feedback); !ok {
			return result, false
		}
	}
}

// qaPhase runs one QA evaluation. Approved moves the machine to final
// review; a change request burns a QA cycle and sends the fix back to
// review (the caller loops). ok=false means return result as-is.
func (e *Engine) qaPhase(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine, prNumber int) (result PhaseResult, approved, ok bool) {
	diff, err := e.getDiff(ctx, prNumber)
	if err != nil {
		return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
			"fetching diff: "+err.Error()), false, false
	}
	verdict, err := e.callAgent(ctx, core.RoleQA, core.AgentRequest{
		SprintID:    sprintID,
		EpicID:      epicID,
		IssueNumber: issue.Number,
		PRNumber:    prNumber,
		Diff:        diff,
	})
	if err != nil || !verdict.Success {
		return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
			"qa failed: "+errText(verdict, err)), false, false
	}
	e.recordVerdict(ctx, sprintID, epicID, issue.Number, string(core.RoleQA), verdict)

	if verdict.Approved {
		if err := machine.Fire(core.TriggerQAApproved); err != nil {
			return hardFail(err), false, false
		}
		if err := e.state.AddCycle(ctx, issue.Number, epicID,
			string(core.RoleQA), string(core.RoleReviewer),
			"qa_approved", verdict.Feedback); err != nil {
			return hardFail(err), false, false
		}
		return PhaseResult{Success: true}, true, true
	}

	if err := machine.Fire(core.TriggerRequestQAChanges); err != nil {
		if core.IsCategory(err, core.ErrCatGuard) {
			return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
				fmt.Sprintf("qa cycle budget exhausted after %d cycles", machine.QACycles())), false, false
		}
		return hardFail(err), false, false
	}
	if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
		QACycles: intPtr(machine.QACycles()),
	}); err != nil {
		return hardFail(err), false, false
	}
	if err := e.state.AddCycle(ctx, issue.Number, epicID,
		string(core.RoleQA), string(core.RoleImplementer),
		"request_qa_changes", verdict.Feedback); err != nil {
		return hardFail(err), false, false
	}
	e.say(sprintID, string(core.RoleQA), console.TypeCommunication,
		fmt.Sprintf("qa changes requested on #%d (cycle %d): %s",
			issue.Number, machine.QACycles(), verdict.Feedback))

	if result, ok := e.fixAndResubmit(ctx, sprintID, epicID, issue, machine,
		prNumber, verdict.Feedback); !ok {
		return result, false, false
	}
	return PhaseResult{Success: true}, false, true
}

// fixAndResubmit sends feedback to the implementer and moves the machine
// back to reviewing.
func (e *Engine) fixAndResubmit(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine, prNumber int, feedback string) (PhaseResult, bool) {
	fix, err := e.callAgent(ctx, core.RoleImplementer, core.AgentRequest{
		SprintID:    sprintID,
		EpicID:      epicID,
		IssueNumber: issue.Number,
		PRNumber:    prNumber,
		Prompt:      "address the following feedback:\n" + feedback,
	})
	if err != nil || !fix.Success {
		return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
			"fix after feedback failed: "+errText(fix, err)), false
	}
	if err := machine.Fire(core.TriggerSubmitForReview); err != nil {
		return hardFail(err), false
	}
	if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
		Status: strPtr(string(core.IssueStatusReview)),
	}); err != nil {
		return hardFail(err), false
	}
	return PhaseResult{Success: true}, true
}

// mergePhase runs final approval and merges the pull request.
func (e *Engine) mergePhase(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine, prNumber int) PhaseResult {
	if err := machine.Fire(core.TriggerApproveFinal); err != nil {
		return hardFail(err)
	}
	err := e.hostRetry.Execute(ctx, func(ctx context.Context) error {
		return e.host.MergePullRequest(ctx, prNumber, "squash")
	})
	if err != nil {
		return e.escalateIssue(ctx, sprintID, epicID, issue, machine,
			"merging pull request: "+err.Error())
	}
	if err := machine.Fire(core.TriggerMerged); err != nil {
		return hardFail(err)
	}
	if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
		Status: strPtr(string(core.IssueStatusDone)),
	}); err != nil {
		return hardFail(err)
	}
	if err := e.state.AddCycle(ctx, issue.Number, epicID,
		"engine", "engine", "merged", fmt.Sprintf("PR #%d merged", prNumber)); err != nil {
		return hardFail(err)
	}
	e.say(sprintID, "engine", console.TypeLog,
		fmt.Sprintf("issue #%d merged and done", issue.Number))
	return PhaseResult{Success: true}
}

// escalateIssue parks the issue and leaves the rest of the epic runnable.
func (e *Engine) escalateIssue(ctx context.Context, sprintID, epicID string, issue *core.Issue, machine *core.Machine, reason string) PhaseResult {
	if err := machine.Fire(core.TriggerEscalate); err != nil {
		return hardFail(err)
	}
	if err := e.patchIssue(ctx, issue, epicID, sprintID, core.IssuePatch{
		Status: strPtr(string(core.IssueStatusEscalated)),
	}); err != nil {
		return hardFail(err)
	}
	if err := e.state.AddCycle(ctx, issue.Number, epicID,
		"engine", "human", "escalate", reason); err != nil {
		return hardFail(err)
	}
	if err := e.host.PostComment(ctx, issue.Number,
		"escalated to human review: "+reason); err != nil {
		e.log.Warn("posting escalation comment", "issue", issue.Number, "error", err)
	}
	e.say(sprintID, "engine", console.TypeError,
		fmt.Sprintf("issue #%d escalated: %s", issue.Number, reason))
	e.log.Error("issue escalated", "issue", issue.Number, "epic_id", epicID, "reason", reason)
	return PhaseResult{Escalate: true, Error: reason}
}

// recordVerdict persists the scorecard and recycle patterns a reviewer or QA
// verdict carries; either may be absent.
func (e *Engine) recordVerdict(ctx context.Context, sprintID, epicID string, issueNumber int, agentID string, result *core.AgentResult) {
	if result.Scorecard != nil {
		card, err := e.cards.Record(ctx, issueNumber, epicID, agentID, *result.Scorecard)
		if err != nil {
			e.log.Warn("recording scorecard", "issue", issueNumber, "error", err)
		} else {
			e.say(sprintID, agentID, console.TypeLog,
				fmt.Sprintf("scorecard for #%d: %d/10 (%s)", issueNumber, card.Total, card.Interpretation))
		}
	}
	if result.Recycle != nil && !result.Recycle.Empty() {
		if err := e.cards.RecordPatterns(ctx, issueNumber, epicID, agentID, *result.Recycle); err != nil {
			e.log.Warn("recording recycle patterns", "issue", issueNumber, "error", err)
		}
	}
}

func (e *Engine) getDiff(ctx context.Context, prNumber int) (string, error) {
	var diff string
	err := e.hostRetry.Execute(ctx, func(ctx context.Context) error {
		var err error
		diff, err = e.host.GetDiff(ctx, prNumber)
		return err
	})
	return diff, err
}

func (e *Engine) patchIssue(ctx context.Context, issue *core.Issue, epicID, sprintID string, patch core.IssuePatch) error {
	return e.state.UpdateIssue(ctx, issue.Number, epicID, sprintID, patch)
}

func hardFail(err error) PhaseResult {
	return PhaseResult{Error: err.Error()}
}

func errText(result *core.AgentResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Error != "" {
		return result.Error
	}
	return "unknown failure"
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
