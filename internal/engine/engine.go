// Package engine drives a sprint from creation through epic completion: it
// composes the state manager, workflow machine, event bus and self-fix loop,
// calling out to the pipeline agents at each phase. Issues are processed one
// at a time; the sequential dependency between review, QA and merge leaves
// nothing to parallelize inside one epic.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/crewflow/crewflow/internal/config"
	"github.com/crewflow/crewflow/internal/console"
	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
	"github.com/crewflow/crewflow/internal/selffix"
	"github.com/crewflow/crewflow/internal/service"
	"github.com/crewflow/crewflow/internal/store"
)

// PhaseResult is the normalized outcome of one pipeline phase.
type PhaseResult struct {
	Success  bool
	Error    string
	Escalate bool
}

// Engine orchestrates the full sprint pipeline.
type Engine struct {
	cfg       config.PipelineConfig
	log       *logging.Logger
	sprints   *store.SprintStore
	state     *store.StateManager
	cards     *store.ScorecardStore
	console   *console.Writer
	host      core.CodeHost
	agents    map[core.AgentRole]core.Agent
	logs      *store.LogStore
	retry     *service.RetryPolicy
	hostRetry *service.RetryPolicy
	newLoop   func() *selffix.Loop
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config    config.PipelineConfig
	Log       *logging.Logger
	Sprints   *store.SprintStore
	State     *store.StateManager
	Cards     *store.ScorecardStore
	Console   *console.Writer
	Host      core.CodeHost
	Agents    []core.Agent
	Logs      *store.LogStore // optional; agent calls go unrecorded when nil
	Retry     *service.RetryPolicy
	HostRetry *service.RetryPolicy // code host calls; defaults to the rate-limit policy
	NewLoop   func() *selffix.Loop
}

// New creates an engine from its collaborators.
func New(deps Deps) *Engine {
	agents := make(map[core.AgentRole]core.Agent, len(deps.Agents))
	for _, a := range deps.Agents {
		agents[a.Role()] = a
	}
	retry := deps.Retry
	if retry == nil {
		retry = service.DefaultRetryPolicy()
	}
	hostRetry := deps.HostRetry
	if hostRetry == nil {
		// Host failures are mostly rate limits; back off longer than for
		// agent calls.
		hostRetry = service.RateLimitRetryPolicy()
	}
	newLoop := deps.NewLoop
	if newLoop == nil {
		newLoop = func() *selffix.Loop {
			return selffix.NewLoop(
				selffix.NewExecRunner(deps.Config.CheckTimeout),
				deps.Log, deps.Config.WorkDir, deps.Config.MaxSelfFixAttempts)
		}
	}
	return &Engine{
		cfg:       deps.Config,
		log:       deps.Log,
		sprints:   deps.Sprints,
		state:     deps.State,
		cards:     deps.Cards,
		console:   deps.Console,
		host:      deps.Host,
		agents:    agents,
		logs:      deps.Logs,
		retry:     retry,
		hostRetry: hostRetry,
		newLoop:   newLoop,
	}
}

// RunFullPipeline executes a sprint end to end: planning, issue creation,
// distribution, the per-issue cycle loop, and completion. The sprint row is
// updated at every step so a crash at any point leaves a resumable record.
func (e *Engine) RunFullPipeline(ctx context.Context, sprintID, prompt string) error {
	if err := e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusRunning,
		store.WithPID(os.Getpid())); err != nil {
		return err
	}

	machine := core.NewMachine(e.cfg.MaxReviewCycles, e.cfg.MaxQACycles)
	err := e.run(ctx, sprintID, prompt, machine)
	if err != nil {
		if stErr := e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusFailed,
			store.WithError(err.Error())); stErr != nil {
			e.log.Error("recording sprint failure", "sprint_id", sprintID, "error", stErr)
		}
		return err
	}
	return e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusCompleted)
}

// Resume picks up a paused or failed sprint: the persisted epic and issue
// rows are the source of truth, so re-entering the issue loop is enough.
// Issues left mid-flight are reset to pending and replayed from the top of
// their cycle; their persisted cycle counters keep the guards honest.
func (e *Engine) Resume(ctx context.Context, sprintID string) error {
	sprint, err := e.sprints.Get(ctx, sprintID)
	if err != nil {
		return err
	}
	if sprint.Status == core.SprintStatusCompleted {
		return core.ErrValidation("SPRINT_FINISHED", "sprint already completed: "+sprintID)
	}
	if sprint.EpicID == "" {
		// Planning never finished; run from scratch.
		return e.RunFullPipeline(ctx, sprintID, sprint.Prompt)
	}

	if err := e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusRunning,
		store.WithPID(os.Getpid())); err != nil {
		return err
	}

	issues, err := e.state.ListIssues(ctx, sprint.EpicID)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		if issue.Status.Terminal() || issue.Status == core.IssueStatusPending {
			continue
		}
		pending := string(core.IssueStatusPending)
		if err := e.state.UpdateIssue(ctx, issue.Number, sprint.EpicID, sprintID,
			core.IssuePatch{Status: &pending}); err != nil {
			return err
		}
	}

	machine := core.NewMachine(e.cfg.MaxReviewCycles, e.cfg.MaxQACycles)
	machine.SetState(core.StateDistributing)
	e.say(sprintID, "engine", console.TypeLog, fmt.Sprintf("resuming sprint %s", sprintID))

	err = e.issueLoop(ctx, sprintID, sprint.EpicID, machine)
	if err != nil {
		if stErr := e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusFailed,
			store.WithError(err.Error())); stErr != nil {
			e.log.Error("recording sprint failure", "sprint_id", sprintID, "error", stErr)
		}
		return err
	}
	return e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusCompleted)
}

func (e *Engine) run(ctx context.Context, sprintID, prompt string, machine *core.Machine) error {
	epicID, planned, err := e.planningPhase(ctx, sprintID, prompt, machine)
	if err != nil {
		return err
	}
	if err := e.creationPhase(ctx, sprintID, epicID, planned, machine); err != nil {
		return err
	}

	if err := machine.Fire(core.TriggerStartDistribution); err != nil {
		return err
	}
	if err := e.sprints.UpdateProgress(ctx, sprintID, len(planned), 0); err != nil {
		return err
	}
	e.checkpoint(sprintID, "distribution_complete",
		fmt.Sprintf(`{"epic_id":%q,"issues":%d}`, epicID, len(planned)))

	return e.issueLoop(ctx, sprintID, epicID, machine)
}

// planningPhase asks the planner for an epic and its backlog.
func (e *Engine) planningPhase(ctx context.Context, sprintID, prompt string, machine *core.Machine) (string, []core.PlannedIssue, error) {
	if err := machine.Fire(core.TriggerStartPlanning); err != nil {
		return "", nil, err
	}
	e.say(sprintID, "planner", console.TypeLog, "planning epic from sprint goal")

	result, err := e.callAgent(ctx, core.RolePlanner, core.AgentRequest{
		SprintID: sprintID,
		Prompt:   prompt,
	})
	if err != nil {
		return "", nil, err
	}
	if !result.Success {
		return "", nil, fmt.Errorf("planning failed: %s", result.Error)
	}

	epicID := result.EpicID
	if epicID == "" {
		epicID = "epic-" + uuid.NewString()[:8]
	}
	if err := e.state.CreateEpic(ctx, epicID, sprintID, ""); err != nil {
		return "", nil, err
	}
	if err := e.state.UpdateEpicStatus(ctx, epicID, core.EpicStatusInProgress); err != nil {
		return "", nil, err
	}
	if err := e.sprints.UpdateStatus(ctx, sprintID, core.SprintStatusRunning,
		store.WithEpicID(epicID)); err != nil {
		return "", nil, err
	}
	e.checkpoint(sprintID, "planning_complete",
		fmt.Sprintf(`{"epic_id":%q,"issues_planned":%d}`, epicID, len(result.Issues)))
	if plan, err := json.MarshalIndent(struct {
		EpicID string              `json:"epic_id"`
		Issues []core.PlannedIssue `json:"issues"`
	}{epicID, result.Issues}, "", "  "); err == nil {
		e.saveArtifact(sprintID, "plan.json", plan)
	}
	return epicID, result.Issues, nil
}

// creationPhase materializes the planned issues locally and on the host.
func (e *Engine) creationPhase(ctx context.Context, sprintID, epicID string, planned []core.PlannedIssue, machine *core.Machine) error {
	if err := machine.Fire(core.TriggerStartIssueCreation); err != nil {
		return err
	}
	for _, p := range planned {
		if err := e.state.UpdateIssue(ctx, p.Number, epicID, sprintID, core.IssuePatch{}); err != nil {
			return err
		}
		err := e.hostRetry.Execute(ctx, func(ctx context.Context) error {
			_, err := e.host.CreateIssue(ctx, core.CreateIssueOptions{
				Title:   p.Title,
				Body:    p.Body,
				Labels:  []string{"sprint"},
				EpicRef: epicID,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("creating hosted issue %d: %w", p.Number, err)
		}
		e.say(sprintID, "architect", console.TypeLog,
			fmt.Sprintf("issue #%d created: %s", p.Number, p.Title))
	}
	return nil
}

// issueLoop drains the epic's pending issues one at a time. An escalated
// issue never blocks the rest of the epic.
func (e *Engine) issueLoop(ctx context.Context, sprintID, epicID string, machine *core.Machine) error {
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		issue, err := e.state.GetNextIssue(ctx, epicID)
		if err != nil {
			return err
		}
		if issue == nil {
			break
		}

		if err := e.enterDevelopment(machine); err != nil {
			return err
		}
		result := e.processIssue(ctx, sprintID, epicID, issue, machine)
		if !result.Success && !result.Escalate {
			return fmt.Errorf("issue %d failed: %s", issue.Number, result.Error)
		}
		if result.Success {
			done++
		}

		total, finished, err := e.progress(ctx, epicID)
		if err != nil {
			return err
		}
		if err := e.sprints.UpdateProgress(ctx, sprintID, total, finished); err != nil {
			return err
		}
	}

	if machine.State() == core.StateEscalated {
		if err := machine.Fire(core.TriggerResume); err != nil {
			return err
		}
	}
	if err := machine.Fire(core.TriggerAllDone); err != nil {
		return err
	}

	complete, err := e.state.IsEpicComplete(ctx, epicID)
	if err != nil {
		return err
	}
	status := core.EpicStatusComplete
	if !complete {
		status = core.EpicStatusFailed
	}
	if err := e.state.UpdateEpicStatus(ctx, epicID, status); err != nil {
		return err
	}
	e.checkpoint(sprintID, "epic_complete", fmt.Sprintf(`{"epic_id":%q,"issues_done":%d}`, epicID, done))
	return nil
}

// enterDevelopment normalizes the machine before the next issue: fresh from
// distribution, after a merge, or after the previous issue escalated.
func (e *Engine) enterDevelopment(machine *core.Machine) error {
	switch machine.State() {
	case core.StateDistributing, core.StateNextIssue:
		return machine.Fire(core.TriggerStartDevelopment)
	case core.StateEscalated, core.StateError:
		return machine.Fire(core.TriggerResume)
	case core.StateDeveloping:
		return nil
	}
	return core.ErrValidation(core.CodeInvalidTransition,
		"cannot start development from state "+string(machine.State()))
}

func (e *Engine) progress(ctx context.Context, epicID string) (total, finished int, err error) {
	issues, err := e.state.ListIssues(ctx, epicID)
	if err != nil {
		return 0, 0, err
	}
	for _, issue := range issues {
		if issue.Status == core.IssueStatusDone {
			finished++
		}
	}
	return len(issues), finished, nil
}

// callAgent invokes one pipeline agent, retrying transient failures.
func (e *Engine) callAgent(ctx context.Context, role core.AgentRole, req core.AgentRequest) (*core.AgentResult, error) {
	agent, ok := e.agents[role]
	if !ok {
		return nil, core.ErrValidation("AGENT_MISSING", "no agent registered for role "+string(role))
	}
	var result *core.AgentResult
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = agent.Run(ctx, req)
		return err
	})
	if err != nil {
		e.logAgent(ctx, req.SprintID, role, "call_failed",
			fmt.Sprintf(`{"issue":%d,"error":%q}`, req.IssueNumber, err.Error()))
		return nil, err
	}
	if result == nil {
		return nil, core.ErrTransient(core.CodeAgentFailed, string(role)+" returned no result")
	}
	e.logAgent(ctx, req.SprintID, role, "call_completed",
		fmt.Sprintf(`{"issue":%d,"success":%t,"approved":%t}`, req.IssueNumber, result.Success, result.Approved))
	return result, nil
}

// logAgent appends one structured agent event; the log store is an optional
// collaborator and failures never abort the pipeline.
func (e *Engine) logAgent(ctx context.Context, sprintID string, role core.AgentRole, event, data string) {
	if e.logs == nil {
		return
	}
	if err := e.logs.Append(ctx, store.LogEntry{
		SprintID: sprintID,
		AgentID:  string(role),
		Event:    event,
		Data:     data,
	}); err != nil {
		e.log.Warn("agent log append failed", "sprint_id", sprintID, "error", err)
	}
}

// say writes one console message; event bus failures never abort the
// pipeline.
func (e *Engine) say(sprintID, agentID string, kind console.MessageType, content string) {
	if e.console == nil {
		return
	}
	if err := e.console.Write(console.Message{
		SprintID: sprintID,
		AgentID:  agentID,
		Type:     kind,
		Content:  content,
	}); err != nil {
		e.log.Warn("console write failed", "sprint_id", sprintID, "error", err)
	}
}

func (e *Engine) checkpoint(sprintID, name, metadata string) {
	if e.console == nil {
		return
	}
	if err := e.console.Checkpoint(sprintID, "engine", name, metadata); err != nil {
		e.log.Warn("checkpoint write failed", "sprint_id", sprintID, "error", err)
	}
}

// saveArtifact drops a file under the sprint's artifacts directory. Best
// effort: artifacts exist for humans, never for control flow.
func (e *Engine) saveArtifact(sprintID, name string, data []byte) {
	if e.cfg.ArtifactsDir == "" {
		return
	}
	dir := filepath.Join(e.cfg.ArtifactsDir, sprintID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.log.Warn("creating artifacts dir", "dir", dir, "error", err)
		return
	}
	if err := writeArtifact(filepath.Join(dir, name), data); err != nil {
		e.log.Warn("writing artifact", "name", name, "error", err)
	}
}
