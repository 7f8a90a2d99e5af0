package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crewflow/crewflow/internal/console"
	"github.com/crewflow/crewflow/internal/core"
)

// SprintResponse is the API view of a sprint.
type SprintResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Prompt      string     `json:"prompt"`
	EpicID      string     `json:"epic_id,omitempty"`
	IssuesTotal int        `json:"issues_total"`
	IssuesDone  int        `json:"issues_done"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TreeResponse is the epic/issue/cycle tree for one sprint.
type TreeResponse struct {
	Epic   EpicResponse    `json:"epic"`
	Issues []IssueResponse `json:"issues"`
}

// EpicResponse is the API view of an epic.
type EpicResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IssueResponse is the API view of an issue with its cycle history.
type IssueResponse struct {
	Number          int             `json:"number"`
	Status          string          `json:"status"`
	AssignedAgent   string          `json:"assigned_agent,omitempty"`
	BranchName      string          `json:"branch_name,omitempty"`
	PRNumber        int             `json:"pr_number,omitempty"`
	ReviewCycles    int             `json:"review_cycles"`
	QACycles        int             `json:"qa_cycles"`
	SelfFixAttempts int             `json:"self_fix_attempts"`
	Cycles          []CycleResponse `json:"cycles"`
}

// CycleResponse is one recorded agent handoff.
type CycleResponse struct {
	Number    int       `json:"number"`
	AgentFrom string    `json:"agent_from"`
	AgentTo   string    `json:"agent_to"`
	Action    string    `json:"action"`
	Result    string    `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventsResponse is one page of the console event feed. Cursor is the id of
// the last event delivered; pass it back as ?after= to resume.
type EventsResponse struct {
	Events []console.Message `json:"events"`
	Cursor int64             `json:"cursor"`
}

func (s *Server) handleListSprints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := r.URL.Query().Get("status")
	limit := intQuery(r, "limit", 50)

	sprints, err := s.sprints.List(ctx, status, limit)
	if err != nil {
		s.log.Error("listing sprints", "error", err)
		respondError(w, err)
		return
	}

	response := make([]SprintResponse, 0, len(sprints))
	for _, sp := range sprints {
		response = append(response, sprintResponse(sp))
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.sprints.Get(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sprintResponse(sprint))
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sprint, err := s.sprints.Get(ctx, chi.URLParam(r, "sprintID"))
	if err != nil {
		respondError(w, err)
		return
	}
	if sprint.EpicID == "" {
		respondError(w, core.ErrNotFound("epic", "sprint "+sprint.ID+" has no epic yet"))
		return
	}

	tree, err := s.state.EpicTree(ctx, sprint.EpicID)
	if err != nil {
		respondError(w, err)
		return
	}

	response := TreeResponse{
		Epic: EpicResponse{
			ID:        tree.Epic.ID,
			Status:    string(tree.Epic.Status),
			CreatedAt: tree.Epic.CreatedAt,
			UpdatedAt: tree.Epic.UpdatedAt,
		},
		Issues: make([]IssueResponse, 0, len(tree.Issues)),
	}
	for _, node := range tree.Issues {
		issue := IssueResponse{
			Number:          node.Issue.Number,
			Status:          string(node.Issue.Status),
			AssignedAgent:   node.Issue.AssignedAgent,
			BranchName:      node.Issue.BranchName,
			PRNumber:        node.Issue.PRNumber,
			ReviewCycles:    node.Issue.ReviewCycles,
			QACycles:        node.Issue.QACycles,
			SelfFixAttempts: node.Issue.SelfFixAttempts,
			Cycles:          make([]CycleResponse, 0, len(node.Cycles)),
		}
		for _, c := range node.Cycles {
			issue.Cycles = append(issue.Cycles, CycleResponse{
				Number:    c.Number,
				AgentFrom: c.AgentFrom,
				AgentTo:   c.AgentTo,
				Action:    c.Action,
				Result:    c.Result,
				Timestamp: c.Timestamp,
			})
		}
		response.Issues = append(response.Issues, issue)
	}
	respondJSON(w, http.StatusOK, response)
}

// handleEvents serves the console feed as a cursor long-poll: with no new
// events past ?after=, the request parks until one arrives or ?wait=
// expires, so pollers get low latency without a streaming protocol.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sprintID := chi.URLParam(r, "sprintID")
	if _, err := s.sprints.Get(r.Context(), sprintID); err != nil {
		respondError(w, err)
		return
	}

	after := int64Query(r, "after", 0)
	wait := durationQuery(r, "wait", 25*time.Second)
	if wait > time.Minute {
		wait = time.Minute
	}

	reader := console.NewReader(s.db, sprintID, r.URL.Query().Get("agent"))
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		events, err := reader.After(r.Context(), after)
		if err != nil {
			respondError(w, err)
			return
		}
		if len(events) > 0 {
			respondJSON(w, http.StatusOK, EventsResponse{
				Events: events,
				Cursor: events[len(events)-1].ID,
			})
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			respondJSON(w, http.StatusOK, EventsResponse{Events: []console.Message{}, Cursor: after})
			return
		case <-poll.C:
		}
	}
}

func sprintResponse(sp *core.Sprint) SprintResponse {
	return SprintResponse{
		ID:          sp.ID,
		Status:      string(sp.Status),
		Prompt:      sp.Prompt,
		EpicID:      sp.EpicID,
		IssuesTotal: sp.IssuesTotal,
		IssuesDone:  sp.IssuesDone,
		Error:       sp.Error,
		CreatedAt:   sp.CreatedAt,
		StartedAt:   sp.StartedAt,
		CompletedAt: sp.CompletedAt,
	}
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func int64Query(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func durationQuery(r *http.Request, key string, def time.Duration) time.Duration {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
