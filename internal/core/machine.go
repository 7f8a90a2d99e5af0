package core

// State is a node in the development workflow state machine.
type State string

const (
	StateInit              State = "init"
	StatePlanning          State = "planning"
	StateCreatingIssues    State = "creating_issues"
	StateDistributing      State = "distributing"
	StateDeveloping        State = "developing"
	StateReviewing         State = "reviewing"
	StateFixingAfterReview State = "fixing_after_review"
	StateQATesting         State = "qa_testing"
	StateFixingAfterQA     State = "fixing_after_qa"
	StateFinalReview       State = "final_review"
	StateMerging           State = "merging"
	StateNextIssue         State = "next_issue"
	StateEpicComplete      State = "epic_complete"
	StateEscalated         State = "escalated"
	StateError             State = "error"
)

// Trigger names an attempted state transition.
type Trigger string

const (
	TriggerStartPlanning        Trigger = "start_planning"
	TriggerStartIssueCreation   Trigger = "start_issue_creation"
	TriggerStartDistribution    Trigger = "start_distribution"
	TriggerStartDevelopment     Trigger = "start_development"
	TriggerSubmitForReview      Trigger = "submit_for_review"
	TriggerRequestReviewChanges Trigger = "request_review_changes"
	TriggerReviewApproved       Trigger = "review_approved"
	TriggerRequestQAChanges     Trigger = "request_qa_changes"
	TriggerQAApproved           Trigger = "qa_approved"
	TriggerApproveFinal         Trigger = "approve_final"
	TriggerMerged               Trigger = "merged"
	TriggerAllDone              Trigger = "all_done"
	TriggerEscalate             Trigger = "escalate"
	TriggerErrorOccurred        Trigger = "error_occurred"
	TriggerResume               Trigger = "resume"
)

// anySource marks a transition legal from every state.
const anySource = State("*")

type transition struct {
	sources []State
	guard   func(m *Machine) bool
	effect  func(m *Machine)
	dest    State
}

// Machine is the development workflow state machine: a plain transition
// table plus per-issue cycle counters.
//
// The counters are process-local working state for the issue currently in
// flight. Persisted Issue.ReviewCycles/QACycles are the source of truth;
// SeedCycles must be called when resuming a sprint so the guards see the
// real history rather than zero.
type Machine struct {
	state           State
	reviewCycles    int
	qaCycles        int
	maxReviewCycles int
	maxQACycles     int
	table           map[Trigger]transition
}

// NewMachine creates a machine in the init state with the given cycle budgets.
func NewMachine(maxReviewCycles, maxQACycles int) *Machine {
	m := &Machine{
		state:           StateInit,
		maxReviewCycles: maxReviewCycles,
		maxQACycles:     maxQACycles,
	}
	m.table = map[Trigger]transition{
		TriggerStartPlanning: {
			sources: []State{StateInit},
			dest:    StatePlanning,
		},
		TriggerStartIssueCreation: {
			sources: []State{StatePlanning},
			dest:    StateCreatingIssues,
		},
		TriggerStartDistribution: {
			sources: []State{StateCreatingIssues},
			dest:    StateDistributing,
		},
		TriggerStartDevelopment: {
			sources: []State{StateDistributing, StateNextIssue},
			dest:    StateDeveloping,
		},
		TriggerSubmitForReview: {
			sources: []State{StateDeveloping, StateFixingAfterReview, StateFixingAfterQA},
			dest:    StateReviewing,
		},
		TriggerRequestReviewChanges: {
			sources: []State{StateReviewing},
			guard:   func(m *Machine) bool { return m.reviewCycles < m.maxReviewCycles },
			effect:  func(m *Machine) { m.reviewCycles++ },
			dest:    StateFixingAfterReview,
		},
		TriggerReviewApproved: {
			sources: []State{StateReviewing},
			dest:    StateQATesting,
		},
		TriggerRequestQAChanges: {
			sources: []State{StateQATesting},
			guard:   func(m *Machine) bool { return m.qaCycles < m.maxQACycles },
			effect:  func(m *Machine) { m.qaCycles++ },
			dest:    StateFixingAfterQA,
		},
		TriggerQAApproved: {
			sources: []State{StateQATesting},
			dest:    StateFinalReview,
		},
		TriggerApproveFinal: {
			sources: []State{StateFinalReview},
			dest:    StateMerging,
		},
		TriggerMerged: {
			sources: []State{StateMerging},
			effect:  func(m *Machine) { m.resetCycles() },
			dest:    StateNextIssue,
		},
		TriggerAllDone: {
			// The backlog can run dry outside next_issue: an epic planned
			// with zero issues finishes from distributing, and an epic whose
			// last issue escalated finishes from developing after resume.
			sources: []State{StateNextIssue, StateDeveloping, StateDistributing},
			dest:    StateEpicComplete,
		},
		TriggerEscalate: {
			sources: []State{anySource},
			dest:    StateEscalated,
		},
		TriggerErrorOccurred: {
			sources: []State{anySource},
			dest:    StateError,
		},
		TriggerResume: {
			sources: []State{StateEscalated, StateError},
			effect:  func(m *Machine) { m.resetCycles() },
			dest:    StateDeveloping,
		},
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// ReviewCycles returns the review cycle counter for the issue in flight.
func (m *Machine) ReviewCycles() int { return m.reviewCycles }

// QACycles returns the QA cycle counter for the issue in flight.
func (m *Machine) QACycles() int { return m.qaCycles }

// SeedCycles loads persisted counters into the machine. Called when a
// sprint resumes mid-issue so guards pick up where the last process left off.
func (m *Machine) SeedCycles(reviewCycles, qaCycles int) {
	m.reviewCycles = reviewCycles
	m.qaCycles = qaCycles
}

// SetState forces the machine into a state without firing a trigger.
// Used only when reconstructing from persisted sprint records.
func (m *Machine) SetState(s State) { m.state = s }

func (m *Machine) resetCycles() {
	m.reviewCycles = 0
	m.qaCycles = 0
}

// CanFire reports whether a trigger is legal from the current state and its
// guard, if any, passes.
func (m *Machine) CanFire(trigger Trigger) bool {
	t, ok := m.table[trigger]
	if !ok || !t.allows(m.state) {
		return false
	}
	if t.guard != nil && !t.guard(m) {
		return false
	}
	return true
}

// Fire attempts a transition. A trigger unknown or illegal from the current
// state returns an INVALID_TRANSITION validation error; a failed guard
// returns a guard error so the caller routes to escalation instead.
// On success the side effect runs before the state changes.
func (m *Machine) Fire(trigger Trigger) error {
	t, ok := m.table[trigger]
	if !ok {
		return ErrValidation(CodeInvalidTransition, "unknown trigger: "+string(trigger))
	}
	if !t.allows(m.state) {
		return ErrValidation(CodeInvalidTransition,
			"trigger "+string(trigger)+" not allowed from state "+string(m.state))
	}
	if t.guard != nil && !t.guard(m) {
		count, max := m.guardCounters(trigger)
		return ErrGuardFailed(string(trigger), count, max)
	}
	if t.effect != nil {
		t.effect(m)
	}
	m.state = t.dest
	return nil
}

func (t transition) allows(from State) bool {
	for _, s := range t.sources {
		if s == anySource || s == from {
			return true
		}
	}
	return false
}

func (m *Machine) guardCounters(trigger Trigger) (count, max int) {
	switch trigger {
	case TriggerRequestReviewChanges:
		return m.reviewCycles, m.maxReviewCycles
	case TriggerRequestQAChanges:
		return m.qaCycles, m.maxQACycles
	}
	return 0, 0
}
