package core

import (
	"errors"
	"testing"
)

func fire(t *testing.T, m *Machine, triggers ...Trigger) {
	t.Helper()
	for _, tr := range triggers {
		if err := m.Fire(tr); err != nil {
			t.Fatalf("Fire(%s) from %s: %v", tr, m.State(), err)
		}
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine(3, 3)

	fire(t, m,
		TriggerStartPlanning,
		TriggerStartIssueCreation,
		TriggerStartDistribution,
		TriggerStartDevelopment,
		TriggerSubmitForReview,
		TriggerReviewApproved,
		TriggerQAApproved,
		TriggerApproveFinal,
		TriggerMerged,
		TriggerAllDone,
	)

	if m.State() != StateEpicComplete {
		t.Errorf("state = %s, want epic_complete", m.State())
	}
}

func TestMachine_InvalidTransition(t *testing.T) {
	m := NewMachine(3, 3)

	err := m.Fire(TriggerMerged)
	if err == nil {
		t.Fatal("Fire(merged) from init should fail")
	}
	if !IsCategory(err, ErrCatValidation) {
		t.Errorf("category = %s, want validation", GetCategory(err))
	}
	if m.State() != StateInit {
		t.Errorf("failed transition moved state to %s", m.State())
	}
}

func TestMachine_ReviewGuardIncrementsAndExhausts(t *testing.T) {
	m := NewMachine(2, 3)
	fire(t, m,
		TriggerStartPlanning, TriggerStartIssueCreation,
		TriggerStartDistribution, TriggerStartDevelopment,
	)

	for i := 1; i <= 2; i++ {
		fire(t, m, TriggerSubmitForReview, TriggerRequestReviewChanges)
		if m.ReviewCycles() != i {
			t.Errorf("reviewCycles = %d, want %d", m.ReviewCycles(), i)
		}
		if m.State() != StateFixingAfterReview {
			t.Errorf("state = %s, want fixing_after_review", m.State())
		}
	}

	// Budget exhausted: guard must refuse, state must not move.
	fire(t, m, TriggerSubmitForReview)
	err := m.Fire(TriggerRequestReviewChanges)
	if err == nil {
		t.Fatal("third review cycle should be refused")
	}
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Category != ErrCatGuard {
		t.Errorf("want guard error, got %v", err)
	}
	if m.State() != StateReviewing {
		t.Errorf("state = %s, want reviewing after refused guard", m.State())
	}
	if m.ReviewCycles() != 2 {
		t.Errorf("reviewCycles = %d, want 2 (no increment on refusal)", m.ReviewCycles())
	}

	// Caller routes to escalation, which is legal from any state.
	fire(t, m, TriggerEscalate)
	if m.State() != StateEscalated {
		t.Errorf("state = %s, want escalated", m.State())
	}
}

func TestMachine_QAGuard(t *testing.T) {
	m := NewMachine(3, 1)
	fire(t, m,
		TriggerStartPlanning, TriggerStartIssueCreation,
		TriggerStartDistribution, TriggerStartDevelopment,
		TriggerSubmitForReview, TriggerReviewApproved,
		TriggerRequestQAChanges,
	)
	if m.QACycles() != 1 {
		t.Errorf("qaCycles = %d, want 1", m.QACycles())
	}

	fire(t, m, TriggerSubmitForReview, TriggerReviewApproved)
	if m.CanFire(TriggerRequestQAChanges) {
		t.Error("CanFire(request_qa_changes) should be false with budget spent")
	}
	if err := m.Fire(TriggerRequestQAChanges); !IsCategory(err, ErrCatGuard) {
		t.Errorf("want guard error, got %v", err)
	}
}

func TestMachine_MergedResetsCounters(t *testing.T) {
	m := NewMachine(3, 3)
	fire(t, m,
		TriggerStartPlanning, TriggerStartIssueCreation,
		TriggerStartDistribution, TriggerStartDevelopment,
		TriggerSubmitForReview, TriggerRequestReviewChanges,
		TriggerSubmitForReview, TriggerReviewApproved,
		TriggerRequestQAChanges,
		TriggerSubmitForReview, TriggerReviewApproved, TriggerQAApproved,
		TriggerApproveFinal, TriggerMerged,
	)

	if m.State() != StateNextIssue {
		t.Fatalf("state = %s, want next_issue", m.State())
	}
	if m.ReviewCycles() != 0 || m.QACycles() != 0 {
		t.Errorf("counters = %d/%d, want 0/0 after merge", m.ReviewCycles(), m.QACycles())
	}
}

func TestMachine_ResumeFromEscalated(t *testing.T) {
	m := NewMachine(1, 1)
	fire(t, m,
		TriggerStartPlanning, TriggerStartIssueCreation,
		TriggerStartDistribution, TriggerStartDevelopment,
		TriggerSubmitForReview, TriggerRequestReviewChanges,
	)
	fire(t, m, TriggerEscalate)

	fire(t, m, TriggerResume)
	if m.State() != StateDeveloping {
		t.Errorf("state = %s, want developing after resume", m.State())
	}
	if m.ReviewCycles() != 0 {
		t.Errorf("reviewCycles = %d, want 0 after resume", m.ReviewCycles())
	}
}

func TestMachine_SeedCycles(t *testing.T) {
	m := NewMachine(3, 3)
	m.SetState(StateReviewing)
	m.SeedCycles(3, 1)

	// Seeded at the budget: the guard must refuse immediately.
	if m.CanFire(TriggerRequestReviewChanges) {
		t.Error("seeded counters should make the review guard refuse")
	}
	if !m.CanFire(TriggerReviewApproved) {
		t.Error("approval should still be possible")
	}
}
