package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/crewflow/crewflow/internal/core"
)

// StateManager is the single authority over epic, issue and cycle state.
// Every mutation runs inside one transaction so a crash mid-operation
// never leaves a partial write, and reads always come from storage.
type StateManager struct {
	db *DB
}

// NewStateManager creates a state manager over db.
func NewStateManager(db *DB) *StateManager {
	return &StateManager{db: db}
}

// CreateEpic records a new epic. Re-creating an existing epic id is a
// no-op so a resumed pipeline can replay its planning step safely.
func (m *StateManager) CreateEpic(ctx context.Context, epicID, sprintID, metadata string) error {
	now := timestamp()
	return m.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO epics (epic_id, sprint_id, status, metadata, created_at, updated_at)
			 VALUES (?, ?, 'pending', ?, ?, ?)
			 ON CONFLICT(epic_id) DO NOTHING`,
			epicID, sprintID, nullable(metadata), now, now)
		if err != nil {
			return core.ErrStorage("creating epic", err)
		}
		return nil
	})
}

// GetEpic fetches an epic by id.
func (m *StateManager) GetEpic(ctx context.Context, epicID string) (*core.Epic, error) {
	row := m.db.QueryRow(ctx,
		`SELECT epic_id, sprint_id, status, metadata, created_at, updated_at
		   FROM epics WHERE epic_id = ?`, epicID)
	epic, err := scanEpic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("epic", epicID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading epic %s: %w", epicID, err)
	}
	return epic, nil
}

// UpdateEpicStatus moves an epic to status.
func (m *StateManager) UpdateEpicStatus(ctx context.Context, epicID string, status core.EpicStatus) error {
	return m.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE epics SET status = ?, updated_at = ? WHERE epic_id = ?`,
			string(status), timestamp(), epicID)
		if err != nil {
			return core.ErrStorage("updating epic status", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.ErrNotFound("epic", epicID)
		}
		return nil
	})
}

// UpdateIssue upserts issue state keyed by (issueNumber, epicID). Only the
// fields set on patch change; everything else keeps its stored value. A
// patch for an unknown issue inserts a fresh row, which is how planning
// materializes issues in the first place.
func (m *StateManager) UpdateIssue(ctx context.Context, issueNumber int, epicID, sprintID string, patch core.IssuePatch) error {
	if patch.Status != nil {
		if _, err := core.ParseIssueStatus(*patch.Status); err != nil {
			return err
		}
	}
	now := timestamp()
	return m.db.Tx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM issues WHERE issue_number = ? AND epic_id = ?`,
			issueNumber, epicID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			status := string(core.IssueStatusPending)
			if patch.Status != nil {
				status = *patch.Status
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO issues
				   (issue_number, epic_id, sprint_id, status, assigned_agent, branch_name,
				    pr_number, review_cycles, qa_cycles, self_fix_attempts, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				issueNumber, epicID, nullable(sprintID), status,
				nullStr(patch.AssignedAgent), nullStr(patch.BranchName), nullInt(patch.PRNumber),
				zeroInt(patch.ReviewCycles), zeroInt(patch.QACycles), zeroInt(patch.SelfFixAttempts),
				now, now)
			if err != nil {
				return core.ErrStorage("inserting issue", err)
			}
			return nil
		case err != nil:
			return core.ErrStorage("looking up issue", err)
		}

		set := []string{"updated_at = ?"}
		args := []any{now}
		appendSet := func(col string, val any) {
			set = append(set, col+" = ?")
			args = append(args, val)
		}
		if patch.Status != nil {
			appendSet("status", *patch.Status)
		}
		if patch.AssignedAgent != nil {
			appendSet("assigned_agent", *patch.AssignedAgent)
		}
		if patch.BranchName != nil {
			appendSet("branch_name", *patch.BranchName)
		}
		if patch.PRNumber != nil {
			appendSet("pr_number", *patch.PRNumber)
		}
		if patch.ReviewCycles != nil {
			appendSet("review_cycles", *patch.ReviewCycles)
		}
		if patch.QACycles != nil {
			appendSet("qa_cycles", *patch.QACycles)
		}
		if patch.SelfFixAttempts != nil {
			appendSet("self_fix_attempts", *patch.SelfFixAttempts)
		}
		args = append(args, id)
		_, err = tx.ExecContext(ctx,
			`UPDATE issues SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return core.ErrStorage("updating issue", err)
		}
		return nil
	})
}

// GetIssue fetches one issue by its number within an epic.
func (m *StateManager) GetIssue(ctx context.Context, issueNumber int, epicID string) (*core.Issue, error) {
	row := m.db.QueryRow(ctx, issueSelect+` WHERE issue_number = ? AND epic_id = ?`,
		issueNumber, epicID)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("issue", strconv.Itoa(issueNumber))
	}
	if err != nil {
		return nil, fmt.Errorf("loading issue %d: %w", issueNumber, err)
	}
	return issue, nil
}

// GetNextIssue returns the lowest-numbered pending issue of the epic, or
// nil when none remain.
func (m *StateManager) GetNextIssue(ctx context.Context, epicID string) (*core.Issue, error) {
	row := m.db.QueryRow(ctx,
		issueSelect+` WHERE epic_id = ? AND status = 'pending' ORDER BY issue_number ASC LIMIT 1`,
		epicID)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns every issue of the epic ordered by issue number.
func (m *StateManager) ListIssues(ctx context.Context, epicID string) ([]*core.Issue, error) {
	rows, err := m.db.Query(ctx, issueSelect+` WHERE epic_id = ? ORDER BY issue_number ASC`, epicID)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	var issues []*core.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// IsEpicComplete reports whether every issue of the epic reached a terminal
// status. An epic with no issues at all is not complete.
func (m *StateManager) IsEpicComplete(ctx context.Context, epicID string) (bool, error) {
	var total, open int
	err := m.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(CASE WHEN status NOT IN ('done', 'escalated') THEN 1 END)
		   FROM issues WHERE epic_id = ?`, epicID).Scan(&total, &open)
	if err != nil {
		return false, fmt.Errorf("counting epic issues: %w", err)
	}
	return total > 0 && open == 0, nil
}

// AddCycle appends a hand-off record to an issue's history. The sequence
// number is derived from the current count inside the same transaction, so
// concurrent writers cannot produce duplicates. Recording against an
// unknown issue fails without writing anything.
func (m *StateManager) AddCycle(ctx context.Context, issueNumber int, epicID, agentFrom, agentTo, action, result string) error {
	return m.db.Tx(ctx, func(tx *sql.Tx) error {
		var issueID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM issues WHERE issue_number = ? AND epic_id = ?`,
			issueNumber, epicID).Scan(&issueID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound("issue", strconv.Itoa(issueNumber))
		}
		if err != nil {
			return core.ErrStorage("looking up issue for cycle", err)
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM cycles WHERE issue_id = ?`, issueID).Scan(&count); err != nil {
			return core.ErrStorage("counting cycles", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cycles (issue_id, cycle_number, agent_from, agent_to, action, result, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			issueID, count+1, agentFrom, agentTo, action, nullable(result), timestamp())
		if err != nil {
			return core.ErrStorage("recording cycle", err)
		}
		return nil
	})
}

// Cycles returns an issue's hand-off history in sequence order.
func (m *StateManager) Cycles(ctx context.Context, issueID int64) ([]core.Cycle, error) {
	rows, err := m.db.Query(ctx,
		`SELECT id, issue_id, cycle_number, agent_from, agent_to, action, result, timestamp
		   FROM cycles WHERE issue_id = ? ORDER BY cycle_number ASC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("listing cycles: %w", err)
	}
	defer rows.Close()

	var cycles []core.Cycle
	for rows.Next() {
		var c core.Cycle
		var result sql.NullString
		var ts string
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Number, &c.AgentFrom, &c.AgentTo, &c.Action, &result, &ts); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		c.Result = result.String
		c.Timestamp = parseTime(ts)
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// EpicTree assembles the full state of an epic: the epic row, its issues
// and each issue's cycle history.
func (m *StateManager) EpicTree(ctx context.Context, epicID string) (*core.EpicTree, error) {
	epic, err := m.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	issues, err := m.ListIssues(ctx, epicID)
	if err != nil {
		return nil, err
	}

	tree := &core.EpicTree{Epic: *epic}
	for _, issue := range issues {
		cycles, err := m.Cycles(ctx, issue.ID)
		if err != nil {
			return nil, err
		}
		tree.Issues = append(tree.Issues, core.IssueNode{Issue: *issue, Cycles: cycles})
	}
	return tree, nil
}

const issueSelect = `SELECT id, issue_number, epic_id, sprint_id, status, assigned_agent,
	branch_name, pr_number, review_cycles, qa_cycles, self_fix_attempts, created_at, updated_at
	FROM issues`

func scanIssue(row interface{ Scan(...any) error }) (*core.Issue, error) {
	var issue core.Issue
	var sprintID, agent, branch sql.NullString
	var prNumber sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&issue.ID, &issue.Number, &issue.EpicID, &sprintID, &issue.Status,
		&agent, &branch, &prNumber,
		&issue.ReviewCycles, &issue.QACycles, &issue.SelfFixAttempts,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	issue.SprintID = sprintID.String
	issue.AssignedAgent = agent.String
	issue.BranchName = branch.String
	issue.PRNumber = int(prNumber.Int64)
	issue.CreatedAt = parseTime(createdAt)
	issue.UpdatedAt = parseTime(updatedAt)
	return &issue, nil
}

func scanEpic(row interface{ Scan(...any) error }) (*core.Epic, error) {
	var epic core.Epic
	var sprintID, metadata sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&epic.ID, &sprintID, &epic.Status, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	epic.SprintID = sprintID.String
	epic.Metadata = metadata.String
	epic.CreatedAt = parseTime(createdAt)
	epic.UpdatedAt = parseTime(updatedAt)
	return &epic, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func zeroInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
