package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/crewflow/crewflow/internal/core"
)

// SprintStore manages sprint rows. Nothing is cached: every read re-queries
// storage so a resuming process always observes consistent state.
type SprintStore struct {
	db *DB
}

// NewSprintStore creates a sprint store over db.
func NewSprintStore(db *DB) *SprintStore {
	return &SprintStore{db: db}
}

// Create inserts a new sprint in status created. An empty id gets a
// generated readable one.
func (s *SprintStore) Create(ctx context.Context, sprintID, prompt string) (*core.Sprint, error) {
	if sprintID == "" {
		sprintID = core.NewSprintID()
	}
	now := timestamp()
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sprints (sprint_id, status, prompt, created_at, updated_at)
			 VALUES (?, 'created', ?, ?, ?)`,
			sprintID, prompt, now, now)
		return err
	})
	if err != nil {
		return nil, core.ErrStorage("creating sprint", err)
	}
	return s.Get(ctx, sprintID)
}

// Get fetches a sprint by id, returning a not-found error if absent.
func (s *SprintStore) Get(ctx context.Context, sprintID string) (*core.Sprint, error) {
	row := s.db.QueryRow(ctx,
		`SELECT sprint_id, status, prompt, epic_id, issues_total, issues_done,
		        pid, error, created_at, started_at, paused_at, completed_at, updated_at
		   FROM sprints WHERE sprint_id = ?`, sprintID)
	sprint, err := scanSprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("sprint", sprintID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading sprint %s: %w", sprintID, err)
	}
	return sprint, nil
}

// List returns sprints newest-first, optionally filtered by status.
func (s *SprintStore) List(ctx context.Context, status string, limit int) ([]*core.Sprint, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT sprint_id, status, prompt, epic_id, issues_total, issues_done,
	                 pid, error, created_at, started_at, paused_at, completed_at, updated_at
	            FROM sprints`
	args := []any{}
	if status != "" {
		if !core.ValidSprintStatus(status) {
			return nil, core.ErrValidation(core.CodeInvalidStatus, "invalid sprint status: "+status)
		}
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*core.Sprint
	for rows.Next() {
		sprint, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sprint: %w", err)
		}
		sprints = append(sprints, sprint)
	}
	return sprints, rows.Err()
}

// UpdateStatus moves a sprint to status and stamps the matching lifecycle
// timestamp. Optional fields (pid, epic id, error) ride along in the same
// transaction.
func (s *SprintStore) UpdateStatus(ctx context.Context, sprintID string, status core.SprintStatus, opts ...SprintUpdate) error {
	now := timestamp()
	set := "status = ?, updated_at = ?"
	args := []any{string(status), now}

	switch status {
	case core.SprintStatusRunning:
		set += ", started_at = ?"
		args = append(args, now)
	case core.SprintStatusPaused:
		set += ", paused_at = ?"
		args = append(args, now)
	case core.SprintStatusCompleted, core.SprintStatusFailed:
		set += ", completed_at = ?"
		args = append(args, now)
	}

	for _, opt := range opts {
		col, val := opt()
		set += ", " + col + " = ?"
		args = append(args, val)
	}
	args = append(args, sprintID)

	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sprints SET `+set+` WHERE sprint_id = ?`, args...)
		if err != nil {
			return core.ErrStorage("updating sprint status", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.ErrNotFound("sprint", sprintID)
		}
		return nil
	})
}

// SprintUpdate is an optional column set by UpdateStatus.
type SprintUpdate func() (column string, value any)

// WithPID records the owning process id.
func WithPID(pid int) SprintUpdate {
	return func() (string, any) { return "pid", pid }
}

// WithEpicID associates the sprint with its active epic.
func WithEpicID(epicID string) SprintUpdate {
	return func() (string, any) { return "epic_id", epicID }
}

// WithError records the last fatal error for resumability.
func WithError(msg string) SprintUpdate {
	return func() (string, any) { return "error", msg }
}

// UpdateProgress updates the issue counters.
func (s *SprintStore) UpdateProgress(ctx context.Context, sprintID string, total, done int) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE sprints SET issues_total = ?, issues_done = ?, updated_at = ?
			  WHERE sprint_id = ?`,
			total, done, timestamp(), sprintID)
		if err != nil {
			return core.ErrStorage("updating sprint progress", err)
		}
		return nil
	})
}

// Active returns the running sprint whose owning process is still alive.
// A running sprint with a dead PID is demoted to paused on the way through,
// so a crashed run shows up as resumable rather than stuck.
func (s *SprintStore) Active(ctx context.Context) (*core.Sprint, error) {
	running, err := s.List(ctx, string(core.SprintStatusRunning), 20)
	if err != nil {
		return nil, err
	}
	for _, sprint := range running {
		if sprint.PID > 0 && pidAlive(sprint.PID) {
			return sprint, nil
		}
		if err := s.UpdateStatus(ctx, sprint.ID, core.SprintStatusPaused); err != nil {
			return nil, err
		}
	}
	created, err := s.List(ctx, string(core.SprintStatusCreated), 1)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		return created[0], nil
	}
	return nil, nil
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

func scanSprint(row interface{ Scan(...any) error }) (*core.Sprint, error) {
	var sprint core.Sprint
	var prompt, epicID, lastErr sql.NullString
	var pid sql.NullInt64
	var createdAt, updatedAt string
	var startedAt, pausedAt, completedAt sql.NullString

	err := row.Scan(
		&sprint.ID, &sprint.Status, &prompt, &epicID,
		&sprint.IssuesTotal, &sprint.IssuesDone, &pid, &lastErr,
		&createdAt, &startedAt, &pausedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sprint.Prompt = prompt.String
	sprint.EpicID = epicID.String
	sprint.Error = lastErr.String
	sprint.PID = int(pid.Int64)
	sprint.CreatedAt = parseTime(createdAt)
	sprint.UpdatedAt = parseTime(updatedAt)
	sprint.StartedAt = parseNullTime(startedAt)
	sprint.PausedAt = parseNullTime(pausedAt)
	sprint.CompletedAt = parseNullTime(completedAt)
	return &sprint, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
