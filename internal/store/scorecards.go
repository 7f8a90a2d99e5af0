package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/crewflow/crewflow/internal/core"
)

// ScorecardStore persists review scorecards and recycle patterns.
type ScorecardStore struct {
	db *DB
}

// NewScorecardStore creates a scorecard store over db.
func NewScorecardStore(db *DB) *ScorecardStore {
	return &ScorecardStore{db: db}
}

// Record normalizes and stores a reviewer scorecard for an issue. The total
// and interpretation are always recomputed from the dimensions; whatever the
// reviewer claimed for them is discarded.
func (s *ScorecardStore) Record(ctx context.Context, issueNumber int, epicID, agentID string, card core.Scorecard) (*core.Scorecard, error) {
	card.Normalize()
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		issueID, err := issueRowID(ctx, tx, issueNumber, epicID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO issue_scorecards
			   (issue_id, agent_id, scope_control, behavior_fidelity, evidence_orientation,
			    actionability, risk_awareness, total, interpretation, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			issueID, agentID,
			card.ScopeControl, card.BehaviorFidelity, card.EvidenceOrientation,
			card.Actionability, card.RiskAwareness,
			card.Total, string(card.Interpretation), timestamp())
		if err != nil {
			return core.ErrStorage("recording scorecard", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// ForIssue returns an issue's scorecards, newest first.
func (s *ScorecardStore) ForIssue(ctx context.Context, issueNumber int, epicID string) ([]core.Scorecard, error) {
	rows, err := s.db.Query(ctx,
		`SELECT sc.scope_control, sc.behavior_fidelity, sc.evidence_orientation,
		        sc.actionability, sc.risk_awareness, sc.total, sc.interpretation
		   FROM issue_scorecards sc
		   JOIN issues i ON i.id = sc.issue_id
		  WHERE i.issue_number = ? AND i.epic_id = ?
		  ORDER BY sc.id DESC`,
		issueNumber, epicID)
	if err != nil {
		return nil, fmt.Errorf("listing scorecards: %w", err)
	}
	defer rows.Close()

	var cards []core.Scorecard
	for rows.Next() {
		var card core.Scorecard
		var interp sql.NullString
		if err := rows.Scan(
			&card.ScopeControl, &card.BehaviorFidelity, &card.EvidenceOrientation,
			&card.Actionability, &card.RiskAwareness, &card.Total, &interp,
		); err != nil {
			return nil, fmt.Errorf("scanning scorecard: %w", err)
		}
		card.Interpretation = core.Interpretation(interp.String)
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// AverageTotal returns the mean scorecard total across an epic, and the
// number of cards it covers. Zero cards yields (0, 0) with no error.
func (s *ScorecardStore) AverageTotal(ctx context.Context, epicID string) (avg float64, count int, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT COALESCE(AVG(sc.total), 0), COUNT(sc.id)
		   FROM issue_scorecards sc
		   JOIN issues i ON i.id = sc.issue_id
		  WHERE i.epic_id = ?`, epicID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("averaging scorecards: %w", err)
	}
	return avg, count, nil
}

// AgentAverage is one agent's mean scorecard total within an epic.
type AgentAverage struct {
	AgentID string
	Average float64
	Count   int
}

// AveragesByAgent returns each agent's mean scorecard total across an epic,
// ordered by agent id. Agents that issued no cards are absent.
func (s *ScorecardStore) AveragesByAgent(ctx context.Context, epicID string) ([]AgentAverage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT sc.agent_id, AVG(sc.total), COUNT(sc.id)
		   FROM issue_scorecards sc
		   JOIN issues i ON i.id = sc.issue_id
		  WHERE i.epic_id = ?
		  GROUP BY sc.agent_id
		  ORDER BY sc.agent_id`, epicID)
	if err != nil {
		return nil, fmt.Errorf("averaging scorecards by agent: %w", err)
	}
	defer rows.Close()

	var avgs []AgentAverage
	for rows.Next() {
		var a AgentAverage
		if err := rows.Scan(&a.AgentID, &a.Average, &a.Count); err != nil {
			return nil, fmt.Errorf("scanning agent average: %w", err)
		}
		avgs = append(avgs, a)
	}
	return avgs, rows.Err()
}

// RecordPatterns stores a reviewer's recycle verdicts for an issue. All
// three lists are written in one transaction.
func (s *ScorecardStore) RecordPatterns(ctx context.Context, issueNumber int, epicID, appliedBy string, patterns core.RecyclePatterns) error {
	if patterns.Empty() {
		return nil
	}
	now := timestamp()
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		issueID, err := issueRowID(ctx, tx, issueNumber, epicID)
		if err != nil {
			return err
		}
		insert := func(kind core.RecyclePatternType, values []string) error {
			for _, v := range values {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO issue_recycle_patterns
					   (issue_id, pattern_type, pattern_value, applied_by, applied_at)
					 VALUES (?, ?, ?, ?, ?)`,
					issueID, string(kind), v, nullable(appliedBy), now)
				if err != nil {
					return core.ErrStorage("recording recycle pattern", err)
				}
			}
			return nil
		}
		if err := insert(core.RecycleKept, patterns.Kept); err != nil {
			return err
		}
		if err := insert(core.RecycleReused, patterns.Reused); err != nil {
			return err
		}
		return insert(core.RecycleBanned, patterns.Banned)
	})
}

// BannedPatterns returns the distinct banned pattern values recorded across
// an epic, for feeding back into implementer prompts.
func (s *ScorecardStore) BannedPatterns(ctx context.Context, epicID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT rp.pattern_value
		   FROM issue_recycle_patterns rp
		   JOIN issues i ON i.id = rp.issue_id
		  WHERE i.epic_id = ? AND rp.pattern_type = 'banned'
		  ORDER BY rp.pattern_value`, epicID)
	if err != nil {
		return nil, fmt.Errorf("listing banned patterns: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning banned pattern: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func issueRowID(ctx context.Context, tx *sql.Tx, issueNumber int, epicID string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM issues WHERE issue_number = ? AND epic_id = ?`,
		issueNumber, epicID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrNotFound("issue", strconv.Itoa(issueNumber))
	}
	if err != nil {
		return 0, core.ErrStorage("looking up issue", err)
	}
	return id, nil
}
