package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crewflow/crewflow/internal/core"
)

// LogEntry is one structured agent event persisted for post-hoc debugging.
type LogEntry struct {
	ID        int64
	SprintID  string
	AgentID   string
	Event     string
	Level     string
	Data      string // free-form JSON
	Timestamp time.Time
}

// TimelineEntry merges agent messages and agent logs into one ordered view.
type TimelineEntry struct {
	Source    string // "message" or "log"
	AgentID   string
	Kind      string // message type or log event
	Content   string
	Level     string
	Timestamp time.Time
}

// LogStore persists agent_logs and serves the merged sprint timeline.
type LogStore struct {
	db *DB
}

// NewLogStore creates a log store over db.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

// Append records one agent event.
func (s *LogStore) Append(ctx context.Context, entry LogEntry) error {
	if entry.Level == "" {
		entry.Level = "INFO"
	}
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agent_logs (sprint_id, agent_id, event, level, data, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.SprintID, entry.AgentID, entry.Event, entry.Level,
			nullable(entry.Data), timestamp())
		if err != nil {
			return core.ErrStorage("appending agent log", err)
		}
		return nil
	})
}

// ForAgent returns an agent's events within a sprint, oldest first.
func (s *LogStore) ForAgent(ctx context.Context, sprintID, agentID string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, sprint_id, agent_id, event, level, data, timestamp
		   FROM agent_logs
		  WHERE sprint_id = ? AND agent_id = ?
		  ORDER BY timestamp DESC, id DESC LIMIT ?`,
		sprintID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing agent logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var data sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.SprintID, &e.AgentID, &e.Event, &e.Level, &data, &ts); err != nil {
			return nil, fmt.Errorf("scanning agent log: %w", err)
		}
		e.Data = data.String
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first for display.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Timeline interleaves a sprint's messages and logs by timestamp, oldest
// first, capped at limit entries from the tail.
func (s *LogStore) Timeline(ctx context.Context, sprintID string, limit int) ([]TimelineEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT source, agent_id, kind, content, level, timestamp FROM (
		    SELECT 'message' AS source, agent_id, message_type AS kind,
		           content, COALESCE(level, 'INFO') AS level, timestamp
		      FROM agent_messages WHERE sprint_id = ?
		    UNION ALL
		    SELECT 'log' AS source, agent_id, event AS kind,
		           COALESCE(data, '') AS content, level, timestamp
		      FROM agent_logs WHERE sprint_id = ?
		 ) ORDER BY timestamp DESC LIMIT ?`,
		sprintID, sprintID, limit)
	if err != nil {
		return nil, fmt.Errorf("building timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var ts string
		if err := rows.Scan(&e.Source, &e.AgentID, &e.Kind, &e.Content, &e.Level, &ts); err != nil {
			return nil, fmt.Errorf("scanning timeline entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
