package console

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crewflow/crewflow/internal/store"
)

const defaultPollInterval = 100 * time.Millisecond

// Reader serves one agent's console stream within a sprint: bounded history
// queries and a live tail that replays history before following new
// entries. The tail cursor is the storage row id, which is strictly
// increasing in insert order, so a follower sees every entry exactly once
// even when multiple land in the same millisecond.
type Reader struct {
	db       *store.DB
	sprintID string
	agentID  string
	poll     time.Duration
}

// NewReader creates a reader over the given sprint/agent stream. An empty
// agentID follows every agent in the sprint.
func NewReader(db *store.DB, sprintID, agentID string) *Reader {
	return &Reader{
		db:       db,
		sprintID: sprintID,
		agentID:  agentID,
		poll:     defaultPollInterval,
	}
}

// HistoryQuery bounds a History call. Zero values mean no constraint except
// Limit, which defaults to 100.
type HistoryQuery struct {
	Limit int
	Since time.Time
	Type  MessageType
}

// History returns the most recent matching entries in chronological order.
func (r *Reader) History(ctx context.Context, q HistoryQuery) ([]Message, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := messageSelect + ` WHERE sprint_id = ?`
	args := []any{r.sprintID}
	if r.agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, r.agentID)
	}
	if q.Type != "" {
		query += ` AND message_type = ?`
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		query += ` AND timestamp > ?`
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying console history: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// The query walks backwards from the newest entry; present oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Tail streams the agent's console: first the last historyLimit entries,
// then every new entry as it is flushed, until ctx is done. Entries are
// delivered on the returned channel in id order with no duplicates; the
// channel closes when the tail stops.
func (r *Reader) Tail(ctx context.Context, historyLimit int) (<-chan Message, error) {
	history, err := r.History(ctx, HistoryQuery{Limit: historyLimit})
	if err != nil {
		return nil, err
	}

	var cursor int64
	if len(history) > 0 {
		cursor = history[len(history)-1].ID
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for _, msg := range history {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}

		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fresh, err := r.After(ctx, cursor)
				if err != nil {
					// Transient read failures just delay the tail;
					// retry on the next tick.
					continue
				}
				for _, msg := range fresh {
					select {
					case out <- msg:
						cursor = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// After returns entries with id greater than cursor, oldest first. The id
// doubles as a resumable cursor for pollers outside the process.
func (r *Reader) After(ctx context.Context, cursor int64) ([]Message, error) {
	query := messageSelect + ` WHERE sprint_id = ? AND id > ?`
	args := []any{r.sprintID, cursor}
	if r.agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, r.agentID)
	}
	query += ` ORDER BY id ASC LIMIT 500`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// LatestCheckpoints returns each agent's most recent checkpoint message in
// the sprint, ordered by agent id. An agent that never checkpointed is
// absent.
func (r *Reader) LatestCheckpoints(ctx context.Context) ([]Message, error) {
	query := messageSelect + ` WHERE sprint_id = ? AND message_type = ?
		AND id IN (SELECT MAX(id) FROM agent_messages
		            WHERE sprint_id = ? AND message_type = ?
		            GROUP BY agent_id)`
	args := []any{r.sprintID, string(TypeCheckpoint), r.sprintID, string(TypeCheckpoint)}
	if r.agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, r.agentID)
	}
	query += ` ORDER BY agent_id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

const messageSelect = `SELECT id, sprint_id, agent_id, message_type, content,
	epic_id, issue_id, level, related_agent, metadata, timestamp
	FROM agent_messages`

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var epicID, level, related, metadata sql.NullString
		var issueNumber sql.NullInt64
		var ts string
		err := rows.Scan(&m.ID, &m.SprintID, &m.AgentID, &m.Type, &m.Content,
			&epicID, &issueNumber, &level, &related, &metadata, &ts)
		if err != nil {
			return nil, fmt.Errorf("scanning console message: %w", err)
		}
		m.EpicID = epicID.String
		m.IssueNumber = int(issueNumber.Int64)
		m.Level = level.String
		m.RelatedAgent = related.String
		m.Metadata = metadata.String
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
