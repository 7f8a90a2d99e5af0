// Package console is the agent event bus: a buffered writer that batches
// agent output into storage and a reader that replays history and tails new
// entries. Writers and readers share nothing but the database, so they can
// live in different processes.
package console

import "time"

// MessageType classifies an agent console entry.
type MessageType string

const (
	TypeLog           MessageType = "log"
	TypeOutput        MessageType = "output"
	TypeError         MessageType = "error"
	TypeWarning       MessageType = "warning"
	TypeCommunication MessageType = "communication"
	TypeCheckpoint    MessageType = "checkpoint"
)

// Message is one agent console entry. ID is assigned by storage and is the
// tail cursor: strictly increasing in insert order.
type Message struct {
	ID           int64       `json:"id"`
	SprintID     string      `json:"sprint_id"`
	AgentID      string      `json:"agent_id"`
	Type         MessageType `json:"type"`
	Content      string      `json:"content"`
	EpicID       string      `json:"epic_id,omitempty"`
	IssueNumber  int         `json:"issue_number,omitempty"`
	Level        string      `json:"level,omitempty"`
	RelatedAgent string      `json:"related_agent,omitempty"`
	Metadata     string      `json:"metadata,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}
