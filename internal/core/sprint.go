package core

import (
	"fmt"
	"math/rand"
	"time"
)

// SprintStatus represents the lifecycle state of a sprint.
type SprintStatus string

const (
	SprintStatusCreated   SprintStatus = "created"
	SprintStatusRunning   SprintStatus = "running"
	SprintStatusPaused    SprintStatus = "paused"
	SprintStatusCompleted SprintStatus = "completed"
	SprintStatusFailed    SprintStatus = "failed"
)

// ValidSprintStatus reports whether s is a member of the sprint status set.
func ValidSprintStatus(s string) bool {
	switch SprintStatus(s) {
	case SprintStatusCreated, SprintStatusRunning, SprintStatusPaused,
		SprintStatusCompleted, SprintStatusFailed:
		return true
	}
	return false
}

// Sprint is one execution session of the pipeline. It may span multiple
// process lifetimes; the PID field records the owning process while running.
type Sprint struct {
	ID          string
	Status      SprintStatus
	Prompt      string
	EpicID      string
	IssuesTotal int
	IssuesDone  int
	PID         int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	PausedAt    *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Running reports whether the sprint claims to be executing.
func (s *Sprint) Running() bool { return s.Status == SprintStatusRunning }

// Terminal reports whether the sprint reached a final state.
func (s *Sprint) Terminal() bool {
	return s.Status == SprintStatusCompleted || s.Status == SprintStatusFailed
}

// Readable sprint ID components.
var sprintAdjectives = []string{
	"swift", "bold", "calm", "deep", "fast", "keen", "neat", "pure",
	"safe", "warm", "wise", "cool", "fair", "firm", "free", "glad",
	"gold", "kind", "live", "mild", "open", "rare", "real", "rich",
}

var sprintNouns = []string{
	"arch", "beam", "bolt", "core", "dart", "edge", "flux", "gate",
	"helm", "iris", "jade", "knot", "lens", "mesh", "node", "oath",
	"peak", "quay", "reef", "spur", "tide", "volt", "wave", "apex",
}

// NewSprintID generates a readable sprint identifier,
// e.g. "swift-core-4821".
func NewSprintID() string {
	adj := sprintAdjectives[rand.Intn(len(sprintAdjectives))]
	noun := sprintNouns[rand.Intn(len(sprintNouns))]
	return fmt.Sprintf("%s-%s-%04d", adj, noun, 1000+rand.Intn(9000))
}
