package agents

import (
	"encoding/json"
	"strings"

	"github.com/crewflow/crewflow/internal/core"
)

// plan is the wire shape of a planner reply. Planned issue fields match by
// name without tags.
type plan struct {
	EpicID string              `json:"epic_id"`
	Issues []core.PlannedIssue `json:"issues"`
}

// verdict is the wire shape of a reviewer or QA reply.
type verdict struct {
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback"`
	Scorecard *struct {
		ScopeControl        int `json:"scope_control"`
		BehaviorFidelity    int `json:"behavior_fidelity"`
		EvidenceOrientation int `json:"evidence_orientation"`
		Actionability       int `json:"actionability"`
		RiskAwareness       int `json:"risk_awareness"`
	} `json:"scorecard"`
	Recycle *struct {
		Kept   []string `json:"kept"`
		Reused []string `json:"reused"`
		Banned []string `json:"banned"`
	} `json:"recycle"`
}

func (v *verdict) scorecard() *core.Scorecard {
	if v.Scorecard == nil {
		return nil
	}
	return &core.Scorecard{
		ScopeControl:        v.Scorecard.ScopeControl,
		BehaviorFidelity:    v.Scorecard.BehaviorFidelity,
		EvidenceOrientation: v.Scorecard.EvidenceOrientation,
		Actionability:       v.Scorecard.Actionability,
		RiskAwareness:       v.Scorecard.RiskAwareness,
	}
}

func (v *verdict) recycle() *core.RecyclePatterns {
	if v.Recycle == nil {
		return nil
	}
	return &core.RecyclePatterns{
		Kept:   v.Recycle.Kept,
		Reused: v.Recycle.Reused,
		Banned: v.Recycle.Banned,
	}
}

func parsePlan(content string) (*plan, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var p plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if p.EpicID == "" {
		return nil, core.ErrValidation("PLAN_INVALID", "plan has no epic_id")
	}
	// Renumber densely from 1 so a model that skips or repeats numbers
	// cannot corrupt the backlog.
	for i := range p.Issues {
		p.Issues[i].Number = i + 1
		if p.Issues[i].Title == "" {
			return nil, core.ErrValidation("PLAN_INVALID", "planned issue has no title")
		}
	}
	return &p, nil
}

func parseVerdict(content string) (*verdict, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// extractJSON returns the first top-level JSON object in content. Models
// wrap replies in prose or fences often enough that strict parsing of the
// whole reply is a losing game.
func extractJSON(content string) (string, error) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", core.ErrValidation("NO_JSON", "reply contains no JSON object")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1], nil
			}
		}
	}
	return "", core.ErrValidation("NO_JSON", "unterminated JSON object in reply")
}
