package core

// Interpretation is the verdict derived from a scorecard total.
type Interpretation string

const (
	InterpretationPromote     Interpretation = "promote"
	InterpretationPatch       Interpretation = "patch"
	InterpretationAntiPattern Interpretation = "anti-pattern"
)

// Scorecard is a five-dimension quality evaluation of an agent's output.
// Each dimension is constrained to [0,2]; Total and Interpretation are
// always derived from the dimensions, never trusted from external input.
type Scorecard struct {
	ScopeControl        int
	BehaviorFidelity    int
	EvidenceOrientation int
	Actionability       int
	RiskAwareness       int
	Total               int
	Interpretation      Interpretation
}

func clampDimension(v int) int {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

// Normalize clamps every dimension into [0,2] and recomputes the derived
// Total and Interpretation in place.
func (s *Scorecard) Normalize() {
	s.ScopeControl = clampDimension(s.ScopeControl)
	s.BehaviorFidelity = clampDimension(s.BehaviorFidelity)
	s.EvidenceOrientation = clampDimension(s.EvidenceOrientation)
	s.Actionability = clampDimension(s.Actionability)
	s.RiskAwareness = clampDimension(s.RiskAwareness)
	s.Total = s.ScopeControl + s.BehaviorFidelity + s.EvidenceOrientation +
		s.Actionability + s.RiskAwareness
	s.Interpretation = interpret(s.Total)
}

func interpret(total int) Interpretation {
	switch {
	case total >= 8:
		return InterpretationPromote
	case total <= 3:
		return InterpretationAntiPattern
	default:
		return InterpretationPatch
	}
}

// RecyclePatternType classifies a practice tag carried between issues.
type RecyclePatternType string

const (
	RecycleKept   RecyclePatternType = "kept"
	RecycleReused RecyclePatternType = "reused"
	RecycleBanned RecyclePatternType = "banned"
)

// RecyclePatterns is the three-list practice record attached to an issue.
type RecyclePatterns struct {
	Kept   []string
	Reused []string
	Banned []string
}

// Empty reports whether no patterns are recorded.
func (r RecyclePatterns) Empty() bool {
	return len(r.Kept) == 0 && len(r.Reused) == 0 && len(r.Banned) == 0
}
