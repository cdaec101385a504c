package models

// Candidate strategy names
const (
	StrategyEID   = "eid"
	StrategyLink  = "link"
	StrategyScore = "score"
)

// MatchedCandidate is a golden record proposed for an incoming record
type MatchedCandidate struct {
	GoldenID    string      `json:"goldenId"`
	Score       float64     `json:"score"`
	MatchResult MatchResult `json:"matchResult"`
	LinkSource  LinkSource  `json:"linkSource,omitempty"`
}

// CandidateList is the ordered result of a single candidate strategy.
// An empty list means the next strategy should be tried.
type CandidateList struct {
	Strategy   string             `json:"strategy"`
	Candidates []MatchedCandidate `json:"candidates"`
}

// IsEmpty reports whether no candidates were found
func (c CandidateList) IsEmpty() bool {
	return len(c.Candidates) == 0
}

// Len returns the number of candidates
func (c CandidateList) Len() int {
	return len(c.Candidates)
}

// WithResult returns the candidates carrying the given classification in list order
func (c CandidateList) WithResult(result MatchResult) []MatchedCandidate {
	var out []MatchedCandidate
	for _, candidate := range c.Candidates {
		if candidate.MatchResult == result {
			out = append(out, candidate)
		}
	}
	return out
}
