package rules

import (
	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/models"
)

// Evaluation is the outcome of scoring one record pair
type Evaluation struct {
	Score       float64            `json:"score"`
	MatchResult models.MatchResult `json:"matchResult"`
	FieldScores map[string]float64 `json:"fieldScores,omitempty"`
}

// Profile holds a record's extracted field values for one rule set so a
// record swept against many golden records is extracted once
type Profile struct {
	Record *models.Record
	values []matching.Values
}

// Values returns the extracted values for the rule at index i
func (p *Profile) Values(i int) matching.Values {
	return p.values[i]
}

// Profile extracts every rule's field values from a record
func (rs *RuleSet) Profile(record *models.Record) *Profile {
	p := &Profile{Record: record, values: make([]matching.Values, len(rs.Rules))}
	for i, rule := range rs.Rules {
		if rule.AppliesTo(record.ResourceType) {
			p.values[i] = rule.Extract(record)
		}
	}
	return p
}

// Engine scores record pairs against a rule set. It holds no state, so the
// same pair and rule set always produce the same evaluation.
type Engine struct{}

// NewEngine creates a new rule engine
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate scores an incoming record against a golden record
func (e *Engine) Evaluate(rs *RuleSet, a, b *models.Record) Evaluation {
	return e.EvaluateProfiles(rs, rs.Profile(a), rs.Profile(b))
}

// EvaluateProfiles scores two pre-extracted profiles. Weighted rule scores are
// summed in rule order; records of different resource types never match.
func (e *Engine) EvaluateProfiles(rs *RuleSet, a, b *Profile) Evaluation {
	eval := Evaluation{FieldScores: make(map[string]float64, len(rs.Rules))}

	if a.Record.ResourceType != b.Record.ResourceType {
		eval.MatchResult = models.MatchResultNoMatch
		return eval
	}

	for i, rule := range rs.Rules {
		if !rule.AppliesTo(a.Record.ResourceType) {
			continue
		}
		score := rule.Score(a.values[i], b.values[i])
		eval.FieldScores[rule.Name] = score
		eval.Score += score * rule.Weight
	}

	eval.Score = RoundScore(eval.Score)
	eval.MatchResult = rs.Classify(eval.Score)
	return eval
}
