package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/normalizers"
)

// RuleSet is a compiled, immutable rule set. It is shared by reference
// between workers and never mutated after Compile returns.
type RuleSet struct {
	Version                string
	EIDSystem              string
	MatchThreshold         float64
	PossibleMatchThreshold float64
	Rules                  []*Rule
	Warnings               []string

	eidPath *jmespath.JMESPath
}

// Rule is a compiled rule: a matcher bound to a field path
type Rule struct {
	Name        string
	MatcherName string
	Weight      float64
	Field       string
	Normalizers []string
	Blocking    bool

	resourceTypes map[models.ResourceType]bool
	matcher       matching.Matcher
	path          *jmespath.JMESPath
}

// Compile validates a document against the matcher registry and builds the rule set.
// Nothing is returned unless every rule compiles.
func Compile(doc *Document, registry *matching.Registry) (*RuleSet, error) {
	rs := &RuleSet{
		Version:                doc.Version,
		EIDSystem:              doc.EIDSystem,
		MatchThreshold:         *doc.MatchThreshold,
		PossibleMatchThreshold: *doc.PossibleMatchThreshold,
	}

	if doc.EIDSystem != "" {
		expr := fmt.Sprintf("identifier[?system==%s].value", rawLiteral(doc.EIDSystem))
		path, err := jmespath.Compile(expr)
		if err != nil {
			return nil, mdmerror.Configuration("invalid eidSystem %q: %v", doc.EIDSystem, err)
		}
		rs.eidPath = path
	}

	names := make(map[string]bool, len(doc.Rules))
	for i, rd := range doc.Rules {
		if names[rd.Name] {
			return nil, mdmerror.Configuration("rule %d: duplicate rule name %q", i, rd.Name)
		}
		names[rd.Name] = true

		if !registry.Has(rd.Matcher) {
			return nil, mdmerror.Configuration("rule %q: unknown matcher %q", rd.Name, rd.Matcher)
		}
		matcher, err := registry.Build(rd.Matcher, matching.Params(rd.Params))
		if err != nil {
			return nil, mdmerror.Configuration("rule %q: %v", rd.Name, err)
		}

		for _, n := range rd.Normalizers {
			if _, ok := normalizers.Get(n); !ok {
				return nil, mdmerror.Configuration("rule %q: unknown normalizer %q", rd.Name, n)
			}
		}

		path, err := jmespath.Compile(rd.AppliesTo)
		if err != nil {
			return nil, mdmerror.Configuration("rule %q: invalid field path %q: %v", rd.Name, rd.AppliesTo, err)
		}

		rule := &Rule{
			Name:        rd.Name,
			MatcherName: strings.ToLower(rd.Matcher),
			Weight:      rd.Weight,
			Field:       rd.AppliesTo,
			Normalizers: append([]string(nil), rd.Normalizers...),
			matcher:     matcher,
			path:        path,
		}
		if len(rd.ResourceTypes) > 0 {
			rule.resourceTypes = make(map[models.ResourceType]bool, len(rd.ResourceTypes))
			for _, t := range rd.ResourceTypes {
				rule.resourceTypes[models.ResourceType(t)] = true
			}
		}
		if rd.Blocking {
			if _, ok := matcher.(matching.KeyedMatcher); ok {
				rule.Blocking = true
			} else {
				rs.Warnings = append(rs.Warnings, fmt.Sprintf("rule %q: matcher %q cannot produce blocking keys; blocking ignored", rd.Name, rd.Matcher))
			}
		}

		rs.Rules = append(rs.Rules, rule)
	}

	for _, t := range models.ResourceTypes {
		for _, rule := range rs.RulesFor(t) {
			if rule.Blocking && !rs.blockingSafe(t, rule) {
				rs.Warnings = append(rs.Warnings, fmt.Sprintf(
					"rule %q: %s pairs can reach possibleMatchThreshold without it; blocking ignored for %s",
					rule.Name, t, t))
			}
		}
	}

	return rs, nil
}

// rawLiteral quotes a value as a JMESPath raw string literal
func rawLiteral(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}

// AppliesTo reports whether the rule scores records of the given type
func (r *Rule) AppliesTo(t models.ResourceType) bool {
	return r.resourceTypes == nil || r.resourceTypes[t]
}

// Extract returns the normalized field values of a record
func (r *Rule) Extract(record *models.Record) matching.Values {
	values := search(r.path, record.Resource)
	if len(r.Normalizers) == 0 {
		return values
	}
	for i, v := range values {
		values[i] = normalizers.ApplyChain(v, r.Normalizers...)
	}
	return values
}

// Score compares two pre-extracted value lists
func (r *Rule) Score(a, b matching.Values) float64 {
	return r.matcher.Score(a, b)
}

// BlockingKeys returns the blocking keys for pre-extracted values
func (r *Rule) BlockingKeys(v matching.Values) []string {
	keyed, ok := r.matcher.(matching.KeyedMatcher)
	if !ok {
		return nil
	}
	return keyed.BlockingKeys(v)
}

// RulesFor returns the rules applicable to a resource type in document order
func (rs *RuleSet) RulesFor(t models.ResourceType) []*Rule {
	out := make([]*Rule, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		if rule.AppliesTo(t) {
			out = append(out, rule)
		}
	}
	return out
}

// MaxScore returns the highest score a pair of the given type can reach
func (rs *RuleSet) MaxScore(t models.ResourceType) float64 {
	total := 0.0
	for _, rule := range rs.RulesFor(t) {
		total += rule.Weight
	}
	return total
}

// BlockingRules returns the blocking rules that can prune candidates without
// changing the result of exhaustive scoring
func (rs *RuleSet) BlockingRules(t models.ResourceType) []*Rule {
	var out []*Rule
	for _, rule := range rs.RulesFor(t) {
		if rule.Blocking && rs.blockingSafe(t, rule) {
			out = append(out, rule)
		}
	}
	return out
}

// blockingSafe holds when a pair that scores 0 on the rule cannot reach
// the possible-match threshold on the remaining rules
func (rs *RuleSet) blockingSafe(t models.ResourceType, rule *Rule) bool {
	return RoundScore(rs.MaxScore(t)-rule.Weight) < rs.PossibleMatchThreshold
}

// scorePrecision is the resolution composite scores are compared at. Sums
// of decimal weights such as 0.7+0.1 land an ulp away from the decimal the
// operator wrote; rounding puts them back on it.
const scorePrecision = 1e9

// RoundScore snaps a composite score to scorePrecision
func RoundScore(score float64) float64 {
	return math.Round(score*scorePrecision) / scorePrecision
}

// Classify applies the two-threshold policy to a composite score. Scores
// within rounding noise of a threshold count as reaching it.
func (rs *RuleSet) Classify(score float64) models.MatchResult {
	score = RoundScore(score)
	switch {
	case score >= rs.MatchThreshold:
		return models.MatchResultMatch
	case score >= rs.PossibleMatchThreshold:
		return models.MatchResultPossibleMatch
	default:
		return models.MatchResultNoMatch
	}
}

// ExtractEIDs returns the enterprise identifiers carried by a record: the
// record's own tags plus identifiers whose system is the configured EID system
func (rs *RuleSet) ExtractEIDs(record *models.Record) []string {
	seen := make(map[string]bool)
	var eids []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" && !seen[v] {
			seen[v] = true
			eids = append(eids, v)
		}
	}

	for _, eid := range record.EIDs {
		add(eid)
	}
	if rs.eidPath != nil {
		for _, eid := range search(rs.eidPath, record.Resource) {
			add(eid)
		}
	}
	return eids
}

// search evaluates a compiled path and flattens the result to strings.
// Evaluation errors yield no values.
func search(path *jmespath.JMESPath, resource map[string]any) matching.Values {
	if resource == nil {
		return nil
	}
	result, err := path.Search(resource)
	if err != nil {
		return nil
	}
	var out matching.Values
	flatten(result, &out)
	return out
}

func flatten(v any, out *matching.Values) {
	switch typed := v.(type) {
	case nil:
	case string:
		*out = append(*out, typed)
	case float64:
		*out = append(*out, strconv.FormatFloat(typed, 'f', -1, 64))
	case int:
		*out = append(*out, strconv.Itoa(typed))
	case bool:
		*out = append(*out, strconv.FormatBool(typed))
	case []any:
		for _, item := range typed {
			flatten(item, out)
		}
	case []string:
		*out = append(*out, typed...)
	case map[string]any:
		// objects have no scalar form; rules must address a leaf
	default:
		*out = append(*out, fmt.Sprint(typed))
	}
}
