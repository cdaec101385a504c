package candidates

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Strategy proposes golden records for an incoming record. An empty list
// hands the search to the next strategy.
type Strategy interface {
	Name() string
	Find(ctx context.Context, record *models.Record, rs *rules.RuleSet) (models.CandidateList, error)
}

// EIDStrategy matches on enterprise identifiers. An EID shared with a golden
// record is an identity match and bypasses scoring.
type EIDStrategy struct {
	goldens store.GoldenRecordStore
}

func NewEIDStrategy(goldens store.GoldenRecordStore) *EIDStrategy {
	return &EIDStrategy{goldens: goldens}
}

func (s *EIDStrategy) Name() string { return models.StrategyEID }

func (s *EIDStrategy) Find(ctx context.Context, record *models.Record, rs *rules.RuleSet) (models.CandidateList, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.EIDStrategy.Find")
	defer span.End()

	list := models.CandidateList{Strategy: s.Name()}
	seen := make(map[string]bool)
	for _, eid := range rs.ExtractEIDs(record) {
		goldens, err := s.goldens.FindByEID(ctx, record.ResourceType, eid)
		if err != nil {
			return list, err
		}
		for _, golden := range goldens {
			if seen[golden.ID] {
				continue
			}
			seen[golden.ID] = true
			list.Candidates = append(list.Candidates, models.MatchedCandidate{
				GoldenID:    golden.ID,
				Score:       1.0,
				MatchResult: models.MatchResultMatch,
				LinkSource:  models.LinkSourceAuto,
			})
		}
	}
	return list, nil
}

// LinkStrategy returns the record's existing links verbatim so reviewed
// decisions are not re-scored on re-ingestion
type LinkStrategy struct {
	links store.LinkStore
}

func NewLinkStrategy(links store.LinkStore) *LinkStrategy {
	return &LinkStrategy{links: links}
}

func (s *LinkStrategy) Name() string { return models.StrategyLink }

func (s *LinkStrategy) Find(ctx context.Context, record *models.Record, _ *rules.RuleSet) (models.CandidateList, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.LinkStrategy.Find")
	defer span.End()

	list := models.CandidateList{Strategy: s.Name()}
	links, err := s.links.FindBySource(ctx, record.ID)
	if err != nil {
		return list, err
	}
	for _, link := range links {
		list.Candidates = append(list.Candidates, models.MatchedCandidate{
			GoldenID:    link.GoldenID,
			Score:       link.Score,
			MatchResult: link.MatchResult,
			LinkSource:  link.LinkSource,
		})
	}
	return list, nil
}

// ScoreStrategy sweeps the golden record pool with the rule engine
type ScoreStrategy struct {
	goldens store.GoldenRecordStore
	engine  *rules.Engine
	logger  ectologger.Logger
}

func NewScoreStrategy(goldens store.GoldenRecordStore, engine *rules.Engine, logger ectologger.Logger) *ScoreStrategy {
	return &ScoreStrategy{goldens: goldens, engine: engine, logger: logger}
}

func (s *ScoreStrategy) Name() string { return models.StrategyScore }

// Find scores every eligible golden record, drops NO_MATCH and orders the
// rest by descending score. Blocking rules only skip golden records that
// cannot reach the possible-match threshold.
func (s *ScoreStrategy) Find(ctx context.Context, record *models.Record, rs *rules.RuleSet) (models.CandidateList, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.ScoreStrategy.Find")
	defer span.End()

	list := models.CandidateList{Strategy: s.Name()}
	incoming := rs.Profile(record)
	blocker := newBlocker(rs, record.ResourceType, incoming)
	if blocker.excludesAll() {
		return list, nil
	}

	scored, blocked := 0, 0
	for golden, err := range s.goldens.PoolFor(ctx, record.ResourceType) {
		if err != nil {
			return list, err
		}
		if err := ctx.Err(); err != nil {
			return list, err
		}

		candidate := rs.Profile(golden)
		if !blocker.admits(candidate) {
			blocked++
			continue
		}

		scored++
		eval := s.engine.EvaluateProfiles(rs, incoming, candidate)
		if eval.MatchResult == models.MatchResultNoMatch {
			continue
		}
		list.Candidates = append(list.Candidates, models.MatchedCandidate{
			GoldenID:    golden.ID,
			Score:       eval.Score,
			MatchResult: eval.MatchResult,
			LinkSource:  models.LinkSourceAuto,
		})
	}

	metrics.PairsScored.WithLabelValues(string(record.ResourceType)).Add(float64(scored))
	metrics.PairsBlocked.WithLabelValues(string(record.ResourceType)).Add(float64(blocked))

	SortByScore(list.Candidates)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"record_id":  record.ID,
		"scored":     scored,
		"blocked":    blocked,
		"candidates": list.Len(),
	}).Debug("Scored golden record pool")
	return list, nil
}

// SortByScore orders candidates by descending score, then golden id
func SortByScore(candidates []models.MatchedCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].GoldenID < candidates[j].GoldenID
	})
}

// blocker holds the incoming record's keys for each safe blocking rule
type blocker struct {
	rules []*rules.Rule
	index []int
	keys  []map[string]bool
}

func newBlocker(rs *rules.RuleSet, t models.ResourceType, incoming *rules.Profile) *blocker {
	b := &blocker{}
	safe := make(map[*rules.Rule]bool)
	for _, rule := range rs.BlockingRules(t) {
		safe[rule] = true
	}
	for i, rule := range rs.Rules {
		if !safe[rule] {
			continue
		}
		keys := make(map[string]bool)
		for _, key := range rule.BlockingKeys(incoming.Values(i)) {
			keys[key] = true
		}
		b.rules = append(b.rules, rule)
		b.index = append(b.index, i)
		b.keys = append(b.keys, keys)
	}
	return b
}

// excludesAll holds when a blocking rule has no incoming keys, so every
// golden record scores zero on it
func (b *blocker) excludesAll() bool {
	for _, keys := range b.keys {
		if len(keys) == 0 {
			return true
		}
	}
	return false
}

func (b *blocker) admits(candidate *rules.Profile) bool {
	for n, rule := range b.rules {
		shared := false
		for _, key := range rule.BlockingKeys(candidate.Values(b.index[n])) {
			if b.keys[n][key] {
				shared = true
				break
			}
		}
		if !shared {
			return false
		}
	}
	return true
}
