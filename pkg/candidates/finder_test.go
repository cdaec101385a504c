package candidates

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store/memory"
)

const eidSystem = "http://company.io/fhir/NamingSystem/custom-eid-system"

const testRules = `
eidSystem: "` + eidSystem + `"
matchThreshold: 1.5
possibleMatchThreshold: 1.0
rules:
  - {name: family, matcher: string, weight: 1.0, appliesTo: "name[0].family", blocking: true}
  - {name: given, matcher: string, weight: 0.5, appliesTo: "name[0].given[0]"}
  - {name: dob, matcher: date, weight: 0.4, appliesTo: birthDate}
`

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func person(id, given, family, birthDate string, eids ...string) *models.Record {
	identifiers := []any{}
	for _, eid := range eids {
		identifiers = append(identifiers, map[string]any{"system": eidSystem, "value": eid})
	}
	return &models.Record{
		ID:           id,
		ResourceType: models.ResourceTypePatient,
		Resource: map[string]any{
			"resourceType": "Patient",
			"id":           id,
			"name":         []any{map[string]any{"given": []any{given}, "family": family}},
			"birthDate":    birthDate,
			"identifier":   identifiers,
		},
	}
}

func newHolder(t *testing.T, doc string) *rules.Holder {
	t.Helper()
	holder := rules.NewHolder(matching.DefaultRegistry(), testLogger())
	_, err := holder.LoadBytes(context.Background(), []byte(doc))
	require.NoError(t, err)
	return holder
}

func createGolden(t *testing.T, s *memory.Store, seed *models.Record, eids ...string) *models.Record {
	t.Helper()
	seed = seed.Clone()
	seed.EIDs = eids
	golden, err := s.Create(context.Background(), seed)
	require.NoError(t, err)
	return golden
}

type countingStrategy struct {
	name  string
	list  []models.MatchedCandidate
	calls int
}

func (c *countingStrategy) Name() string { return c.name }

func (c *countingStrategy) Find(context.Context, *models.Record, *rules.RuleSet) (models.CandidateList, error) {
	c.calls++
	return models.CandidateList{Strategy: c.name, Candidates: c.list}, nil
}

func TestFinder_EIDMatchIsDeterministic(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	holder := newHolder(t, testRules)
	finder := NewDefaultFinder(s.Stores(), holder, rules.NewEngine(), testLogger())

	golden := createGolden(t, s, person("seed", "Jane", "Doe", "1980-01-01"), "EID-42")
	createGolden(t, s, person("other", "Zed", "Zulu", "1999-09-09"))

	for _, incoming := range []*models.Record{
		person("a", "Jane", "Doe", "1980-01-01", "EID-42"),
		person("b", "Completely", "Different", "2001-02-03", "EID-42"),
		person("c", "", "", "", "EID-42"),
	} {
		list, err := finder.FindGoldenResourceCandidates(ctx, incoming)
		require.NoError(t, err)
		assert.Equal(t, models.StrategyEID, list.Strategy)
		require.Equal(t, 1, list.Len(), incoming.ID)
		assert.Equal(t, golden.ID, list.Candidates[0].GoldenID)
		assert.Equal(t, models.MatchResultMatch, list.Candidates[0].MatchResult)
		assert.Equal(t, 1.0, list.Candidates[0].Score)
	}
}

func TestFinder_ShortCircuits(t *testing.T) {
	ctx := context.Background()
	holder := newHolder(t, testRules)

	eid := &countingStrategy{name: models.StrategyEID}
	link := &countingStrategy{name: models.StrategyLink, list: []models.MatchedCandidate{
		{GoldenID: "g1", MatchResult: models.MatchResultPossibleMatch, LinkSource: models.LinkSourceManual},
	}}
	score := &countingStrategy{name: models.StrategyScore}

	finder := NewFinder(holder, testLogger(), eid, link, score)
	list, err := finder.FindGoldenResourceCandidates(ctx, person("a", "Jane", "Doe", ""))
	require.NoError(t, err)

	assert.Equal(t, models.StrategyLink, list.Strategy)
	assert.Equal(t, 1, eid.calls)
	assert.Equal(t, 1, link.calls)
	assert.Zero(t, score.calls, "score strategy must not run when links exist")
}

func TestFinder_LinkStrategyReturnsLinksVerbatim(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	holder := newHolder(t, testRules)
	finder := NewDefaultFinder(s.Stores(), holder, rules.NewEngine(), testLogger())

	golden := createGolden(t, s, person("seed", "Jane", "Doe", "1980-01-01"))
	_, err := s.Upsert(ctx, &models.Link{
		SourceID:    "a",
		GoldenID:    golden.ID,
		MatchResult: models.MatchResultNoMatch,
		LinkSource:  models.LinkSourceManual,
		Score:       0.2,
	})
	require.NoError(t, err)

	list, err := finder.FindGoldenResourceCandidates(ctx, person("a", "Jane", "Doe", "1980-01-01"))
	require.NoError(t, err)
	assert.Equal(t, models.StrategyLink, list.Strategy)
	assert.Equal(t, []models.MatchedCandidate{{
		GoldenID:    golden.ID,
		Score:       0.2,
		MatchResult: models.MatchResultNoMatch,
		LinkSource:  models.LinkSourceManual,
	}}, list.Candidates)
}

func TestScoreStrategy_OrdersAndDropsNoMatch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	holder := newHolder(t, testRules)
	rs, err := holder.Current()
	require.NoError(t, err)

	exact := createGolden(t, s, person("x", "Jane", "Doe", "1980-01-01"))
	partial := createGolden(t, s, person("y", "Janet", "Doe", "1975-06-01"))
	createGolden(t, s, person("z", "Jane", "Smith", "1980-01-01"))

	strategy := NewScoreStrategy(s, rules.NewEngine(), testLogger())
	list, err := strategy.Find(ctx, person("a", "jane", " DOE", "1980-01-01"), rs)
	require.NoError(t, err)

	require.Equal(t, 2, list.Len())
	assert.Equal(t, exact.ID, list.Candidates[0].GoldenID)
	assert.Equal(t, models.MatchResultMatch, list.Candidates[0].MatchResult)
	assert.InDelta(t, 1.9, list.Candidates[0].Score, 1e-9)
	assert.Equal(t, partial.ID, list.Candidates[1].GoldenID)
	assert.Equal(t, models.MatchResultPossibleMatch, list.Candidates[1].MatchResult)
}

func TestScoreStrategy_BlockingMatchesExhaustiveScoring(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	blocked := newHolder(t, testRules)
	exhaustive := newHolder(t, `
matchThreshold: 1.5
possibleMatchThreshold: 1.0
rules:
  - {name: family, matcher: string, weight: 1.0, appliesTo: "name[0].family"}
  - {name: given, matcher: string, weight: 0.5, appliesTo: "name[0].given[0]"}
  - {name: dob, matcher: date, weight: 0.4, appliesTo: birthDate}
`)

	for _, p := range []*models.Record{
		person("1", "Jane", "Doe", "1980-01-01"),
		person("2", "Jane", "Dow", "1980-01-01"),
		person("3", "John", "Doe", "1981-01-01"),
		person("4", "Jane", "", "1980-01-01"),
		person("5", "Ann", "doe", ""),
	} {
		createGolden(t, s, p)
	}

	strategy := NewScoreStrategy(s, rules.NewEngine(), testLogger())
	for _, incoming := range []*models.Record{
		person("a", "Jane", "Doe", "1980-01-01"),
		person("b", "Jane", "", "1980-01-01"),
		person("c", "ann", "DOE", "1990-01-01"),
	} {
		rsBlocked, _ := blocked.Current()
		rsExhaustive, _ := exhaustive.Current()
		withBlocking, err := strategy.Find(ctx, incoming, rsBlocked)
		require.NoError(t, err)
		without, err := strategy.Find(ctx, incoming, rsExhaustive)
		require.NoError(t, err)
		assert.Equal(t, without.Candidates, withBlocking.Candidates, incoming.ID)
	}
}

func TestFinder_Errors(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	empty := rules.NewHolder(matching.DefaultRegistry(), testLogger())
	finder := NewDefaultFinder(s.Stores(), empty, rules.NewEngine(), testLogger())
	_, err := finder.FindGoldenResourceCandidates(ctx, person("a", "Jane", "Doe", ""))
	assert.True(t, mdmerror.IsConfiguration(err))

	finder = NewDefaultFinder(s.Stores(), newHolder(t, testRules), rules.NewEngine(), testLogger())
	record := person("a", "Jane", "Doe", "")
	record.ResourceType = "Device"
	_, err = finder.FindGoldenResourceCandidates(ctx, record)
	assert.Equal(t, mdmerror.StatusBadRequest, httperror.GetStatusCode(err))
}
