package linking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store/memory"
)

type fixture struct {
	store   *memory.Store
	service *Service
	goldens []string

	mu      sync.Mutex
	changes []models.LinkChange
}

func newFixture(t *testing.T, goldens int) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	f.service = NewService(f.store.Stores(), logger, ObserverFunc(func(_ context.Context, change models.LinkChange) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.changes = append(f.changes, change)
	}))

	f.store.PutRecord(record("a"))
	f.store.PutRecord(record("b"))
	for i := 0; i < goldens; i++ {
		golden, err := f.store.Create(context.Background(), record("seed"))
		require.NoError(t, err)
		f.goldens = append(f.goldens, golden.ID)
	}
	return f
}

func record(id string) *models.Record {
	return &models.Record{
		ID:           id,
		ResourceType: models.ResourceTypePatient,
		Resource:     map[string]any{"resourceType": "Patient", "id": id},
	}
}

func (f *fixture) links(t *testing.T, sourceID string) []models.Link {
	t.Helper()
	links, err := f.store.FindBySource(context.Background(), sourceID)
	require.NoError(t, err)
	return links
}

func countMatches(links []models.Link) int {
	n := 0
	for _, link := range links {
		if link.MatchResult == models.MatchResultMatch {
			n++
		}
	}
	return n
}

func TestUpdateLink_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	first, err := f.service.UpdateLink(ctx, "a", f.goldens[0], models.MatchResultMatch, models.LinkSourceAuto)
	require.NoError(t, err)
	second, err := f.service.UpdateLink(ctx, "a", f.goldens[0], models.MatchResultMatch, models.LinkSourceAuto)
	require.NoError(t, err)

	links := f.links(t, "a")
	require.Len(t, links, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, links[0].Version)
	assert.Len(t, f.changes, 1, "an unchanged decision is not observed twice")
	assert.True(t, f.changes[0].Created())
}

func TestUpdateLink_ManualIsSticky(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.service.UpdateLink(ctx, "a", f.goldens[0], models.MatchResultPossibleMatch, models.LinkSourceManual)
	require.NoError(t, err)

	link, err := f.service.UpdateLink(ctx, "a", f.goldens[0], models.MatchResultNoMatch, models.LinkSourceAuto)
	require.NoError(t, err, "an auto decision over a manual link is acknowledged")
	assert.Equal(t, models.MatchResultPossibleMatch, link.MatchResult)

	stored, err := f.store.Find(ctx, "a", f.goldens[0])
	require.NoError(t, err)
	assert.Equal(t, models.MatchResultPossibleMatch, stored.MatchResult)
	assert.Equal(t, models.LinkSourceManual, stored.LinkSource)

	link, err = f.service.UpdateLink(ctx, "a", f.goldens[0], models.MatchResultNoMatch, models.LinkSourceManual)
	require.NoError(t, err, "a reviewer can overrule a reviewer")
	assert.Equal(t, models.MatchResultNoMatch, link.MatchResult)
}

func TestUpdateLink_AtMostOneMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	steps := []struct {
		golden int
		result models.MatchResult
		source models.LinkSource
	}{
		{0, models.MatchResultMatch, models.LinkSourceAuto},
		{1, models.MatchResultMatch, models.LinkSourceAuto},
		{2, models.MatchResultPossibleMatch, models.LinkSourceAuto},
		{2, models.MatchResultMatch, models.LinkSourceManual},
		{0, models.MatchResultMatch, models.LinkSourceAuto},
		{1, models.MatchResultMatch, models.LinkSourceManual},
		{1, models.MatchResultNoMatch, models.LinkSourceManual},
		{0, models.MatchResultMatch, models.LinkSourceAuto},
	}
	for i, step := range steps {
		_, err := f.service.UpdateLink(ctx, "a", f.goldens[step.golden], step.result, step.source)
		require.NoError(t, err, "step %d", i)
		assert.LessOrEqual(t, countMatches(f.links(t, "a")), 1, "step %d", i)
	}

	stored, err := f.store.Find(ctx, "a", f.goldens[1])
	require.NoError(t, err)
	assert.Equal(t, models.MatchResultNoMatch, stored.MatchResult)
	assert.Len(t, f.links(t, "a"), 3, "history is demoted, never deleted")
}

func TestUpdateLink_AutoMatchDoesNotOverruleManualMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.service.UpdateLink(ctx, "a", f.goldens[0], models.MatchResultMatch, models.LinkSourceManual)
	require.NoError(t, err)
	link, err := f.service.UpdateLink(ctx, "a", f.goldens[1], models.MatchResultMatch, models.LinkSourceAuto)
	require.NoError(t, err)

	assert.Equal(t, models.MatchResultPossibleMatch, link.MatchResult)
	manual, err := f.store.Find(ctx, "a", f.goldens[0])
	require.NoError(t, err)
	assert.Equal(t, models.MatchResultMatch, manual.MatchResult)
}

func TestUpdateLink_ConcurrentMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)

	var wg sync.WaitGroup
	for _, golden := range f.goldens {
		wg.Add(1)
		go func(golden string) {
			defer wg.Done()
			_, err := f.service.UpdateLink(ctx, "a", golden, models.MatchResultMatch, models.LinkSourceAuto)
			assert.NoError(t, err)
		}(golden)
	}
	wg.Wait()

	links := f.links(t, "a")
	assert.Len(t, links, 4)
	assert.Equal(t, 1, countMatches(links))
}

func TestUpdateLink_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	tests := []struct {
		name   string
		source string
		golden string
		result models.MatchResult
	}{
		{"possible duplicate on incoming record", "a", f.goldens[0], models.MatchResultPossibleDuplicate},
		{"match between golden records", f.goldens[0], f.goldens[1], models.MatchResultMatch},
		{"possible match between golden records", f.goldens[1], f.goldens[0], models.MatchResultPossibleMatch},
		{"self link", f.goldens[0], f.goldens[0], models.MatchResultPossibleDuplicate},
		{"non golden target", "a", "b", models.MatchResultMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.UpdateLink(ctx, tt.source, tt.golden, tt.result, models.LinkSourceManual)
			require.Error(t, err)
			assert.True(t, mdmerror.IsInvalidTransition(err), "got %v", err)
		})
	}

	assert.Empty(t, f.links(t, "a"))
	assert.Empty(t, f.changes)
}

func TestUpdateLink_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.service.UpdateLink(ctx, "a", "missing", models.MatchResultMatch, models.LinkSourceManual)
	assert.True(t, mdmerror.IsNotFound(err))
	_, err = f.service.UpdateLink(ctx, "missing", f.goldens[0], models.MatchResultMatch, models.LinkSourceManual)
	assert.True(t, mdmerror.IsNotFound(err))
}

func TestUpdateLink_GoldenPairsAreCanonical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	low, high := f.goldens[0], f.goldens[1]
	if high < low {
		low, high = high, low
	}

	link, err := f.service.UpdateLink(ctx, high, low, models.MatchResultPossibleDuplicate, models.LinkSourceAuto)
	require.NoError(t, err)
	assert.Equal(t, low, link.SourceID)
	assert.Equal(t, high, link.GoldenID)

	_, err = f.service.UpdateLink(ctx, low, high, models.MatchResultNoMatch, models.LinkSourceManual)
	require.NoError(t, err)

	links, err := f.service.LinksForGolden(ctx, low)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, models.MatchResultNoMatch, links[0].MatchResult)
}

func TestApply_ObserversWaitForCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	abort := errors.New("abort")
	err := f.store.WithinTx(ctx, "a", func(ctx context.Context) error {
		_, err := f.service.Apply(ctx, Decision{
			SourceID:    "a",
			GoldenID:    f.goldens[0],
			MatchResult: models.MatchResultMatch,
			LinkSource:  models.LinkSourceAuto,
			Score:       Score(0.9),
		})
		require.NoError(t, err)
		assert.Empty(t, f.changes)
		return abort
	})
	require.ErrorIs(t, err, abort)

	assert.Empty(t, f.changes)
	assert.Empty(t, f.links(t, "a"))
}
