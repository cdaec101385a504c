package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store"
)

func seed(id string, eids ...string) *models.Record {
	return &models.Record{
		ID:           id,
		ResourceType: models.ResourceTypePatient,
		EIDs:         eids,
		Resource:     map[string]any{"resourceType": "Patient", "id": id},
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	var goldenID string
	boom := errors.New("boom")
	err := s.WithinTx(ctx, "a", func(ctx context.Context) error {
		golden, err := s.Create(ctx, seed("a"))
		require.NoError(t, err)
		goldenID = golden.ID
		_, err = s.Upsert(ctx, &models.Link{SourceID: "a", GoldenID: golden.ID, MatchResult: models.MatchResultMatch, LinkSource: models.LinkSourceAuto})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, goldenID)
	assert.True(t, mdmerror.IsNotFound(err))
	links, err := s.FindBySource(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestStore_RollbackRestoresPreviousLink(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.Upsert(ctx, &models.Link{SourceID: "a", GoldenID: "g", MatchResult: models.MatchResultPossibleMatch, LinkSource: models.LinkSourceAuto})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	_ = s.WithinTx(ctx, "a", func(ctx context.Context) error {
		second, err := s.Upsert(ctx, &models.Link{SourceID: "a", GoldenID: "g", MatchResult: models.MatchResultMatch, LinkSource: models.LinkSourceManual})
		require.NoError(t, err)
		assert.Equal(t, 2, second.Version)
		assert.Equal(t, first.ID, second.ID)
		return errors.New("abort")
	})

	link, err := s.Find(ctx, "a", "g")
	require.NoError(t, err)
	assert.Equal(t, models.MatchResultPossibleMatch, link.MatchResult)
	assert.Equal(t, 1, link.Version)
}

func TestStore_CancelledContextRollsBack(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, "a", func(txCtx context.Context) error {
		_, err := s.Create(txCtx, seed("a"))
		require.NoError(t, err)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	count := 0
	for _, err := range s.PoolFor(context.Background(), models.ResourceTypePatient) {
		require.NoError(t, err)
		count++
	}
	assert.Zero(t, count)
}

func TestStore_CommitHooks(t *testing.T) {
	ctx := context.Background()
	s := New()

	var ran []string
	err := s.WithinTx(ctx, "a", func(ctx context.Context) error {
		store.AfterCommit(ctx, func(context.Context) { ran = append(ran, "outer") })
		return s.WithinTx(ctx, "a", func(ctx context.Context) error {
			store.AfterCommit(ctx, func(context.Context) { ran = append(ran, "nested") })
			assert.Empty(t, ran)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "nested"}, ran)

	ran = nil
	_ = s.WithinTx(ctx, "a", func(ctx context.Context) error {
		store.AfterCommit(ctx, func(context.Context) { ran = append(ran, "dropped") })
		return errors.New("abort")
	})
	assert.Empty(t, ran)
}

func TestStore_FaultFailsWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetFault(func(op string) error {
		if op == "golden.update" {
			return mdmerror.Transient("store unavailable")
		}
		return nil
	})

	golden, err := s.Create(ctx, seed("a", "EID-1"))
	require.NoError(t, err)
	_, err = s.Update(ctx, golden)
	assert.True(t, mdmerror.IsTransient(err))
}

func TestStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.PutRecord(seed("incoming"))
	record, err := s.Fetch(ctx, "incoming")
	require.NoError(t, err)
	record.Resource["mutated"] = true
	again, err := s.Fetch(ctx, "incoming")
	require.NoError(t, err)
	assert.NotContains(t, again.Resource, "mutated")

	_, err = s.Fetch(ctx, "missing")
	assert.True(t, mdmerror.IsNotFound(err))

	g1, err := s.Create(ctx, seed("x", "EID-1"))
	require.NoError(t, err)
	g2, err := s.Create(ctx, seed("y", "EID-1", "EID-2"))
	require.NoError(t, err)
	assert.True(t, g1.Golden)
	assert.Equal(t, g1.ID, g1.Resource["id"])

	found, err := s.FindByEID(ctx, models.ResourceTypePatient, "EID-1")
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Less(t, found[0].ID, found[1].ID)

	found, err = s.FindByEID(ctx, models.ResourceTypePractitioner, "EID-1")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = s.Upsert(ctx, &models.Link{SourceID: "incoming", GoldenID: g2.ID, MatchResult: models.MatchResultMatch})
	require.NoError(t, err)
	byGolden, err := s.FindByGolden(ctx, g2.ID)
	require.NoError(t, err)
	require.Len(t, byGolden, 1)
	assert.Equal(t, "incoming", byGolden[0].SourceID)
}

func TestStore_TransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	s := New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinTx(ctx, "k", func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				_, err := s.Create(ctx, seed("r"))

				mu.Lock()
				active--
				mu.Unlock()
				return err
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
}
