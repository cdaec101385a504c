package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/internal/testhelpers"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/processor"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func openStores(t *testing.T) store.Stores {
	t.Helper()
	dsn := testhelpers.Postgres(t)
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{DSN: dsn}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	instance, ok := db.(*database.DatabaseInstance)
	require.True(t, ok)
	migrations := database.NewMigrationService(testLogger(), &database.MigrationConfig{MigrationFolderPath: testhelpers.MigrationsDir()})
	require.NoError(t, migrations.MigratePostgres(instance.DB.DB))

	return NewStores(db, testLogger())
}

func patient(id, family string) *models.Record {
	return &models.Record{
		ID:           id,
		ResourceType: models.ResourceTypePatient,
		Resource: map[string]any{
			"resourceType": "Patient",
			"id":           id,
			"name":         []any{map[string]any{"family": family}},
		},
	}
}

func TestPostgresStores(t *testing.T) {
	stores := openStores(t)
	ctx := context.Background()

	t.Run("source records", func(t *testing.T) {
		require.NoError(t, stores.Records.Put(ctx, patient("s1", "Doe")))
		tagged := patient("s1", "Dwyer")
		tagged.EIDs = []string{"EID-S1"}
		require.NoError(t, stores.Records.Put(ctx, tagged))

		found, err := stores.Records.Fetch(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"EID-S1"}, found.EIDs)
		assert.Equal(t, "Dwyer", found.Resource["name"].([]any)[0].(map[string]any)["family"])

		_, err = stores.Records.Fetch(ctx, "missing")
		assert.True(t, mdmerror.IsNotFound(err))
	})

	t.Run("golden records", func(t *testing.T) {
		seed := patient("s2", "Lee")
		seed.EIDs = []string{"EID-PG"}
		golden, err := stores.Goldens.Create(ctx, seed)
		require.NoError(t, err)
		assert.True(t, golden.Golden)
		assert.Equal(t, golden.ID, golden.Resource["id"])

		golden.EIDs = append(golden.EIDs, "EID-PG-2")
		golden.Resource["gender"] = "female"
		updated, err := stores.Goldens.Update(ctx, golden)
		require.NoError(t, err)
		assert.Equal(t, []string{"EID-PG", "EID-PG-2"}, updated.EIDs)

		byEID, err := stores.Goldens.FindByEID(ctx, models.ResourceTypePatient, "EID-PG-2")
		require.NoError(t, err)
		require.Len(t, byEID, 1)
		assert.Equal(t, "female", byEID[0].Resource["gender"])

		var pool []string
		for record, err := range stores.Goldens.PoolFor(ctx, models.ResourceTypePatient) {
			require.NoError(t, err)
			pool = append(pool, record.ID)
		}
		assert.Contains(t, pool, golden.ID)

		_, err = stores.Goldens.Get(ctx, "missing")
		assert.True(t, mdmerror.IsNotFound(err))
	})

	t.Run("links upsert on the pair", func(t *testing.T) {
		golden, err := stores.Goldens.Create(ctx, patient("s3", "Ray"))
		require.NoError(t, err)

		first, err := stores.Links.Upsert(ctx, &models.Link{
			SourceID: "s3", GoldenID: golden.ID, ResourceType: models.ResourceTypePatient,
			MatchResult: models.MatchResultPossibleMatch, LinkSource: models.LinkSourceAuto, Score: 0.7,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, first.Version)

		second, err := stores.Links.Upsert(ctx, &models.Link{
			SourceID: "s3", GoldenID: golden.ID, ResourceType: models.ResourceTypePatient,
			MatchResult: models.MatchResultMatch, LinkSource: models.LinkSourceManual, Score: 0.7,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, second.Version)
		assert.Equal(t, models.MatchResultMatch, second.MatchResult)

		bySource, err := stores.Links.FindBySource(ctx, "s3")
		require.NoError(t, err)
		require.Len(t, bySource, 1)

		_, err = stores.Links.Find(ctx, "s3", "missing")
		assert.True(t, mdmerror.IsNotFound(err))
	})

	t.Run("transactions roll back", func(t *testing.T) {
		boom := errors.New("boom")
		var goldenID string
		err := stores.Transactor.WithinTx(ctx, "s4", func(ctx context.Context) error {
			golden, err := stores.Goldens.Create(ctx, patient("s4", "Kim"))
			require.NoError(t, err)
			goldenID = golden.ID
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = stores.Goldens.Get(ctx, goldenID)
		assert.True(t, mdmerror.IsNotFound(err))
	})
}

func TestPostgresStores_ConcurrentRecords(t *testing.T) {
	stores := openStores(t)
	ctx := context.Background()

	holder := rules.NewHolder(matching.DefaultRegistry(), testLogger())
	_, err := holder.LoadBytes(ctx, []byte(`
matchThreshold: 1.0
possibleMatchThreshold: 0.5
rules:
  - {name: family, matcher: exact, weight: 1.0, appliesTo: "name[0].family"}
`))
	require.NoError(t, err)
	core := processor.Wire(stores, holder, testLogger())

	require.NoError(t, stores.Records.Put(ctx, patient("a", "Novak")))
	first, err := core.Processor.Process(ctx, "a")
	require.NoError(t, err)
	require.True(t, first.Resolution.Created)

	b1 := patient("b1", "Novak")
	b1.EIDs = []string{"EID-X"}
	b2 := patient("b2", "Novak")
	b2.EIDs = []string{"EID-Y"}
	require.NoError(t, stores.Records.Put(ctx, b1))
	require.NoError(t, stores.Records.Put(ctx, b2))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"b1", "b2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = core.Processor.Process(ctx, id)
		}(i, id)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	links, err := stores.Links.FindByGolden(ctx, first.Resolution.GoldenID)
	require.NoError(t, err)
	assert.Len(t, links, 3)
	for _, link := range links {
		assert.Equal(t, models.MatchResultMatch, link.MatchResult)
	}

	golden, err := stores.Goldens.Get(ctx, first.Resolution.GoldenID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"EID-X", "EID-Y"}, golden.EIDs, "both merges survive")

	for _, eid := range []string{"EID-X", "EID-Y"} {
		found, err := stores.Goldens.FindByEID(ctx, models.ResourceTypePatient, eid)
		require.NoError(t, err)
		require.Len(t, found, 1, eid)
		assert.Equal(t, first.Resolution.GoldenID, found[0].ID)
	}
}
