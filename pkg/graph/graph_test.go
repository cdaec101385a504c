package graph

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/internal/testhelpers"
	"github.com/Ramsey-B/sage/pkg/models"
)

func link(source, golden string, result models.MatchResult, version int) *models.Link {
	return &models.Link{
		ID:           source + "-" + golden,
		SourceID:     source,
		GoldenID:     golden,
		ResourceType: models.ResourceTypePatient,
		MatchResult:  result,
		LinkSource:   models.LinkSourceAuto,
		Score:        0.9,
		Version:      version,
		UpdatedAt:    time.Now(),
	}
}

func TestStatementFor(t *testing.T) {
	cypher, params := statementFor(link("p1", "g1", models.MatchResultMatch, 2))
	assert.Equal(t, linkCypher, cypher)
	assert.Equal(t, "p1", params["source_id"])
	assert.Equal(t, int64(2), params["version"])
	props := params["props"].(map[string]any)
	assert.Equal(t, "MATCH", props["match_result"])
	assert.Equal(t, "AUTO", props["link_source"])

	cypher, _ = statementFor(link("g1", "g2", models.MatchResultPossibleDuplicate, 1))
	assert.Equal(t, duplicateCypher, cypher)
}

func TestProjection_Memgraph(t *testing.T) {
	ep := testhelpers.Memgraph(t)
	port, err := strconv.Atoi(ep.Port)
	require.NoError(t, err)

	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(Config{Host: ep.Host, Port: port}, logger)
	require.NoError(t, err)
	defer client.Close(ctx)

	require.Eventually(t, func() bool { return client.VerifyConnectivity(ctx) == nil }, 30*time.Second, 500*time.Millisecond)
	client.EnsureIndexes(ctx)

	projection := NewProjection(client, logger)
	queries := NewQueryService(client, logger)

	require.NoError(t, projection.Project(ctx, link("p1", "g1", models.MatchResultMatch, 2)))
	require.NoError(t, projection.Project(ctx, link("p2", "g1", models.MatchResultPossibleMatch, 1)))

	t.Run("stale versions are ignored", func(t *testing.T) {
		require.NoError(t, projection.Project(ctx, link("p1", "g1", models.MatchResultNoMatch, 1)))

		linked, err := queries.LinkedRecords(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, linked, 2)
		assert.Equal(t, "p1", linked[0].SourceID)
		assert.Equal(t, "MATCH", linked[0].MatchResult)
		assert.Equal(t, "POSSIBLE_MATCH", linked[1].MatchResult)
	})

	t.Run("duplicate cluster spans hops", func(t *testing.T) {
		projection.LinkChanged(ctx, models.LinkChange{Current: link("g1", "g2", models.MatchResultPossibleDuplicate, 1)})
		projection.LinkChanged(ctx, models.LinkChange{Current: link("g2", "g3", models.MatchResultPossibleDuplicate, 1)})

		cluster, err := queries.DuplicateCluster(ctx, "g3", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1", "g2"}, cluster)
	})

	t.Run("rebuild", func(t *testing.T) {
		require.NoError(t, projection.Rebuild(ctx, []models.Link{
			*link("p3", "g4", models.MatchResultMatch, 1),
			*link("p4", "g4", models.MatchResultMatch, 1),
		}))
		linked, err := queries.LinkedRecords(ctx, "g4")
		require.NoError(t, err)
		assert.Len(t, linked, 2)
	})
}
