package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Relationship types written by the projection
const (
	RelLinked            = "LINKED"
	RelPossibleDuplicate = "POSSIBLE_DUPLICATE"
)

// Writes are guarded by the link version so a late, older change never
// overwrites a newer one.
const (
	linkCypher = `
		MERGE (s:SourceRecord {id: $source_id})
		  ON CREATE SET s.resource_type = $resource_type
		MERGE (g:GoldenRecord {id: $golden_id})
		  ON CREATE SET g.resource_type = $resource_type
		MERGE (s)-[r:LINKED]->(g)
		WITH r
		WHERE r.version IS NULL OR r.version < $version
		SET r += $props
	`

	duplicateCypher = `
		MERGE (a:GoldenRecord {id: $source_id})
		  ON CREATE SET a.resource_type = $resource_type
		MERGE (b:GoldenRecord {id: $golden_id})
		  ON CREATE SET b.resource_type = $resource_type
		MERGE (a)-[r:POSSIBLE_DUPLICATE]->(b)
		WITH r
		WHERE r.version IS NULL OR r.version < $version
		SET r += $props
	`
)

// Projection mirrors committed links into the graph: record-to-golden links
// as LINKED edges and golden-to-golden flags as POSSIBLE_DUPLICATE edges
type Projection struct {
	client *Client
	logger ectologger.Logger
}

// NewProjection creates a link projection
func NewProjection(client *Client, logger ectologger.Logger) *Projection {
	return &Projection{
		client: client,
		logger: logger,
	}
}

// LinkChanged projects a committed link change. Failures are logged; the
// graph is a derived view and can be rebuilt from the link store.
func (p *Projection) LinkChanged(ctx context.Context, change models.LinkChange) {
	if err := p.Project(ctx, change.Current); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_id": change.Current.SourceID,
			"golden_id": change.Current.GoldenID,
		}).Error("Failed to project link")
	}
}

// Project writes a single link
func (p *Projection) Project(ctx context.Context, link *models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.Project")
	defer span.End()

	cypher, params := statementFor(link)
	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to project link in graph: %w", err)
	}
	return nil
}

// Rebuild projects every link of a golden record, used to repair the graph
func (p *Projection) Rebuild(ctx context.Context, links []models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.Rebuild")
	defer span.End()

	if len(links) == 0 {
		return nil
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i := range links {
			cypher, params := statementFor(&links[i])
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("links", len(links)).Error("Failed to rebuild graph links")
		return fmt.Errorf("failed to rebuild graph links: %w", err)
	}
	return nil
}

func statementFor(link *models.Link) (string, map[string]any) {
	cypher := linkCypher
	if link.MatchResult == models.MatchResultPossibleDuplicate {
		cypher = duplicateCypher
	}

	return cypher, map[string]any{
		"source_id":     link.SourceID,
		"golden_id":     link.GoldenID,
		"resource_type": string(link.ResourceType),
		"version":       int64(link.Version),
		"props": map[string]any{
			"id":           link.ID,
			"match_result": string(link.MatchResult),
			"link_source":  string(link.LinkSource),
			"score":        link.Score,
			"version":      int64(link.Version),
			"updated_at":   link.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	}
}
