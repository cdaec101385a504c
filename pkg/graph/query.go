package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/sage/pkg/tracing"
)

// QueryService answers read questions about the link graph
type QueryService struct {
	client *Client
	logger ectologger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(client *Client, logger ectologger.Logger) *QueryService {
	return &QueryService{
		client: client,
		logger: logger,
	}
}

// LinkedRecord is a source record attached to a golden record in the graph
type LinkedRecord struct {
	SourceID    string  `json:"sourceId"`
	MatchResult string  `json:"matchResult"`
	LinkSource  string  `json:"linkSource"`
	Score       float64 `json:"score"`
}

// LinkedRecords returns the records linked to a golden record, ordered by id
func (s *QueryService) LinkedRecords(ctx context.Context, goldenID string) ([]LinkedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.LinkedRecords")
	defer span.End()

	cypher := `
		MATCH (s:SourceRecord)-[r:LINKED]->(g:GoldenRecord {id: $golden_id})
		RETURN s.id AS source_id, r.match_result AS match_result, r.link_source AS link_source, r.score AS score
		ORDER BY source_id
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"golden_id": goldenID})
		if err != nil {
			return nil, err
		}

		out := make([]LinkedRecord, 0)
		for result.Next(ctx) {
			record := result.Record()
			out = append(out, LinkedRecord{
				SourceID:    stringValue(record, "source_id"),
				MatchResult: stringValue(record, "match_result"),
				LinkSource:  stringValue(record, "link_source"),
				Score:       floatValue(record, "score"),
			})
		}
		return out, result.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to query linked records")
		return nil, fmt.Errorf("failed to query linked records: %w", err)
	}

	return result.([]LinkedRecord), nil
}

// DuplicateCluster returns the golden records reachable from goldenID over
// POSSIBLE_DUPLICATE edges in either direction, within maxHops
func (s *QueryService) DuplicateCluster(ctx context.Context, goldenID string, maxHops int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.DuplicateCluster")
	defer span.End()

	if maxHops <= 0 {
		maxHops = 3
	}

	cypher := fmt.Sprintf(`
		MATCH (g:GoldenRecord {id: $golden_id})-[:POSSIBLE_DUPLICATE *1..%d]-(other:GoldenRecord)
		WHERE other.id <> $golden_id
		RETURN DISTINCT other.id AS id
		ORDER BY id
	`, maxHops)

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"golden_id": goldenID})
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0)
		for result.Next(ctx) {
			ids = append(ids, stringValue(result.Record(), "id"))
		}
		return ids, result.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to query duplicate cluster")
		return nil, fmt.Errorf("failed to query duplicate cluster: %w", err)
	}

	return result.([]string), nil
}

func stringValue(record *neo4j.Record, key string) string {
	v, _ := record.Get(key)
	s, _ := v.(string)
	return s
}

func floatValue(record *neo4j.Record, key string) float64 {
	v, _ := record.Get(key)
	switch typed := v.(type) {
	case float64:
		return typed
	case int64:
		return float64(typed)
	}
	return 0
}
