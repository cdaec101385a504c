// Package graph projects link decisions into Memgraph/Neo4j over Bolt
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Work is a unit of Cypher run inside one managed transaction
type Work func(tx neo4j.ManagedTransaction) (any, error)

// Config addresses the Bolt endpoint. An empty Username connects without auth.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Database selects a named database; empty uses the server default
	Database string
	// PoolSize caps open Bolt connections; zero keeps the driver default
	PoolSize int
}

// Client runs projection writes and cluster reads against the link graph
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port), auth, func(c *neo4j.Config) {
		if cfg.PoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.PoolSize
		}
	})
	if err != nil {
		return nil, mdmerror.Configuration("invalid graph endpoint %s:%d: %v", cfg.Host, cfg.Port, err)
	}

	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// VerifyConnectivity fails with a transient error while the server is unreachable
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return mdmerror.Transient("graph database unreachable: %v", err)
	}
	return nil
}

// ExecuteWrite runs work in a write transaction. Driver failures are transient.
func (c *Client) ExecuteWrite(ctx context.Context, work Work) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ExecuteWrite")
	defer span.End()
	return c.execute(ctx, neo4j.AccessModeWrite, work)
}

// ExecuteRead runs work in a read transaction. Driver failures are transient.
func (c *Client) ExecuteRead(ctx context.Context, work Work) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ExecuteRead")
	defer span.End()
	return c.execute(ctx, neo4j.AccessModeRead, work)
}

func (c *Client) execute(ctx context.Context, mode neo4j.AccessMode, work Work) (any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.database})
	defer session.Close(ctx)

	var (
		result any
		err    error
	)
	if mode == neo4j.AccessModeRead {
		result, err = session.ExecuteRead(ctx, neo4j.ManagedTransactionWork(work))
	} else {
		result, err = session.ExecuteWrite(ctx, neo4j.ManagedTransactionWork(work))
	}
	if err != nil {
		return nil, mdmerror.Transient("graph transaction failed: %v", err)
	}
	return result, nil
}

// indexes are the lookups MERGE on source and golden nodes needs
var indexes = []string{
	"CREATE INDEX ON :SourceRecord(id)",
	"CREATE INDEX ON :GoldenRecord(id)",
}

// EnsureIndexes creates the node indexes. Memgraph rejects an index that
// already exists, so failures are only logged.
func (c *Client) EnsureIndexes(ctx context.Context) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: c.database})
	defer session.Close(ctx)

	for _, cypher := range indexes {
		if _, err := session.Run(ctx, cypher, nil); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("statement", cypher).Debug("Graph index not created")
		}
	}
}
