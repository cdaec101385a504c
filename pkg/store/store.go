// Package store declares the persistence contracts used by the matching core
package store

import (
	"context"
	"iter"

	"github.com/Ramsey-B/sage/pkg/models"
)

// RecordStore holds incoming source records
type RecordStore interface {
	// Fetch returns the record or a not found error
	Fetch(ctx context.Context, id string) (*models.Record, error)
	// Put stores or replaces a record snapshot
	Put(ctx context.Context, record *models.Record) error
}

// GoldenRecordStore persists golden records
type GoldenRecordStore interface {
	// Create persists a new golden record seeded from an incoming record
	Create(ctx context.Context, seed *models.Record) (*models.Record, error)
	// Get returns a golden record or a not found error
	Get(ctx context.Context, id string) (*models.Record, error)
	// GetForUpdate returns a golden record and holds it against concurrent
	// writers until the enclosing transaction ends
	GetForUpdate(ctx context.Context, id string) (*models.Record, error)
	// Update replaces a golden record's resource and EIDs
	Update(ctx context.Context, golden *models.Record) (*models.Record, error)
	// FindByEID returns the golden records of a type carrying the EID, ordered by id
	FindByEID(ctx context.Context, resourceType models.ResourceType, eid string) ([]*models.Record, error)
	// PoolFor streams every golden record of a type, ordered by id
	PoolFor(ctx context.Context, resourceType models.ResourceType) iter.Seq2[*models.Record, error]
}

// LinkStore persists links. Upsert is keyed by (SourceID, GoldenID).
type LinkStore interface {
	Upsert(ctx context.Context, link *models.Link) (*models.Link, error)
	// Find returns the link between two records or a not found error
	Find(ctx context.Context, sourceID, goldenID string) (*models.Link, error)
	FindBySource(ctx context.Context, sourceID string) ([]models.Link, error)
	FindByGolden(ctx context.Context, goldenID string) ([]models.Link, error)
}

// Transactor runs fn atomically. Work sharing a key is serialized. A call
// nested inside an open transaction joins it.
type Transactor interface {
	WithinTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Stores bundles the stores a processor needs
type Stores struct {
	Records    RecordStore
	Goldens    GoldenRecordStore
	Links      LinkStore
	Transactor Transactor
}
