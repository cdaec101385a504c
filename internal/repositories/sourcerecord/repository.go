package sourcerecord

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const table = "source_records"

var columns = []string{"id", "resource_type", "eids", "resource", "created_at", "updated_at"}

type row struct {
	ID           string                         `db:"id"`
	ResourceType models.ResourceType            `db:"resource_type"`
	EIDs         pq.StringArray                 `db:"eids"`
	Resource     database.JSONB[map[string]any] `db:"resource"`
	CreatedAt    time.Time                      `db:"created_at"`
	UpdatedAt    time.Time                      `db:"updated_at"`
}

func (r row) toModel() *models.Record {
	return &models.Record{
		ID:           r.ID,
		ResourceType: r.ResourceType,
		EIDs:         []string(r.EIDs),
		Resource:     r.Resource.Data,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Repository stores incoming record snapshots
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.RecordStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Put stores or replaces a record snapshot
func (r *Repository) Put(ctx context.Context, record *models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.Put")
	defer span.End()

	if record.ID == "" || !record.ResourceType.IsValid() {
		return mdmerror.BadRequest("record needs an id and a supported resource type")
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	eids := record.EIDs
	if eids == nil {
		eids = []string{}
	}
	ib.Values(record.ID, record.ResourceType, pq.StringArray(eids), database.NewJSONB(record.Resource), now, now)
	ib.OnConflict([]string{"id"},
		database.Excluded("resource_type"),
		database.Excluded("eids"),
		database.Excluded("resource"),
		database.Excluded("updated_at"),
	)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("record_id", record.ID).Error("Failed to store source record")
		return mdmerror.Transient("failed to store record %s", record.ID)
	}
	return nil
}

// Fetch returns a stored record snapshot
func (r *Repository) Fetch(ctx context.Context, id string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.Fetch")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var found row
	if err := database.Conn(ctx, r.db).GetContext(ctx, &found, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, mdmerror.NotFound("record %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("record_id", id).Error("Failed to fetch source record")
		return nil, mdmerror.Transient("failed to fetch record %s", id)
	}
	return found.toModel(), nil
}
