package goldenrecord

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const table = "golden_records"

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
		Golden:       true,
		EIDs:         []string(r.EIDs),
		Resource:     r.Resource.Data,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Repository persists golden records
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.GoldenRecordStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a golden record seeded from an incoming record
func (r *Repository) Create(ctx context.Context, seed *models.Record) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.Create")
	defer span.End()

	golden := seed.Clone()
	golden.ID = uuid.New().String()
	if golden.Resource == nil {
		golden.Resource = map[string]any{}
	}
	golden.Resource["id"] = golden.ID
	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(golden.ID, golden.ResourceType, pq.StringArray(nonNil(golden.EIDs)), database.NewJSONB(golden.Resource), now, now)
	ib.SQL("RETURNING " + strings.Join(columns, ", "))

	query, args := ib.Build()
	var created row
	if err := database.Conn(ctx, r.db).GetContext(ctx, &created, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("resource_type", golden.ResourceType).Error("Failed to create golden record")
		return nil, mdmerror.Transient("failed to create golden record")
	}
	return created.toModel(), nil
}

// Get returns a golden record
func (r *Repository) Get(ctx context.Context, id string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.Get")
	defer span.End()
	return r.get(ctx, id, false)
}

// GetForUpdate returns a golden record with its row locked until the
// enclosing transaction ends, so concurrent survivorship merges queue up
// instead of overwriting each other
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.GetForUpdate")
	defer span.End()
	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*models.Record, error) {
	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var found row
	if err := database.Conn(ctx, r.db).GetContext(ctx, &found, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, mdmerror.NotFound("golden record %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"golden_id":  id,
			"for_update": forUpdate,
		}).Error("Failed to get golden record")
		return nil, mdmerror.Transient("failed to get golden record %s", id)
	}
	return found.toModel(), nil
}

// Update replaces a golden record's resource and EIDs
func (r *Repository) Update(ctx context.Context, golden *models.Record) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("eids", pq.StringArray(nonNil(golden.EIDs))),
		ub.Assign("resource", database.NewJSONB(golden.Resource)),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", golden.ID))
	ub.SQL("RETURNING " + strings.Join(columns, ", "))

	query, args := ub.Build()
	var updated row
	if err := database.Conn(ctx, r.db).GetContext(ctx, &updated, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, mdmerror.NotFound("golden record %s not found", golden.ID)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("golden_id", golden.ID).Error("Failed to update golden record")
		return nil, mdmerror.Transient("failed to update golden record %s", golden.ID)
	}
	return updated.toModel(), nil
}

// FindByEID returns the golden records of a type tagged with the EID
func (r *Repository) FindByEID(ctx context.Context, resourceType models.ResourceType, eid string) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.FindByEID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("resource_type", resourceType),
		fmt.Sprintf("%s = ANY(eids)", sb.Var(eid)),
	)
	sb.OrderBy("id")

	query, args := sb.Build()
	var rows []row
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("resource_type", resourceType).Error("Failed to find golden records by EID")
		return nil, mdmerror.Transient("failed to find golden records by EID")
	}

	out := make([]*models.Record, 0, len(rows))
	for _, found := range rows {
		out = append(out, found.toModel())
	}
	return out, nil
}

// PoolFor streams the golden records of a type in id order without loading
// the whole pool into memory
func (r *Repository) PoolFor(ctx context.Context, resourceType models.ResourceType) iter.Seq2[*models.Record, error] {
	return func(yield func(*models.Record, error) bool) {
		ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.PoolFor")
		defer span.End()

		sb := database.NewSelectBuilder()
		sb.Select(columns...)
		sb.From(table)
		sb.Where(sb.Equal("resource_type", resourceType))
		sb.OrderBy("id")

		query, args := sb.Build()
		rows, err := database.Conn(ctx, r.db).QueryxContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("resource_type", resourceType).Error("Failed to query golden record pool")
			yield(nil, mdmerror.Transient("failed to read golden record pool"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var found row
			if err := rows.StructScan(&found); err != nil {
				yield(nil, mdmerror.Transient("failed to scan golden record: %v", err))
				return
			}
			if !yield(found.toModel(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, mdmerror.Transient("failed to read golden record pool: %v", err))
		}
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
