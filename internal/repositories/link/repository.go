package link

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const table = "links"

var columns = []string{"id", "source_id", "golden_id", "resource_type", "match_result", "link_source", "score", "version", "created_at", "updated_at"}

// Repository persists links, one row per (source_id, golden_id)
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.LinkStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the link or replaces the decision on the existing row,
// bumping its version
func (r *Repository) Upsert(ctx context.Context, link *models.Link) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(uuid.New().String(), link.SourceID, link.GoldenID, link.ResourceType, link.MatchResult, link.LinkSource, link.Score, 1, now, now)
	ib.OnConflict([]string{"source_id", "golden_id"},
		database.Excluded("match_result"),
		database.Excluded("link_source"),
		database.Excluded("score"),
		database.Excluded("updated_at"),
		"version = links.version + 1",
	)
	ib.SQL("RETURNING " + strings.Join(columns, ", "))

	query, args := ib.Build()
	var stored models.Link
	if err := database.Conn(ctx, r.db).GetContext(ctx, &stored, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_id": link.SourceID,
			"golden_id": link.GoldenID,
		}).Error("Failed to upsert link")
		return nil, mdmerror.Transient("failed to upsert link %s -> %s", link.SourceID, link.GoldenID)
	}
	return &stored, nil
}

// Find returns the link between a source and a golden record
func (r *Repository) Find(ctx context.Context, sourceID, goldenID string) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.Find")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source_id", sourceID),
		sb.Equal("golden_id", goldenID),
	)

	query, args := sb.Build()
	var found models.Link
	if err := database.Conn(ctx, r.db).GetContext(ctx, &found, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, mdmerror.NotFound("link %s -> %s not found", sourceID, goldenID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find link")
		return nil, mdmerror.Transient("failed to find link %s -> %s", sourceID, goldenID)
	}
	return &found, nil
}

// FindBySource returns the links from a source, ordered by golden id
func (r *Repository) FindBySource(ctx context.Context, sourceID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindBySource")
	defer span.End()

	return r.list(ctx, "source_id", sourceID)
}

// FindByGolden returns the links into a golden record, ordered by source id
func (r *Repository) FindByGolden(ctx context.Context, goldenID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindByGolden")
	defer span.End()

	return r.list(ctx, "golden_id", goldenID)
}

func (r *Repository) list(ctx context.Context, column, id string) ([]models.Link, error) {
	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal(column, id))
	sb.OrderBy("source_id", "golden_id")

	query, args := sb.Build()
	links := []models.Link{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField(column, id).Error("Failed to list links")
		return nil, mdmerror.Transient("failed to list links")
	}
	return links, nil
}
