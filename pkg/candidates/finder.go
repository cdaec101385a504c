// Package candidates finds golden records an incoming record may belong to.
// Strategies run in priority order: EID, existing links, then rule scoring.
package candidates

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Finder runs the candidate strategies in order. The first non-empty list wins.
type Finder struct {
	strategies []Strategy
	holder     *rules.Holder
	logger     ectologger.Logger
}

// NewFinder creates a finder over explicit strategies
func NewFinder(holder *rules.Holder, logger ectologger.Logger, strategies ...Strategy) *Finder {
	return &Finder{
		strategies: strategies,
		holder:     holder,
		logger:     logger,
	}
}

// NewDefaultFinder wires the EID, link and score strategies over the stores
func NewDefaultFinder(stores store.Stores, holder *rules.Holder, engine *rules.Engine, logger ectologger.Logger) *Finder {
	return NewFinder(holder, logger,
		NewEIDStrategy(stores.Goldens),
		NewLinkStrategy(stores.Links),
		NewScoreStrategy(stores.Goldens, engine, logger),
	)
}

// FindGoldenResourceCandidates searches with the active rule set
func (f *Finder) FindGoldenResourceCandidates(ctx context.Context, record *models.Record) (models.CandidateList, error) {
	rs, err := f.holder.Current()
	if err != nil {
		return models.CandidateList{}, err
	}
	return f.FindWith(ctx, record, rs)
}

// FindWith searches with a pinned rule set so one record is never evaluated
// against two rule sets
func (f *Finder) FindWith(ctx context.Context, record *models.Record, rs *rules.RuleSet) (models.CandidateList, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Finder.FindWith")
	defer span.End()

	if !record.ResourceType.IsValid() {
		return models.CandidateList{}, mdmerror.BadRequest("unsupported resource type %q", record.ResourceType)
	}

	log := f.logger.WithContext(ctx).WithFields(map[string]any{
		"record_id":     record.ID,
		"resource_type": record.ResourceType,
	})

	var list models.CandidateList
	for _, strategy := range f.strategies {
		found, err := strategy.Find(ctx, record, rs)
		if err != nil {
			log.WithError(err).WithField("strategy", strategy.Name()).Error("Candidate strategy failed")
			return models.CandidateList{}, err
		}
		list = found
		if !found.IsEmpty() {
			break
		}
	}

	metrics.RecordCandidateSearch(string(record.ResourceType), list.Strategy, list.Len())
	log.WithFields(map[string]any{
		"strategy":   list.Strategy,
		"candidates": list.Len(),
	}).Debug("Candidate search finished")
	return list, nil
}
