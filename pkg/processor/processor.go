// Package processor runs the per-record linking workflow: find candidates,
// resolve, link. The whole workflow commits atomically or not at all.
package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/appctx"
	"github.com/Ramsey-B/sage/pkg/candidates"
	"github.com/Ramsey-B/sage/pkg/golden"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Result is the outcome of linking one record
type Result struct {
	RecordID       string               `json:"recordId"`
	RuleSetVersion string               `json:"ruleSetVersion"`
	Candidates     models.CandidateList `json:"candidates"`
	Resolution     *golden.Resolution   `json:"resolution"`
}

// Processor links incoming records
type Processor struct {
	records  store.RecordStore
	tx       store.Transactor
	holder   *rules.Holder
	finder   *candidates.Finder
	resolver *golden.Resolver
	logger   ectologger.Logger
}

// NewProcessor creates a new record processor
func NewProcessor(
	stores store.Stores,
	holder *rules.Holder,
	finder *candidates.Finder,
	resolver *golden.Resolver,
	logger ectologger.Logger,
) *Processor {
	return &Processor{
		records:  stores.Records,
		tx:       stores.Transactor,
		holder:   holder,
		finder:   finder,
		resolver: resolver,
		logger:   logger,
	}
}

// Process fetches a record by id and links it
func (p *Processor) Process(ctx context.Context, recordID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.Process")
	defer span.End()

	record, err := p.records.Fetch(ctx, recordID)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("record_id", recordID).Warn("Failed to fetch record")
		return nil, err
	}
	return p.ProcessRecord(ctx, record)
}

// ProcessRecord links a record under one rule set snapshot. The record's
// transaction is keyed by its id so concurrent deliveries of the same record
// are serialized.
func (p *Processor) ProcessRecord(ctx context.Context, record *models.Record) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessRecord")
	defer span.End()

	ctx = appctx.SetRecordID(ctx, record.ID)
	log := p.logger.WithContext(ctx).WithFields(appctx.Fields(ctx)).WithField("resource_type", record.ResourceType)

	rs, err := p.holder.Current()
	if err != nil {
		return nil, err
	}

	result := &Result{RecordID: record.ID, RuleSetVersion: rs.Version}
	err = p.tx.WithinTx(ctx, record.ID, func(ctx context.Context) error {
		list, err := p.finder.FindWith(ctx, record, rs)
		if err != nil {
			return err
		}
		resolution, err := p.resolver.Resolve(ctx, record, rs, list)
		if err != nil {
			return err
		}
		result.Candidates = list
		result.Resolution = resolution
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Record processing rolled back")
		return nil, err
	}

	log.WithFields(map[string]any{
		"strategy":  result.Candidates.Strategy,
		"golden_id": result.Resolution.GoldenID,
		"created":   result.Resolution.Created,
	}).Info("Record linked")
	return result, nil
}
