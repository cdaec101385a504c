// Package operations publishes the linker's operations through a static
// name -> handler table shared by every transport
package operations

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/sage/pkg/appctx"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/pipeline"
	"github.com/Ramsey-B/sage/pkg/processor"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Operation names
const (
	OpFindGoldenResourceCandidates = "findGoldenResourceCandidates"
	OpUpdateLink                   = "updateLink"
	OpLinksForGolden               = "linksForGolden"
	OpLinksForSource               = "linksForSource"
	OpProcessRecord                = "processRecord"
	OpReloadRules                  = "reloadRules"
	OpDeadLetters                  = "deadLetters"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler runs one operation on raw JSON parameters
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// FindCandidatesRequest names a stored record or carries one inline
type FindCandidatesRequest struct {
	RecordID string          `json:"recordId" validate:"required_without=Resource"`
	Resource json.RawMessage `json:"resource,omitempty"`
	// IncludeGoldens returns the golden records the candidates refer to
	IncludeGoldens bool `json:"includeGoldens,omitempty"`
}

// CandidatesWithGoldens is a candidate list plus the golden records it names
type CandidatesWithGoldens struct {
	models.CandidateList
	Goldens []*models.Record `json:"goldens"`
}

// UpdateLinkRequest is a reviewer's link decision
type UpdateLinkRequest struct {
	SourceID    string `json:"sourceId" validate:"required"`
	GoldenID    string `json:"goldenId" validate:"required,nefield=SourceID"`
	MatchResult string `json:"matchResult" validate:"required,oneof=MATCH POSSIBLE_MATCH NO_MATCH POSSIBLE_DUPLICATE"`
	LinkSource  string `json:"linkSource,omitempty" validate:"omitempty,oneof=AUTO MANUAL"`
}

// GoldenRequest names a golden record
type GoldenRequest struct {
	GoldenID string `json:"goldenId" validate:"required"`
}

// SourceRequest names a source record
type SourceRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
}

// RecordRequest names a stored incoming record
type RecordRequest struct {
	RecordID string `json:"recordId" validate:"required"`
}

// DeadLettersRequest bounds a dead letter listing
type DeadLettersRequest struct {
	Count int64 `json:"count,omitempty" validate:"gte=0,lte=1000"`
}

// ReloadRulesRequest carries an inline rule set, or nothing to re-read the
// configured rule set file
type ReloadRulesRequest struct {
	Document json.RawMessage `json:"document,omitempty"`
}

// RuleSetSummary describes the active rule set after a reload
type RuleSetSummary struct {
	Version                string   `json:"version"`
	Rules                  int      `json:"rules"`
	MatchThreshold         float64  `json:"matchThreshold"`
	PossibleMatchThreshold float64  `json:"possibleMatchThreshold"`
	Warnings               []string `json:"warnings,omitempty"`
}

// Operations is the static operation table
type Operations struct {
	core        *processor.Components
	records     store.RecordStore
	rulesPath   string
	deadLetters pipeline.DeadLetterReader
	logger      ectologger.Logger
	table       map[string]Handler
}

// New builds the operation table over the linking core. rulesPath is the
// file reloadRules re-reads when called without an inline document.
func New(core *processor.Components, records store.RecordStore, rulesPath string, logger ectologger.Logger) *Operations {
	o := &Operations{
		core:      core,
		records:   records,
		rulesPath: rulesPath,
		logger:    logger,
	}
	o.table = map[string]Handler{
		OpFindGoldenResourceCandidates: o.findCandidates,
		OpUpdateLink:                   o.updateLink,
		OpLinksForGolden:               o.linksForGolden,
		OpLinksForSource:               o.linksForSource,
		OpProcessRecord:                o.processRecord,
		OpReloadRules:                  o.reloadRules,
		OpDeadLetters:                  o.listDeadLetters,
	}
	return o
}

// WithDeadLetters lets deadLetters read the pipeline's dead letter store
func (o *Operations) WithDeadLetters(reader pipeline.DeadLetterReader) *Operations {
	o.deadLetters = reader
	return o
}

// Names lists the registered operations in sorted order
func (o *Operations) Names() []string {
	names := make([]string, 0, len(o.table))
	for name := range o.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named operation. Unknown names are a not found error.
func (o *Operations) Invoke(ctx context.Context, name string, params json.RawMessage) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "operations.Operations.Invoke")
	defer span.End()

	handler, ok := o.table[name]
	if !ok {
		return nil, mdmerror.NotFound("unknown operation %q", name)
	}

	result, err := handler(ctx, params)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).WithField("operation", name).Warn("Operation failed")
		return nil, err
	}
	return result, nil
}

func decode[T any](params json.RawMessage) (*T, error) {
	req := new(T)
	if len(params) > 0 {
		if err := json.Unmarshal(params, req); err != nil {
			return nil, mdmerror.BadRequest("invalid parameters: %v", err)
		}
	}
	if err := validate.Struct(req); err != nil {
		return nil, mdmerror.BadRequest("%s", err.Error())
	}
	return req, nil
}

func (o *Operations) findCandidates(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[FindCandidatesRequest](params)
	if err != nil {
		return nil, err
	}

	var record *models.Record
	if len(req.Resource) > 0 {
		record, err = models.ParseRecord(req.Resource)
		if err != nil {
			return nil, mdmerror.BadRequest("invalid resource: %v", err)
		}
	} else {
		record, err = o.records.Fetch(ctx, req.RecordID)
		if err != nil {
			return nil, err
		}
	}

	list, err := o.core.Finder.FindGoldenResourceCandidates(ctx, record)
	if err != nil || !req.IncludeGoldens {
		return list, err
	}

	out := &CandidatesWithGoldens{CandidateList: list, Goldens: make([]*models.Record, 0, len(list.Candidates))}
	for _, candidate := range list.Candidates {
		golden, err := o.core.Resolver.GoldenFor(ctx, candidate)
		if err != nil {
			return nil, err
		}
		out.Goldens = append(out.Goldens, golden)
	}
	return out, nil
}

func (o *Operations) listDeadLetters(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[DeadLettersRequest](params)
	if err != nil {
		return nil, err
	}
	if o.deadLetters == nil {
		return nil, mdmerror.Configuration("no dead letter store configured")
	}
	return o.deadLetters.List(ctx, req.Count)
}

func (o *Operations) updateLink(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[UpdateLinkRequest](params)
	if err != nil {
		return nil, err
	}

	source := models.LinkSourceManual
	if req.LinkSource != "" {
		source = models.LinkSource(req.LinkSource)
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":    req.SourceID,
		"golden_id":    req.GoldenID,
		"match_result": req.MatchResult,
		"link_source":  source,
		"user_id":      appctx.GetUserID(ctx),
	}).Info("Link update requested")

	return o.core.Linker.UpdateLink(ctx, req.SourceID, req.GoldenID, models.MatchResult(req.MatchResult), source)
}

func (o *Operations) linksForGolden(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[GoldenRequest](params)
	if err != nil {
		return nil, err
	}
	return o.core.Linker.LinksForGolden(ctx, req.GoldenID)
}

func (o *Operations) linksForSource(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[SourceRequest](params)
	if err != nil {
		return nil, err
	}
	return o.core.Linker.LinksForSource(ctx, req.SourceID)
}

func (o *Operations) processRecord(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[RecordRequest](params)
	if err != nil {
		return nil, err
	}
	return o.core.Processor.Process(ctx, req.RecordID)
}

func (o *Operations) reloadRules(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[ReloadRulesRequest](params)
	if err != nil {
		return nil, err
	}

	holder := o.core.Holder
	if len(req.Document) > 0 {
		var inline string
		data := []byte(req.Document)
		// a YAML document arrives as a JSON string
		if json.Unmarshal(req.Document, &inline) == nil {
			data = []byte(inline)
		}
		if _, err := holder.LoadBytes(ctx, data); err != nil {
			return nil, err
		}
	} else {
		if o.rulesPath == "" {
			return nil, mdmerror.Configuration("no rule set file configured")
		}
		if _, err := holder.LoadFile(ctx, o.rulesPath); err != nil {
			return nil, err
		}
	}

	rs, err := holder.Current()
	if err != nil {
		return nil, err
	}
	return &RuleSetSummary{
		Version:                rs.Version,
		Rules:                  len(rs.Rules),
		MatchThreshold:         rs.MatchThreshold,
		PossibleMatchThreshold: rs.PossibleMatchThreshold,
		Warnings:               rs.Warnings,
	}, nil
}
