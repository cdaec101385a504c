// Package linking owns every write to the link store. It enforces the
// allowed match results per pair kind, keeps manual decisions sticky and
// holds at most one MATCH per incoming record.
package linking

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/appctx"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Observer is told about every link write that changed stored content,
// once, after the enclosing transaction commits
type Observer interface {
	LinkChanged(ctx context.Context, change models.LinkChange)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, change models.LinkChange)

func (f ObserverFunc) LinkChanged(ctx context.Context, change models.LinkChange) {
	f(ctx, change)
}

// Decision is a requested link state. A nil Score keeps the stored score.
type Decision struct {
	SourceID    string
	GoldenID    string
	MatchResult models.MatchResult
	LinkSource  models.LinkSource
	Score       *float64
}

// Service applies link decisions
type Service struct {
	records store.RecordStore
	goldens store.GoldenRecordStore
	links   store.LinkStore
	tx      store.Transactor
	logger  ectologger.Logger

	mu        sync.RWMutex
	observers []Observer
}

func NewService(stores store.Stores, logger ectologger.Logger, observers ...Observer) *Service {
	return &Service{
		records:   stores.Records,
		goldens:   stores.Goldens,
		links:     stores.Links,
		tx:        stores.Transactor,
		logger:    logger,
		observers: observers,
	}
}

// AddObserver registers an observer for future changes
func (s *Service) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Score returns a pointer for Decision.Score
func Score(v float64) *float64 {
	return &v
}

// UpdateLink sets the match result between a record and a golden record,
// keeping the stored score
func (s *Service) UpdateLink(ctx context.Context, sourceID, goldenID string, result models.MatchResult, source models.LinkSource) (*models.Link, error) {
	return s.Apply(ctx, Decision{
		SourceID:    sourceID,
		GoldenID:    goldenID,
		MatchResult: result,
		LinkSource:  source,
	})
}

// Apply validates and persists a decision. Rejected decisions change nothing.
// Decisions the store already reflects, and AUTO decisions over a MANUAL
// link, are acknowledged without a write.
func (s *Service) Apply(ctx context.Context, d Decision) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.Apply")
	defer span.End()

	if !d.MatchResult.IsValid() {
		return nil, mdmerror.BadRequest("unknown match result %q", d.MatchResult)
	}
	if !d.LinkSource.IsValid() {
		return nil, mdmerror.BadRequest("unknown link source %q", d.LinkSource)
	}
	if d.SourceID == "" || d.GoldenID == "" {
		return nil, mdmerror.BadRequest("source and golden record ids are required")
	}
	if d.SourceID == d.GoldenID {
		return nil, mdmerror.InvalidTransition("record %s cannot be linked to itself", d.SourceID)
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":    d.SourceID,
		"golden_id":    d.GoldenID,
		"match_result": d.MatchResult,
		"link_source":  d.LinkSource,
		"user_id":      appctx.GetUserID(ctx),
	})

	var link *models.Link
	err := s.tx.WithinTx(ctx, lockKey(d), func(ctx context.Context) error {
		var err error
		link, err = s.apply(ctx, d)
		return err
	})
	if err != nil {
		if mdmerror.IsInvalidTransition(err) || mdmerror.IsNotFound(err) {
			log.WithError(err).Warn("Link decision rejected")
		} else {
			log.WithError(err).Error("Failed to apply link decision")
		}
		return nil, err
	}
	return link, nil
}

// lockKey serializes decisions for one incoming record, or one golden pair
func lockKey(d Decision) string {
	a, b := d.SourceID, d.GoldenID
	if b < a {
		a, b = b, a
	}
	if d.MatchResult == models.MatchResultPossibleDuplicate {
		return a + "|" + b
	}
	return d.SourceID
}

func (s *Service) apply(ctx context.Context, d Decision) (*models.Link, error) {
	target, err := s.goldens.Get(ctx, d.GoldenID)
	if err != nil {
		if mdmerror.IsNotFound(err) {
			if _, fetchErr := s.records.Fetch(ctx, d.GoldenID); fetchErr == nil {
				return nil, mdmerror.InvalidTransition("record %s is not a golden record", d.GoldenID)
			}
		}
		return nil, err
	}

	source, err := s.goldens.Get(ctx, d.SourceID)
	switch {
	case err == nil:
		return s.applyGoldenPair(ctx, d, source, target)
	case !mdmerror.IsNotFound(err):
		return nil, err
	}

	incoming, err := s.records.Fetch(ctx, d.SourceID)
	if err != nil {
		return nil, err
	}
	return s.applyIncoming(ctx, d, incoming, target)
}

func (s *Service) applyIncoming(ctx context.Context, d Decision, incoming, golden *models.Record) (*models.Link, error) {
	if d.MatchResult == models.MatchResultPossibleDuplicate {
		return nil, mdmerror.InvalidTransition("%s is reserved for golden record pairs", d.MatchResult)
	}
	if incoming.ResourceType != golden.ResourceType {
		return nil, mdmerror.InvalidTransition("cannot link %s %s to %s golden record %s",
			incoming.ResourceType, incoming.ID, golden.ResourceType, golden.ID)
	}

	existing, err := s.find(ctx, incoming.ID, golden.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsManual() && d.LinkSource == models.LinkSourceAuto {
		return existing, nil
	}

	siblings, err := s.links.FindBySource(ctx, incoming.ID)
	if err != nil {
		return nil, err
	}

	result := d.MatchResult
	if result == models.MatchResultMatch && d.LinkSource == models.LinkSourceAuto {
		for _, sibling := range siblings {
			if sibling.GoldenID != golden.ID && sibling.MatchResult == models.MatchResultMatch && sibling.IsManual() {
				result = models.MatchResultPossibleMatch
				break
			}
		}
	}

	link, err := s.write(ctx, existing, &models.Link{
		SourceID:     incoming.ID,
		GoldenID:     golden.ID,
		ResourceType: golden.ResourceType,
		MatchResult:  result,
		LinkSource:   d.LinkSource,
		Score:        scoreFor(existing, d.Score),
	})
	if err != nil || result != models.MatchResultMatch {
		return link, err
	}

	for i := range siblings {
		sibling := siblings[i]
		if sibling.GoldenID == golden.ID || sibling.MatchResult != models.MatchResultMatch {
			continue
		}
		demoted := sibling
		demoted.MatchResult = models.MatchResultPossibleMatch
		if _, err := s.write(ctx, &sibling, &demoted); err != nil {
			return nil, err
		}
	}
	return link, nil
}

func (s *Service) applyGoldenPair(ctx context.Context, d Decision, a, b *models.Record) (*models.Link, error) {
	switch d.MatchResult {
	case models.MatchResultPossibleDuplicate, models.MatchResultNoMatch:
	default:
		return nil, mdmerror.InvalidTransition("golden records %s and %s can only be flagged %s or %s",
			a.ID, b.ID, models.MatchResultPossibleDuplicate, models.MatchResultNoMatch)
	}
	if a.ResourceType != b.ResourceType {
		return nil, mdmerror.InvalidTransition("golden records %s and %s have different resource types", a.ID, b.ID)
	}
	if b.ID < a.ID {
		a, b = b, a
	}

	existing, err := s.find(ctx, a.ID, b.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsManual() && d.LinkSource == models.LinkSourceAuto {
		return existing, nil
	}

	return s.write(ctx, existing, &models.Link{
		SourceID:     a.ID,
		GoldenID:     b.ID,
		ResourceType: a.ResourceType,
		MatchResult:  d.MatchResult,
		LinkSource:   d.LinkSource,
		Score:        scoreFor(existing, d.Score),
	})
}

func (s *Service) find(ctx context.Context, sourceID, goldenID string) (*models.Link, error) {
	link, err := s.links.Find(ctx, sourceID, goldenID)
	if mdmerror.IsNotFound(err) {
		return nil, nil
	}
	return link, err
}

// write upserts next unless existing already carries the same decision
func (s *Service) write(ctx context.Context, existing, next *models.Link) (*models.Link, error) {
	if existing != nil && existing.SameDecision(next) {
		return existing, nil
	}

	stored, err := s.links.Upsert(ctx, next)
	if err != nil {
		return nil, err
	}

	change := models.LinkChange{Previous: existing, Current: stored}
	store.AfterCommit(ctx, func(ctx context.Context) {
		s.notify(ctx, change)
	})
	return stored, nil
}

func (s *Service) notify(ctx context.Context, change models.LinkChange) {
	metrics.RecordLinkChange(string(change.Current.MatchResult), string(change.Current.LinkSource))
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":    change.Current.SourceID,
		"golden_id":    change.Current.GoldenID,
		"match_result": change.Current.MatchResult,
		"link_source":  change.Current.LinkSource,
		"version":      change.Current.Version,
	}).Info("Link changed")

	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.LinkChanged(ctx, change)
	}
}

func scoreFor(existing *models.Link, score *float64) float64 {
	if score != nil {
		return *score
	}
	if existing != nil {
		return existing.Score
	}
	return 0
}

// LinksForGolden returns every link touching a golden record: incoming
// links plus duplicate flags on either side of a golden pair
func (s *Service) LinksForGolden(ctx context.Context, goldenID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.LinksForGolden")
	defer span.End()

	if _, err := s.goldens.Get(ctx, goldenID); err != nil {
		return nil, err
	}
	links, err := s.links.FindByGolden(ctx, goldenID)
	if err != nil {
		return nil, err
	}
	pairs, err := s.links.FindBySource(ctx, goldenID)
	if err != nil {
		return nil, err
	}
	return append(links, pairs...), nil
}

// LinksForSource returns every link from a record
func (s *Service) LinksForSource(ctx context.Context, sourceID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.LinksForSource")
	defer span.End()

	return s.links.FindBySource(ctx, sourceID)
}
