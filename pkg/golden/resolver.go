// Package golden resolves candidate lists to golden records: it links the
// incoming record, creates golden records when nothing matches and flags
// golden records that look like duplicates of each other.
package golden

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/candidates"
	"github.com/Ramsey-B/sage/pkg/linking"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Resolution describes what resolving one record did
type Resolution struct {
	// GoldenID is the golden record the incoming record is MATCHed to,
	// empty when it is only linked for review
	GoldenID   string         `json:"goldenId,omitempty"`
	Created    bool           `json:"created"`
	Links      []*models.Link `json:"links"`
	Duplicates []*models.Link `json:"duplicates,omitempty"`
}

// Resolver turns a candidate list into links
type Resolver struct {
	goldens      store.GoldenRecordStore
	linker       *linking.Service
	scorer       *candidates.ScoreStrategy
	survivorship *Survivorship
	logger       ectologger.Logger
}

func NewResolver(
	goldens store.GoldenRecordStore,
	linker *linking.Service,
	scorer *candidates.ScoreStrategy,
	survivorship *Survivorship,
	logger ectologger.Logger,
) *Resolver {
	return &Resolver{
		goldens:      goldens,
		linker:       linker,
		scorer:       scorer,
		survivorship: survivorship,
		logger:       logger,
	}
}

// GoldenFor fetches the golden record a candidate refers to
func (r *Resolver) GoldenFor(ctx context.Context, candidate models.MatchedCandidate) (*models.Record, error) {
	return r.goldens.Get(ctx, candidate.GoldenID)
}

// Resolve links the record according to the candidate list:
//   - MATCH candidates: the best one is linked MATCH; the others are linked
//     POSSIBLE_MATCH and flagged as duplicates of it
//   - otherwise POSSIBLE_MATCH candidates are all linked POSSIBLE_MATCH
//   - otherwise a golden record is created from the record and linked MATCH
//
// A MATCH folds the record into its golden record, which is then checked
// against the pool for duplicates.
func (r *Resolver) Resolve(ctx context.Context, record *models.Record, rs *rules.RuleSet, list models.CandidateList) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "golden.Resolver.Resolve")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"record_id": record.ID,
		"strategy":  list.Strategy,
	})

	matches := list.WithResult(models.MatchResultMatch)
	possibles := list.WithResult(models.MatchResultPossibleMatch)

	var (
		res *Resolution
		err error
	)
	switch {
	case len(matches) > 0:
		res, err = r.resolveMatches(ctx, record, rs, matches)
	case len(possibles) > 0:
		res, err = r.resolvePossibles(ctx, record, possibles)
	default:
		res, err = r.create(ctx, record, rs)
	}
	if err != nil {
		log.WithError(err).Error("Failed to resolve record")
		return nil, err
	}

	log.WithFields(map[string]any{
		"golden_id":  res.GoldenID,
		"created":    res.Created,
		"links":      len(res.Links),
		"duplicates": len(res.Duplicates),
	}).Debug("Resolved record")
	return res, nil
}

func (r *Resolver) resolveMatches(ctx context.Context, record *models.Record, rs *rules.RuleSet, matches []models.MatchedCandidate) (*Resolution, error) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].GoldenID < matches[j].GoldenID
	})

	res := &Resolution{}
	chosen := matches[0]
	link, err := r.linker.Apply(ctx, linking.Decision{
		SourceID:    record.ID,
		GoldenID:    chosen.GoldenID,
		MatchResult: models.MatchResultMatch,
		LinkSource:  models.LinkSourceAuto,
		Score:       linking.Score(chosen.Score),
	})
	if err != nil {
		return nil, err
	}
	res.Links = append(res.Links, link)

	for _, other := range matches[1:] {
		if other.GoldenID == chosen.GoldenID {
			continue
		}
		link, err := r.linker.Apply(ctx, linking.Decision{
			SourceID:    record.ID,
			GoldenID:    other.GoldenID,
			MatchResult: models.MatchResultPossibleMatch,
			LinkSource:  models.LinkSourceAuto,
			Score:       linking.Score(other.Score),
		})
		if err != nil {
			return nil, err
		}
		res.Links = append(res.Links, link)

		duplicate, err := r.flagDuplicate(ctx, chosen.GoldenID, other.GoldenID, other.Score)
		if err != nil {
			return nil, err
		}
		res.Duplicates = append(res.Duplicates, duplicate)
	}

	if link.MatchResult != models.MatchResultMatch {
		return res, nil
	}
	res.GoldenID = link.GoldenID

	// locked so a concurrent merge into the same golden record waits and
	// then reads this one's EIDs
	golden, err := r.goldens.GetForUpdate(ctx, link.GoldenID)
	if err != nil {
		return nil, err
	}
	if r.survivorship.Merge(golden, record, rs.ExtractEIDs(record)) {
		if golden, err = r.goldens.Update(ctx, golden); err != nil {
			return nil, err
		}
		duplicates, err := r.checkDuplicates(ctx, golden, rs)
		if err != nil {
			return nil, err
		}
		res.Duplicates = append(res.Duplicates, duplicates...)
	}
	return res, nil
}

func (r *Resolver) resolvePossibles(ctx context.Context, record *models.Record, possibles []models.MatchedCandidate) (*Resolution, error) {
	res := &Resolution{}
	for _, candidate := range possibles {
		link, err := r.linker.Apply(ctx, linking.Decision{
			SourceID:    record.ID,
			GoldenID:    candidate.GoldenID,
			MatchResult: models.MatchResultPossibleMatch,
			LinkSource:  models.LinkSourceAuto,
			Score:       linking.Score(candidate.Score),
		})
		if err != nil {
			return nil, err
		}
		res.Links = append(res.Links, link)
	}
	return res, nil
}

func (r *Resolver) create(ctx context.Context, record *models.Record, rs *rules.RuleSet) (*Resolution, error) {
	seed := record.Clone()
	seed.EIDs = rs.ExtractEIDs(record)

	golden, err := r.goldens.Create(ctx, seed)
	if err != nil {
		return nil, err
	}
	store.AfterCommit(ctx, func(context.Context) {
		metrics.GoldenRecordsCreated.WithLabelValues(string(golden.ResourceType)).Inc()
	})

	link, err := r.linker.Apply(ctx, linking.Decision{
		SourceID:    record.ID,
		GoldenID:    golden.ID,
		MatchResult: models.MatchResultMatch,
		LinkSource:  models.LinkSourceAuto,
		Score:       linking.Score(1.0),
	})
	if err != nil {
		return nil, err
	}

	res := &Resolution{GoldenID: golden.ID, Created: true, Links: []*models.Link{link}}
	duplicates, err := r.checkDuplicates(ctx, golden, rs)
	if err != nil {
		return nil, err
	}
	res.Duplicates = duplicates
	return res, nil
}

// checkDuplicates flags every other golden record of the same type whose
// fields score at or above the match threshold against golden
func (r *Resolver) checkDuplicates(ctx context.Context, golden *models.Record, rs *rules.RuleSet) ([]*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "golden.Resolver.checkDuplicates")
	defer span.End()

	list, err := r.scorer.Find(ctx, golden, rs)
	if err != nil {
		return nil, err
	}

	var flagged []*models.Link
	for _, candidate := range list.WithResult(models.MatchResultMatch) {
		if candidate.GoldenID == golden.ID {
			continue
		}
		link, err := r.flagDuplicate(ctx, golden.ID, candidate.GoldenID, candidate.Score)
		if err != nil {
			return nil, err
		}
		flagged = append(flagged, link)
	}
	return flagged, nil
}

func (r *Resolver) flagDuplicate(ctx context.Context, a, b string, score float64) (*models.Link, error) {
	return r.linker.Apply(ctx, linking.Decision{
		SourceID:    a,
		GoldenID:    b,
		MatchResult: models.MatchResultPossibleDuplicate,
		LinkSource:  models.LinkSourceAuto,
		Score:       linking.Score(score),
	})
}
