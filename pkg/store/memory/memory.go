// Package memory is an in-process implementation of the store contracts.
// Transactions are serialized and roll back through an undo log.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/store"
)

type txKey struct{}

type memTx struct {
	undo []func()
}

type linkKey struct {
	source string
	golden string
}

// Store holds source records, golden records and links in memory
type Store struct {
	sem chan struct{}

	mu      sync.RWMutex
	records map[string]*models.Record
	goldens map[string]*models.Record
	links   map[linkKey]*models.Link

	fault func(op string) error
	now   func() time.Time
}

var (
	_ store.RecordStore       = (*Store)(nil)
	_ store.GoldenRecordStore = (*Store)(nil)
	_ store.LinkStore         = (*Store)(nil)
	_ store.Transactor        = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		sem:     make(chan struct{}, 1),
		records: make(map[string]*models.Record),
		goldens: make(map[string]*models.Record),
		links:   make(map[linkKey]*models.Link),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Stores exposes the store through every contract
func (s *Store) Stores() store.Stores {
	return store.Stores{Records: s, Goldens: s, Links: s, Transactor: s}
}

// SetFault installs a hook consulted before every write. A non-nil
// result fails the write.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// PutRecord stores a source record
func (s *Store) PutRecord(record *models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
}

// WithinTx runs fn with every write recorded in an undo log. An error or a
// cancelled context rolls the writes back and drops commit hooks.
func (s *Store) WithinTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	tx := &memTx{}
	txCtx, hooks := store.WithCommitHooks(context.WithValue(ctx, txKey{}, tx))

	err := fn(txCtx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.rollback(tx)
		return err
	}

	hooks.Run(ctx)
	return nil
}

func (s *Store) rollback(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// write runs a mutation under the data lock, recording its undo step
// when ctx belongs to a transaction
func (s *Store) write(ctx context.Context, op string, fn func() (undo func(), err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return err
		}
	}

	undo, err := fn()
	if err != nil {
		return err
	}
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok && undo != nil {
		tx.undo = append(tx.undo, undo)
	}
	return nil
}

// Put stores a source record snapshot
func (s *Store) Put(_ context.Context, record *models.Record) error {
	if record.ID == "" {
		return mdmerror.BadRequest("record id is required")
	}
	s.PutRecord(record)
	return nil
}

// Fetch returns a source record
func (s *Store) Fetch(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, mdmerror.NotFound("record %s not found", id)
	}
	return record.Clone(), nil
}

// Create persists a new golden record seeded from an incoming record
func (s *Store) Create(ctx context.Context, seed *models.Record) (*models.Record, error) {
	golden := seed.Clone()
	golden.ID = uuid.New().String()
	golden.Golden = true
	golden.CreatedAt = s.now()
	golden.UpdatedAt = golden.CreatedAt
	if golden.Resource != nil {
		golden.Resource["id"] = golden.ID
	}

	err := s.write(ctx, "golden.create", func() (func(), error) {
		s.goldens[golden.ID] = golden
		id := golden.ID
		return func() { delete(s.goldens, id) }, nil
	})
	if err != nil {
		return nil, err
	}
	return golden.Clone(), nil
}

// Get returns a golden record
func (s *Store) Get(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	golden, ok := s.goldens[id]
	if !ok {
		return nil, mdmerror.NotFound("golden record %s not found", id)
	}
	return golden.Clone(), nil
}

// GetForUpdate is Get; transactions already run one at a time
func (s *Store) GetForUpdate(ctx context.Context, id string) (*models.Record, error) {
	return s.Get(ctx, id)
}

// Update replaces a golden record's resource and EIDs
func (s *Store) Update(ctx context.Context, golden *models.Record) (*models.Record, error) {
	var updated *models.Record
	err := s.write(ctx, "golden.update", func() (func(), error) {
		previous, ok := s.goldens[golden.ID]
		if !ok {
			return nil, mdmerror.NotFound("golden record %s not found", golden.ID)
		}
		updated = golden.Clone()
		updated.Golden = true
		updated.CreatedAt = previous.CreatedAt
		updated.UpdatedAt = s.now()
		s.goldens[golden.ID] = updated
		return func() { s.goldens[previous.ID] = previous }, nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// FindByEID returns the golden records of a type carrying the EID
func (s *Store) FindByEID(_ context.Context, resourceType models.ResourceType, eid string) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, golden := range s.goldens {
		if golden.ResourceType == resourceType && golden.HasEID(eid) {
			out = append(out, golden.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PoolFor streams a snapshot of the golden records of a type
func (s *Store) PoolFor(_ context.Context, resourceType models.ResourceType) iter.Seq2[*models.Record, error] {
	s.mu.RLock()
	pool := make([]*models.Record, 0, len(s.goldens))
	for _, golden := range s.goldens {
		if golden.ResourceType == resourceType {
			pool = append(pool, golden.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	return func(yield func(*models.Record, error) bool) {
		for _, golden := range pool {
			if !yield(golden, nil) {
				return
			}
		}
	}
}

// Upsert creates or replaces the link for (SourceID, GoldenID)
func (s *Store) Upsert(ctx context.Context, link *models.Link) (*models.Link, error) {
	var stored *models.Link
	err := s.write(ctx, "link.upsert", func() (func(), error) {
		key := linkKey{source: link.SourceID, golden: link.GoldenID}
		next := *link
		now := s.now()

		previous, exists := s.links[key]
		if exists {
			next.ID = previous.ID
			next.CreatedAt = previous.CreatedAt
			next.Version = previous.Version + 1
		} else {
			next.ID = uuid.New().String()
			next.CreatedAt = now
			next.Version = 1
		}
		next.UpdatedAt = now
		s.links[key] = &next
		stored = &next

		if exists {
			return func() { s.links[key] = previous }, nil
		}
		return func() { delete(s.links, key) }, nil
	})
	if err != nil {
		return nil, err
	}
	out := *stored
	return &out, nil
}

// Find returns the link between a source and a golden record
func (s *Store) Find(_ context.Context, sourceID, goldenID string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[linkKey{source: sourceID, golden: goldenID}]
	if !ok {
		return nil, mdmerror.NotFound("link %s -> %s not found", sourceID, goldenID)
	}
	out := *link
	return &out, nil
}

// FindBySource returns the links from a source, ordered by golden id
func (s *Store) FindBySource(_ context.Context, sourceID string) ([]models.Link, error) {
	return s.collect(func(l *models.Link) bool { return l.SourceID == sourceID }), nil
}

// FindByGolden returns the links into a golden record, ordered by source id
func (s *Store) FindByGolden(_ context.Context, goldenID string) ([]models.Link, error) {
	return s.collect(func(l *models.Link) bool { return l.GoldenID == goldenID }), nil
}

func (s *Store) collect(keep func(*models.Link) bool) []models.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Link
	for _, link := range s.links {
		if keep(link) {
			out = append(out, *link)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].GoldenID < out[j].GoldenID
	})
	return out
}
