// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jmcleod/leafgate/internal/uuid"
	"github.com/jmcleod/leafgate/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu         sync.RWMutex
	principals map[string]storage.Principal
	byEmail    map[string]string
	analyses   map[string][]storage.AnalysisRecord // principal ID -> records, oldest first
	now        func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a new empty in-memory Store.
func New() *Store {
	return &Store{
		principals: make(map[string]storage.Principal),
		byEmail:    make(map[string]string),
		analyses:   make(map[string][]storage.AnalysisRecord),
		now:        time.Now,
	}
}

func (s *Store) CreatePrincipal(_ context.Context, p *storage.Principal) error {
	p.Email = storage.NormalizeEmail(p.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[p.Email]; ok {
		return storage.ErrEmailTaken
	}
	if p.ID == "" {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if _, ok := s.principals[p.ID]; ok {
		return fmt.Errorf("principal %s already exists", p.ID)
	}
	s.principals[p.ID] = *p
	s.byEmail[p.Email] = p.ID
	return nil
}

func (s *Store) PrincipalByEmail(_ context.Context, email string) (*storage.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[storage.NormalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p := s.principals[id]
	return &p, nil
}

func (s *Store) PrincipalByID(_ context.Context, id string) (*storage.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) InsertAnalysis(_ context.Context, rec *storage.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[rec.PrincipalID]; !ok {
		return fmt.Errorf("principal %s: %w", rec.PrincipalID, storage.ErrNotFound)
	}
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.analyses[rec.PrincipalID] = append(s.analyses[rec.PrincipalID], *rec)
	return nil
}

func (s *Store) ListAnalyses(_ context.Context, principalID string, limit, offset int) ([]storage.AnalysisRecord, int, error) {
	s.mu.RLock()
	all := slices.Clone(s.analyses[principalID])
	s.mu.RUnlock()

	// Among equal timestamps the later insert comes first.
	slices.Reverse(all)
	slices.SortStableFunc(all, func(a, b storage.AnalysisRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	start, end := storage.Page(len(all), limit, offset)
	return all[start:end], len(all), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
