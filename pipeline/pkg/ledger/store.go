package ledger

import (
	"context"
	"sort"
	"sync"
)

// Store persists ledger records. The Ledger serializes calls per dataset.
type Store interface {
	Get(ctx context.Context, dataset, token string) (*Record, error)
	List(ctx context.Context, dataset string) ([]*Record, error)
	Insert(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, dataset, token string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[dataset][token]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns the records of a dataset ordered by sequence.
func (s *MemoryStore) List(_ context.Context, dataset string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records[dataset]))
	for _, rec := range s.records[dataset] {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[rec.Dataset] == nil {
		s.records[rec.Dataset] = make(map[string]*Record)
	}
	s.records[rec.Dataset][rec.Token] = rec.clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Dataset][rec.Token]; !ok {
		return ErrNotFound
	}
	s.records[rec.Dataset][rec.Token] = rec.clone()
	return nil
}
