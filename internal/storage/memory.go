package storage

import (
	"context"
	"sync"

	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

// MemoryStore keeps all records in process memory. Used for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*ledger.Record
	recs    map[string]*weave.Recommendation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ledger.Record),
		recs:    make(map[string]*weave.Recommendation),
	}
}

// CreateRecord inserts a ledger record, failing if the token is taken
func (s *MemoryStore) CreateRecord(_ context.Context, rec *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ServeToken]; ok {
		return ledger.ErrAlreadyExists
	}
	s.records[rec.ServeToken] = rec.Clone()
	return nil
}

// GetRecord returns a snapshot of the record for a serve token
func (s *MemoryStore) GetRecord(_ context.Context, serveToken string) (*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[serveToken]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return rec.Clone(), nil
}

// UpdateRecord applies mutate atomically under the store lock
func (s *MemoryStore) UpdateRecord(_ context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[serveToken]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	working := rec.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	s.records[serveToken] = working
	return working.Clone(), nil
}

// ListRecords returns snapshots of all ledger records
func (s *MemoryStore) ListRecords(_ context.Context) ([]*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ledger.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func recommendationKey(sessionID, messageID string) string {
	return sessionID + "\x00" + messageID
}

// CreateRecommendation is a conditional insert for the single-flight path
func (s *MemoryStore) CreateRecommendation(_ context.Context, rec *weave.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recommendationKey(rec.SessionID, rec.MessageID)
	if _, ok := s.recs[key]; ok {
		return weave.ErrAlreadyExists
	}
	cloned := *rec
	s.recs[key] = &cloned
	return nil
}

// GetRecommendation returns the recommendation for a (session, message) key
func (s *MemoryStore) GetRecommendation(_ context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[recommendationKey(sessionID, messageID)]
	if !ok {
		return nil, weave.ErrNotFound
	}
	cloned := *rec
	return &cloned, nil
}

// UpdateRecommendation applies mutate atomically under the store lock
func (s *MemoryStore) UpdateRecommendation(_ context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recommendationKey(sessionID, messageID)
	rec, ok := s.recs[key]
	if !ok {
		return nil, weave.ErrNotFound
	}
	working := *rec
	if err := mutate(&working); err != nil {
		return nil, err
	}
	s.recs[key] = &working
	cloned := working
	return &cloned, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
