// Package memory is an in-memory LedgerStore for tests and single-process
// development runs.
package memory

import (
	"context"
	"sync"

	"github.com/arcfield/agentbridge/internal/billing"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/storage"
)

// Store is an in-memory implementation of LedgerStore.
type Store struct {
	mu     sync.RWMutex
	claims []domain.BillingClaim
	audits map[string]billing.Snapshot
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{audits: make(map[string]billing.Snapshot)}
}

var _ storage.LedgerStore = (*Store)(nil)

func (s *Store) SaveClaims(ctx context.Context, claims []domain.BillingClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range claims {
		if s.hasClaim(c.ID) {
			continue
		}
		s.claims = append(s.claims, c)
	}
	return nil
}

func (s *Store) SaveAudit(ctx context.Context, snap billing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[snap.SessionID] = snap
	return nil
}

func (s *Store) ListClaims(ctx context.Context, opts storage.ListOptions) ([]domain.BillingClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.BillingClaim
	for _, c := range s.claims {
		if opts.SessionID != "" && c.SessionID != opts.SessionID {
			continue
		}
		result = append(result, c)
	}

	start := opts.Offset
	if start >= len(result) {
		return []domain.BillingClaim{}, nil
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Audit returns the stored snapshot for a session.
func (s *Store) Audit(sessionID string) (billing.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.audits[sessionID]
	return snap, ok
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) hasClaim(id string) bool {
	for _, c := range s.claims {
		if c.ID == id {
			return true
		}
	}
	return false
}
