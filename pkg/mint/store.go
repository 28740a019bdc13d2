// Package mint drives a passed action's reward through the mint lifecycle:
// approved, requested, signed, locked, activated, claimed. Transitions only
// move forward, the action ID is the idempotency key, and every ledger lock
// carries an attester signature over a per-actor increasing nonce.
package mint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// ErrStaleState is returned when a conditional update finds the request in a
// different state than expected.
var ErrStaleState = errors.New("mint: request changed concurrently")

// Store persists mint requests and per-actor nonces.
type Store interface {
	// Create inserts m unless a request for the same action exists, in which
	// case the existing request is returned with created=false.
	Create(ctx context.Context, m contracts.MintRequest) (req *contracts.MintRequest, created bool, err error)
	Get(ctx context.Context, requestID string) (*contracts.MintRequest, error)
	GetByAction(ctx context.Context, actionID string) (*contracts.MintRequest, error)
	// Update writes m if the stored request is still in status from. m.Status
	// must equal from or be a legal single step from it.
	Update(ctx context.Context, m *contracts.MintRequest, from contracts.MintStatus) error
	// NextNonce atomically increments and returns the actor's nonce.
	NextNonce(ctx context.Context, actorID string) (uint64, error)
	ListByActor(ctx context.Context, actorID string) ([]contracts.MintRequest, error)
	ListByStatus(ctx context.Context, status contracts.MintStatus, limit int) ([]contracts.MintRequest, error)
	// MintedSince lists requests that reached the ledger and were created at
	// or after since.
	MintedSince(ctx context.Context, since time.Time) ([]contracts.MintRequest, error)
}

func checkUpdate(m *contracts.MintRequest, from contracts.MintStatus) error {
	if m.Status != from && !contracts.CanTransition(from, m.Status) {
		return contracts.NewError(contracts.CodeInvalidTransition, "illegal_transition",
			"cannot move mint request %s from %s to %s", m.RequestID, from, m.Status)
	}
	return nil
}

func minted(s contracts.MintStatus) bool {
	return s.Rank() >= contracts.MintLocked.Rank()
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*contracts.MintRequest
	byAction map[string]string
	nonces   map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*contracts.MintRequest),
		byAction: make(map[string]string),
		nonces:   make(map[string]uint64),
	}
}

func (s *MemoryStore) Create(_ context.Context, m contracts.MintRequest) (*contracts.MintRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byAction[m.ActionID]; ok {
		cp := *s.requests[id]
		return &cp, false, nil
	}
	stored := m
	s.requests[m.RequestID] = &stored
	s.byAction[m.ActionID] = m.RequestID
	return &m, true, nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*contracts.MintRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.requests[requestID]
	if !ok {
		return nil, contracts.NotFound("mint request", requestID)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetByAction(_ context.Context, actionID string) (*contracts.MintRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAction[actionID]
	if !ok {
		return nil, contracts.NotFound("mint request", actionID)
	}
	cp := *s.requests[id]
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, m *contracts.MintRequest, from contracts.MintStatus) error {
	if err := checkUpdate(m, from); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[m.RequestID]
	if !ok {
		return contracts.NotFound("mint request", m.RequestID)
	}
	if cur.Status != from {
		return ErrStaleState
	}
	cp := *m
	s.requests[m.RequestID] = &cp
	return nil
}

func (s *MemoryStore) NextNonce(_ context.Context, actorID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[actorID]++
	return s.nonces[actorID], nil
}

func (s *MemoryStore) filter(keep func(*contracts.MintRequest) bool) []contracts.MintRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.MintRequest, 0)
	for _, m := range s.requests {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListByActor(_ context.Context, actorID string) ([]contracts.MintRequest, error) {
	return s.filter(func(m *contracts.MintRequest) bool { return m.ActorID == actorID }), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status contracts.MintStatus, limit int) ([]contracts.MintRequest, error) {
	out := s.filter(func(m *contracts.MintRequest) bool { return m.Status == status })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MintedSince(_ context.Context, since time.Time) ([]contracts.MintRequest, error) {
	return s.filter(func(m *contracts.MintRequest) bool {
		return minted(m.Status) && !m.CreatedAt.Before(since)
	}), nil
}

var _ Store = (*MemoryStore)(nil)
