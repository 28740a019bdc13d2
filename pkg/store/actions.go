// Package store persists light actions and their score results.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/scoring"
)

// ErrDuplicate is returned when an action ID is already stored.
var ErrDuplicate = errors.New("store: duplicate action")

// ActionStore persists actions through pending, scored and rejected.
type ActionStore interface {
	scoring.Results
	Create(ctx context.Context, a contracts.LightAction) error
	Get(ctx context.Context, actionID string) (*contracts.LightAction, error)
	// FindByHash returns the oldest non-rejected action other than exceptID
	// whose canonical or evidence hash equals hash.
	FindByHash(ctx context.Context, hash, exceptID string) (*contracts.LightAction, error)
	// Reject moves a pending action to rejected.
	Reject(ctx context.Context, actionID, reason string) (bool, error)
	// MarkAdmitted records that a pending action passed the gate and holds
	// its rate-limit slot.
	MarkAdmitted(ctx context.Context, actionID string) (bool, error)
	// ClaimEvidence atomically claims an evidence hash for actionID and
	// returns the owning action. Claiming again as the owner is a no-op.
	ClaimEvidence(ctx context.Context, evidenceHash, actionID string) (string, error)
	ListByActor(ctx context.Context, actorID string, limit int) ([]contracts.LightAction, error)
}

type memoryEntry struct {
	action      contracts.LightAction
	score       *contracts.ScoreResult
	leaseHolder string
	leaseUntil  time.Time
	seq         int
}

// MemoryActionStore is an in-process ActionStore.
type MemoryActionStore struct {
	mu      sync.RWMutex
	actions map[string]*memoryEntry
	claims  map[string]string
	seq     int
}

func NewMemoryActionStore() *MemoryActionStore {
	return &MemoryActionStore{actions: make(map[string]*memoryEntry), claims: make(map[string]string)}
}

func (m *MemoryActionStore) Create(_ context.Context, a contracts.LightAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ActionID]; ok {
		return ErrDuplicate
	}
	m.seq++
	if a.Status == "" {
		a.Status = contracts.ActionPending
	}
	m.actions[a.ActionID] = &memoryEntry{action: a, seq: m.seq}
	return nil
}

func (m *MemoryActionStore) Get(_ context.Context, actionID string) (*contracts.LightAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.actions[actionID]
	if !ok {
		return nil, contracts.NotFound("action", actionID)
	}
	a := e.action
	return &a, nil
}

func (m *MemoryActionStore) FindByHash(_ context.Context, hash, exceptID string) (*contracts.LightAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *memoryEntry
	for id, e := range m.actions {
		if id == exceptID || e.action.Status == contracts.ActionRejected ||
			(e.action.CanonicalHash != hash && e.action.EvidenceHash != hash) {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, contracts.NotFound("action", hash)
	}
	a := best.action
	return &a, nil
}

func (m *MemoryActionStore) Reject(_ context.Context, actionID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.actions[actionID]
	if !ok {
		return false, contracts.NotFound("action", actionID)
	}
	if e.action.Status != contracts.ActionPending {
		return false, nil
	}
	e.action.Status = contracts.ActionRejected
	e.action.RejectReason = reason
	return true, nil
}

func (m *MemoryActionStore) MarkAdmitted(_ context.Context, actionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.actions[actionID]
	if !ok {
		return false, contracts.NotFound("action", actionID)
	}
	if e.action.Status != contracts.ActionPending {
		return false, nil
	}
	e.action.Admitted = true
	return true, nil
}

func (m *MemoryActionStore) ClaimEvidence(_ context.Context, evidenceHash, actionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.claims[evidenceHash]; ok {
		return owner, nil
	}
	m.claims[evidenceHash] = actionID
	return actionID, nil
}

func (m *MemoryActionStore) ListByActor(_ context.Context, actorID string, limit int) ([]contracts.LightAction, error) {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0)
	for _, e := range m.actions {
		if e.action.ActorID == actorID {
			entries = append(entries, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]contracts.LightAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.action)
	}
	return out, nil
}

func (m *MemoryActionStore) Lease(_ context.Context, actionID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.actions[actionID]
	if !ok {
		return false, contracts.NotFound("action", actionID)
	}
	if e.action.Status != contracts.ActionPending {
		return false, nil
	}
	if e.leaseHolder != "" && e.leaseHolder != holder && now.Before(e.leaseUntil) {
		return false, nil
	}
	e.leaseHolder, e.leaseUntil = holder, now.Add(ttl)
	return true, nil
}

func (m *MemoryActionStore) SaveScore(_ context.Context, r contracts.ScoreResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.actions[r.ActionID]
	if !ok {
		return false, contracts.NotFound("action", r.ActionID)
	}
	if e.action.Status != contracts.ActionPending {
		return false, nil
	}
	cp := r
	cp.FailReasons = append([]string(nil), r.FailReasons...)
	e.score = &cp
	e.action.Status = contracts.ActionScored
	e.leaseHolder = ""
	return true, nil
}

func (m *MemoryActionStore) Score(_ context.Context, actionID string) (*contracts.ScoreResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.actions[actionID]
	if !ok || e.score == nil {
		return nil, contracts.NotFound("score", actionID)
	}
	r := *e.score
	return &r, nil
}

var _ ActionStore = (*MemoryActionStore)(nil)
