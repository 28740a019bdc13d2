package fraud

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// HoldStore persists pending-reward holds.
type HoldStore interface {
	Create(ctx context.Context, h contracts.RewardHold) error
	Get(ctx context.Context, actionID string) (*contracts.RewardHold, error)
	// Due lists held (not frozen) holds whose release time has passed.
	Due(ctx context.Context, now time.Time) ([]contracts.RewardHold, error)
	// Release moves a hold from held to released. It reports false when the
	// hold was not in the held state.
	Release(ctx context.Context, actionID string) (bool, error)
	// Freeze moves every held hold of an actor to frozen.
	Freeze(ctx context.Context, actorID string) (int, error)
	// Unfreeze moves frozen holds of an actor back to held.
	Unfreeze(ctx context.Context, actorID string) (int, error)
	ListByActor(ctx context.Context, actorID string) ([]contracts.RewardHold, error)
}

// MemoryHoldStore is an in-process HoldStore.
type MemoryHoldStore struct {
	mu    sync.RWMutex
	holds map[string]*contracts.RewardHold
}

func NewMemoryHoldStore() *MemoryHoldStore {
	return &MemoryHoldStore{holds: make(map[string]*contracts.RewardHold)}
}

func (m *MemoryHoldStore) Create(_ context.Context, h contracts.RewardHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holds[h.ActionID]; ok {
		return nil
	}
	m.holds[h.ActionID] = &h
	return nil
}

func (m *MemoryHoldStore) Get(_ context.Context, actionID string) (*contracts.RewardHold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holds[actionID]
	if !ok {
		return nil, contracts.NotFound("hold", actionID)
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryHoldStore) Due(_ context.Context, now time.Time) ([]contracts.RewardHold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.RewardHold, 0)
	for _, h := range m.holds {
		if h.Status == contracts.HoldHeld && !h.ReleaseAt.After(now) {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseAt.Before(out[j].ReleaseAt) })
	return out, nil
}

func (m *MemoryHoldStore) Release(_ context.Context, actionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[actionID]
	if !ok {
		return false, contracts.NotFound("hold", actionID)
	}
	if h.Status != contracts.HoldHeld {
		return false, nil
	}
	h.Status = contracts.HoldReleased
	return true, nil
}

func (m *MemoryHoldStore) setStatus(actorID string, from, to contracts.HoldStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.holds {
		if h.ActorID == actorID && h.Status == from {
			h.Status = to
			n++
		}
	}
	return n
}

func (m *MemoryHoldStore) Freeze(_ context.Context, actorID string) (int, error) {
	return m.setStatus(actorID, contracts.HoldHeld, contracts.HoldFrozen), nil
}

func (m *MemoryHoldStore) Unfreeze(_ context.Context, actorID string) (int, error) {
	return m.setStatus(actorID, contracts.HoldFrozen, contracts.HoldHeld), nil
}

func (m *MemoryHoldStore) ListByActor(_ context.Context, actorID string) ([]contracts.RewardHold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.RewardHold, 0)
	for _, h := range m.holds {
		if h.ActorID == actorID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseAt.Before(out[j].ReleaseAt) })
	return out, nil
}
