package fraud

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// FlagStore persists random-audit flags.
type FlagStore interface {
	Add(ctx context.Context, f contracts.AuditFlag) error
	// CountSince counts an actor's flags raised at or after since.
	CountSince(ctx context.Context, actorID string, since time.Time) (int, error)
	List(ctx context.Context, actorID string) ([]contracts.AuditFlag, error)
	// Clear removes an actor's flags after reinstatement.
	Clear(ctx context.Context, actorID string) error
}

// MemoryFlagStore is an in-process FlagStore.
type MemoryFlagStore struct {
	mu    sync.RWMutex
	flags map[string][]contracts.AuditFlag
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: make(map[string][]contracts.AuditFlag)}
}

func (m *MemoryFlagStore) Add(_ context.Context, f contracts.AuditFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.flags[f.ActorID] {
		if existing.ActionID == f.ActionID && existing.Reason == f.Reason {
			return nil
		}
	}
	m.flags[f.ActorID] = append(m.flags[f.ActorID], f)
	return nil
}

func (m *MemoryFlagStore) CountSince(_ context.Context, actorID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, f := range m.flags[actorID] {
		if !f.FlaggedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryFlagStore) List(_ context.Context, actorID string) ([]contracts.AuditFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]contracts.AuditFlag(nil), m.flags[actorID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].FlaggedAt.Before(out[j].FlaggedAt) })
	return out, nil
}

func (m *MemoryFlagStore) Clear(_ context.Context, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, actorID)
	return nil
}
