package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// ErrVersionNotNewer is returned when publishing a version that does not
// supersede the active one.
var ErrVersionNotNewer = errors.New("policy: version must be greater than the active version")

// Store holds published snapshots.
type Store interface {
	// Active returns the snapshot new submissions are pinned to.
	Active(ctx context.Context) (*Snapshot, error)
	// Get returns a specific published version.
	Get(ctx context.Context, version string) (*Snapshot, error)
	// Publish makes s the active version. Versions only move forward.
	Publish(ctx context.Context, s *Snapshot) error
	// Versions lists published versions in publication order.
	Versions(ctx context.Context) ([]string, error)
}

func unavailable(format string, args ...any) error {
	return contracts.NewError(contracts.CodePolicyUnavailable, "no_active_policy", format, args...)
}

// ensureNewer checks next against the active version, if any.
func ensureNewer(active, next string) error {
	nv, err := semver.StrictNewVersion(next)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if active == "" {
		return nil
	}
	av, err := semver.StrictNewVersion(active)
	if err != nil {
		return fmt.Errorf("policy: active version: %w", err)
	}
	if !nv.GreaterThan(av) {
		return fmt.Errorf("%w: %s <= %s", ErrVersionNotNewer, next, active)
	}
	return nil
}

// MemoryStore keeps snapshots in process.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string]*Snapshot
	order    []string
	clock    func() time.Time
}

// NewMemoryStore returns an empty store. Active fails until something is published.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string]*Snapshot),
		clock:    time.Now,
	}
}

// WithClock overrides the publication clock.
func (m *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	m.clock = clock
	return m
}

func (m *MemoryStore) Active(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, unavailable("no policy has been published")
	}
	return m.versions[m.order[len(m.order)-1]], nil
}

func (m *MemoryStore) Get(_ context.Context, version string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.versions[version]
	if !ok {
		return nil, unavailable("policy version %s not found", version)
	}
	return s, nil
}

func (m *MemoryStore) Publish(_ context.Context, s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", s.Version, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	active := ""
	if len(m.order) > 0 {
		active = m.order[len(m.order)-1]
	}
	if err := ensureNewer(active, s.Version); err != nil {
		return err
	}
	cp, err := s.Clone()
	if err != nil {
		return err
	}
	cp.PublishedAt = m.clock().UTC()
	m.versions[s.Version] = cp
	m.order = append(m.order, s.Version)
	return nil
}

func (m *MemoryStore) Versions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}
