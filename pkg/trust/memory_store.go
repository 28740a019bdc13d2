package trust

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

type counterSet struct {
	count  int
	reward float64
}

type actorState struct {
	mu       sync.Mutex
	profile  contracts.TrustProfile
	counters map[string]*counterSet // "d:<day>:<type>", "w:<week>:<type>"; type "" is the aggregate
	lastAny  time.Time
	lastType map[string]time.Time
}

// MemoryStore is an in-process Store. Each actor has its own lock, so
// actors never contend with one another.
type MemoryStore struct {
	mu     sync.RWMutex
	actors map[string]*actorState
	// register lazily on first counter use; used by deployments that keep
	// profiles elsewhere.
	autoCreate bool
	clock      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actors: make(map[string]*actorState), clock: time.Now}
}

// WithClock overrides the clock used for auto-created profiles.
func (m *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	m.clock = clock
	return m
}

// CountersOnly makes counter calls succeed for unknown actors.
func (m *MemoryStore) CountersOnly() *MemoryStore {
	m.autoCreate = true
	return m
}

func (m *MemoryStore) actor(actorID string) (*actorState, error) {
	m.mu.RLock()
	st, ok := m.actors[actorID]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}
	if !m.autoCreate {
		return nil, contracts.NotFound("actor", actorID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.actors[actorID]; ok {
		return st, nil
	}
	st = newActorState(contracts.TrustProfile{ActorID: actorID, CreatedAt: m.clock().UTC()})
	m.actors[actorID] = st
	return st, nil
}

func newActorState(p contracts.TrustProfile) *actorState {
	p.Counters = contracts.Usage{}
	return &actorState{
		profile:  p,
		counters: make(map[string]*counterSet),
		lastType: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Register(_ context.Context, p contracts.TrustProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actors[p.ActorID]; ok {
		return nil
	}
	m.actors[p.ActorID] = newActorState(p)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, actorID string) (*contracts.TrustProfile, error) {
	st, err := m.actor(actorID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p := st.profile
	if p.SuspendedUntil != nil {
		until := *p.SuspendedUntil
		p.SuspendedUntil = &until
	}
	return &p, nil
}

func (m *MemoryStore) update(actorID string, fn func(st *actorState)) error {
	st, err := m.actor(actorID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st)
	return nil
}

func (m *MemoryStore) RaiseRisk(_ context.Context, actorID string, score float64) (float64, error) {
	var out float64
	err := m.update(actorID, func(st *actorState) {
		if score > st.profile.RiskScore {
			st.profile.RiskScore = score
		}
		out = st.profile.RiskScore
	})
	return out, err
}

func (m *MemoryStore) Suspend(_ context.Context, actorID string, until time.Time) error {
	return m.update(actorID, func(st *actorState) {
		if st.profile.SuspendedUntil == nil || until.After(*st.profile.SuspendedUntil) {
			u := until.UTC()
			st.profile.SuspendedUntil = &u
		}
	})
}

func (m *MemoryStore) SuspendPermanently(_ context.Context, actorID string) error {
	return m.update(actorID, func(st *actorState) {
		st.profile.PermanentlySuspended = true
	})
}

func (m *MemoryStore) Reinstate(_ context.Context, actorID string) error {
	return m.update(actorID, func(st *actorState) {
		st.profile.PermanentlySuspended = false
		st.profile.SuspendedUntil = nil
		st.profile.RiskScore = 0
	})
}

func (m *MemoryStore) SetTier(_ context.Context, actorID string, tier int) error {
	if tier < 0 || tier > contracts.MaxTier {
		return contracts.ValidationError("tier", "tier %d outside [0,%d]", tier, contracts.MaxTier)
	}
	return m.update(actorID, func(st *actorState) {
		st.profile.Tier = tier
	})
}

func (m *MemoryStore) List(_ context.Context, since time.Time) ([]contracts.TrustProfile, error) {
	m.mu.RLock()
	states := make([]*actorState, 0, len(m.actors))
	for _, st := range m.actors {
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]contracts.TrustProfile, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.profile.CreatedAt.Before(since) {
			out = append(out, st.profile)
		}
		st.mu.Unlock()
	}
	return out, nil
}

func (st *actorState) get(key string) *counterSet {
	c, ok := st.counters[key]
	if !ok {
		c = &counterSet{}
		st.counters[key] = c
	}
	return c
}

func (m *MemoryStore) ReserveAction(_ context.Context, actorID string, lim ActionLimits) (contracts.Usage, error) {
	st, err := m.actor(actorID)
	if err != nil {
		return contracts.Usage{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	day, week := DayKey(lim.At), WeekKey(lim.At)
	st.prune(day, week)
	typeDaily := st.get("d:" + day + ":" + lim.ActionType)
	daily := st.get("d:" + day + ":")
	weekly := st.get("w:" + week + ":")
	if err := checkLimits(lim, st.lastAny, st.lastType[lim.ActionType], typeDaily.count, daily.count, weekly.count); err != nil {
		return st.usage(lim.At), err
	}
	typeDaily.count++
	daily.count++
	weekly.count++
	st.get("w:"+week+":"+lim.ActionType).count++
	st.lastAny = lim.At
	st.lastType[lim.ActionType] = lim.At
	return st.usage(lim.At), nil
}

func (m *MemoryStore) ReserveReward(_ context.Context, actorID string, req RewardRequest) (float64, error) {
	st, err := m.actor(actorID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	d := st.get("d:" + DayKey(req.At) + ":" + req.ActionType)
	w := st.get("w:" + WeekKey(req.At) + ":" + req.ActionType)
	g := grant(req.Amount, req.DailyCap, d.reward, req.WeeklyCap, w.reward)
	d.reward += g
	w.reward += g
	return g, nil
}

func (m *MemoryStore) Usage(_ context.Context, actorID string, at time.Time) (contracts.Usage, error) {
	st, err := m.actor(actorID)
	if err != nil {
		return contracts.Usage{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.usage(at), nil
}

func (st *actorState) usage(at time.Time) contracts.Usage {
	day, week := DayKey(at), WeekKey(at)
	u := contracts.Usage{
		Day:                day,
		Week:               week,
		DailyByType:        map[string]int{},
		DailyRewardByType:  map[string]float64{},
		WeeklyRewardByType: map[string]float64{},
	}
	dayPrefix, weekPrefix := "d:"+day+":", "w:"+week+":"
	for k, c := range st.counters {
		switch {
		case k == dayPrefix:
			u.DailyActions = c.count
		case k == weekPrefix:
			u.WeeklyActions = c.count
		case strings.HasPrefix(k, dayPrefix):
			t := strings.TrimPrefix(k, dayPrefix)
			if c.count > 0 {
				u.DailyByType[t] = c.count
			}
			if c.reward > 0 {
				u.DailyRewardByType[t] = c.reward
			}
		case strings.HasPrefix(k, weekPrefix):
			if c.reward > 0 {
				u.WeeklyRewardByType[strings.TrimPrefix(k, weekPrefix)] = c.reward
			}
		}
	}
	if !st.lastAny.IsZero() {
		last := st.lastAny
		u.LastActionAt = &last
	}
	return u
}

// prune drops counters of past periods.
func (st *actorState) prune(day, week string) {
	dayPrefix, weekPrefix := "d:"+day+":", "w:"+week+":"
	for k := range st.counters {
		if !strings.HasPrefix(k, dayPrefix) && !strings.HasPrefix(k, weekPrefix) {
			delete(st.counters, k)
		}
	}
}
