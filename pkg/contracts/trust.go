package contracts

import "time"

// MaxTier is the highest reputation tier.
const MaxTier = 4

// TrustProfile is the per-actor trust state consulted by the fraud gate.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TrustProfile struct {
	ActorID              string     `json:"actor_id"`
	CreatedAt            time.Time  `json:"created_at"`
	Tier                 int        `json:"tier"`
	RiskScore            float64    `json:"risk_score"`
	SuspendedUntil       *time.Time `json:"suspended_until,omitempty"`
	PermanentlySuspended bool       `json:"permanently_suspended"`
	Email                string     `json:"email,omitempty"`
	RegistrationIP       string     `json:"registration_ip,omitempty"`
	DeviceFingerprint    string     `json:"device_fingerprint,omitempty"`
	Counters             Usage      `json:"counters"`
}

// AccountAgeDays returns whole days elapsed since registration.
func (p *TrustProfile) AccountAgeDays(now time.Time) int {
	if now.Before(p.CreatedAt) {
		return 0
	}
	return int(now.Sub(p.CreatedAt) / (24 * time.Hour))
}

// AccountAge returns the exact age of the account at now.
func (p *TrustProfile) AccountAge(now time.Time) time.Duration {
	if now.Before(p.CreatedAt) {
		return 0
	}
	return now.Sub(p.CreatedAt)
}

// Suspended reports whether the actor may not submit at now.
func (p *TrustProfile) Suspended(now time.Time) bool {
	if p.PermanentlySuspended {
		return true
	}
	return p.SuspendedUntil != nil && now.Before(*p.SuspendedUntil)
}

// Usage is a read view of an actor's counters for the current UTC day and ISO week.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Usage struct {
	Day                string             `json:"day"`
	Week               string             `json:"week"`
	DailyActions       int                `json:"daily_actions"`
	WeeklyActions      int                `json:"weekly_actions"`
	DailyByType        map[string]int     `json:"daily_by_type,omitempty"`
	DailyRewardByType  map[string]float64 `json:"daily_reward_by_type,omitempty"`
	WeeklyRewardByType map[string]float64 `json:"weekly_reward_by_type,omitempty"`
	LastActionAt       *time.Time         `json:"last_action_at,omitempty"`
}

// SignalKind names a fraud signal category.
type SignalKind string

const (
	SignalDeviceCollision     SignalKind = "device_collision"
	SignalIPCollision         SignalKind = "ip_collision"
	SignalTimingAnomaly       SignalKind = "timing_anomaly"
	SignalContentDuplication  SignalKind = "content_duplication"
	SignalCollusion           SignalKind = "collusion_anomaly"
	SignalLowBehavior         SignalKind = "low_behavioral_score"
	SignalRegistrationCluster SignalKind = "registration_cluster"
)

// Signal is one detector observation about an actor. Strength is 0-1.
type Signal struct {
	ActorID    string     `json:"actor_id"`
	Kind       SignalKind `json:"kind"`
	Strength   float64    `json:"strength"`
	Detail     string     `json:"detail,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// HoldStatus is the state of a pending reward hold.
type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldFrozen   HoldStatus = "frozen"
)

// RewardHold delays availability of a passed reward.
type RewardHold struct {
	ActionID  string     `json:"action_id"`
	ActorID   string     `json:"actor_id"`
	Amount    float64    `json:"amount"`
	ReleaseAt time.Time  `json:"release_at"`
	Status    HoldStatus `json:"status"`
}

// AuditFlag records a failed random-audit re-check.
type AuditFlag struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	ActionID  string    `json:"action_id"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}
