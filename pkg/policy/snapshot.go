// Package policy holds the versioned, immutable rule sets that drive scoring,
// rate limiting and fraud response. A Snapshot is pinned to every action at
// submission time and is never mutated afterwards.
package policy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Snapshot is one published policy version. Treat values returned by a Store
// as read-only.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Snapshot struct {
	Version       string                `yaml:"version" json:"version"`
	Description   string                `yaml:"description,omitempty" json:"description,omitempty"`
	PassThreshold float64               `yaml:"pass_threshold" json:"pass_threshold"`
	PillarWeights contracts.Pillars     `yaml:"pillar_weights" json:"pillar_weights"`
	PillarFloors  contracts.Pillars     `yaml:"pillar_floors" json:"pillar_floors"`
	Multipliers   MultiplierRanges      `yaml:"multipliers" json:"multipliers"`
	Scoring       ScoringRules          `yaml:"scoring" json:"scoring"`
	ActionTypes   map[string]ActionRule `yaml:"action_types" json:"action_types"`
	Trust         TrustRules            `yaml:"trust" json:"trust"`
	Risk          RiskRules             `yaml:"risk" json:"risk"`
	Hold          HoldRules             `yaml:"hold" json:"hold"`
	Audit         AuditRules            `yaml:"audit" json:"audit"`
	PublishedAt   time.Time             `yaml:"-" json:"-"`
}

// Range is a closed interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// MultiplierRanges bounds the three reward multipliers.
type MultiplierRanges struct {
	Quality   Range `yaml:"quality" json:"quality"`
	Impact    Range `yaml:"impact" json:"impact"`
	Integrity Range `yaml:"integrity" json:"integrity"`
}

// ScoringRules tunes how pillar scores and multipliers are derived.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ScoringRules struct {
	// AssessmentWeight blends an upstream assessment into the baseline (0 = ignore).
	AssessmentWeight float64 `yaml:"assessment_weight" json:"assessment_weight"`
	// EvidenceBonus is added to T per validated evidence item, up to MaxEvidenceBonus.
	EvidenceBonus    float64 `yaml:"evidence_bonus" json:"evidence_bonus"`
	MaxEvidenceBonus float64 `yaml:"max_evidence_bonus" json:"max_evidence_bonus"`
	// Quality: base plus per-evidence and per-witness increments.
	QualityBase        float64 `yaml:"quality_base" json:"quality_base"`
	QualityPerEvidence float64 `yaml:"quality_per_evidence" json:"quality_per_evidence"`
	QualityPerWitness  float64 `yaml:"quality_per_witness" json:"quality_per_witness"`
	// Impact: scope factor scaled by log of beneficiaries and duration.
	ImpactScopes map[string]float64 `yaml:"impact_scopes" json:"impact_scopes"`
	// Integrity: submitter claim factors before the account age factor.
	SelfReportedIntegrity   float64 `yaml:"self_reported_integrity" json:"self_reported_integrity"`
	SourceVerifiedIntegrity float64 `yaml:"source_verified_integrity" json:"source_verified_integrity"`
	DefaultIntegrity        float64 `yaml:"default_integrity" json:"default_integrity"`
}

// ActionRule configures one action type.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ActionRule struct {
	BaseReward      float64           `yaml:"base_reward" json:"base_reward"`
	Baseline        contracts.Pillars `yaml:"baseline" json:"baseline"`
	DailyRewardCap  float64           `yaml:"daily_reward_cap" json:"daily_reward_cap"`
	WeeklyRewardCap float64           `yaml:"weekly_reward_cap" json:"weekly_reward_cap"`
	DailyActionCap  int               `yaml:"daily_action_cap" json:"daily_action_cap"`
	MinEvidence     int               `yaml:"min_evidence" json:"min_evidence"`
	EvidenceKinds   []string          `yaml:"evidence_kinds,omitempty" json:"evidence_kinds,omitempty"`
	Eligibility     string            `yaml:"eligibility,omitempty" json:"eligibility,omitempty"`
	MetadataSchema  string            `yaml:"metadata_schema,omitempty" json:"metadata_schema,omitempty"`
}

// AgeBand degrades new accounts. Bands are checked in order; the first band
// whose MaxAge exceeds the account age applies. MaxAge 0 matches everything.
type AgeBand struct {
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
	RewardFactor   float64       `yaml:"reward_factor" json:"reward_factor"`
	DailyActionCap int           `yaml:"daily_action_cap" json:"daily_action_cap"`
}

// TrustRules configures the age gate and tiered rate limits.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TrustRules struct {
	AgeBands         []AgeBand     `yaml:"age_bands" json:"age_bands"`
	TierMultipliers  []float64     `yaml:"tier_multipliers" json:"tier_multipliers"`
	DailyActionCap   int           `yaml:"daily_action_cap" json:"daily_action_cap"`
	WeeklyActionCap  int           `yaml:"weekly_action_cap" json:"weekly_action_cap"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
	SameTypeCooldown time.Duration `yaml:"same_type_cooldown" json:"same_type_cooldown"`
}

// RiskRules maps signals to a 0-100 risk score and the score to responses.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RiskRules struct {
	Weights          map[contracts.SignalKind]float64 `yaml:"weights" json:"weights"`
	MonitorAt        float64                          `yaml:"monitor_at" json:"monitor_at"`
	FreezeAt         float64                          `yaml:"freeze_at" json:"freeze_at"`
	SuspendAbove     float64                          `yaml:"suspend_above" json:"suspend_above"`
	SuspendFor       time.Duration                    `yaml:"suspend_for" json:"suspend_for"`
	HardFailStrength float64                          `yaml:"hard_fail_strength" json:"hard_fail_strength"`
}

// HoldRules sets how long passed rewards wait before they can be minted.
type HoldRules struct {
	TierDelays         []time.Duration `yaml:"tier_delays" json:"tier_delays"`
	NewAccountAge      time.Duration   `yaml:"new_account_age" json:"new_account_age"`
	NewAccountMinDelay time.Duration   `yaml:"new_account_min_delay" json:"new_account_min_delay"`
}

// AuditRules configures the random audit sweep.
type AuditRules struct {
	SampleRate    float64       `yaml:"sample_rate" json:"sample_rate"`
	Window        time.Duration `yaml:"window" json:"window"`
	FlagThreshold int           `yaml:"flag_threshold" json:"flag_threshold"`
	Interval      time.Duration `yaml:"interval" json:"interval"`
}

// Rule returns the rule for an action type.
func (s *Snapshot) Rule(actionType string) (ActionRule, bool) {
	r, ok := s.ActionTypes[actionType]
	return r, ok
}

// AgeBandFor returns the band applying to an account of the given age.
func (s *Snapshot) AgeBandFor(age time.Duration) AgeBand {
	for _, b := range s.Trust.AgeBands {
		if b.MaxAge == 0 || age < b.MaxAge {
			return b
		}
	}
	return AgeBand{RewardFactor: 1.0}
}

// TierMultiplier returns the rate-limit scale for tier, clamped to the table.
func (s *Snapshot) TierMultiplier(tier int) float64 {
	m := s.Trust.TierMultipliers
	if len(m) == 0 {
		return 1.0
	}
	if tier < 0 {
		tier = 0
	}
	if tier >= len(m) {
		tier = len(m) - 1
	}
	return m[tier]
}

// HoldDelay returns how long a passed reward is held for an actor.
func (s *Snapshot) HoldDelay(tier int, age time.Duration) time.Duration {
	var d time.Duration
	if n := len(s.Hold.TierDelays); n > 0 {
		if tier < 0 {
			tier = 0
		}
		if tier >= n {
			tier = n - 1
		}
		d = s.Hold.TierDelays[tier]
	}
	if age < s.Hold.NewAccountAge && d < s.Hold.NewAccountMinDelay {
		d = s.Hold.NewAccountMinDelay
	}
	return d
}

// Hash returns the canonical content hash of the snapshot.
func (s *Snapshot) Hash() (string, error) {
	return canonicalize.CanonicalHash(s)
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() (*Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("policy: clone: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("policy: clone: %w", err)
	}
	out.PublishedAt = s.PublishedAt
	return &out, nil
}
