package contracts

import "time"

// Decision is the pass/fail outcome of scoring.
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionFail Decision = "fail"
)

// Pillar names one of the five scored dimensions.
type Pillar string

const (
	PillarService    Pillar = "S"
	PillarTruth      Pillar = "T"
	PillarHealing    Pillar = "H"
	PillarContinuity Pillar = "C"
	PillarUnity      Pillar = "U"
)

// AllPillars lists pillars in their fixed reporting order.
var AllPillars = []Pillar{PillarService, PillarTruth, PillarHealing, PillarContinuity, PillarUnity}

// Pillars holds one 0-100 score per pillar.
type Pillars struct {
	S float64 `json:"S" yaml:"S"`
	T float64 `json:"T" yaml:"T"`
	H float64 `json:"H" yaml:"H"`
	C float64 `json:"C" yaml:"C"`
	U float64 `json:"U" yaml:"U"`
}

// Get returns the value for p.
func (p Pillars) Get(name Pillar) float64 {
	switch name {
	case PillarService:
		return p.S
	case PillarTruth:
		return p.T
	case PillarHealing:
		return p.H
	case PillarContinuity:
		return p.C
	case PillarUnity:
		return p.U
	}
	return 0
}

// Set returns a copy of p with name set to v.
func (p Pillars) Set(name Pillar, v float64) Pillars {
	switch name {
	case PillarService:
		p.S = v
	case PillarTruth:
		p.T = v
	case PillarHealing:
		p.H = v
	case PillarContinuity:
		p.C = v
	case PillarUnity:
		p.U = v
	}
	return p
}

// Sum returns the sum of all five values.
func (p Pillars) Sum() float64 {
	return p.S + p.T + p.H + p.C + p.U
}

// ScoreResult is the one-to-one scoring outcome of a LightAction.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ScoreResult struct {
	ActionID      string    `json:"action_id"`
	PolicyVersion string    `json:"policy_version"`
	Pillars       Pillars   `json:"pillar_scores"`
	LightScore    float64   `json:"light_score"`
	QualityMult   float64   `json:"quality_mult"`
	ImpactMult    float64   `json:"impact_mult"`
	IntegrityMult float64   `json:"integrity_mult"`
	Decision      Decision  `json:"decision"`
	RawReward     float64   `json:"raw_reward"`
	FinalReward   float64   `json:"final_reward"`
	Capped        bool      `json:"capped,omitempty"`
	CapReason     string    `json:"cap_reason,omitempty"`
	FailReasons   []string  `json:"fail_reasons,omitempty"`
	ScoredAt      time.Time `json:"scored_at"`
}
