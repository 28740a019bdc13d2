package policy

import (
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// DefaultPassThreshold applies when a document omits pass_threshold.
const DefaultPassThreshold = 50

// Bounds every policy's multiplier ranges must stay within.
var (
	QualityBounds   = Range{Min: 0.5, Max: 3.0}
	ImpactBounds    = Range{Min: 0.5, Max: 5.0}
	IntegrityBounds = Range{Min: 0.0, Max: 1.0}
)

// Default returns the built-in policy used when no document is configured.
func Default() *Snapshot {
	day := 24 * time.Hour
	return &Snapshot{
		Version:       "1.0.0",
		Description:   "built-in default policy",
		PassThreshold: DefaultPassThreshold,
		PillarWeights: contracts.Pillars{S: 0.25, T: 0.20, H: 0.20, C: 0.15, U: 0.20},
		PillarFloors:  contracts.Pillars{S: 30, T: 40, H: 30, C: 20, U: 30},
		Multipliers: MultiplierRanges{
			Quality:   QualityBounds,
			Impact:    ImpactBounds,
			Integrity: IntegrityBounds,
		},
		Scoring: ScoringRules{
			AssessmentWeight:   0.6,
			EvidenceBonus:      5,
			MaxEvidenceBonus:   20,
			QualityBase:        1.0,
			QualityPerEvidence: 0.25,
			QualityPerWitness:  0.1,
			ImpactScopes: map[string]float64{
				"personal":  0.5,
				"community": 1.0,
				"regional":  1.5,
				"global":    2.0,
			},
			SelfReportedIntegrity:   0.8,
			SourceVerifiedIntegrity: 1.0,
			DefaultIntegrity:        0.9,
		},
		ActionTypes: map[string]ActionRule{
			"volunteer": {
				BaseReward:      100,
				Baseline:        contracts.Pillars{S: 80, T: 60, H: 70, C: 60, U: 70},
				DailyRewardCap:  800,
				WeeklyRewardCap: 3000,
				DailyActionCap:  8,
				MinEvidence:     1,
			},
			"donation": {
				BaseReward:      80,
				Baseline:        contracts.Pillars{S: 75, T: 65, H: 55, C: 50, U: 60},
				DailyRewardCap:  600,
				WeeklyRewardCap: 2500,
				DailyActionCap:  5,
				MinEvidence:     1,
				EvidenceKinds:   []string{"transaction", "url", "attestation"},
			},
			"mentoring": {
				BaseReward:      60,
				Baseline:        contracts.Pillars{S: 70, T: 60, H: 70, C: 75, U: 65},
				DailyRewardCap:  400,
				WeeklyRewardCap: 1500,
				DailyActionCap:  6,
			},
			"content": {
				BaseReward:      30,
				Baseline:        contracts.Pillars{S: 55, T: 60, H: 50, C: 55, U: 55},
				DailyRewardCap:  200,
				WeeklyRewardCap: 800,
				DailyActionCap:  8,
				Eligibility:     `size(metadata) > 0 && has(metadata.title)`,
				MetadataSchema:  `{"type":"object","required":["title"],"properties":{"title":{"type":"string","minLength":3,"maxLength":200}}}`,
			},
			"gratitude": {
				BaseReward:      10,
				Baseline:        contracts.Pillars{S: 50, T: 55, H: 65, C: 40, U: 70},
				DailyRewardCap:  50,
				WeeklyRewardCap: 200,
				DailyActionCap:  8,
			},
		},
		Trust: TrustRules{
			AgeBands: []AgeBand{
				{MaxAge: 3 * day, RewardFactor: 0.5, DailyActionCap: 3},
				{MaxAge: 7 * day, RewardFactor: 0.75, DailyActionCap: 5},
				{MaxAge: 0, RewardFactor: 1.0},
			},
			TierMultipliers:  []float64{0.4, 0.7, 1.0, 1.5, 2.0},
			DailyActionCap:   20,
			WeeklyActionCap:  100,
			Cooldown:         30 * time.Second,
			SameTypeCooldown: 5 * time.Minute,
		},
		Risk: RiskRules{
			Weights: map[contracts.SignalKind]float64{
				contracts.SignalDeviceCollision:     25,
				contracts.SignalIPCollision:         10,
				contracts.SignalTimingAnomaly:       20,
				contracts.SignalContentDuplication:  15,
				contracts.SignalCollusion:           25,
				contracts.SignalLowBehavior:         10,
				contracts.SignalRegistrationCluster: 15,
			},
			MonitorAt:        25,
			FreezeAt:         50,
			SuspendAbove:     70,
			SuspendFor:       day,
			HardFailStrength: 1.0,
		},
		Hold: HoldRules{
			TierDelays:         []time.Duration{48 * time.Hour, 24 * time.Hour, 12 * time.Hour, 0, 0},
			NewAccountAge:      7 * day,
			NewAccountMinDelay: 24 * time.Hour,
		},
		Audit: AuditRules{
			SampleRate:    0.05,
			Window:        30 * day,
			FlagThreshold: 3,
			Interval:      time.Hour,
		},
	}
}
