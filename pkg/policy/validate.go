package policy

import (
	"errors"
	"fmt"
	"math"

	"github.com/Masterminds/semver/v3"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

const weightTolerance = 1e-6

// Validate checks a snapshot for internal consistency. It compiles eligibility
// expressions and metadata schemas so a bad document never gets published.
func (s *Snapshot) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := semver.StrictNewVersion(s.Version); err != nil {
		add("version %q is not semantic: %v", s.Version, err)
	}
	if s.PassThreshold < 0 || s.PassThreshold > 100 {
		add("pass_threshold %.2f outside [0,100]", s.PassThreshold)
	}
	if sum := s.PillarWeights.Sum(); math.Abs(sum-1.0) > weightTolerance {
		add("pillar weights sum to %.6f, want 1.0", sum)
	}
	for _, p := range contracts.AllPillars {
		if w := s.PillarWeights.Get(p); w < 0 {
			add("pillar %s weight %.3f is negative", p, w)
		}
		if f := s.PillarFloors.Get(p); f < 0 || f > 100 {
			add("pillar %s floor %.2f outside [0,100]", p, f)
		}
	}

	checkRange := func(name string, r, bounds Range) {
		if r.Min > r.Max || !bounds.Contains(r.Min) || !bounds.Contains(r.Max) {
			add("%s multiplier range [%.2f,%.2f] must lie within [%.2f,%.2f]", name, r.Min, r.Max, bounds.Min, bounds.Max)
		}
	}
	checkRange("quality", s.Multipliers.Quality, QualityBounds)
	checkRange("impact", s.Multipliers.Impact, ImpactBounds)
	checkRange("integrity", s.Multipliers.Integrity, IntegrityBounds)

	if len(s.ActionTypes) == 0 {
		add("no action types defined")
	}
	for name, r := range s.ActionTypes {
		if r.BaseReward <= 0 {
			add("action type %q: base_reward must be positive", name)
		}
		if r.DailyRewardCap < 0 || r.WeeklyRewardCap < 0 {
			add("action type %q: reward caps must not be negative", name)
		}
		if r.DailyActionCap < 0 || r.MinEvidence < 0 {
			add("action type %q: counts must not be negative", name)
		}
		if r.Eligibility != "" {
			if _, err := compileEligibility(r.Eligibility); err != nil {
				add("action type %q: eligibility: %v", name, err)
			}
		}
		if r.MetadataSchema != "" {
			if _, err := compileSchema(s.Version, name, r.MetadataSchema); err != nil {
				add("action type %q: metadata_schema: %v", name, err)
			}
		}
	}

	for i, b := range s.Trust.AgeBands {
		if b.RewardFactor < 0 || b.RewardFactor > 1 {
			add("age band %d: reward_factor %.2f outside [0,1]", i, b.RewardFactor)
		}
		if i > 0 && b.MaxAge != 0 && b.MaxAge <= s.Trust.AgeBands[i-1].MaxAge {
			add("age band %d: max_age must increase", i)
		}
	}
	if n := len(s.Trust.TierMultipliers); n != 0 && n != contracts.MaxTier+1 {
		add("tier_multipliers has %d entries, want %d", n, contracts.MaxTier+1)
	}
	if s.Trust.Cooldown < 0 || s.Trust.SameTypeCooldown < 0 {
		add("cooldowns must not be negative")
	}

	if !(s.Risk.MonitorAt <= s.Risk.FreezeAt && s.Risk.FreezeAt <= s.Risk.SuspendAbove) {
		add("risk thresholds must satisfy monitor_at <= freeze_at <= suspend_above")
	}
	if s.Audit.SampleRate < 0 || s.Audit.SampleRate > 1 {
		add("audit sample_rate %.3f outside [0,1]", s.Audit.SampleRate)
	}
	if s.Audit.FlagThreshold < 0 {
		add("audit flag_threshold must not be negative")
	}

	return errors.Join(errs...)
}
