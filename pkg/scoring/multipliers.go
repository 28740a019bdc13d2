package scoring

import (
	"math"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
)

// QualityMultiplier grows with validated evidence and witnesses.
func QualityMultiplier(rules policy.ScoringRules, bounds policy.Range, evidenceCount, witnesses int) float64 {
	q := rules.QualityBase + rules.QualityPerEvidence*float64(evidenceCount) + rules.QualityPerWitness*float64(witnesses)
	return round4(bounds.Clamp(q))
}

// ImpactMultiplier scales the scope factor by the logarithm of reach and
// duration, so the hundredth beneficiary counts less than the second.
func ImpactMultiplier(rules policy.ScoringRules, bounds policy.Range, impact contracts.Impact) float64 {
	scope, ok := rules.ImpactScopes[impact.Scope]
	if !ok {
		scope = 1.0
	}
	reach := 1 + math.Log10(1+float64(max(impact.Beneficiaries, 0)))/2
	span := 1 + math.Log10(1+float64(max(impact.DurationDays, 0)))/4
	return round4(bounds.Clamp(scope * reach * span))
}

// IntegrityMultiplier combines the submitter's integrity claim with the
// trust layer's factor. A hard fail forces zero.
func IntegrityMultiplier(rules policy.ScoringRules, bounds policy.Range, claim contracts.Integrity, trustFactor float64, hardFail bool) float64 {
	if hardFail {
		return 0
	}
	base := rules.DefaultIntegrity
	switch {
	case claim.SourceVerified:
		base = rules.SourceVerifiedIntegrity
	case claim.SelfReported:
		base = rules.SelfReportedIntegrity
	}
	return round4(bounds.Clamp(base * trustFactor))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
