// Package scoring turns an anchored action into its five pillar scores, the
// light score, the three reward multipliers and a pass/fail decision under a
// pinned policy snapshot.
package scoring

import (
	"fmt"
	"math"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
)

// AssessmentKey is the metadata field carrying an upstream pillar assessment.
const AssessmentKey = "assessment"

// AssessmentFromMetadata reads an optional upstream assessment of the form
// {"S": 80, "T": 70, ...}. Missing pillars fall back to the baseline.
func AssessmentFromMetadata(md map[string]any) (*contracts.Pillars, map[contracts.Pillar]bool, error) {
	raw, ok := md[AssessmentKey]
	if !ok || raw == nil {
		return nil, nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, contracts.ValidationError("assessment", "metadata.assessment must be an object")
	}
	var out contracts.Pillars
	present := make(map[contracts.Pillar]bool)
	for _, p := range contracts.AllPillars {
		v, ok := m[string(p)]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil || f < 0 || f > 100 {
			return nil, nil, contracts.ValidationError("assessment", "metadata.assessment.%s must be a number in [0,100]", p)
		}
		out = out.Set(p, f)
		present[p] = true
	}
	return &out, present, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PillarScores blends the action type's baseline with an upstream assessment
// and adds the truth bonus for validated evidence.
func PillarScores(rule policy.ActionRule, rules policy.ScoringRules, assessment *contracts.Pillars, present map[contracts.Pillar]bool, evidenceCount int) contracts.Pillars {
	out := rule.Baseline
	if assessment != nil {
		w := clamp(rules.AssessmentWeight, 0, 1)
		for _, p := range contracts.AllPillars {
			if !present[p] {
				continue
			}
			out = out.Set(p, (1-w)*rule.Baseline.Get(p)+w*assessment.Get(p))
		}
	}
	bonus := math.Min(float64(evidenceCount)*rules.EvidenceBonus, rules.MaxEvidenceBonus)
	if bonus > 0 {
		out.T += bonus
	}
	for _, p := range contracts.AllPillars {
		out = out.Set(p, round2(clamp(out.Get(p), 0, 100)))
	}
	return out
}

// LightScore is the weighted sum of the pillar scores.
func LightScore(p, weights contracts.Pillars) float64 {
	var sum float64
	for _, name := range contracts.AllPillars {
		sum += p.Get(name) * weights.Get(name)
	}
	return round2(sum)
}

// FloorFailures lists the pillars below their floor, in reporting order.
func FloorFailures(p, floors contracts.Pillars) []contracts.Pillar {
	var out []contracts.Pillar
	for _, name := range contracts.AllPillars {
		if p.Get(name) < floors.Get(name) {
			out = append(out, name)
		}
	}
	return out
}
