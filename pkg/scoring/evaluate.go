package scoring

import (
	"context"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
)

// Fail reasons.
const (
	FailBelowThreshold = "below_threshold"
	FailIntegrityZero  = "integrity_zero"
	failFloorPrefix    = "floor_"
)

// Rejection reasons surfaced as validation errors before scoring.
const (
	ReasonUnknownActionType    = "unknown_action_type"
	ReasonInsufficientEvidence = "insufficient_evidence"
	ReasonInvalidMetadata      = "invalid_metadata"
	ReasonIneligible           = "ineligible_action"
)

// Input is everything Evaluate reads. Action must already be anchored and
// its Evidence normalized.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Input struct {
	Action *contracts.LightAction
	Policy *policy.Snapshot
	// TrustFactor is the trust layer's integrity contribution, the account
	// age band factor. Zero is treated as 1.
	TrustFactor float64
	// HardFail, when set, names the trust-layer finding that zeroes integrity.
	HardFail string
}

// Evaluate scores an action without touching any counters. The returned
// result carries the uncapped reward.
func Evaluate(in Input, now time.Time) (contracts.ScoreResult, error) {
	a, snap := in.Action, in.Policy
	rule, ok := snap.Rule(a.ActionType)
	if !ok {
		return contracts.ScoreResult{}, contracts.ValidationError(ReasonUnknownActionType, "action type %q is not defined in policy %s", a.ActionType, snap.Version)
	}
	assessment, present, err := AssessmentFromMetadata(a.Metadata)
	if err != nil {
		return contracts.ScoreResult{}, err
	}
	n := len(a.Evidence)
	trustFactor := in.TrustFactor
	if trustFactor == 0 {
		trustFactor = 1
	}

	r := contracts.ScoreResult{
		ActionID:      a.ActionID,
		PolicyVersion: snap.Version,
		Pillars:       PillarScores(rule, snap.Scoring, assessment, present, n),
		QualityMult:   QualityMultiplier(snap.Scoring, snap.Multipliers.Quality, n, a.Integrity.Witnesses),
		ImpactMult:    ImpactMultiplier(snap.Scoring, snap.Multipliers.Impact, a.Impact),
		IntegrityMult: IntegrityMultiplier(snap.Scoring, snap.Multipliers.Integrity, a.Integrity, trustFactor, in.HardFail != ""),
		ScoredAt:      now.UTC(),
	}
	r.LightScore = LightScore(r.Pillars, snap.PillarWeights)
	r.RawReward = round2(rule.BaseReward * r.QualityMult * r.ImpactMult * r.IntegrityMult)

	for _, p := range FloorFailures(r.Pillars, snap.PillarFloors) {
		r.FailReasons = append(r.FailReasons, failFloorPrefix+string(p))
	}
	if r.LightScore < snap.PassThreshold {
		r.FailReasons = append(r.FailReasons, FailBelowThreshold)
	}
	if r.IntegrityMult <= 0 {
		reason := FailIntegrityZero
		if in.HardFail != "" {
			reason += ":" + in.HardFail
		}
		r.FailReasons = append(r.FailReasons, reason)
	}
	if len(r.FailReasons) == 0 {
		r.Decision = contracts.DecisionPass
		r.FinalReward = r.RawReward
	} else {
		r.Decision = contracts.DecisionFail
	}
	return r, nil
}

// Admissible runs the pre-scoring checks of an action type: evidence count,
// metadata schema and the eligibility expression.
func Admissible(ctx context.Context, snap *policy.Snapshot, a *contracts.LightAction, accountAgeDays, tier int) error {
	rule, ok := snap.Rule(a.ActionType)
	if !ok {
		return contracts.ValidationError(ReasonUnknownActionType, "action type %q is not defined in policy %s", a.ActionType, snap.Version)
	}
	if len(a.Evidence) < rule.MinEvidence {
		return contracts.ValidationError(ReasonInsufficientEvidence, "%s requires at least %d evidence items, got %d", a.ActionType, rule.MinEvidence, len(a.Evidence))
	}
	if err := snap.ValidateMetadata(a.ActionType, a.Metadata); err != nil {
		return contracts.ValidationError(ReasonInvalidMetadata, "metadata does not match the %s schema: %v", a.ActionType, err)
	}
	types := make([]string, 0, len(a.Evidence))
	for _, ev := range a.Evidence {
		types = append(types, ev.Type)
	}
	ok, err := snap.Eligible(ctx, policy.EligibilityInput{
		ActionType: a.ActionType,
		PlatformID: a.PlatformID,
		Metadata:   a.Metadata,
		Impact: map[string]any{
			"beneficiaries": int64(a.Impact.Beneficiaries),
			"duration_days": int64(a.Impact.DurationDays),
			"scope":         a.Impact.Scope,
		},
		EvidenceTypes:  types,
		AccountAgeDays: accountAgeDays,
		Tier:           tier,
	})
	if err != nil {
		return contracts.WrapError(contracts.CodeInternal, "eligibility_eval", err)
	}
	if !ok {
		return contracts.ValidationError(ReasonIneligible, "action is not eligible under policy %s", snap.Version)
	}
	return nil
}
