package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trang393934/angelaithutrang-sub004/pkg/auditlog"
	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/evidence"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/scoring"
)

// Trust-layer findings that zero the integrity multiplier.
const (
	HardFailDuplicateEvidence = "duplicate_evidence"
	HardFailBot               = "bot_flag"
)

// counterpartyKeys are metadata fields naming another actor the action credits.
var counterpartyKeys = []string{"recipient_id", "mentee_id", "beneficiary_id"}

// SubmitInput is one submission from a platform.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type SubmitInput struct {
	PlatformID string               `json:"platform_id"`
	ActionType string               `json:"action_type"`
	ActorID    string               `json:"actor_id"`
	Timestamp  time.Time            `json:"timestamp"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
	Evidence   []contracts.Evidence `json:"evidence,omitempty"`
	Impact     contracts.Impact     `json:"impact"`
	Integrity  contracts.Integrity  `json:"integrity"`
	Origin     contracts.Origin     `json:"-"`
}

// Submit anchors, gates and scores one action. Resubmitting identical
// content for the same actor returns the stored outcome without consuming
// limits again. Gate and admissibility failures are stored as rejected
// actions and returned as errors.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (res *contracts.SubmitResult, err error) {
	ctx, done := e.track(ctx, "submit_action")
	defer func() { done(err) }()

	snap, err := e.policies.Active(ctx)
	if err != nil {
		return nil, err
	}
	now := e.clock().UTC()
	a := contracts.LightAction{
		ActionID:      uuid.NewString(),
		PlatformID:    in.PlatformID,
		ActionType:    in.ActionType,
		ActorID:       in.ActorID,
		Timestamp:     in.Timestamp.UTC(),
		Metadata:      in.Metadata,
		Evidence:      in.Evidence,
		Impact:        in.Impact,
		Integrity:     in.Integrity,
		Origin:        in.Origin,
		PolicyVersion: snap.Version,
		Status:        contracts.ActionPending,
	}
	if in.Timestamp.IsZero() {
		a.Timestamp = now
	}
	rule, ok := snap.Rule(a.ActionType)
	if !ok {
		return nil, contracts.ValidationError(scoring.ReasonUnknownActionType, "action type %q is not defined in policy %s", a.ActionType, snap.Version)
	}
	anchored, err := e.anchor.Anchor(&a, rule.EvidenceKinds)
	if err != nil {
		return nil, err
	}
	a.Evidence = anchored.Bundle.Items
	a.CanonicalHash = anchored.CanonicalHash
	a.EvidenceHash = anchored.EvidenceHash

	if prior, err := e.actions.FindByHash(ctx, a.CanonicalHash, ""); err == nil && prior.ActorID == a.ActorID {
		e.logger.InfoContext(ctx, "identical resubmission", "action_id", prior.ActionID, "actor_id", a.ActorID, "status", prior.Status)
		return e.resume(ctx, prior)
	} else if err != nil && contracts.CodeOf(err) != contracts.CodeNotFound {
		return nil, wrapf(err, "lookup %s", a.CanonicalHash)
	}

	profile, err := e.trust.Get(ctx, a.ActorID)
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return nil, contracts.ValidationError(fraud.ReasonUnknownActor, "actor %q is not registered", a.ActorID)
		}
		return nil, err
	}
	if err := scoring.Admissible(ctx, snap, &a, profile.AccountAgeDays(now), profile.Tier); err != nil {
		return nil, e.reject(ctx, &a, false, err)
	}

	// The action is stored before its slot is reserved so that a reserved
	// slot always belongs to a stored action.
	if err := e.actions.Create(ctx, a); err != nil {
		return nil, wrapf(err, "store action %s", a.ActionID)
	}
	assessment, err := e.gate.Admit(ctx, snap, a.ActorID, a.ActionType)
	if err != nil {
		return nil, e.reject(ctx, &a, true, err)
	}
	if _, err := e.actions.MarkAdmitted(ctx, a.ActionID); err != nil {
		return nil, e.reject(ctx, &a, true, wrapf(err, "admit action %s", a.ActionID))
	}
	a.Admitted = true
	e.archiveRecord(ctx, a.ActionID, anchored.Canonical)

	return e.complete(ctx, snap, &a, assessment)
}

// complete scores an admitted action and places its hold. Every step is
// idempotent, so an action interrupted here is finished by resubmitting it.
func (e *Engine) complete(ctx context.Context, snap *policy.Snapshot, a *contracts.LightAction, as fraud.Assessment) (*contracts.SubmitResult, error) {
	hardFail, err := e.hardFail(ctx, snap, a)
	if err != nil {
		return nil, err
	}
	score, err := e.scorer.Score(ctx, scoring.Input{
		Action:      a,
		Policy:      snap,
		TrustFactor: as.IntegrityFactor(),
		HardFail:    hardFail,
	})
	if err != nil {
		return nil, err
	}
	a.Status = contracts.ActionScored

	h, err := e.ensureHold(ctx, a, score, func(context.Context) (fraud.Assessment, error) { return as, nil })
	if err != nil {
		return nil, err
	}

	e.record(ctx, auditlog.KindActionDecided, a.ActionID, map[string]any{
		"actor_id":       a.ActorID,
		"canonical_hash": a.CanonicalHash,
		"evidence_hash":  a.EvidenceHash,
		"policy_version": a.PolicyVersion,
		"decision":       string(score.Decision),
		"light_score":    score.LightScore,
		"final_reward":   score.FinalReward,
		"fail_reasons":   score.FailReasons,
	})
	e.observe(a, score.Decision)

	res := resultOf(a, score)
	if h != nil && h.Status != contracts.HoldReleased {
		res.HoldUntil = &h.ReleaseAt
	}
	return res, nil
}

// resume returns the outcome of a stored action, finishing whatever an
// earlier attempt left undone. An action that never got past admission is
// still in flight and is reported without a decision.
func (e *Engine) resume(ctx context.Context, prior *contracts.LightAction) (*contracts.SubmitResult, error) {
	switch {
	case prior.Status == contracts.ActionScored:
		score, err := e.actions.Score(ctx, prior.ActionID)
		if err != nil {
			return nil, err
		}
		h, err := e.ensureHold(ctx, prior, score, e.reassess(prior))
		if err != nil {
			return nil, err
		}
		res := resultOf(prior, score)
		if h != nil && h.Status != contracts.HoldReleased {
			res.HoldUntil = &h.ReleaseAt
		}
		return res, nil
	case prior.Status == contracts.ActionPending && prior.Admitted:
		snap, err := e.policies.Get(ctx, prior.PolicyVersion)
		if err != nil {
			return nil, err
		}
		as, err := e.reassess(prior)(ctx)
		if err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "finishing interrupted action", "action_id", prior.ActionID)
		return e.complete(ctx, snap, prior, as)
	default:
		return resultOf(prior, nil), nil
	}
}

// reassess derives the gate's view of an already admitted action under its
// pinned policy without reserving a second slot.
func (e *Engine) reassess(a *contracts.LightAction) func(context.Context) (fraud.Assessment, error) {
	return func(ctx context.Context) (fraud.Assessment, error) {
		snap, err := e.policies.Get(ctx, a.PolicyVersion)
		if err != nil {
			return fraud.Assessment{}, err
		}
		return e.gate.Assess(ctx, snap, a.ActorID, a.ActionType)
	}
}

// ensureHold returns the hold of a passed action, placing it when missing.
// Actions that earn nothing have no hold.
func (e *Engine) ensureHold(ctx context.Context, a *contracts.LightAction, score *contracts.ScoreResult,
	assess func(context.Context) (fraud.Assessment, error)) (*contracts.RewardHold, error) {
	if score.Decision != contracts.DecisionPass || score.FinalReward <= 0 {
		return nil, nil
	}
	h, err := e.holds.Get(ctx, a.ActionID)
	if err == nil {
		return h, nil
	}
	if contracts.CodeOf(err) != contracts.CodeNotFound {
		return nil, wrapf(err, "get hold %s", a.ActionID)
	}
	as, err := assess(ctx)
	if err != nil {
		return nil, err
	}
	return e.placeHold(ctx, a, score.FinalReward, as)
}

// hardFail returns the trust-layer finding that zeroes integrity, if any.
// The first action to claim an evidence bundle owns it; every later claimant
// is a duplicate. The empty bundle is shared by every evidence-free action
// and is never claimed.
func (e *Engine) hardFail(ctx context.Context, snap *policy.Snapshot, a *contracts.LightAction) (string, error) {
	if a.EvidenceHash != canonicalize.EmptyHash {
		owner, err := e.actions.ClaimEvidence(ctx, a.EvidenceHash, a.ActionID)
		if err != nil {
			return "", wrapf(err, "claim evidence %s", a.EvidenceHash)
		}
		if owner != a.ActionID {
			return HardFailDuplicateEvidence, nil
		}
	}
	if hf := snap.Risk.HardFailStrength; hf > 0 && e.acc.Strength(a.ActorID, contracts.SignalLowBehavior) >= hf {
		return HardFailBot, nil
	}
	return "", nil
}

// reject records a refused action and returns cause. stored reports whether
// the action was already created as pending.
func (e *Engine) reject(ctx context.Context, a *contracts.LightAction, stored bool, cause error) error {
	if !stored {
		if err := e.actions.Create(ctx, *a); err != nil {
			e.logger.ErrorContext(ctx, "store rejected action", "action_id", a.ActionID, "error", err)
			return cause
		}
	}
	reason := string(contracts.CodeOf(cause))
	if r := contracts.ReasonOf(cause); r != "" {
		reason += ":" + r
	}
	if _, err := e.actions.Reject(ctx, a.ActionID, reason); err != nil {
		e.logger.ErrorContext(ctx, "reject action", "action_id", a.ActionID, "error", err)
	}
	e.record(ctx, auditlog.KindActionDecided, a.ActionID, map[string]any{
		"actor_id":       a.ActorID,
		"canonical_hash": a.CanonicalHash,
		"policy_version": a.PolicyVersion,
		"decision":       string(contracts.ActionRejected),
		"reason":         reason,
	})
	e.observe(a, "")
	return cause
}

// placeHold creates the pending-reward hold and releases it at once when
// its delay is zero and the actor is in good standing.
func (e *Engine) placeHold(ctx context.Context, a *contracts.LightAction, amount float64, as fraud.Assessment) (*contracts.RewardHold, error) {
	now := e.clock().UTC()
	h := contracts.RewardHold{
		ActionID:  a.ActionID,
		ActorID:   a.ActorID,
		Amount:    amount,
		ReleaseAt: now.Add(as.HoldDelay),
		Status:    contracts.HoldHeld,
	}
	if as.Frozen {
		h.Status = contracts.HoldFrozen
	}
	if err := e.holds.Create(ctx, h); err != nil {
		return nil, wrapf(err, "create hold %s", a.ActionID)
	}
	if h.Status == contracts.HoldFrozen || as.HoldDelay > 0 {
		return &h, nil
	}
	out, err := e.releaser.TryRelease(ctx, a.ActionID, now)
	if err != nil {
		return nil, wrapf(err, "release hold %s", a.ActionID)
	}
	return out, nil
}

func (e *Engine) archiveRecord(ctx context.Context, actionID string, canonical []byte) {
	if e.archive == nil {
		return
	}
	if _, err := e.archive.Put(ctx, canonical); err != nil {
		e.logger.ErrorContext(ctx, "archive canonical record", "action_id", actionID, "error", err)
	}
}

// observe hands the action to the detectors without blocking the caller.
func (e *Engine) observe(a *contracts.LightAction, decision contracts.Decision) {
	o := fraud.Observation{
		ActionID:          a.ActionID,
		ActorID:           a.ActorID,
		ActionType:        a.ActionType,
		PlatformID:        a.PlatformID,
		At:                a.Timestamp,
		IP:                a.Origin.IP,
		DeviceFingerprint: a.Origin.DeviceFingerprint,
		Text:              observedText(a),
		EvidenceHash:      a.EvidenceHash,
		Counterparties:    counterparties(a.Metadata),
		Decision:          decision,
	}
	if !e.observations.PublishAsync(o) {
		e.logger.Warn("observation dropped", "action_id", a.ActionID)
	}
}

func observedText(a *contracts.LightAction) string {
	parts := make([]string, 0, 2+len(a.Evidence))
	for _, k := range []string{"title", "description"} {
		if s, ok := a.Metadata[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	for _, ev := range a.Evidence {
		if ev.Type == evidence.TypeText && ev.Value != "" {
			parts = append(parts, ev.Value)
		}
	}
	return strings.Join(parts, "\n")
}

func counterparties(md map[string]any) []string {
	var out []string
	for _, k := range counterpartyKeys {
		if s, ok := md[k].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if list, ok := md["counterparties"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ActionView is an action with its score, if scored.
type ActionView struct {
	Action contracts.LightAction  `json:"action"`
	Score  *contracts.ScoreResult `json:"score,omitempty"`
	Hold   *contracts.RewardHold  `json:"hold,omitempty"`
}

// GetAction returns an action, its score and its hold. actorID, when set,
// must own the action.
func (e *Engine) GetAction(ctx context.Context, actionID, actorID string) (*ActionView, error) {
	a, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if err := ownerCheck(actorID, a.ActorID, "action", actionID); err != nil {
		return nil, err
	}
	v := &ActionView{Action: *a}
	if a.Status == contracts.ActionScored {
		if v.Score, err = e.actions.Score(ctx, actionID); err != nil {
			return nil, err
		}
	}
	if h, err := e.holds.Get(ctx, actionID); err == nil {
		v.Hold = h
	} else if contracts.CodeOf(err) != contracts.CodeNotFound {
		return nil, err
	}
	return v, nil
}

func resultOf(a *contracts.LightAction, score *contracts.ScoreResult) *contracts.SubmitResult {
	res := &contracts.SubmitResult{
		ActionID:      a.ActionID,
		CanonicalHash: a.CanonicalHash,
		EvidenceHash:  a.EvidenceHash,
		Status:        a.Status,
	}
	if score != nil {
		ls, fr := score.LightScore, score.FinalReward
		res.Decision = score.Decision
		res.LightScore = &ls
		res.FinalReward = &fr
		res.Capped = score.Capped
	}
	return res
}
