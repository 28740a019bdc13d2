package engine

import (
	"context"
	"errors"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/archive"
	"github.com/trang393934/angelaithutrang-sub004/pkg/auditlog"
	"github.com/trang393934/angelaithutrang-sub004/pkg/canonicalize"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/scoring"
)

// Recheck failure reasons recorded on audit flags.
const (
	RecheckHashMismatch    = "canonical_hash_mismatch"
	RecheckArchiveMissing  = "archive_missing"
	RecheckArchiveMismatch = "archive_mismatch"
	RecheckNotPassed       = "not_passed"
	RecheckRescore         = "rescore_mismatch"
	RecheckDuplicate       = "duplicate_evidence"
)

// RegisterInput creates an actor's trust profile.
type RegisterInput struct {
	ActorID           string    `json:"actor_id"`
	Email             string    `json:"email,omitempty"`
	RegistrationIP    string    `json:"registration_ip,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	Tier              int       `json:"tier"`
	CreatedAt         time.Time `json:"created_at"`
}

// RegisterActor creates a trust profile and runs the registration-pattern
// detector over it. Registering an existing actor is a no-op.
func (e *Engine) RegisterActor(ctx context.Context, in RegisterInput) (*contracts.TrustProfile, error) {
	if in.ActorID == "" {
		return nil, contracts.ValidationError("missing_field", "actor_id is required")
	}
	if in.Tier < 0 || in.Tier > contracts.MaxTier {
		return nil, contracts.ValidationError("invalid_tier", "tier must be between 0 and %d", contracts.MaxTier)
	}
	if existing, err := e.trust.Get(ctx, in.ActorID); err == nil {
		return existing, nil
	} else if contracts.CodeOf(err) != contracts.CodeNotFound {
		return nil, err
	}
	p := contracts.TrustProfile{
		ActorID:           in.ActorID,
		CreatedAt:         in.CreatedAt.UTC(),
		Tier:              in.Tier,
		Email:             in.Email,
		RegistrationIP:    in.RegistrationIP,
		DeviceFingerprint: in.DeviceFingerprint,
	}
	if in.CreatedAt.IsZero() {
		p.CreatedAt = e.clock().UTC()
	}
	if err := e.trust.Register(ctx, p); err != nil {
		return nil, wrapf(err, "register %s", in.ActorID)
	}
	for _, sig := range e.registration.ObserveRegistration(p) {
		if !e.signals.PublishAsync(sig) {
			e.logger.WarnContext(ctx, "registration signal dropped", "actor_id", sig.ActorID)
		}
	}
	return e.trust.Get(ctx, in.ActorID)
}

// GetActor returns an actor's trust profile with current usage.
func (e *Engine) GetActor(ctx context.Context, actorID string) (*contracts.TrustProfile, error) {
	p, err := e.trust.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if p.Counters, err = e.trust.Usage(ctx, actorID, e.clock().UTC()); err != nil {
		return nil, err
	}
	return p, nil
}

// SetTier changes an actor's reputation tier.
func (e *Engine) SetTier(ctx context.Context, actorID string, tier int, operator string) error {
	if tier < 0 || tier > contracts.MaxTier {
		return contracts.ValidationError("invalid_tier", "tier must be between 0 and %d", contracts.MaxTier)
	}
	if err := e.trust.SetTier(ctx, actorID, tier); err != nil {
		return err
	}
	e.record(ctx, auditlog.KindAdmin, actorID, map[string]any{"op": "set_tier", "tier": tier, "operator": operator})
	return nil
}

// Reinstate lifts every suspension of an actor, resets accumulated risk,
// clears audit flags and returns frozen holds to held.
func (e *Engine) Reinstate(ctx context.Context, actorID, operator string) (err error) {
	ctx, done := e.track(ctx, "reinstate")
	defer func() { done(err) }()

	if err := e.trust.Reinstate(ctx, actorID); err != nil {
		return err
	}
	e.acc.Forget(actorID)
	if err := e.flags.Clear(ctx, actorID); err != nil {
		return wrapf(err, "clear flags of %s", actorID)
	}
	n, err := e.holds.Unfreeze(ctx, actorID)
	if err != nil {
		return wrapf(err, "unfreeze holds of %s", actorID)
	}
	e.logger.InfoContext(ctx, "actor reinstated", "actor_id", actorID, "operator", operator, "holds_unfrozen", n)
	e.record(ctx, auditlog.KindAdmin, actorID, map[string]any{"op": "reinstate", "operator": operator, "holds_unfrozen": n})
	return nil
}

// FlagAction raises a manual audit flag on an action.
func (e *Engine) FlagAction(ctx context.Context, actionID, reason, operator string) (*contracts.AuditFlag, bool, error) {
	a, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return nil, false, err
	}
	if reason == "" {
		return nil, false, contracts.ValidationError("missing_field", "reason is required")
	}
	f, suspended, err := e.auditor.Flag(ctx, a.ActorID, actionID, reason)
	if err != nil {
		return nil, false, err
	}
	e.record(ctx, auditlog.KindAuditFlag, a.ActorID, map[string]any{
		"action_id": actionID, "reason": reason, "operator": operator, "suspended": suspended,
	})
	return &f, suspended, nil
}

// AuditSweep samples minted actions and re-checks them. seed zero picks a
// time-derived seed; the report carries the seed so a sweep can be replayed.
func (e *Engine) AuditSweep(ctx context.Context, seed uint64) (rep *fraud.SweepReport, err error) {
	ctx, done := e.track(ctx, "audit_sweep")
	defer func() { done(err) }()

	rep, err = e.auditor.Sweep(ctx, seed)
	if err != nil {
		return rep, err
	}
	for _, f := range rep.Flagged {
		e.record(ctx, auditlog.KindAuditFlag, f.ActorID, map[string]any{
			"action_id": f.ActionID, "reason": f.Reason, "seed": rep.Seed,
		})
	}
	return rep, nil
}

// ReleaseHolds releases due holds and drives any waiting mint request of a
// released action forward.
func (e *Engine) ReleaseHolds(ctx context.Context) (int, error) {
	released, err := e.releaser.ReleaseDue(ctx, e.clock().UTC())
	if err != nil {
		return len(released), err
	}
	for _, h := range released {
		m, err := e.mints.GetByAction(ctx, h.ActionID)
		if err != nil {
			continue
		}
		if m.Status != contracts.MintApproved {
			continue
		}
		if _, err := e.mints.Advance(ctx, m.RequestID); err != nil {
			e.logger.WarnContext(ctx, "advance after release", "request_id", m.RequestID, "error", err)
		}
	}
	return len(released), nil
}

// ReverseAllocation undoes a locked or later mint on the ledger.
func (e *Engine) ReverseAllocation(ctx context.Context, requestID, reason, operator string) (m *contracts.MintRequest, err error) {
	ctx, done := e.track(ctx, "reverse_allocation")
	defer func() { done(err) }()

	if reason == "" {
		return nil, contracts.ValidationError("missing_field", "reason is required")
	}
	m, err = e.mints.Reverse(ctx, requestID, reason)
	if err != nil {
		return m, err
	}
	e.record(ctx, auditlog.KindAdmin, m.ActorID, map[string]any{
		"op": "reverse_allocation", "request_id": requestID, "reason": reason, "operator": operator,
	})
	return m, nil
}

// PublishPolicy validates and activates a new policy version. Actions
// already submitted keep the version they were pinned to.
func (e *Engine) PublishPolicy(ctx context.Context, snap *policy.Snapshot, operator string) error {
	if err := snap.Validate(); err != nil {
		return contracts.ValidationError("invalid_policy", "%v", err)
	}
	if err := e.policies.Publish(ctx, snap); err != nil {
		if errors.Is(err, policy.ErrVersionNotNewer) {
			return contracts.ValidationError("version_not_newer", "%v", err)
		}
		return err
	}
	hash, err := snap.Hash()
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "policy published", "version", snap.Version, "hash", hash, "operator", operator)
	e.record(ctx, auditlog.KindPolicyPublished, snap.Version, map[string]any{"hash": hash, "operator": operator})
	return nil
}

// Recheck re-verifies a minted action for the random audit: the stored
// record must re-anchor to its hash, match its archived copy, still score as
// recorded under its pinned policy and not reuse older evidence.
func (e *Engine) Recheck(ctx context.Context, actionID string) (bool, string, error) {
	a, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return false, "", err
	}
	if err := e.anchor.Verify(a); err != nil {
		return false, RecheckHashMismatch, nil
	}
	if e.archive != nil {
		data, err := e.archive.Get(ctx, a.CanonicalHash)
		switch {
		case errors.Is(err, archive.ErrNotFound):
			return false, RecheckArchiveMissing, nil
		case err != nil:
			return false, "", err
		case canonicalize.HashBytes(data) != a.CanonicalHash:
			return false, RecheckArchiveMismatch, nil
		}
	}
	score, err := e.actions.Score(ctx, actionID)
	if err != nil {
		return false, "", err
	}
	if score.Decision != contracts.DecisionPass {
		return false, RecheckNotPassed, nil
	}
	snap, err := e.policies.Get(ctx, a.PolicyVersion)
	if err != nil {
		return false, "", err
	}
	again, err := scoring.Evaluate(scoring.Input{Action: a, Policy: snap}, score.ScoredAt)
	if err != nil {
		return false, "", err
	}
	if again.LightScore != score.LightScore || again.Pillars != score.Pillars {
		return false, RecheckRescore, nil
	}
	if a.EvidenceHash != canonicalize.EmptyHash {
		prior, err := e.actions.FindByHash(ctx, a.EvidenceHash, a.ActionID)
		switch {
		case err == nil && priorTo(prior, a):
			return false, RecheckDuplicate, nil
		case err != nil && contracts.CodeOf(err) != contracts.CodeNotFound:
			return false, "", err
		}
	}
	return true, "", nil
}

func priorTo(prior, a *contracts.LightAction) bool {
	return prior.Timestamp.Before(a.Timestamp) || (prior.Timestamp.Equal(a.Timestamp) && prior.ActionID < a.ActionID)
}

var _ fraud.Checker = (*Engine)(nil)
