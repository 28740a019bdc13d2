package engine

import (
	"context"
	"errors"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/mint"
)

// Mint gate reason codes.
const (
	ReasonHoldPending   = "hold_pending"
	ReasonRewardsFrozen = "rewards_frozen"
	ReasonNotPassed     = "action_not_passed"
)

// MintInput asks for the reward of one passed action to be minted.
type MintInput struct {
	ActionID string `json:"action_id"`
	Wallet   string `json:"wallet_address"`
}

// RequestMint creates or returns the mint request of an action and drives it
// as far as the ledger lock. When a step cannot complete, the request is
// returned with the error; it stays where it is and the resume schedule
// picks it up once the hold is released or the ledger recovers.
func (e *Engine) RequestMint(ctx context.Context, actorID string, in MintInput) (m *contracts.MintRequest, err error) {
	ctx, done := e.track(ctx, "request_mint")
	defer func() { done(err) }()

	a, err := e.actions.Get(ctx, in.ActionID)
	if err != nil {
		return nil, err
	}
	if err := ownerCheck(actorID, a.ActorID, "action", a.ActionID); err != nil {
		return nil, err
	}
	if a.Status != contracts.ActionScored {
		return nil, contracts.NewError(contracts.CodeInvalidTransition, ReasonNotPassed, "action %s is %s", a.ActionID, a.Status)
	}
	score, err := e.actions.Score(ctx, a.ActionID)
	if err != nil {
		return nil, err
	}
	if score.Decision != contracts.DecisionPass {
		return nil, contracts.NewError(contracts.CodeInvalidTransition, ReasonNotPassed, "action %s did not pass scoring", a.ActionID)
	}
	m, _, err = e.mints.Request(ctx, mint.RequestInput{
		ActionID: a.ActionID,
		ActorID:  a.ActorID,
		Wallet:   in.Wallet,
		Amount:   score.FinalReward,
	})
	if err != nil {
		return nil, err
	}
	out, err := e.mints.Advance(ctx, m.RequestID)
	if out != nil {
		m = out
	}
	return m, err
}

// BatchMint requests several mints for one actor. Every item gets its own
// result; one failing item never affects the others.
func (e *Engine) BatchMint(ctx context.Context, actorID string, items []MintInput) []contracts.MintItemResult {
	out := make([]contracts.MintItemResult, 0, len(items))
	for _, in := range items {
		r := contracts.MintItemResult{ActionID: in.ActionID}
		m, err := e.RequestMint(ctx, actorID, in)
		if m != nil {
			r.RequestID = m.RequestID
			r.Status = m.Status
		}
		if err != nil {
			r.Error = e.itemError(ctx, in.ActionID, err)
		}
		out = append(out, r)
	}
	return out
}

// Activate submits the user's activation of a locked request.
func (e *Engine) Activate(ctx context.Context, requestID, actorID string) (m *contracts.MintRequest, err error) {
	ctx, done := e.track(ctx, "activate")
	defer func() { done(err) }()
	return e.mints.Activate(ctx, requestID, actorID)
}

// Claim submits the user's claim of an activated request.
func (e *Engine) Claim(ctx context.Context, requestID, actorID string) (m *contracts.MintRequest, err error) {
	ctx, done := e.track(ctx, "claim")
	defer func() { done(err) }()
	return e.mints.Claim(ctx, requestID, actorID)
}

// Confirm waits for a user-submitted transition to show on the ledger and
// records it.
func (e *Engine) Confirm(ctx context.Context, requestID, actorID string, target contracts.MintStatus) (*contracts.MintRequest, error) {
	if target != contracts.MintActivated && target != contracts.MintClaimed {
		return nil, contracts.ValidationError("invalid_target", "can only confirm activated or claimed, not %q", target)
	}
	m, err := e.mints.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := ownerCheck(actorID, m.ActorID, "mint request", requestID); err != nil {
		return nil, err
	}
	return e.confirmer.Await(ctx, requestID, target)
}

// GetMint returns a mint request. actorID, when set, must own it.
func (e *Engine) GetMint(ctx context.Context, requestID, actorID string) (*contracts.MintRequest, error) {
	m, err := e.mints.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := ownerCheck(actorID, m.ActorID, "mint request", requestID); err != nil {
		return nil, err
	}
	return m, nil
}

// Allocation reads the actor's live ledger balances.
func (e *Engine) Allocation(ctx context.Context, actorID string) (*contracts.Allocation, error) {
	return e.ledger.Allocation(ctx, actorID)
}

// mintGate admits an approved request to requested only once its hold is
// released and the actor is neither suspended nor frozen.
func (e *Engine) mintGate(ctx context.Context, m *contracts.MintRequest) error {
	now := e.clock().UTC()
	p, err := e.trust.Get(ctx, m.ActorID)
	if err != nil {
		return err
	}
	if p.Suspended(now) {
		return contracts.FraudBlocked(fraud.ReasonSuspended, "actor %s is suspended", m.ActorID)
	}
	snap, err := e.policies.Active(ctx)
	if err != nil {
		return err
	}
	if fraud.BandFor(p.RiskScore, snap.Risk).Freezes() {
		return contracts.FraudBlocked(ReasonRewardsFrozen, "rewards of actor %s are frozen", m.ActorID)
	}
	h, err := e.releaser.TryRelease(ctx, m.ActionID, now)
	if contracts.CodeOf(err) == contracts.CodeNotFound {
		// A passed reward always has a hold; a missing one is placed again
		// rather than read as released.
		if err = e.restoreHold(ctx, m.ActionID); err != nil {
			return err
		}
		h, err = e.releaser.TryRelease(ctx, m.ActionID, now)
	}
	if err != nil {
		return err
	}
	switch h.Status {
	case contracts.HoldReleased:
		return nil
	case contracts.HoldFrozen:
		return contracts.FraudBlocked(ReasonRewardsFrozen, "reward for action %s is frozen", m.ActionID)
	default:
		return contracts.NewError(contracts.CodeHoldPending, ReasonHoldPending,
			"reward for action %s is held until %s", m.ActionID, h.ReleaseAt.Format(time.RFC3339))
	}
}

// restoreHold places the hold of a scored action whose hold is missing. An
// action with no passed reward cannot be minted and stays gated.
func (e *Engine) restoreHold(ctx context.Context, actionID string) error {
	a, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return err
	}
	var score *contracts.ScoreResult
	if a.Status == contracts.ActionScored {
		if score, err = e.actions.Score(ctx, actionID); err != nil {
			return err
		}
	}
	if score == nil || score.Decision != contracts.DecisionPass || score.FinalReward <= 0 {
		return contracts.NewError(contracts.CodeHoldPending, ReasonHoldPending,
			"reward for action %s has no hold", actionID)
	}
	e.logger.WarnContext(ctx, "restoring missing hold", "action_id", actionID, "actor_id", a.ActorID)
	_, err = e.ensureHold(ctx, a, score, e.reassess(a))
	return err
}

// itemError converts err for a batch result. Internal causes are logged and
// replaced by a generic message.
func (e *Engine) itemError(ctx context.Context, actionID string, err error) *contracts.Error {
	if ce, ok := contracts.AsError(err); ok && ce.Code != contracts.CodeInternal {
		return ce
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return contracts.NewError(contracts.CodeInternal, "canceled", "request canceled")
	}
	e.logger.ErrorContext(ctx, "batch mint item failed", "action_id", actionID, "error", err)
	return contracts.NewError(contracts.CodeInternal, "", "internal error")
}
