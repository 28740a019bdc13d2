package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// Releaser advances due holds. A freeze always wins over a release that
// becomes due at the same instant: the actor's current risk and suspension
// are read immediately before each release.
type Releaser struct {
	holds    HoldStore
	profiles trust.Profiles
	policy   PolicySource
	logger   *slog.Logger
}

func NewReleaser(holds HoldStore, profiles trust.Profiles, src PolicySource) *Releaser {
	return &Releaser{
		holds:    holds,
		profiles: profiles,
		policy:   src,
		logger:   slog.Default().With("component", "fraud.releaser"),
	}
}

// blocked reports whether the actor's holds must stay put.
func (r *Releaser) blocked(ctx context.Context, actorID string, now time.Time) (bool, error) {
	p, err := r.profiles.Get(ctx, actorID)
	if err != nil {
		return false, err
	}
	if p.Suspended(now) {
		return true, nil
	}
	snap, err := r.policy(ctx)
	if err != nil {
		return false, err
	}
	return BandFor(p.RiskScore, snap.Risk).Freezes(), nil
}

// ReleaseDue releases every due hold whose actor is not frozen and returns
// the released holds.
func (r *Releaser) ReleaseDue(ctx context.Context, now time.Time) ([]contracts.RewardHold, error) {
	due, err := r.holds.Due(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("fraud: list due holds: %w", err)
	}
	released := make([]contracts.RewardHold, 0, len(due))
	verdict := make(map[string]bool)
	for _, h := range due {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		block, seen := verdict[h.ActorID]
		if !seen {
			block, err = r.blocked(ctx, h.ActorID, now)
			if err != nil {
				// Skipped for this round only; a failed read is not a verdict.
				r.logger.Error("hold release check failed", "actor_id", h.ActorID, "error", err)
				verdict[h.ActorID] = true
				continue
			}
			verdict[h.ActorID] = block
			if block {
				if _, err := r.holds.Freeze(ctx, h.ActorID); err != nil {
					return released, err
				}
			}
		}
		if block {
			continue
		}
		ok, err := r.holds.Release(ctx, h.ActionID)
		if err != nil {
			return released, err
		}
		if ok {
			h.Status = contracts.HoldReleased
			released = append(released, h)
		}
	}
	return released, nil
}

// TryRelease releases a single hold if it is due and its actor is not frozen.
// It returns the hold's resulting state.
func (r *Releaser) TryRelease(ctx context.Context, actionID string, now time.Time) (*contracts.RewardHold, error) {
	h, err := r.holds.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if h.Status != contracts.HoldHeld || h.ReleaseAt.After(now) {
		return h, nil
	}
	block, err := r.blocked(ctx, h.ActorID, now)
	if err != nil {
		return h, err
	}
	if block {
		if _, err := r.holds.Freeze(ctx, h.ActorID); err != nil {
			return h, err
		}
		h.Status = contracts.HoldFrozen
		return h, nil
	}
	if _, err := r.holds.Release(ctx, actionID); err != nil {
		return h, err
	}
	return r.holds.Get(ctx, actionID)
}
