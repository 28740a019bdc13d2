package fraud

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// Fraud-blocked reason codes.
const (
	ReasonSuspended            = "suspended"
	ReasonPermanentlySuspended = "permanently_suspended"
	ReasonUnknownActor         = "unknown_actor"
)

// Assessment is the gate's verdict for an admitted action.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Assessment struct {
	Profile   contracts.TrustProfile
	AgeBand   policy.AgeBand
	RiskBand  Band
	Limits    trust.ActionLimits
	Usage     contracts.Usage
	HoldDelay time.Duration
	Frozen    bool
}

// IntegrityFactor is the trust layer's contribution to the integrity
// multiplier. Only account age scales rewards; the risk band never does, a
// frozen actor's reward is held instead.
func (a Assessment) IntegrityFactor() float64 {
	return a.AgeBand.RewardFactor
}

// Gate runs the synchronous layers in order: suspension, age gate, tiered
// rate limits and risk band. Holds are applied after scoring using HoldDelay.
type Gate struct {
	profiles trust.Profiles
	counters trust.Counters
	clock    func() time.Time
	logger   *slog.Logger
}

func NewGate(profiles trust.Profiles, counters trust.Counters) *Gate {
	return &Gate{
		profiles: profiles,
		counters: counters,
		clock:    time.Now,
		logger:   slog.Default().With("component", "fraud.gate"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// LimitsFor derives the effective action limits for an actor under snap.
func LimitsFor(snap *policy.Snapshot, p *contracts.TrustProfile, actionType string, now time.Time) (trust.ActionLimits, policy.AgeBand) {
	mult := snap.TierMultiplier(p.Tier)
	band := snap.AgeBandFor(p.AccountAge(now))
	scale := func(n int) int {
		if n <= 0 {
			return 0
		}
		v := int(math.Floor(float64(n) * mult))
		if v < 1 {
			v = 1
		}
		return v
	}
	rule, _ := snap.Rule(actionType)
	lim := trust.ActionLimits{
		ActionType:       actionType,
		At:               now,
		PerTypeDaily:     scale(rule.DailyActionCap),
		Daily:            scale(snap.Trust.DailyActionCap),
		Weekly:           scale(snap.Trust.WeeklyActionCap),
		Cooldown:         snap.Trust.Cooldown,
		SameTypeCooldown: snap.Trust.SameTypeCooldown,
	}
	if band.DailyActionCap > 0 && (lim.Daily == 0 || band.DailyActionCap < lim.Daily) {
		lim.Daily = band.DailyActionCap
	}
	return lim, band
}

// Admit checks an action against the gate and, when admitted, reserves its
// slot in the actor's counters. Rejections are FRAUD_BLOCKED or CAP_EXCEEDED
// errors carrying a reason code; nothing is counted for a rejected action.
func (g *Gate) Admit(ctx context.Context, snap *policy.Snapshot, actorID, actionType string) (Assessment, error) {
	a, err := g.Assess(ctx, snap, actorID, actionType)
	if err != nil {
		return Assessment{}, err
	}
	usage, err := g.counters.ReserveAction(ctx, actorID, a.Limits)
	if err != nil {
		g.logger.Info("action rate limited", "actor_id", actorID, "action_type", actionType, "reason", contracts.ReasonOf(err))
		return Assessment{}, err
	}
	a.Usage = usage
	return a, nil
}

// Assess runs the suspension checks and derives limits, risk band and hold
// delay without reserving anything. It serves actions that were already
// admitted once.
func (g *Gate) Assess(ctx context.Context, snap *policy.Snapshot, actorID, actionType string) (Assessment, error) {
	now := g.clock().UTC()
	p, err := g.profiles.Get(ctx, actorID)
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return Assessment{}, contracts.ValidationError(ReasonUnknownActor, "actor %q is not registered", actorID)
		}
		return Assessment{}, err
	}
	if p.PermanentlySuspended {
		return Assessment{}, contracts.FraudBlocked(ReasonPermanentlySuspended, "actor %s is suspended pending review", actorID)
	}
	if p.Suspended(now) {
		return Assessment{}, contracts.FraudBlocked(ReasonSuspended, "actor %s is suspended until %s", actorID, p.SuspendedUntil.Format(time.RFC3339))
	}

	lim, band := LimitsFor(snap, p, actionType, now)
	riskBand := BandFor(p.RiskScore, snap.Risk)
	return Assessment{
		Profile:   *p,
		AgeBand:   band,
		RiskBand:  riskBand,
		Limits:    lim,
		HoldDelay: snap.HoldDelay(p.Tier, p.AccountAge(now)),
		Frozen:    riskBand.Freezes(),
	}, nil
}
