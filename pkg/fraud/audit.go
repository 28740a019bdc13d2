package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// ReasonAuditThreshold marks a permanent suspension from repeated audit flags.
const ReasonAuditThreshold = "audit_flag_threshold"

// MintedAction is one action eligible for random audit.
type MintedAction struct {
	ActionID string
	ActorID  string
	MintedAt time.Time
}

// MintedSource lists actions minted at or after since.
type MintedSource interface {
	MintedSince(ctx context.Context, since time.Time) ([]MintedAction, error)
}

// Checker re-verifies a sampled action. A failed check returns ok=false with
// the reason to record on the flag.
type Checker interface {
	Recheck(ctx context.Context, actionID string) (ok bool, reason string, err error)
}

// SweepReport summarizes one audit sweep.
type SweepReport struct {
	Seed      uint64                `json:"seed"`
	Window    time.Duration         `json:"window"`
	Eligible  int                   `json:"eligible"`
	Sampled   int                   `json:"sampled"`
	Flagged   []contracts.AuditFlag `json:"flagged"`
	Suspended []string              `json:"suspended"`
	Errors    int                   `json:"errors"`
}

// Auditor runs the random audit and escalates repeated flags to a permanent
// suspension.
type Auditor struct {
	minted   MintedSource
	checker  Checker
	flags    FlagStore
	profiles trust.Profiles
	holds    HoldStore
	policy   PolicySource
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
}

func NewAuditor(minted MintedSource, checker Checker, flags FlagStore, profiles trust.Profiles, holds HoldStore, src PolicySource, notifier Notifier) *Auditor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Auditor{
		minted:   minted,
		checker:  checker,
		flags:    flags,
		profiles: profiles,
		holds:    holds,
		policy:   src,
		notifier: notifier,
		clock:    time.Now,
		logger:   slog.Default().With("component", "fraud.audit"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Auditor) WithClock(clock func() time.Time) *Auditor {
	a.clock = clock
	return a
}

// Sample picks actions at rate using a generator seeded with seed. The same
// seed over the same input always selects the same actions.
func Sample(actions []MintedAction, rate float64, seed uint64) []MintedAction {
	if rate <= 0 {
		return nil
	}
	sorted := append([]MintedAction(nil), actions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ActionID < sorted[j].ActionID })
	if rate >= 1 {
		return sorted
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]MintedAction, 0, int(float64(len(sorted))*rate)+1)
	for _, m := range sorted {
		if rng.Float64() < rate {
			out = append(out, m)
		}
	}
	return out
}

// Sweep samples minted actions in the trailing window, re-checks each and
// flags failures. seed zero derives a seed from the current time.
func (a *Auditor) Sweep(ctx context.Context, seed uint64) (*SweepReport, error) {
	snap, err := a.policy(ctx)
	if err != nil {
		return nil, err
	}
	now := a.clock().UTC()
	if seed == 0 {
		seed = uint64(now.UnixNano())
	}
	rules := snap.Audit
	eligible, err := a.minted.MintedSince(ctx, now.Add(-rules.Window))
	if err != nil {
		return nil, fmt.Errorf("fraud: list minted actions: %w", err)
	}
	sample := Sample(eligible, rules.SampleRate, seed)
	report := &SweepReport{
		Seed:      seed,
		Window:    rules.Window,
		Eligible:  len(eligible),
		Sampled:   len(sample),
		Flagged:   make([]contracts.AuditFlag, 0),
		Suspended: make([]string, 0),
	}
	for _, m := range sample {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ok, reason, err := a.checker.Recheck(ctx, m.ActionID)
		if err != nil {
			report.Errors++
			a.logger.Error("audit recheck failed", "action_id", m.ActionID, "error", err)
			continue
		}
		if ok {
			continue
		}
		flag, suspended, err := a.Flag(ctx, m.ActorID, m.ActionID, reason)
		if err != nil {
			report.Errors++
			a.logger.Error("audit flag failed", "action_id", m.ActionID, "error", err)
			continue
		}
		report.Flagged = append(report.Flagged, flag)
		if suspended {
			report.Suspended = append(report.Suspended, m.ActorID)
		}
	}
	a.logger.Info("audit sweep complete", "eligible", report.Eligible, "sampled", report.Sampled,
		"flagged", len(report.Flagged), "suspended", len(report.Suspended))
	return report, nil
}

// Flag records an audit flag and permanently suspends the actor once the
// policy's flag threshold is reached inside the audit window.
func (a *Auditor) Flag(ctx context.Context, actorID, actionID, reason string) (contracts.AuditFlag, bool, error) {
	snap, err := a.policy(ctx)
	if err != nil {
		return contracts.AuditFlag{}, false, err
	}
	now := a.clock().UTC()
	f := contracts.AuditFlag{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		ActionID:  actionID,
		Reason:    reason,
		FlaggedAt: now,
	}
	if err := a.flags.Add(ctx, f); err != nil {
		return f, false, err
	}
	n, err := a.flags.CountSince(ctx, actorID, now.Add(-snap.Audit.Window))
	if err != nil {
		return f, false, err
	}
	a.logger.Warn("audit flag raised", "actor_id", actorID, "action_id", actionID, "reason", reason, "flags", n)
	if n < snap.Audit.FlagThreshold {
		return f, false, nil
	}
	if err := a.profiles.SuspendPermanently(ctx, actorID); err != nil {
		return f, false, fmt.Errorf("fraud: suspend %s: %w", actorID, err)
	}
	if _, err := a.holds.Freeze(ctx, actorID); err != nil {
		return f, true, err
	}
	alert := Alert{ActorID: actorID, Band: BandSuspend, Reason: ReasonAuditThreshold, At: now}
	if err := a.notifier.Notify(ctx, alert); err != nil {
		a.logger.Error("notify failed", "actor_id", actorID, "error", err)
	}
	return f, true, nil
}
