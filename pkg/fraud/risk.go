// Package fraud implements the layered anti-fraud defenses: the synchronous
// admission gate, pending-reward holds, the risk accumulator with its
// automatic responses, the random audit sweep and the asynchronous detectors
// that feed risk signals over a message bus.
package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// Band is the response tier for a risk score.
type Band string

const (
	BandClear   Band = "clear"
	BandMonitor Band = "monitor"
	BandFreeze  Band = "freeze"
	BandSuspend Band = "suspend"
)

// Freezes reports whether pending rewards stay frozen in this band.
func (b Band) Freezes() bool {
	return b == BandFreeze || b == BandSuspend
}

// BandFor maps a 0-100 risk score to its response band.
func BandFor(risk float64, rules policy.RiskRules) Band {
	switch {
	case risk > rules.SuspendAbove:
		return BandSuspend
	case risk >= rules.FreezeAt:
		return BandFreeze
	case risk >= rules.MonitorAt:
		return BandMonitor
	default:
		return BandClear
	}
}

// Alert is raised when an actor is automatically suspended.
type Alert struct {
	ActorID string    `json:"actor_id"`
	Risk    float64   `json:"risk"`
	Band    Band      `json:"band"`
	Until   time.Time `json:"until"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Notifier delivers actor notifications and operator alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("fraud alert", "actor_id", a.ActorID, "risk", a.Risk, "band", a.Band, "until", a.Until, "reason", a.Reason)
	return nil
}

// PolicySource returns the policy whose risk rules apply now.
type PolicySource func(ctx context.Context) (*policy.Snapshot, error)

// Accumulator folds detector signals into per-actor risk scores. Each signal
// kind keeps the strongest observation seen, so the score only rises.
type Accumulator struct {
	mu        sync.Mutex
	strengths map[string]map[contracts.SignalKind]float64

	profiles trust.Profiles
	holds    HoldStore
	policy   PolicySource
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
}

func NewAccumulator(profiles trust.Profiles, holds HoldStore, src PolicySource, notifier Notifier) *Accumulator {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Accumulator{
		strengths: make(map[string]map[contracts.SignalKind]float64),
		profiles:  profiles,
		holds:     holds,
		policy:    src,
		notifier:  notifier,
		clock:     time.Now,
		logger:    slog.Default().With("component", "fraud.accumulator"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Accumulator) WithClock(clock func() time.Time) *Accumulator {
	a.clock = clock
	return a
}

// WithLogger sets the logger.
func (a *Accumulator) WithLogger(l *slog.Logger) *Accumulator {
	a.logger = l
	return a
}

// score computes the weighted risk from the accumulated strengths.
func (a *Accumulator) score(actorID string, weights map[contracts.SignalKind]float64) float64 {
	var total float64
	for kind, s := range a.strengths[actorID] {
		total += weights[kind] * s
	}
	if total > 100 {
		total = 100
	}
	return total
}

// Ingest records a signal, raises the actor's stored risk and applies the
// automatic response for the resulting band.
func (a *Accumulator) Ingest(ctx context.Context, sig contracts.Signal) (Band, error) {
	if sig.ActorID == "" {
		return BandClear, fmt.Errorf("fraud: signal without actor")
	}
	snap, err := a.policy(ctx)
	if err != nil {
		return BandClear, err
	}
	strength := sig.Strength
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}

	a.mu.Lock()
	m, ok := a.strengths[sig.ActorID]
	if !ok {
		m = make(map[contracts.SignalKind]float64)
		a.strengths[sig.ActorID] = m
	}
	if strength > m[sig.Kind] {
		m[sig.Kind] = strength
	}
	risk := a.score(sig.ActorID, snap.Risk.Weights)
	a.mu.Unlock()

	stored, err := a.profiles.RaiseRisk(ctx, sig.ActorID, risk)
	if err != nil {
		return BandClear, fmt.Errorf("fraud: raise risk for %s: %w", sig.ActorID, err)
	}
	a.logger.Debug("signal ingested", "actor_id", sig.ActorID, "kind", sig.Kind, "strength", strength, "risk", stored)
	return a.Respond(ctx, sig.ActorID, stored, snap.Risk, string(sig.Kind))
}

// Respond applies the automatic response for risk.
func (a *Accumulator) Respond(ctx context.Context, actorID string, risk float64, rules policy.RiskRules, reason string) (Band, error) {
	band := BandFor(risk, rules)
	switch band {
	case BandSuspend:
		now := a.clock().UTC()
		until := now.Add(rules.SuspendFor)
		if err := a.profiles.Suspend(ctx, actorID, until); err != nil {
			return band, fmt.Errorf("fraud: suspend %s: %w", actorID, err)
		}
		if _, err := a.holds.Freeze(ctx, actorID); err != nil {
			return band, err
		}
		alert := Alert{ActorID: actorID, Risk: risk, Band: band, Until: until, Reason: reason, At: now}
		if err := a.notifier.Notify(ctx, alert); err != nil {
			a.logger.Error("notify failed", "actor_id", actorID, "error", err)
		}
	case BandFreeze:
		if _, err := a.holds.Freeze(ctx, actorID); err != nil {
			return band, err
		}
	case BandMonitor:
		a.logger.Info("actor under monitoring", "actor_id", actorID, "risk", risk)
	}
	return band, nil
}

// Strength returns the strongest observation of kind recorded for an actor.
func (a *Accumulator) Strength(actorID string, kind contracts.SignalKind) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.strengths[actorID][kind]
}

// Forget drops accumulated strengths after an administrative reinstatement.
func (a *Accumulator) Forget(actorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.strengths, actorID)
}
