// Package engine runs the light-action pipeline: anchoring, the trust gate,
// scoring, pending-reward holds and mint authorization. It owns the
// asynchronous fraud detectors and the background schedules that release
// holds, resume stalled mints and sample minted actions for audit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trang393934/angelaithutrang-sub004/pkg/anchor"
	"github.com/trang393934/angelaithutrang-sub004/pkg/archive"
	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/auditlog"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/evidence"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/ledgergw"
	"github.com/trang393934/angelaithutrang-sub004/pkg/mint"
	"github.com/trang393934/angelaithutrang-sub004/pkg/observability"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/resiliency"
	"github.com/trang393934/angelaithutrang-sub004/pkg/scoring"
	"github.com/trang393934/angelaithutrang-sub004/pkg/store"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// Deps are the backends the engine runs on. Archive, Audit, Observability
// and Registerer are optional.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Deps struct {
	Policies policy.Store
	Actions  store.ActionStore
	Trust    trust.Store
	Holds    fraud.HoldStore
	Flags    fraud.FlagStore
	Mints    mint.Store
	Ledger   ledgergw.Gateway
	Signer   *attest.Signer

	Evidence      *evidence.Registry
	Archive       archive.Store
	Audit         *auditlog.Log
	Observability *observability.Provider
	Registerer    prometheus.Registerer
	Notifier      fraud.Notifier
	Logger        *slog.Logger
}

// Engine is the pipeline entry point used by the HTTP API and the CLI.
type Engine struct {
	policies policy.Store
	actions  store.ActionStore
	trust    trust.Store
	holds    fraud.HoldStore
	flags    fraud.FlagStore
	ledger   ledgergw.Gateway
	archive  archive.Store
	audit    *auditlog.Log
	obs      *observability.Provider

	anchor       *anchor.Anchorer
	gate         *fraud.Gate
	scorer       *scoring.Scorer
	acc          *fraud.Accumulator
	releaser     *fraud.Releaser
	auditor      *fraud.Auditor
	registration *fraud.RegistrationDetector
	observations *fraud.Bus[fraud.Observation]
	signals      *fraud.Bus[contracts.Signal]
	mints        *mint.Service
	confirmer    *mint.Confirmer

	clock  func() time.Time
	logger *slog.Logger
}

// New assembles an engine and starts its detector buses. Close stops them.
func New(d Deps) (*Engine, error) {
	if d.Policies == nil || d.Actions == nil || d.Trust == nil || d.Holds == nil ||
		d.Flags == nil || d.Mints == nil || d.Ledger == nil || d.Signer == nil {
		return nil, errors.New("engine: policies, actions, trust, holds, flags, mints, ledger and signer are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		policies: d.Policies,
		actions:  d.Actions,
		trust:    d.Trust,
		holds:    d.Holds,
		flags:    d.Flags,
		ledger:   d.Ledger,
		archive:  d.Archive,
		audit:    d.Audit,
		obs:      d.Observability,
		anchor:   anchor.New(d.Evidence),
		clock:    time.Now,
		logger:   logger.With("component", "engine"),
	}
	src := e.activePolicy
	e.gate = fraud.NewGate(d.Trust, d.Trust)
	e.scorer = scoring.NewScorer(d.Actions, d.Trust)
	e.acc = fraud.NewAccumulator(d.Trust, d.Holds, src, d.Notifier).WithLogger(logger.With("component", "fraud.accumulator"))
	e.releaser = fraud.NewReleaser(d.Holds, d.Trust, src)
	e.mints = mint.NewService(d.Mints, d.Ledger, d.Signer).
		WithGate(e.mintGate).
		WithObserver(e.recordTransition)
	e.confirmer = mint.NewConfirmer(e.mints, 2*time.Second, 2*time.Minute)
	e.auditor = fraud.NewAuditor(e.mints, e, d.Flags, d.Trust, d.Holds, src, d.Notifier)
	e.registration = fraud.NewRegistrationDetector(24 * time.Hour)

	e.observations = fraud.NewBus[fraud.Observation]("observations", d.Registerer, logger, 0, 0)
	e.signals = fraud.NewBus[contracts.Signal]("signals", d.Registerer, logger, 0, 1)
	fraud.Wire(e.observations, e.signals,
		fraud.NewDeviceDetector(24*time.Hour),
		fraud.NewIPDetector(24*time.Hour),
		fraud.NewTimingDetector(),
		fraud.NewBehaviorDetector(),
		fraud.NewContentDetector(),
		fraud.NewCollusionDetector(),
	)
	e.signals.Subscribe(fraud.IngestHandler(e.acc))
	return e, nil
}

// WithClock overrides the clock of the engine and every component it built.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.gate.WithClock(clock)
	e.scorer.WithClock(clock)
	e.acc.WithClock(clock)
	e.auditor.WithClock(clock)
	e.mints.WithClock(clock)
	return e
}

// WithMintRetry overrides the ledger retry policy of the mint service.
func (e *Engine) WithMintRetry(p resiliency.Policy, maxAttempts int) *Engine {
	e.mints.WithRetryPolicy(p).WithMaxAttempts(maxAttempts)
	return e
}

// WithConfirmer replaces the confirmation poller settings.
func (e *Engine) WithConfirmer(interval, timeout time.Duration) *Engine {
	e.confirmer = mint.NewConfirmer(e.mints, interval, timeout)
	return e
}

// Close stops the detector buses, draining queued observations first.
func (e *Engine) Close() {
	e.observations.Stop()
	e.signals.Stop()
}

// Mints exposes the mint service for the CLI.
func (e *Engine) Mints() *mint.Service {
	return e.mints
}

func (e *Engine) activePolicy(ctx context.Context) (*policy.Snapshot, error) {
	return e.policies.Active(ctx)
}

// ActivePolicy returns the snapshot new submissions are pinned to.
func (e *Engine) ActivePolicy(ctx context.Context) (*policy.Snapshot, error) {
	return e.policies.Active(ctx)
}

// track wraps an operation in a span and RED metrics.
func (e *Engine) track(ctx context.Context, name string) (context.Context, func(error)) {
	return e.obs.TrackOperation(ctx, name)
}

// record appends to the audit log when one is configured. Failures are
// logged and never fail the operation that produced the entry.
func (e *Engine) record(ctx context.Context, kind, subject string, payload any) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.Append(ctx, kind, subject, payload); err != nil {
		e.logger.ErrorContext(ctx, "audit log append failed", "kind", kind, "subject", subject, "error", err)
	}
}

func (e *Engine) recordTransition(ctx context.Context, m contracts.MintRequest, from contracts.MintStatus) {
	e.record(ctx, auditlog.KindMintTransition, m.RequestID, map[string]any{
		"action_id": m.ActionID,
		"actor_id":  m.ActorID,
		"from":      string(from),
		"to":        string(m.Status),
		"amount":    m.Amount,
		"nonce":     m.Nonce,
		"tx_hash":   m.TxHash(),
	})
}

func ownerCheck(actorID, owner, what, id string) error {
	if actorID != "" && actorID != owner {
		return contracts.NewError(contracts.CodeUnauthorized, "not_owner", "%s %s belongs to another actor", what, id)
	}
	return nil
}

func wrapf(err error, format string, args ...any) error {
	if _, ok := contracts.AsError(err); ok {
		return err
	}
	return fmt.Errorf("engine: "+format+": %w", append(args, err)...)
}
