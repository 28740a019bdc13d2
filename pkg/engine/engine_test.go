package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/trang393934/angelaithutrang-sub004/pkg/archive"
	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/auditlog"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/ledgergw"
	"github.com/trang393934/angelaithutrang-sub004/pkg/mint"
	"github.com/trang393934/angelaithutrang-sub004/pkg/observability"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/resiliency"
	"github.com/trang393934/angelaithutrang-sub004/pkg/store"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

const (
	day    = 24 * time.Hour
	wallet = "0x00000000000000000000000000000000000000aa"
)

var t0 = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	eng      *Engine
	clock    *fakeClock
	policies *policy.MemoryStore
	actions  *store.MemoryActionStore
	trust    *trust.MemoryStore
	holds    *fraud.MemoryHoldStore
	ledger   *ledgergw.Simulated
	archive  *archive.FileStore
	audit    *auditlog.Log
}

func newHarness(t *testing.T, snap *policy.Snapshot, opts ...func(*Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	clk := &fakeClock{now: t0}
	if snap == nil {
		snap = policy.Default()
	}
	policies := policy.NewMemoryStore()
	require.NoError(t, policies.Publish(ctx, snap))

	signer, err := attest.NewSigner("attester-1")
	require.NoError(t, err)
	ring := attest.NewKeyRing()
	ring.AddSigner(signer)
	arc, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)
	obs, err := observability.New(ctx, &observability.Config{Enabled: false})
	require.NoError(t, err)

	h := &harness{
		clock:    clk,
		policies: policies,
		actions:  store.NewMemoryActionStore(),
		trust:    trust.NewMemoryStore(),
		holds:    fraud.NewMemoryHoldStore(),
		ledger:   ledgergw.NewSimulated(ring, 1_000_000),
		archive:  arc,
		audit:    auditlog.New(nil).WithClock(clk.Now),
	}
	deps := Deps{
		Policies:      policies,
		Actions:       h.actions,
		Trust:         h.trust,
		Holds:         h.holds,
		Flags:         fraud.NewMemoryFlagStore(),
		Mints:         mint.NewMemoryStore(),
		Ledger:        h.ledger,
		Signer:        signer,
		Archive:       arc,
		Audit:         h.audit,
		Observability: obs,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.eng, err = New(deps)
	require.NoError(t, err)
	h.eng.WithClock(clk.Now).
		WithMintRetry(resiliency.Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 2}, 5).
		WithConfirmer(time.Millisecond, 50*time.Millisecond)
	t.Cleanup(h.eng.Close)
	return h
}

func (h *harness) register(t *testing.T, actorID string, tier int, age time.Duration) {
	t.Helper()
	_, err := h.eng.RegisterActor(context.Background(), RegisterInput{
		ActorID: actorID, Tier: tier, CreatedAt: h.clock.Now().Add(-age),
	})
	require.NoError(t, err)
}

func volunteer(actorID, uri string) SubmitInput {
	return SubmitInput{
		PlatformID: "p1",
		ActionType: "volunteer",
		ActorID:    actorID,
		Metadata:   map[string]any{"title": "Beach cleanup"},
		Evidence:   []contracts.Evidence{{Type: "url", URI: uri}},
		Impact:     contracts.Impact{Scope: "community"},
	}
}

func (h *harness) submit(t *testing.T, in SubmitInput) *contracts.SubmitResult {
	t.Helper()
	res, err := h.eng.Submit(context.Background(), in)
	require.NoError(t, err)
	h.clock.Advance(6 * time.Minute)
	return res
}

func TestSubmit_PassAndFullMintLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "alice", 3, 30*day)

	res := h.submit(t, volunteer("alice", "https://example.org/cleanup/1"))
	require.Equal(t, contracts.DecisionPass, res.Decision)
	require.NotNil(t, res.FinalReward)
	assert.InDelta(t, 112.5, *res.FinalReward, 1e-9)
	assert.Nil(t, res.HoldUntil, "tier 3 holds release immediately")

	m, err := h.eng.RequestMint(ctx, "alice", MintInput{ActionID: res.ActionID, Wallet: wallet})
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, m.Status)
	assert.NotEmpty(t, m.LockTx)

	again, err := h.eng.RequestMint(ctx, "alice", MintInput{ActionID: res.ActionID, Wallet: wallet})
	require.NoError(t, err)
	assert.Equal(t, m.RequestID, again.RequestID)

	m, err = h.eng.Activate(ctx, m.RequestID, "alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintActivated, m.Status)

	_, err = h.eng.Claim(ctx, m.RequestID, "mallory")
	assert.Equal(t, contracts.CodeUnauthorized, contracts.CodeOf(err))

	m, err = h.eng.Claim(ctx, m.RequestID, "alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintClaimed, m.Status)

	alloc, err := h.eng.Allocation(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 112.5, alloc.Spendable, 1e-9)
	assert.Zero(t, alloc.Locked)

	require.NoError(t, h.audit.Verify())
	var transitions []string
	for _, e := range h.audit.Entries(0, 0) {
		if e.Kind == auditlog.KindMintTransition {
			transitions = append(transitions, e.Subject)
		}
	}
	assert.Len(t, transitions, 6, "approved, requested, signed, locked, activated, claimed")
}

func TestRequestMint_WaitsForHoldThenReleases(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "bob", 2, 30*day)

	res := h.submit(t, volunteer("bob", "https://example.org/cleanup/2"))
	require.NotNil(t, res.HoldUntil)
	assert.Equal(t, t0.Add(12*time.Hour), *res.HoldUntil)

	m, err := h.eng.RequestMint(ctx, "bob", MintInput{ActionID: res.ActionID, Wallet: wallet})
	assert.Equal(t, contracts.CodeHoldPending, contracts.CodeOf(err))
	require.NotNil(t, m)
	assert.Equal(t, contracts.MintApproved, m.Status)

	h.clock.Advance(12 * time.Hour)
	n, err := h.eng.ReleaseHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.eng.GetMint(ctx, m.RequestID, "bob")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, got.Status)
}

func TestSubmit_FloorIsAHardGate(t *testing.T) {
	snap := policy.Default()
	snap.Scoring.AssessmentWeight = 1
	snap.Scoring.EvidenceBonus = 0
	snap.PillarFloors.U = 50
	h := newHarness(t, snap)
	h.register(t, "carol", 2, 30*day)

	in := volunteer("carol", "https://example.org/floor")
	in.Metadata["assessment"] = map[string]any{"S": 90.0, "T": 90.0, "H": 90.0, "C": 90.0, "U": 10.0}
	res := h.submit(t, in)
	assert.Equal(t, contracts.DecisionFail, res.Decision)
	assert.Equal(t, 74.0, *res.LightScore)
	assert.Zero(t, *res.FinalReward)

	v, err := h.eng.GetAction(context.Background(), res.ActionID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"floor_U"}, v.Score.FailReasons)
	assert.Nil(t, v.Hold, "failed actions get no hold")

	_, err = h.eng.RequestMint(context.Background(), "carol", MintInput{ActionID: res.ActionID, Wallet: wallet})
	assert.Equal(t, ReasonNotPassed, contracts.ReasonOf(err))
}

func TestSubmit_RewardTruncatedToCap(t *testing.T) {
	snap := policy.Default()
	rule := snap.ActionTypes["volunteer"]
	rule.BaseReward = 1200
	snap.ActionTypes["volunteer"] = rule
	snap.Scoring.QualityPerEvidence = 0
	h := newHarness(t, snap)
	h.register(t, "dave", 3, 30*day)

	in := volunteer("dave", "https://example.org/cap")
	in.Integrity.SourceVerified = true
	res := h.submit(t, in)
	assert.Equal(t, contracts.DecisionPass, res.Decision)
	assert.Equal(t, 800.0, *res.FinalReward)
	assert.True(t, res.Capped)
}

func TestSubmit_RateLimitBlocksFourthSameDayAction(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "erin", 0, 2*day)

	for i := 0; i < 3; i++ {
		h.submit(t, volunteer("erin", fmt.Sprintf("https://example.org/rl/%d", i)))
	}
	_, err := h.eng.Submit(ctx, volunteer("erin", "https://example.org/rl/3"))
	require.Error(t, err)
	assert.Equal(t, contracts.CodeCapExceeded, contracts.CodeOf(err))

	stored, err := h.actions.ListByActor(ctx, "erin", 0)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, contracts.ActionRejected, stored[0].Status, "the blocked action is never scored")
	_, err = h.actions.Score(ctx, stored[0].ActionID)
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	usage, err := h.trust.Usage(ctx, "erin", h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, usage.DailyActions)
}

func TestSubmit_IdenticalResubmissionIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "frank", 3, 30*day)

	in := volunteer("frank", "https://example.org/same")
	in.Timestamp = t0.Add(-time.Hour)
	first := h.submit(t, in)
	second := h.submit(t, in)
	assert.Equal(t, first.ActionID, second.ActionID)
	assert.Equal(t, *first.FinalReward, *second.FinalReward)

	usage, err := h.trust.Usage(ctx, "frank", h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, usage.DailyActions)
}

func TestSubmit_DuplicateEvidenceHardFails(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "gina", 3, 30*day)
	h.register(t, "hank", 3, 30*day)

	first := h.submit(t, volunteer("gina", "https://example.org/photo"))
	assert.Equal(t, contracts.DecisionPass, first.Decision)
	second := h.submit(t, volunteer("hank", "https://example.org/photo"))
	assert.Equal(t, contracts.DecisionFail, second.Decision)
	assert.Equal(t, first.EvidenceHash, second.EvidenceHash)

	v, err := h.eng.GetAction(context.Background(), second.ActionID, "hank")
	require.NoError(t, err)
	assert.Contains(t, v.Score.FailReasons, "integrity_zero:"+HardFailDuplicateEvidence)
}

func TestSubmit_EmptyEvidenceIsNotADuplicate(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "ivan", 3, 30*day)
	for i := 0; i < 2; i++ {
		res := h.submit(t, SubmitInput{
			PlatformID: "p1", ActionType: "mentoring", ActorID: "ivan",
			Metadata: map[string]any{"session": float64(i)},
			Impact:   contracts.Impact{Scope: "community"},
		})
		assert.Equal(t, contracts.DecisionPass, res.Decision)
	}
}

// flakyCounters fails reward reservations while down is set.
type flakyCounters struct {
	trust.Store
	down bool
}

func (f *flakyCounters) ReserveReward(ctx context.Context, actorID string, req trust.RewardRequest) (float64, error) {
	if f.down {
		return 0, errors.New("counter backend unavailable")
	}
	return f.Store.ReserveReward(ctx, actorID, req)
}

// flakyClaims fails evidence claims while down is set.
type flakyClaims struct {
	*store.MemoryActionStore
	down bool
}

func (f *flakyClaims) ClaimEvidence(ctx context.Context, evidenceHash, actionID string) (string, error) {
	if f.down {
		return "", errors.New("claims table unavailable")
	}
	return f.MemoryActionStore.ClaimEvidence(ctx, evidenceHash, actionID)
}

// lossyHolds drops every hold written while lose is set.
type lossyHolds struct {
	*fraud.MemoryHoldStore
	lose bool
}

func (l *lossyHolds) Create(ctx context.Context, h contracts.RewardHold) error {
	if l.lose {
		return nil
	}
	return l.MemoryHoldStore.Create(ctx, h)
}

func TestSubmit_RiskBandDoesNotScaleReward(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "sam", 3, 30*day)
	h.register(t, "tess", 3, 30*day)
	_, err := h.trust.RaiseRisk(ctx, "tess", 30)
	require.NoError(t, err)

	clean := h.submit(t, volunteer("sam", "https://example.org/band/1"))
	watched := h.submit(t, volunteer("tess", "https://example.org/band/2"))
	require.Equal(t, contracts.DecisionPass, watched.Decision)
	assert.InDelta(t, 112.5, *clean.FinalReward, 1e-9)
	assert.InDelta(t, *clean.FinalReward, *watched.FinalReward, 1e-9)
}

func TestSubmit_ResubmissionScoresActionLeftPending(t *testing.T) {
	counters := &flakyCounters{down: true}
	h := newHarness(t, nil, func(d *Deps) {
		counters.Store = d.Trust
		d.Trust = counters
	})
	ctx := context.Background()
	h.register(t, "uma", 3, 30*day)

	in := volunteer("uma", "https://example.org/pending")
	in.Timestamp = t0.Add(-time.Hour)
	_, err := h.eng.Submit(ctx, in)
	require.Error(t, err)

	stored, err := h.actions.ListByActor(ctx, "uma", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, contracts.ActionPending, stored[0].Status)
	assert.True(t, stored[0].Admitted)

	counters.down = false
	res := h.submit(t, in)
	assert.Equal(t, stored[0].ActionID, res.ActionID)
	assert.Equal(t, contracts.ActionScored, res.Status)
	assert.Equal(t, contracts.DecisionPass, res.Decision)
	assert.InDelta(t, 112.5, *res.FinalReward, 1e-9)

	usage, err := h.trust.Usage(ctx, "uma", h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, usage.DailyActions, "the retry reuses the original slot")
}

func TestSubmit_ErrorAfterReservationIsResumable(t *testing.T) {
	var claims *flakyClaims
	h := newHarness(t, nil, func(d *Deps) {
		claims = &flakyClaims{MemoryActionStore: d.Actions.(*store.MemoryActionStore), down: true}
		d.Actions = claims
	})
	ctx := context.Background()
	h.register(t, "vic", 0, 2*day)

	in := volunteer("vic", "https://example.org/slot")
	in.Timestamp = t0.Add(-time.Hour)
	_, err := h.eng.Submit(ctx, in)
	require.Error(t, err)

	usage, err := h.trust.Usage(ctx, "vic", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, usage.DailyActions)
	stored, err := h.actions.ListByActor(ctx, "vic", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1, "every reserved slot belongs to a stored action")
	assert.Equal(t, contracts.ActionPending, stored[0].Status)

	claims.down = false
	res := h.submit(t, in)
	assert.Equal(t, stored[0].ActionID, res.ActionID)
	assert.Equal(t, contracts.ActionScored, res.Status)

	for i := 0; i < 2; i++ {
		h.submit(t, volunteer("vic", fmt.Sprintf("https://example.org/slot/%d", i)))
	}
	usage, err = h.trust.Usage(ctx, "vic", h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, usage.DailyActions)
}

func TestSubmit_ConcurrentDuplicateEvidenceHasOneWinner(t *testing.T) {
	h := newHarness(t, nil)
	actors := []string{"wes", "xena", "yuri", "zoe"}
	for _, a := range actors {
		h.register(t, a, 3, 30*day)
	}

	results := make([]*contracts.SubmitResult, len(actors))
	var g errgroup.Group
	for i, a := range actors {
		g.Go(func() error {
			res, err := h.eng.Submit(context.Background(), volunteer(a, "https://example.org/shared"))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	passed := 0
	for _, res := range results {
		if res.Decision == contracts.DecisionPass {
			passed++
			continue
		}
		v, err := h.eng.GetAction(context.Background(), res.ActionID, "")
		require.NoError(t, err)
		assert.Contains(t, v.Score.FailReasons, "integrity_zero:"+HardFailDuplicateEvidence)
	}
	assert.Equal(t, 1, passed)
}

func TestSubmit_RejectedActionIsRegatedOnRetry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "bea", 3, 30*day)
	_, err := h.eng.Submit(ctx, volunteer("bea", "https://example.org/cool/1"))
	require.NoError(t, err)

	in := volunteer("bea", "https://example.org/cool/2")
	in.Timestamp = t0.Add(-time.Hour)
	for i := 0; i < 2; i++ {
		_, err := h.eng.Submit(ctx, in)
		assert.Equal(t, trust.ReasonCooldown, contracts.ReasonOf(err), "attempt %d", i)
	}

	h.clock.Advance(6 * time.Minute)
	res := h.submit(t, in)
	assert.Equal(t, contracts.DecisionPass, res.Decision)

	stored, err := h.actions.ListByActor(ctx, "bea", 0)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, res.ActionID, stored[0].ActionID)
	assert.Equal(t, contracts.ActionRejected, stored[1].Status)
	assert.Equal(t, contracts.ActionRejected, stored[2].Status)
}

func TestRequestMint_RestoresMissingHold(t *testing.T) {
	var holds *lossyHolds
	h := newHarness(t, nil, func(d *Deps) {
		holds = &lossyHolds{MemoryHoldStore: d.Holds.(*fraud.MemoryHoldStore), lose: true}
		d.Holds = holds
	})
	ctx := context.Background()
	h.register(t, "abe", 2, 30*day)

	res := h.submit(t, volunteer("abe", "https://example.org/lost-hold"))
	require.Equal(t, contracts.DecisionPass, res.Decision)
	_, err := h.holds.Get(ctx, res.ActionID)
	require.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	holds.lose = false
	m, err := h.eng.RequestMint(ctx, "abe", MintInput{ActionID: res.ActionID, Wallet: wallet})
	assert.Equal(t, contracts.CodeHoldPending, contracts.CodeOf(err))
	require.NotNil(t, m)
	assert.Equal(t, contracts.MintApproved, m.Status)

	hold, err := h.holds.Get(ctx, res.ActionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.HoldHeld, hold.Status)
	assert.True(t, hold.ReleaseAt.After(h.clock.Now()))
}

func TestAuditFlags_SuspendUntilReinstated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "judy", 3, 30*day)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		ids = append(ids, h.submit(t, volunteer("judy", fmt.Sprintf("https://example.org/j/%d", i))).ActionID)
	}
	for i, id := range ids {
		_, suspended, err := h.eng.FlagAction(ctx, id, "manual_review", "ops")
		require.NoError(t, err)
		assert.Equal(t, i == 2, suspended)
	}

	p, err := h.eng.GetActor(ctx, "judy")
	require.NoError(t, err)
	assert.True(t, p.PermanentlySuspended)

	_, err = h.eng.Submit(ctx, volunteer("judy", "https://example.org/j/blocked"))
	assert.Equal(t, contracts.CodeFraudBlocked, contracts.CodeOf(err))

	_, err = h.eng.RequestMint(ctx, "judy", MintInput{ActionID: ids[0], Wallet: wallet})
	assert.Equal(t, contracts.CodeFraudBlocked, contracts.CodeOf(err))

	h.clock.Advance(48 * time.Hour)
	require.NoError(t, h.eng.Reinstate(ctx, "judy", "ops"))
	res := h.submit(t, volunteer("judy", "https://example.org/j/after"))
	assert.Equal(t, contracts.DecisionPass, res.Decision)
}

func TestRequestMint_FrozenActorIsBlocked(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "kim", 3, 30*day)
	res := h.submit(t, volunteer("kim", "https://example.org/k"))

	_, err := h.trust.RaiseRisk(ctx, "kim", 60)
	require.NoError(t, err)
	m, err := h.eng.RequestMint(ctx, "kim", MintInput{ActionID: res.ActionID, Wallet: wallet})
	assert.Equal(t, ReasonRewardsFrozen, contracts.ReasonOf(err))
	assert.Equal(t, contracts.MintApproved, m.Status)
}

func TestRequestMint_LedgerPausedLeavesRequestSigned(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "leo", 3, 30*day)
	res := h.submit(t, volunteer("leo", "https://example.org/l"))

	h.ledger.SetPaused(true)
	m, err := h.eng.RequestMint(ctx, "leo", MintInput{ActionID: res.ActionID, Wallet: wallet})
	assert.Equal(t, contracts.CodeLedgerPaused, contracts.CodeOf(err))
	assert.True(t, contracts.IsRetryable(err))
	assert.Equal(t, contracts.MintSigned, m.Status)

	h.ledger.SetPaused(false)
	n, err := h.eng.Mints().ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatchMint_PerItemResults(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "mia", 3, 30*day)
	ok := h.submit(t, volunteer("mia", "https://example.org/m/1"))

	results := h.eng.BatchMint(context.Background(), "mia", []MintInput{
		{ActionID: ok.ActionID, Wallet: wallet},
		{ActionID: "missing", Wallet: wallet},
		{ActionID: ok.ActionID, Wallet: wallet},
	})
	require.Len(t, results, 3)
	assert.Equal(t, contracts.MintLocked, results[0].Status)
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, contracts.CodeNotFound, results[1].Error.Code)
	assert.Equal(t, results[0].RequestID, results[2].RequestID)
}

func TestPublishPolicy_PinsExistingActions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "nora", 3, 30*day)
	before := h.submit(t, volunteer("nora", "https://example.org/n/1"))

	next := policy.Default()
	next.Version = "1.0.0"
	err := h.eng.PublishPolicy(ctx, next, "ops")
	assert.Equal(t, "version_not_newer", contracts.ReasonOf(err))

	next.Version = "1.1.0"
	next.PassThreshold = 90
	require.NoError(t, h.eng.PublishPolicy(ctx, next, "ops"))
	active, err := h.eng.ActivePolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", active.Version)

	v, err := h.eng.GetAction(ctx, before.ActionID, "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.Action.PolicyVersion)
	assert.Equal(t, contracts.DecisionPass, v.Score.Decision)

	after := h.submit(t, volunteer("nora", "https://example.org/n/2"))
	assert.Equal(t, contracts.DecisionFail, after.Decision)
}

func TestRecheck(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "omar", 3, 30*day)
	res := h.submit(t, volunteer("omar", "https://example.org/o"))

	ok, reason, err := h.eng.Recheck(ctx, res.ActionID)
	require.NoError(t, err)
	assert.True(t, ok, reason)

	require.NoError(t, h.archive.Delete(ctx, res.CanonicalHash))
	ok, reason, err = h.eng.Recheck(ctx, res.ActionID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, RecheckArchiveMissing, reason)
}

func TestAuditSweep_FlagsArchiveMismatch(t *testing.T) {
	snap := policy.Default()
	snap.Audit.SampleRate = 1
	h := newHarness(t, snap)
	ctx := context.Background()
	h.register(t, "pia", 3, 30*day)
	res := h.submit(t, volunteer("pia", "https://example.org/p"))
	_, err := h.eng.RequestMint(ctx, "pia", MintInput{ActionID: res.ActionID, Wallet: wallet})
	require.NoError(t, err)

	rep, err := h.eng.AuditSweep(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sampled)
	assert.Empty(t, rep.Flagged)

	require.NoError(t, h.archive.Delete(ctx, res.CanonicalHash))
	rep, err = h.eng.AuditSweep(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rep.Flagged, 1)
	assert.Equal(t, RecheckArchiveMissing, rep.Flagged[0].Reason)
}

func TestReverseAllocation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "quin", 3, 30*day)
	res := h.submit(t, volunteer("quin", "https://example.org/q"))
	m, err := h.eng.RequestMint(ctx, "quin", MintInput{ActionID: res.ActionID, Wallet: wallet})
	require.NoError(t, err)

	_, err = h.eng.ReverseAllocation(ctx, m.RequestID, "", "ops")
	assert.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))

	m, err = h.eng.ReverseAllocation(ctx, m.RequestID, "fraud confirmed", "ops")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintFailed, m.Status)
	alloc, err := h.eng.Allocation(ctx, "quin")
	require.NoError(t, err)
	assert.Zero(t, alloc.Locked)
}

func TestConfirm_TimesOutWithoutChangingState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "rae", 3, 30*day)
	res := h.submit(t, volunteer("rae", "https://example.org/r"))
	m, err := h.eng.RequestMint(ctx, "rae", MintInput{ActionID: res.ActionID, Wallet: wallet})
	require.NoError(t, err)

	_, err = h.eng.Confirm(ctx, m.RequestID, "rae", contracts.MintActivated)
	assert.ErrorIs(t, err, mint.ErrConfirmTimeout)
	got, err := h.eng.GetMint(ctx, m.RequestID, "rae")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, got.Status)

	_, err = h.eng.Confirm(ctx, m.RequestID, "rae", contracts.MintLocked)
	assert.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))
}

func TestRegisterActor_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.eng.RegisterActor(ctx, RegisterInput{ActorID: "x", Tier: 7})
	assert.Equal(t, "invalid_tier", contracts.ReasonOf(err))

	_, err = h.eng.Submit(ctx, volunteer("ghost", "https://example.org/g"))
	assert.Equal(t, fraud.ReasonUnknownActor, contracts.ReasonOf(err))
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.eng.Run(ctx, Schedule{ReleaseEvery: time.Millisecond, ResumeEvery: time.Millisecond})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
