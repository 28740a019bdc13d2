package mint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/ledgergw"
	"github.com/trang393934/angelaithutrang-sub004/pkg/resiliency"
)

const wallet = "0x00000000000000000000000000000000000000aa"

type harness struct {
	svc    *Service
	store  *MemoryStore
	ledger *ledgergw.Simulated
	signer *attest.Signer
	seen   []contracts.MintStatus
	mu     sync.Mutex
}

func newHarness(t *testing.T, pool float64) *harness {
	t.Helper()
	signer, err := attest.NewSigner("attester-1")
	require.NoError(t, err)
	ring := attest.NewKeyRing()
	ring.AddSigner(signer)
	h := &harness{store: NewMemoryStore(), ledger: ledgergw.NewSimulated(ring, pool), signer: signer}
	h.svc = NewService(h.store, h.ledger, signer).
		WithRetryPolicy(resiliency.Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 2}).
		WithObserver(func(_ context.Context, m contracts.MintRequest, _ contracts.MintStatus) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.seen = append(h.seen, m.Status)
		})
	return h
}

func (h *harness) request(t *testing.T, actionID string, amount float64) *contracts.MintRequest {
	t.Helper()
	m, created, err := h.svc.Request(context.Background(), RequestInput{
		ActionID: actionID, ActorID: "actor-1", Wallet: wallet, Amount: amount,
	})
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func TestRequest_IdempotentOnAction(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	first := h.request(t, "act-1", 100)
	assert.Equal(t, contracts.MintApproved, first.Status)

	again, created, err := h.svc.Request(ctx, RequestInput{ActionID: "act-1", ActorID: "actor-1", Wallet: wallet, Amount: 100})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.RequestID, again.RequestID)
}

func TestRequest_Validation(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	_, _, err := h.svc.Request(ctx, RequestInput{ActionID: "a", ActorID: "x", Wallet: "not-a-wallet", Amount: 1})
	assert.Equal(t, "invalid_wallet", contracts.ReasonOf(err))
	_, _, err = h.svc.Request(ctx, RequestInput{ActionID: "a", ActorID: "x", Wallet: wallet, Amount: 0})
	assert.Equal(t, "nothing_to_mint", contracts.ReasonOf(err))
	_, _, err = h.svc.Request(ctx, RequestInput{Wallet: wallet, Amount: 1})
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestAdvance_FullLifecycleIsMonotonic(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 120)

	locked, err := h.svc.Advance(ctx, m.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, locked.Status)
	assert.Equal(t, uint64(1), locked.Nonce)
	assert.NotEmpty(t, locked.Attestation)
	assert.NotEmpty(t, locked.LockTx)

	activated, err := h.svc.Activate(ctx, m.RequestID, "actor-1")
	require.NoError(t, err)
	assert.NotEmpty(t, activated.ActivateTx)
	claimed, err := h.svc.Claim(ctx, m.RequestID, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintClaimed, claimed.Status)
	assert.Equal(t, claimed.ClaimTx, claimed.TxHash())

	h.mu.Lock()
	seen := append([]contracts.MintStatus(nil), h.seen...)
	h.mu.Unlock()
	assert.Equal(t, []contracts.MintStatus{
		contracts.MintApproved, contracts.MintRequested, contracts.MintSigned,
		contracts.MintLocked, contracts.MintActivated, contracts.MintClaimed,
	}, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Rank(), seen[i-1].Rank())
	}

	alloc, err := h.ledger.Allocation(ctx, "actor-1")
	require.NoError(t, err)
	assert.InDelta(t, 120.0, alloc.Spendable, 1e-9)
}

func TestStore_RejectsBackwardMoves(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 10)
	_, err := h.svc.Advance(ctx, m.RequestID)
	require.NoError(t, err)

	cur, err := h.store.Get(ctx, m.RequestID)
	require.NoError(t, err)
	cur.Status = contracts.MintApproved
	err = h.store.Update(ctx, cur, contracts.MintLocked)
	assert.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))

	cur.Status = contracts.MintActivated
	err = h.store.Update(ctx, cur, contracts.MintSigned)
	assert.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))

	cur.Status = contracts.MintActivated
	err = h.store.Update(ctx, cur, contracts.MintActivated)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestAdvance_GateHoldsApproved(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	hold := contracts.NewError(contracts.CodeHoldPending, "hold_pending", "still held")
	h.svc.WithGate(func(context.Context, *contracts.MintRequest) error { return hold })
	m := h.request(t, "act-1", 10)

	out, err := h.svc.Advance(ctx, m.RequestID)
	assert.ErrorIs(t, err, hold)
	assert.Equal(t, contracts.MintApproved, out.Status)

	n, err := h.svc.ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAdvance_PausedLedgerLeavesRequestSigned(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 10)
	h.ledger.SetPaused(true)

	out, err := h.svc.Advance(ctx, m.RequestID)
	assert.ErrorIs(t, err, contracts.ErrLedgerPaused)
	assert.True(t, contracts.IsRetryable(err))
	assert.Equal(t, contracts.MintSigned, out.Status)

	stored, err := h.store.Get(ctx, m.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintSigned, stored.Status)
	assert.Zero(t, stored.Attempts)
	assert.NotEmpty(t, stored.LastError)

	h.ledger.SetPaused(false)
	n, err := h.svc.ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored, err = h.store.Get(ctx, m.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, stored.Status)
	assert.Empty(t, stored.LastError)
}

func TestAdvance_LongPauseDoesNotSpendAttemptBudget(t *testing.T) {
	h := newHarness(t, 1000)
	h.svc.WithMaxAttempts(3)
	ctx := context.Background()
	m := h.request(t, "act-1", 10)
	h.ledger.SetPaused(true)

	for i := 0; i < DefaultMaxAttempts+2; i++ {
		out, err := h.svc.Advance(ctx, m.RequestID)
		require.ErrorIs(t, err, contracts.ErrLedgerPaused)
		require.Equal(t, contracts.MintSigned, out.Status)
	}
	stored, err := h.store.Get(ctx, m.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintSigned, stored.Status)
	assert.Zero(t, stored.Attempts)

	h.ledger.SetPaused(false)
	n, err := h.svc.ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored, err = h.store.Get(ctx, m.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, stored.Status)
}

func TestAdvance_FailsAfterAttemptBudget(t *testing.T) {
	h := newHarness(t, 5)
	h.svc.WithMaxAttempts(2)
	ctx := context.Background()
	m := h.request(t, "act-1", 10)

	_, err := h.svc.Advance(ctx, m.RequestID)
	assert.ErrorIs(t, err, contracts.ErrInsufficientBalance)
	out, err := h.svc.Advance(ctx, m.RequestID)
	assert.ErrorIs(t, err, contracts.ErrInsufficientBalance)
	assert.Equal(t, contracts.MintFailed, out.Status)
}

func TestAdvance_NonceConflictResigns(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	first := h.request(t, "act-1", 10)
	second := h.request(t, "act-2", 20)

	h.ledger.SetPaused(true)
	_, err := h.svc.Advance(ctx, first.RequestID)
	require.Error(t, err)
	h.ledger.SetPaused(false)

	out2, err := h.svc.Advance(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), out2.Nonce)

	out1, err := h.svc.Advance(ctx, first.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, out1.Status)
	assert.Equal(t, uint64(3), out1.Nonce)
}

func TestActivate_NoOpWhenEffectAlreadyLanded(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 50)
	_, err := h.svc.Advance(ctx, m.RequestID)
	require.NoError(t, err)

	// The activation lands but the response is lost.
	_, err = h.ledger.Activate(ctx, ledgergw.TransitionRequest{Ref: m.RequestID, ActorID: "actor-1"})
	require.NoError(t, err)
	h.ledger.Inject(ledgergw.OpActivate, errors.New("must not be called"))

	out, err := h.svc.Activate(ctx, m.RequestID, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintActivated, out.Status)

	again, err := h.svc.Activate(ctx, m.RequestID, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintActivated, again.Status)
}

func TestClaim_UserRejectionStaysAtLastState(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 50)
	_, err := h.svc.Advance(ctx, m.RequestID)
	require.NoError(t, err)
	_, err = h.svc.Activate(ctx, m.RequestID, "actor-1")
	require.NoError(t, err)

	h.ledger.Inject(ledgergw.OpClaim, contracts.NewError(contracts.CodeSignatureRejected, ledgergw.ReasonUserRejected, "declined"))
	out, err := h.svc.Claim(ctx, m.RequestID, "actor-1")
	assert.ErrorIs(t, err, contracts.ErrSignatureRejected)
	assert.Equal(t, contracts.MintActivated, out.Status)

	out, err = h.svc.Claim(ctx, m.RequestID, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintClaimed, out.Status)
}

func TestUserStep_Guards(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 50)

	_, err := h.svc.Activate(ctx, m.RequestID, "actor-1")
	assert.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))

	_, err = h.svc.Activate(ctx, m.RequestID, "someone-else")
	assert.Equal(t, contracts.CodeUnauthorized, contracts.CodeOf(err))
}

func TestConfirmer(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 50)
	_, err := h.svc.Advance(ctx, m.RequestID)
	require.NoError(t, err)

	c := NewConfirmer(h.svc, time.Millisecond, 50*time.Millisecond)

	t.Run("timeout leaves state", func(t *testing.T) {
		out, err := c.Await(ctx, m.RequestID, contracts.MintActivated)
		assert.ErrorIs(t, err, ErrConfirmTimeout)
		assert.Equal(t, contracts.MintLocked, out.Status)
	})

	t.Run("cancel leaves state", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		out, err := c.Await(cctx, m.RequestID, contracts.MintActivated)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, contracts.MintLocked, out.Status)
	})

	t.Run("reconciles out-of-band transitions", func(t *testing.T) {
		_, err := h.ledger.Activate(ctx, ledgergw.TransitionRequest{Ref: m.RequestID, ActorID: "actor-1"})
		require.NoError(t, err)
		_, err = h.ledger.Claim(ctx, ledgergw.TransitionRequest{Ref: m.RequestID, ActorID: "actor-1"})
		require.NoError(t, err)

		out, err := c.Await(ctx, m.RequestID, contracts.MintClaimed)
		require.NoError(t, err)
		assert.Equal(t, contracts.MintClaimed, out.Status)
	})
}

func TestReverse(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 75)

	_, err := h.svc.Reverse(ctx, m.RequestID, "fraud")
	assert.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))

	_, err = h.svc.Advance(ctx, m.RequestID)
	require.NoError(t, err)
	out, err := h.svc.Reverse(ctx, m.RequestID, "fraud")
	require.NoError(t, err)
	assert.Equal(t, contracts.MintFailed, out.Status)
	assert.Equal(t, "reversed: fraud", out.LastError)
	assert.InDelta(t, 1000.0, h.ledger.Pool(), 1e-9)
}

func TestMintedSince(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	a := h.request(t, "act-1", 10)
	h.request(t, "act-2", 10)
	_, err := h.svc.Advance(ctx, a.RequestID)
	require.NoError(t, err)

	minted, err := h.svc.MintedSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, minted, 1)
	assert.Equal(t, "act-1", minted[0].ActionID)
}

func TestConcurrentAdvanceLocksOnce(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	m := h.request(t, "act-1", 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.Advance(ctx, m.RequestID)
		}()
	}
	wg.Wait()
	assert.InDelta(t, 990.0, h.ledger.Pool(), 1e-9)
	out, err := h.store.Get(ctx, m.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.MintLocked, out.Status)
	assert.Equal(t, uint64(1), out.Nonce)
}
