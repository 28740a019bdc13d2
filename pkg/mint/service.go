package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/ledgergw"
	"github.com/trang393934/angelaithutrang-sub004/pkg/resiliency"
)

// DefaultMaxAttempts bounds how many failed ledger submissions a request
// absorbs before it is marked failed.
const DefaultMaxAttempts = 10

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// RequestInput describes the reward to mint for one passed action.
type RequestInput struct {
	ActionID string
	ActorID  string
	Wallet   string
	Amount   float64
}

// Gate decides whether an approved request may be submitted to the ledger.
// A non-nil error leaves the request in approved.
type Gate func(ctx context.Context, m *contracts.MintRequest) error

// Observer is told about every committed transition. from is empty when the
// request was just created.
type Observer func(ctx context.Context, m contracts.MintRequest, from contracts.MintStatus)

// Service runs the mint state machine.
type Service struct {
	store       Store
	gw          ledgergw.Gateway
	signer      *attest.Signer
	gate        Gate
	observers   []Observer
	retry       resiliency.Policy
	maxAttempts int
	actors      sync.Map
	clock       func() time.Time
	logger      *slog.Logger
}

func NewService(store Store, gw ledgergw.Gateway, signer *attest.Signer) *Service {
	return &Service{
		store:       store,
		gw:          gw,
		signer:      signer,
		retry:       resiliency.DefaultPolicy,
		maxAttempts: DefaultMaxAttempts,
		clock:       time.Now,
		logger:      slog.Default().With("component", "mint"),
	}
}

// WithGate installs the check run before approved -> requested.
func (s *Service) WithGate(g Gate) *Service {
	s.gate = g
	return s
}

// WithObserver adds a transition observer.
func (s *Service) WithObserver(o Observer) *Service {
	s.observers = append(s.observers, o)
	return s
}

// WithRetryPolicy sets the bounded backoff used for ledger calls.
func (s *Service) WithRetryPolicy(p resiliency.Policy) *Service {
	s.retry = p
	return s
}

// WithMaxAttempts sets how many failed submissions mark a request failed.
func (s *Service) WithMaxAttempts(n int) *Service {
	s.maxAttempts = n
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// lockActor serializes ledger work per actor so nonces reach the ledger in
// the order they were issued.
func (s *Service) lockActor(actorID string) func() {
	v, _ := s.actors.LoadOrStore(actorID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Request creates the mint request for an action in approved. Repeating the
// call for the same action returns the existing request with created=false.
func (s *Service) Request(ctx context.Context, in RequestInput) (*contracts.MintRequest, bool, error) {
	if in.ActionID == "" || in.ActorID == "" {
		return nil, false, contracts.ValidationError("missing_field", "action_id and actor_id are required")
	}
	if existing, err := s.store.GetByAction(ctx, in.ActionID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, contracts.ErrNotFound) {
		return nil, false, err
	}
	if !walletPattern.MatchString(in.Wallet) {
		return nil, false, contracts.ValidationError("invalid_wallet", "wallet address %q is not a 20-byte hex address", in.Wallet)
	}
	if in.Amount <= 0 {
		return nil, false, contracts.ValidationError("nothing_to_mint", "action %s has no reward to mint", in.ActionID)
	}
	now := s.clock().UTC()
	m, created, err := s.store.Create(ctx, contracts.MintRequest{
		RequestID:     uuid.NewString(),
		ActionID:      in.ActionID,
		ActorID:       in.ActorID,
		WalletAddress: in.Wallet,
		Amount:        in.Amount,
		Status:        contracts.MintApproved,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.notify(ctx, *m, "")
	}
	return m, created, nil
}

func (s *Service) Get(ctx context.Context, requestID string) (*contracts.MintRequest, error) {
	return s.store.Get(ctx, requestID)
}

func (s *Service) GetByAction(ctx context.Context, actionID string) (*contracts.MintRequest, error) {
	return s.store.GetByAction(ctx, actionID)
}

func (s *Service) ListByActor(ctx context.Context, actorID string) ([]contracts.MintRequest, error) {
	return s.store.ListByActor(ctx, actorID)
}

func (s *Service) notify(ctx context.Context, m contracts.MintRequest, from contracts.MintStatus) {
	for _, o := range s.observers {
		o(ctx, m, from)
	}
}

// commit writes m, which was read in status from, and notifies observers
// when the status changed.
func (s *Service) commit(ctx context.Context, m *contracts.MintRequest, from contracts.MintStatus) error {
	m.UpdatedAt = s.clock().UTC()
	if err := s.store.Update(ctx, m, from); err != nil {
		return err
	}
	if m.Status != from {
		s.logger.Info("mint transition", "request_id", m.RequestID, "actor_id", m.ActorID, "from", from, "to", m.Status)
		s.notify(ctx, *m, from)
	}
	return nil
}

func (s *Service) step(ctx context.Context, m *contracts.MintRequest, to contracts.MintStatus) error {
	from := m.Status
	m.Status = to
	if err := s.commit(ctx, m, from); err != nil {
		m.Status = from
		return err
	}
	return nil
}

// Advance drives a request forward until it is locked on the ledger or a
// step cannot complete. Requests already at or past locked are returned as is.
func (s *Service) Advance(ctx context.Context, requestID string) (*contracts.MintRequest, error) {
	m, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockActor(m.ActorID)
	defer unlock()
	if m, err = s.store.Get(ctx, requestID); err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		switch m.Status {
		case contracts.MintApproved:
			if s.gate != nil {
				if err := s.gate(ctx, m); err != nil {
					return m, err
				}
			}
			if err := s.step(ctx, m, contracts.MintRequested); err != nil {
				return m, err
			}
		case contracts.MintRequested:
			if err := s.sign(ctx, m); err != nil {
				return m, err
			}
			if err := s.step(ctx, m, contracts.MintSigned); err != nil {
				return m, err
			}
		case contracts.MintSigned:
			return m, s.lock(ctx, m)
		default:
			return m, nil
		}
	}
}

// sign assigns a fresh nonce and attests the request's claim.
func (s *Service) sign(ctx context.Context, m *contracts.MintRequest) error {
	nonce, err := s.store.NextNonce(ctx, m.ActorID)
	if err != nil {
		return err
	}
	m.Nonce = nonce
	sig, err := s.signer.Sign(attest.ClaimFor(m))
	if err != nil {
		return fmt.Errorf("mint: attest request %s: %w", m.RequestID, err)
	}
	m.Attestation = sig
	m.AttesterKeyID = s.signer.KeyID
	return nil
}

func (s *Service) lockRequest(m *contracts.MintRequest) ledgergw.LockRequest {
	c := attest.ClaimFor(m)
	return ledgergw.LockRequest{
		Ref:         m.RequestID,
		ActorID:     c.ActorID,
		Wallet:      c.Wallet,
		ActionID:    c.ActionID,
		Amount:      c.Amount,
		Nonce:       c.Nonce,
		Attestation: m.Attestation,
		KeyID:       m.AttesterKeyID,
	}
}

// lock submits a signed request. A nonce conflict first checks whether the
// reference already landed and otherwise re-signs with a fresh nonce.
func (s *Service) lock(ctx context.Context, m *contracts.MintRequest) error {
	landed := false
	err := resiliency.Retry(ctx, s.retry, "lock:"+m.RequestID, contracts.IsRetryable, func(ctx context.Context, attempt int) error {
		rc, err := s.gw.Lock(ctx, s.lockRequest(m))
		if err == nil {
			m.LockTx = rc.TxHash
			return nil
		}
		if contracts.CodeOf(err) != contracts.CodeLedgerNonceConflict {
			return err
		}
		alloc, aerr := s.gw.Allocation(ctx, m.ActorID)
		if aerr != nil {
			return err
		}
		if alloc.Stage(m.RequestID) != "" {
			landed = true
			return nil
		}
		s.logger.Warn("nonce conflict, re-signing", "request_id", m.RequestID, "nonce", m.Nonce, "attempt", attempt)
		if serr := s.sign(ctx, m); serr != nil {
			return serr
		}
		if cerr := s.commit(ctx, m, contracts.MintSigned); cerr != nil {
			return cerr
		}
		return err
	})
	if err != nil {
		return s.recordFailure(ctx, m, err)
	}
	if landed {
		s.logger.Info("lock already on ledger", "request_id", m.RequestID)
	}
	m.LastError = ""
	return s.step(ctx, m, contracts.MintLocked)
}

// recordFailure notes a failed ledger submission without moving the request
// backward. Once the attempt budget is spent an on-chain request is failed.
// A paused ledger or a nonce race says nothing about the request itself and
// never spends the budget.
func (s *Service) recordFailure(ctx context.Context, m *contracts.MintRequest, cause error) error {
	from := m.Status
	if !transientLedgerError(cause) {
		m.Attempts++
	}
	m.LastError = cause.Error()
	if s.maxAttempts > 0 && m.Attempts >= s.maxAttempts && contracts.CanTransition(from, contracts.MintFailed) &&
		from.Rank() < contracts.MintLocked.Rank() {
		m.Status = contracts.MintFailed
	}
	if err := s.commit(ctx, m, from); err != nil {
		s.logger.Error("record mint failure", "request_id", m.RequestID, "error", err)
	}
	return cause
}

func transientLedgerError(err error) bool {
	switch contracts.CodeOf(err) {
	case contracts.CodeLedgerPaused, contracts.CodeLedgerNonceConflict:
		return true
	}
	return false
}

// Activate moves a locked request to activated. It is safe to repeat: an
// activation already visible on the ledger is recorded without a new call.
func (s *Service) Activate(ctx context.Context, requestID, actorID string) (*contracts.MintRequest, error) {
	return s.userStep(ctx, requestID, actorID, contracts.MintLocked, contracts.MintActivated, s.gw.Activate)
}

// Claim moves an activated request to claimed, with the same retry rules as
// Activate.
func (s *Service) Claim(ctx context.Context, requestID, actorID string) (*contracts.MintRequest, error) {
	return s.userStep(ctx, requestID, actorID, contracts.MintActivated, contracts.MintClaimed, s.gw.Claim)
}

type ledgerStep func(context.Context, ledgergw.TransitionRequest) (*ledgergw.Receipt, error)

func (s *Service) userStep(ctx context.Context, requestID, actorID string, from, to contracts.MintStatus, call ledgerStep) (*contracts.MintRequest, error) {
	m, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != "" && m.ActorID != actorID {
		return nil, contracts.NewError(contracts.CodeUnauthorized, "not_owner", "mint request %s belongs to another actor", requestID)
	}
	unlock := s.lockActor(m.ActorID)
	defer unlock()
	if m, err = s.store.Get(ctx, requestID); err != nil {
		return nil, err
	}
	if m.Status != contracts.MintFailed && m.Status.Rank() >= to.Rank() {
		return m, nil
	}
	if m.Status != from {
		return m, contracts.NewError(contracts.CodeInvalidTransition, "not_"+string(from),
			"mint request %s is %s, expected %s", requestID, m.Status, from)
	}

	alloc, err := s.gw.Allocation(ctx, m.ActorID)
	if err == nil && alloc.Stage(m.RequestID).Rank() >= to.Rank() {
		s.logger.Info("transition already on ledger", "request_id", m.RequestID, "to", to)
		m.LastError = ""
		return m, s.step(ctx, m, to)
	}

	var rc *ledgergw.Receipt
	err = resiliency.Retry(ctx, s.retry, string(to)+":"+m.RequestID, contracts.IsRetryable, func(ctx context.Context, _ int) error {
		var cerr error
		rc, cerr = call(ctx, ledgergw.TransitionRequest{Ref: m.RequestID, ActorID: m.ActorID, Amount: m.Amount})
		return cerr
	})
	if err != nil {
		return m, s.recordFailure(ctx, m, err)
	}
	switch to {
	case contracts.MintActivated:
		m.ActivateTx = rc.TxHash
	case contracts.MintClaimed:
		m.ClaimTx = rc.TxHash
	}
	m.LastError = ""
	return m, s.step(ctx, m, to)
}

// Reverse undoes a request's ledger effect. Requests still on their way are
// failed; a claimed request stays claimed with the reversal noted.
func (s *Service) Reverse(ctx context.Context, requestID, reason string) (*contracts.MintRequest, error) {
	m, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockActor(m.ActorID)
	defer unlock()
	if m, err = s.store.Get(ctx, requestID); err != nil {
		return nil, err
	}
	if m.Status.Rank() < contracts.MintLocked.Rank() {
		return m, contracts.NewError(contracts.CodeInvalidTransition, "not_on_ledger",
			"mint request %s is %s and has nothing to reverse", requestID, m.Status)
	}
	err = resiliency.Retry(ctx, s.retry, "reverse:"+m.RequestID, contracts.IsRetryable, func(ctx context.Context, _ int) error {
		_, cerr := s.gw.Reverse(ctx, ledgergw.ReverseRequest{Ref: m.RequestID, ActorID: m.ActorID, Reason: reason})
		return cerr
	})
	if err != nil {
		return m, err
	}
	from := m.Status
	m.LastError = "reversed: " + reason
	if from.OnChain() {
		m.Status = contracts.MintFailed
	}
	return m, s.commit(ctx, m, from)
}

// ResumePending re-drives requests left in approved, requested or signed.
// Requests the gate still holds back are skipped quietly.
func (s *Service) ResumePending(ctx context.Context, limit int) (int, error) {
	advanced := 0
	for _, status := range []contracts.MintStatus{contracts.MintSigned, contracts.MintRequested, contracts.MintApproved} {
		pending, err := s.store.ListByStatus(ctx, status, limit)
		if err != nil {
			return advanced, err
		}
		for _, m := range pending {
			if err := ctx.Err(); err != nil {
				return advanced, err
			}
			out, err := s.Advance(ctx, m.RequestID)
			if err != nil {
				if contracts.CodeOf(err) != contracts.CodeHoldPending && contracts.CodeOf(err) != contracts.CodeFraudBlocked {
					s.logger.Warn("resume mint failed", "request_id", m.RequestID, "error", err)
				}
				continue
			}
			if out.Status == contracts.MintLocked {
				advanced++
			}
		}
	}
	return advanced, nil
}
