package ledgergw

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

type entry struct {
	stage    contracts.MintStatus
	amount   float64
	nonce    uint64
	receipts map[string]*Receipt
}

type account struct {
	lastNonce uint64
	locked    float64
	activated float64
	spendable float64
	entries   map[string]*entry
}

// Simulated is an in-process ledger. It verifies attestations against a key
// ring, enforces per-actor increasing nonces, draws locks from a finite pool
// and can be paused. It backs lite mode and tests.
type Simulated struct {
	mu       sync.Mutex
	keys     *attest.KeyRing
	pool     float64
	paused   bool
	accounts map[string]*account
	faults   map[string][]error
	seq      uint64
	clock    func() time.Time
	logger   *slog.Logger
}

// NewSimulated creates a ledger holding pool units for distribution.
func NewSimulated(keys *attest.KeyRing, pool float64) *Simulated {
	return &Simulated{
		keys:     keys,
		pool:     pool,
		accounts: make(map[string]*account),
		faults:   make(map[string][]error),
		clock:    time.Now,
		logger:   slog.Default().With("component", "ledgergw.simulated"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Simulated) WithClock(clock func() time.Time) *Simulated {
	s.clock = clock
	return s
}

// SetPaused toggles the ledger's pause switch.
func (s *Simulated) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Fund adds amount to the distribution pool.
func (s *Simulated) Fund(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool += amount
}

func (s *Simulated) Pool() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// Inject queues err to be returned by the next call of op. It models
// transient ledger faults and wallet rejections.
func (s *Simulated) Inject(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// precheck must be called with mu held.
func (s *Simulated) precheck(op string) error {
	if q := s.faults[op]; len(q) > 0 {
		err := q[0]
		s.faults[op] = q[1:]
		return err
	}
	if s.paused {
		return contracts.NewError(contracts.CodeLedgerPaused, ReasonPaused, "ledger is paused")
	}
	return nil
}

func (s *Simulated) accountFor(actorID string) *account {
	acc, ok := s.accounts[actorID]
	if !ok {
		acc = &account{entries: make(map[string]*entry)}
		s.accounts[actorID] = acc
	}
	return acc
}

func (s *Simulated) receipt(op, ref, actorID string, amount float64, nonce uint64) *Receipt {
	s.seq++
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(op + "|" + ref + "|" + actorID + "|" + strconv.FormatUint(s.seq, 10)))
	return &Receipt{
		TxHash:  "0x" + hex.EncodeToString(h.Sum(nil)),
		Op:      op,
		Ref:     ref,
		ActorID: actorID,
		Amount:  amount,
		Nonce:   nonce,
		At:      s.clock().UTC(),
	}
}

func (s *Simulated) Lock(_ context.Context, req LockRequest) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.precheck(OpLock); err != nil {
		return nil, err
	}
	acc := s.accountFor(req.ActorID)
	if e, ok := acc.entries[req.Ref]; ok {
		if e.nonce == req.Nonce && e.receipts[OpLock] != nil {
			cp := *e.receipts[OpLock]
			return &cp, nil
		}
		return nil, contracts.NewError(contracts.CodeLedgerNonceConflict, ReasonNonceNotIncreasing,
			"reference %s already locked with nonce %d", req.Ref, e.nonce)
	}
	if req.Amount <= 0 {
		return nil, contracts.ValidationError("invalid_amount", "lock amount must be positive")
	}
	if err := s.keys.Verify(req.KeyID, req.Attestation, req.Claim()); err != nil {
		return nil, contracts.WrapError(contracts.CodeUnauthorized, ReasonInvalidAttestation, err)
	}
	if req.Nonce <= acc.lastNonce {
		return nil, contracts.NewError(contracts.CodeLedgerNonceConflict, ReasonNonceNotIncreasing,
			"nonce %d does not exceed %d", req.Nonce, acc.lastNonce)
	}
	if s.pool < req.Amount {
		return nil, contracts.NewError(contracts.CodeInsufficientBalance, ReasonPoolExhausted,
			"pool holds %.2f, lock needs %.2f", s.pool, req.Amount)
	}
	s.pool -= req.Amount
	acc.lastNonce = req.Nonce
	acc.locked += req.Amount
	rc := s.receipt(OpLock, req.Ref, req.ActorID, req.Amount, req.Nonce)
	acc.entries[req.Ref] = &entry{
		stage:    contracts.MintLocked,
		amount:   req.Amount,
		nonce:    req.Nonce,
		receipts: map[string]*Receipt{OpLock: rc},
	}
	s.logger.Debug("locked", "ref", req.Ref, "actor_id", req.ActorID, "amount", req.Amount, "nonce", req.Nonce)
	cp := *rc
	return &cp, nil
}

// advance moves ref from one stage to the next. A replay after the effect
// landed returns the original receipt.
func (s *Simulated) advance(op string, req TransitionRequest, from, to contracts.MintStatus) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.precheck(op); err != nil {
		return nil, err
	}
	acc, ok := s.accounts[req.ActorID]
	if !ok {
		return nil, contracts.NotFound("ledger entry", req.Ref)
	}
	e, ok := acc.entries[req.Ref]
	if !ok {
		return nil, contracts.NotFound("ledger entry", req.Ref)
	}
	if rc := e.receipts[op]; rc != nil {
		cp := *rc
		return &cp, nil
	}
	if e.stage != from {
		return nil, contracts.NewError(contracts.CodeInvalidTransition, "ledger_stage",
			"reference %s is %s, %s requires %s", req.Ref, e.stage, op, from)
	}
	if req.Amount != 0 && req.Amount != e.amount {
		return nil, contracts.ValidationError(ReasonAmountMismatch,
			"reference %s holds %.2f, request names %.2f", req.Ref, e.amount, req.Amount)
	}
	switch to {
	case contracts.MintActivated:
		acc.locked -= e.amount
		acc.activated += e.amount
	case contracts.MintClaimed:
		acc.activated -= e.amount
		acc.spendable += e.amount
	}
	e.stage = to
	rc := s.receipt(op, req.Ref, req.ActorID, e.amount, e.nonce)
	e.receipts[op] = rc
	cp := *rc
	return &cp, nil
}

func (s *Simulated) Activate(_ context.Context, req TransitionRequest) (*Receipt, error) {
	return s.advance(OpActivate, req, contracts.MintLocked, contracts.MintActivated)
}

func (s *Simulated) Claim(_ context.Context, req TransitionRequest) (*Receipt, error) {
	return s.advance(OpClaim, req, contracts.MintActivated, contracts.MintClaimed)
}

func (s *Simulated) Allocation(_ context.Context, actorID string) (*contracts.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &contracts.Allocation{
		ActorID:    actorID,
		Entries:    make(map[string]contracts.MintStatus),
		ObservedAt: s.clock().UTC(),
	}
	acc, ok := s.accounts[actorID]
	if !ok {
		return out, nil
	}
	out.Locked = acc.locked
	out.Activated = acc.activated
	out.Spendable = acc.spendable
	for ref, e := range acc.entries {
		out.Entries[ref] = e.stage
	}
	return out, nil
}

// Reverse returns the reference's amount to the pool from whichever bucket
// currently holds it. Reversal is not gated by the pause switch.
func (s *Simulated) Reverse(_ context.Context, req ReverseRequest) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.faults[OpReverse]; len(q) > 0 {
		s.faults[OpReverse] = q[1:]
		return nil, q[0]
	}
	acc, ok := s.accounts[req.ActorID]
	if !ok {
		return nil, contracts.NotFound("ledger entry", req.Ref)
	}
	e, ok := acc.entries[req.Ref]
	if !ok {
		return nil, contracts.NotFound("ledger entry", req.Ref)
	}
	if rc := e.receipts[OpReverse]; rc != nil {
		cp := *rc
		return &cp, nil
	}
	switch e.stage {
	case contracts.MintLocked:
		acc.locked -= e.amount
	case contracts.MintActivated:
		acc.activated -= e.amount
	case contracts.MintClaimed:
		acc.spendable -= e.amount
	default:
		return nil, fmt.Errorf("ledgergw: reference %s in unexpected stage %s", req.Ref, e.stage)
	}
	s.pool += e.amount
	e.stage = contracts.MintFailed
	rc := s.receipt(OpReverse, req.Ref, req.ActorID, e.amount, e.nonce)
	e.receipts[OpReverse] = rc
	s.logger.Info("reversed", "ref", req.Ref, "actor_id", req.ActorID, "amount", e.amount, "reason", req.Reason)
	cp := *rc
	return &cp, nil
}

var _ Gateway = (*Simulated)(nil)
