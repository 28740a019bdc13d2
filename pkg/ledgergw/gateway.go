// Package ledgergw is the boundary to the on-chain ledger. The ledger is an
// external service that locks, activates and claims amounts for an actor and
// reports the actor's allocation. Calls are at-least-once: every mutating
// operation carries the mint request ID as a reference and a replay of an
// operation that already landed returns the original receipt.
package ledgergw

import (
	"context"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// Operations recorded on receipts.
const (
	OpLock     = "lock"
	OpActivate = "activate"
	OpClaim    = "claim"
	OpReverse  = "reverse"
)

// LockRequest asks the ledger to lock Amount for ActorID. The attestation
// must be a valid signature by KeyID over the request's claim, and Nonce must
// exceed every nonce previously locked for the actor.
type LockRequest struct {
	Ref         string  `json:"ref"`
	ActorID     string  `json:"actor_id"`
	Wallet      string  `json:"wallet"`
	ActionID    string  `json:"action_id"`
	Amount      float64 `json:"amount"`
	Nonce       uint64  `json:"nonce"`
	Attestation string  `json:"attestation"`
	KeyID       string  `json:"key_id"`
}

// Claim returns the attested fields of the request.
func (r LockRequest) Claim() attest.Claim {
	return attest.Claim{
		ActorID:  r.ActorID,
		Wallet:   r.Wallet,
		Amount:   r.Amount,
		ActionID: r.ActionID,
		Nonce:    r.Nonce,
	}
}

// TransitionRequest moves a locked reference forward (activate or claim).
type TransitionRequest struct {
	Ref     string  `json:"ref"`
	ActorID string  `json:"actor_id"`
	Amount  float64 `json:"amount"`
}

// ReverseRequest is an administrative undo of a reference.
type ReverseRequest struct {
	Ref     string `json:"ref"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

// Receipt acknowledges a ledger transaction.
type Receipt struct {
	TxHash  string    `json:"tx_hash"`
	Op      string    `json:"op"`
	Ref     string    `json:"ref"`
	ActorID string    `json:"actor_id"`
	Amount  float64   `json:"amount"`
	Nonce   uint64    `json:"nonce,omitempty"`
	At      time.Time `json:"at"`
}

// Gateway is the ledger surface used by the mint state machine.
type Gateway interface {
	Lock(ctx context.Context, req LockRequest) (*Receipt, error)
	Activate(ctx context.Context, req TransitionRequest) (*Receipt, error)
	Claim(ctx context.Context, req TransitionRequest) (*Receipt, error)
	Allocation(ctx context.Context, actorID string) (*contracts.Allocation, error)
	Reverse(ctx context.Context, req ReverseRequest) (*Receipt, error)
}

// Error reasons reported by gateways.
const (
	ReasonPaused             = "ledger_paused"
	ReasonUnavailable        = "ledger_unavailable"
	ReasonNonceNotIncreasing = "nonce_not_increasing"
	ReasonInvalidAttestation = "invalid_attestation"
	ReasonPoolExhausted      = "pool_exhausted"
	ReasonAmountMismatch     = "amount_mismatch"
	ReasonUserRejected       = "user_rejected"
)
