package contracts

import "time"

// MintStatus is a position in the mint authorization lifecycle.
type MintStatus string

const (
	MintPending   MintStatus = "pending"
	MintScored    MintStatus = "scored"
	MintRejected  MintStatus = "rejected"
	MintApproved  MintStatus = "approved"
	MintRequested MintStatus = "requested"
	MintSigned    MintStatus = "signed"
	MintLocked    MintStatus = "locked"
	MintActivated MintStatus = "activated"
	MintClaimed   MintStatus = "claimed"
	MintFailed    MintStatus = "failed"
)

var mintRank = map[MintStatus]int{
	MintPending:   0,
	MintScored:    1,
	MintApproved:  2,
	MintRejected:  2,
	MintRequested: 3,
	MintSigned:    4,
	MintLocked:    5,
	MintActivated: 6,
	MintClaimed:   7,
}

// Rank orders statuses. Failed has no rank and reports -1.
func (s MintStatus) Rank() int {
	r, ok := mintRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether no further transition is possible.
func (s MintStatus) Terminal() bool {
	return s == MintClaimed || s == MintFailed || s == MintRejected
}

// OnChain reports whether s is a step after which the ledger may be involved.
func (s MintStatus) OnChain() bool {
	switch s {
	case MintRequested, MintSigned, MintLocked, MintActivated:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal single step.
// Transitions only move forward by one rank, scored forks into approved or
// rejected, and failed is reachable from any on-chain step.
func CanTransition(from, to MintStatus) bool {
	if to == MintFailed {
		return from.OnChain()
	}
	if from.Terminal() {
		return false
	}
	if from == MintScored {
		return to == MintApproved || to == MintRejected
	}
	fr, tr := from.Rank(), to.Rank()
	return fr >= 0 && tr == fr+1 && to != MintRejected
}

// MintRequest authorizes minting the reward of one passed action.
// ActionID is unique across all requests.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type MintRequest struct {
	RequestID     string     `json:"request_id"`
	ActionID      string     `json:"action_id"`
	ActorID       string     `json:"actor_id"`
	WalletAddress string     `json:"wallet_address"`
	Amount        float64    `json:"amount"`
	Status        MintStatus `json:"status"`
	Nonce         uint64     `json:"nonce"`
	Attestation   string     `json:"attestation,omitempty"`
	AttesterKeyID string     `json:"attester_key_id,omitempty"`
	LockTx        string     `json:"lock_tx,omitempty"`
	ActivateTx    string     `json:"activate_tx,omitempty"`
	ClaimTx       string     `json:"claim_tx,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TxHash returns the hash of the most recent ledger transaction.
func (m *MintRequest) TxHash() string {
	switch {
	case m.ClaimTx != "":
		return m.ClaimTx
	case m.ActivateTx != "":
		return m.ActivateTx
	default:
		return m.LockTx
	}
}

// MintItemResult is one entry of a batch mint response.
type MintItemResult struct {
	ActionID  string     `json:"action_id"`
	RequestID string     `json:"request_id,omitempty"`
	Status    MintStatus `json:"status,omitempty"`
	Error     *Error     `json:"error,omitempty"`
}

// Allocation mirrors an actor's balances on the ledger. Entries records the
// ledger-side stage reached by each mint request reference, which lets a
// retried transition detect that its effect already landed.
type Allocation struct {
	ActorID    string                `json:"actor_id"`
	Locked     float64               `json:"locked"`
	Activated  float64               `json:"activated"`
	Spendable  float64               `json:"spendable"`
	Entries    map[string]MintStatus `json:"entries,omitempty"`
	ObservedAt time.Time             `json:"observed_at"`
}

// Stage returns the ledger-side stage of ref, or "" if the ledger has not
// seen it.
func (a *Allocation) Stage(ref string) MintStatus {
	if a == nil {
		return ""
	}
	return a.Entries[ref]
}
