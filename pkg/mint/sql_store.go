package mint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// SQLStore implements Store on Postgres or SQLite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const mintSchema = `
CREATE TABLE IF NOT EXISTS mint_requests (
	request_id TEXT PRIMARY KEY,
	action_id TEXT NOT NULL UNIQUE,
	actor_id TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	nonce BIGINT NOT NULL DEFAULT 0,
	attestation TEXT NOT NULL DEFAULT '',
	attester_key_id TEXT NOT NULL DEFAULT '',
	lock_tx TEXT NOT NULL DEFAULT '',
	activate_tx TEXT NOT NULL DEFAULT '',
	claim_tx TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS mint_requests_actor ON mint_requests (actor_id, created_at);
CREATE INDEX IF NOT EXISTS mint_requests_status ON mint_requests (status, created_at);
CREATE TABLE IF NOT EXISTS mint_nonces (
	actor_id TEXT PRIMARY KEY,
	nonce BIGINT NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, mintSchema)
	return err
}

const mintColumns = `request_id, action_id, actor_id, wallet_address, amount, status, nonce,
	attestation, attester_key_id, lock_tx, activate_tx, claim_tx, last_error, attempts, created_at, updated_at`

func scanMint(row interface{ Scan(dest ...any) error }) (*contracts.MintRequest, error) {
	var m contracts.MintRequest
	var status string
	var nonce int64
	if err := row.Scan(&m.RequestID, &m.ActionID, &m.ActorID, &m.WalletAddress, &m.Amount, &status, &nonce,
		&m.Attestation, &m.AttesterKeyID, &m.LockTx, &m.ActivateTx, &m.ClaimTx, &m.LastError, &m.Attempts,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = contracts.MintStatus(status)
	m.Nonce = uint64(nonce) //nolint:gosec // nonces are issued from 1 upward
	return &m, nil
}

func (s *SQLStore) Create(ctx context.Context, m contracts.MintRequest) (*contracts.MintRequest, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mint_requests (request_id, action_id, actor_id, wallet_address, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (action_id) DO NOTHING
	`, m.RequestID, m.ActionID, m.ActorID, m.WalletAddress, m.Amount, string(m.Status), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("mint: create request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return &m, true, nil
	}
	existing, err := s.GetByAction(ctx, m.ActionID)
	return existing, false, err
}

func (s *SQLStore) get(ctx context.Context, where, id, what string) (*contracts.MintRequest, error) {
	m, err := scanMint(s.db.QueryRowContext(ctx, `SELECT `+mintColumns+` FROM mint_requests WHERE `+where+` = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NotFound(what, id)
	}
	return m, err
}

func (s *SQLStore) Get(ctx context.Context, requestID string) (*contracts.MintRequest, error) {
	return s.get(ctx, "request_id", requestID, "mint request")
}

func (s *SQLStore) GetByAction(ctx context.Context, actionID string) (*contracts.MintRequest, error) {
	return s.get(ctx, "action_id", actionID, "mint request")
}

func (s *SQLStore) Update(ctx context.Context, m *contracts.MintRequest, from contracts.MintStatus) error {
	if err := checkUpdate(m, from); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE mint_requests SET
			status = $2, nonce = $3, attestation = $4, attester_key_id = $5, lock_tx = $6,
			activate_tx = $7, claim_tx = $8, last_error = $9, attempts = $10, updated_at = $11
		WHERE request_id = $1 AND status = $12
	`, m.RequestID, string(m.Status), int64(m.Nonce), m.Attestation, m.AttesterKeyID, m.LockTx, //nolint:gosec // see scanMint
		m.ActivateTx, m.ClaimTx, m.LastError, m.Attempts, m.UpdatedAt.UTC(), string(from))
	if err != nil {
		return fmt.Errorf("mint: update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, m.RequestID); err != nil {
		return err
	}
	return ErrStaleState
}

func (s *SQLStore) NextNonce(ctx context.Context, actorID string) (uint64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO mint_nonces (actor_id, nonce) VALUES ($1, 1)
		ON CONFLICT (actor_id) DO UPDATE SET nonce = mint_nonces.nonce + 1
		RETURNING nonce
	`, actorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("mint: next nonce: %w", err)
	}
	return uint64(n), nil //nolint:gosec // starts at 1
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]contracts.MintRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]contracts.MintRequest, 0)
	for rows.Next() {
		m, err := scanMint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListByActor(ctx context.Context, actorID string) ([]contracts.MintRequest, error) {
	return s.list(ctx, `SELECT `+mintColumns+` FROM mint_requests WHERE actor_id = $1 ORDER BY created_at, request_id`, actorID)
}

func (s *SQLStore) ListByStatus(ctx context.Context, status contracts.MintStatus, limit int) ([]contracts.MintRequest, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.list(ctx, `SELECT `+mintColumns+` FROM mint_requests WHERE status = $1 ORDER BY created_at, request_id LIMIT $2`,
		string(status), limit)
}

func (s *SQLStore) MintedSince(ctx context.Context, since time.Time) ([]contracts.MintRequest, error) {
	return s.list(ctx, `SELECT `+mintColumns+` FROM mint_requests
		WHERE status IN ($1, $2, $3) AND created_at >= $4 ORDER BY created_at, request_id`,
		string(contracts.MintLocked), string(contracts.MintActivated), string(contracts.MintClaimed), since.UTC())
}

var _ Store = (*SQLStore)(nil)
