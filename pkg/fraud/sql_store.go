package fraud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// SQLStore implements HoldStore and FlagStore on Postgres or SQLite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const fraudSchema = `
CREATE TABLE IF NOT EXISTS reward_holds (
	action_id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	release_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reward_holds_due ON reward_holds (status, release_at);
CREATE INDEX IF NOT EXISTS reward_holds_actor ON reward_holds (actor_id);
CREATE TABLE IF NOT EXISTS audit_flags (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	flagged_at TIMESTAMP NOT NULL,
	UNIQUE (actor_id, action_id, reason)
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fraudSchema)
	return err
}

func (s *SQLStore) Create(ctx context.Context, h contracts.RewardHold) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_holds (action_id, actor_id, amount, release_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (action_id) DO NOTHING
	`, h.ActionID, h.ActorID, h.Amount, h.ReleaseAt.UTC(), string(h.Status))
	if err != nil {
		return fmt.Errorf("fraud: create hold %s: %w", h.ActionID, err)
	}
	return nil
}

const holdColumns = `action_id, actor_id, amount, release_at, status`

func scanHold(row interface{ Scan(dest ...any) error }) (contracts.RewardHold, error) {
	var h contracts.RewardHold
	var status string
	err := row.Scan(&h.ActionID, &h.ActorID, &h.Amount, &h.ReleaseAt, &status)
	h.Status = contracts.HoldStatus(status)
	return h, err
}

func (s *SQLStore) Get(ctx context.Context, actionID string) (*contracts.RewardHold, error) {
	h, err := scanHold(s.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM reward_holds WHERE action_id = $1`, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NotFound("hold", actionID)
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *SQLStore) queryHolds(ctx context.Context, query string, args ...any) ([]contracts.RewardHold, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.RewardHold, 0)
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLStore) Due(ctx context.Context, now time.Time) ([]contracts.RewardHold, error) {
	return s.queryHolds(ctx,
		`SELECT `+holdColumns+` FROM reward_holds WHERE status = $1 AND release_at <= $2 ORDER BY release_at`,
		string(contracts.HoldHeld), now.UTC())
}

func (s *SQLStore) ListByActor(ctx context.Context, actorID string) ([]contracts.RewardHold, error) {
	return s.queryHolds(ctx,
		`SELECT `+holdColumns+` FROM reward_holds WHERE actor_id = $1 ORDER BY release_at`, actorID)
}

func (s *SQLStore) Release(ctx context.Context, actionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reward_holds SET status = $2 WHERE action_id = $1 AND status = $3`,
		actionID, string(contracts.HoldReleased), string(contracts.HoldHeld))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, actionID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) move(ctx context.Context, actorID string, from, to contracts.HoldStatus) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reward_holds SET status = $2 WHERE actor_id = $1 AND status = $3`,
		actorID, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("fraud: %s holds of %s: %w", to, actorID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) Freeze(ctx context.Context, actorID string) (int, error) {
	return s.move(ctx, actorID, contracts.HoldHeld, contracts.HoldFrozen)
}

func (s *SQLStore) Unfreeze(ctx context.Context, actorID string) (int, error) {
	return s.move(ctx, actorID, contracts.HoldFrozen, contracts.HoldHeld)
}

func (s *SQLStore) Add(ctx context.Context, f contracts.AuditFlag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_flags (id, actor_id, action_id, reason, flagged_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (actor_id, action_id, reason) DO NOTHING
	`, f.ID, f.ActorID, f.ActionID, f.Reason, f.FlaggedAt.UTC())
	if err != nil {
		return fmt.Errorf("fraud: add audit flag: %w", err)
	}
	return nil
}

func (s *SQLStore) CountSince(ctx context.Context, actorID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_flags WHERE actor_id = $1 AND flagged_at >= $2`,
		actorID, since.UTC()).Scan(&n)
	return n, err
}

func (s *SQLStore) List(ctx context.Context, actorID string) ([]contracts.AuditFlag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, action_id, reason, flagged_at FROM audit_flags WHERE actor_id = $1 ORDER BY flagged_at`,
		actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.AuditFlag, 0)
	for rows.Next() {
		var f contracts.AuditFlag
		if err := rows.Scan(&f.ID, &f.ActorID, &f.ActionID, &f.Reason, &f.FlaggedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) Clear(ctx context.Context, actorID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_flags WHERE actor_id = $1`, actorID)
	return err
}

var (
	_ HoldStore = (*SQLStore)(nil)
	_ FlagStore = (*SQLStore)(nil)
	_ HoldStore = (*MemoryHoldStore)(nil)
	_ FlagStore = (*MemoryFlagStore)(nil)
)
