package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// SQLActionStore implements ActionStore using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLActionStore struct {
	db *sql.DB
}

func NewSQLActionStore(db *sql.DB) *SQLActionStore {
	return &SQLActionStore{db: db}
}

const actionSchema = `
CREATE TABLE IF NOT EXISTS light_actions (
	action_id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	canonical_hash TEXT NOT NULL,
	evidence_hash TEXT NOT NULL,
	policy_version TEXT NOT NULL,
	status TEXT NOT NULL,
	reject_reason TEXT NOT NULL DEFAULT '',
	admitted BOOLEAN NOT NULL DEFAULT FALSE,
	document TEXT NOT NULL,
	score TEXT,
	lease_holder TEXT,
	lease_until TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS light_actions_actor ON light_actions (actor_id, created_at);
CREATE INDEX IF NOT EXISTS light_actions_canonical ON light_actions (canonical_hash);
CREATE INDEX IF NOT EXISTS light_actions_evidence ON light_actions (evidence_hash);
CREATE TABLE IF NOT EXISTS evidence_claims (
	evidence_hash TEXT PRIMARY KEY,
	action_id TEXT NOT NULL,
	claimed_at TIMESTAMP NOT NULL
);
`

func (s *SQLActionStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, actionSchema)
	return err
}

func (s *SQLActionStore) Create(ctx context.Context, a contracts.LightAction) error {
	if a.Status == "" {
		a.Status = contracts.ActionPending
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("store: encode action: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO light_actions (action_id, actor_id, action_type, canonical_hash, evidence_hash, policy_version, status, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (action_id) DO NOTHING
	`, a.ActionID, a.ActorID, a.ActionType, a.CanonicalHash, a.EvidenceHash, a.PolicyVersion, string(a.Status), string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: create action: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

const actionColumns = `document, status, reject_reason, admitted`

func scanAction(row interface{ Scan(dest ...any) error }) (*contracts.LightAction, error) {
	var doc, status, reason string
	var admitted bool
	if err := row.Scan(&doc, &status, &reason, &admitted); err != nil {
		return nil, err
	}
	var a contracts.LightAction
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("store: decode action: %w", err)
	}
	a.Status = contracts.ActionStatus(status)
	a.RejectReason = reason
	a.Admitted = admitted
	return &a, nil
}

func (s *SQLActionStore) Get(ctx context.Context, actionID string) (*contracts.LightAction, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM light_actions WHERE action_id = $1`, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NotFound("action", actionID)
	}
	return a, err
}

func (s *SQLActionStore) FindByHash(ctx context.Context, hash, exceptID string) (*contracts.LightAction, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM light_actions
		WHERE (canonical_hash = $1 OR evidence_hash = $1) AND action_id <> $2 AND status <> $3
		ORDER BY created_at LIMIT 1
	`, hash, exceptID, string(contracts.ActionRejected)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NotFound("action", hash)
	}
	return a, err
}

func (s *SQLActionStore) Reject(ctx context.Context, actionID, reason string) (bool, error) {
	return s.transition(ctx, actionID,
		`UPDATE light_actions SET status = $2, reject_reason = $3 WHERE action_id = $1 AND status = $4`,
		actionID, string(contracts.ActionRejected), reason, string(contracts.ActionPending))
}

func (s *SQLActionStore) MarkAdmitted(ctx context.Context, actionID string) (bool, error) {
	return s.transition(ctx, actionID,
		`UPDATE light_actions SET admitted = TRUE WHERE action_id = $1 AND status = $2`,
		actionID, string(contracts.ActionPending))
}

// ClaimEvidence relies on the primary key of evidence_claims: of two
// concurrent claims exactly one insert lands.
func (s *SQLActionStore) ClaimEvidence(ctx context.Context, evidenceHash, actionID string) (string, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_claims (evidence_hash, action_id, claimed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (evidence_hash) DO NOTHING
	`, evidenceHash, actionID, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("store: claim evidence: %w", err)
	}
	var owner string
	if err := s.db.QueryRowContext(ctx,
		`SELECT action_id FROM evidence_claims WHERE evidence_hash = $1`, evidenceHash).Scan(&owner); err != nil {
		return "", fmt.Errorf("store: read evidence claim: %w", err)
	}
	return owner, nil
}

func (s *SQLActionStore) ListByActor(ctx context.Context, actorID string, limit int) ([]contracts.LightAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM light_actions
		WHERE actor_id = $1 ORDER BY created_at DESC LIMIT $2
	`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.LightAction, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// transition runs a conditional update and distinguishes "not in the
// expected state" from "no such action".
func (s *SQLActionStore) transition(ctx context.Context, actionID, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
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
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM light_actions WHERE action_id = $1`, actionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, contracts.NotFound("action", actionID)
	}
	return false, err
}

func (s *SQLActionStore) Lease(ctx context.Context, actionID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	return s.transition(ctx, actionID, `
		UPDATE light_actions
		SET lease_holder = $2, lease_until = $3
		WHERE action_id = $1 AND status = $5
		  AND (lease_holder IS NULL OR lease_holder = $2 OR lease_until < $4)
	`, actionID, holder, now.Add(ttl).UTC(), now.UTC(), string(contracts.ActionPending))
}

func (s *SQLActionStore) SaveScore(ctx context.Context, r contracts.ScoreResult) (bool, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("store: encode score: %w", err)
	}
	return s.transition(ctx, r.ActionID, `
		UPDATE light_actions SET status = $2, score = $3, lease_holder = NULL, lease_until = NULL
		WHERE action_id = $1 AND status = $4
	`, r.ActionID, string(contracts.ActionScored), string(doc), string(contracts.ActionPending))
}

func (s *SQLActionStore) Score(ctx context.Context, actionID string) (*contracts.ScoreResult, error) {
	var doc sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT score FROM light_actions WHERE action_id = $1`, actionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && strings.TrimSpace(doc.String) == "") {
		return nil, contracts.NotFound("score", actionID)
	}
	if err != nil {
		return nil, err
	}
	var r contracts.ScoreResult
	if err := json.Unmarshal([]byte(doc.String), &r); err != nil {
		return nil, fmt.Errorf("store: decode score: %w", err)
	}
	return &r, nil
}

var _ ActionStore = (*SQLActionStore)(nil)
