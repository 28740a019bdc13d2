package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLStore persists snapshots as canonical JSON documents. It works with both
// Postgres and SQLite.
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

const policySchema = `
CREATE TABLE IF NOT EXISTS policy_snapshots (
	version TEXT PRIMARY KEY,
	seq INTEGER NOT NULL UNIQUE,
	document TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	published_at TIMESTAMP NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, policySchema)
	return err
}

func (s *SQLStore) Active(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document, published_at FROM policy_snapshots ORDER BY seq DESC LIMIT 1`)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, unavailable("no policy has been published")
	}
	return snap, err
}

func (s *SQLStore) Get(ctx context.Context, version string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document, published_at FROM policy_snapshots WHERE version = $1`, version)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, unavailable("policy version %s not found", version)
	}
	return snap, err
}

func (s *SQLStore) Publish(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", snap.Version, err)
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("policy: encode: %w", err)
	}
	hash, err := snap.Hash()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var active string
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT version, seq FROM policy_snapshots ORDER BY seq DESC LIMIT 1`).Scan(&active, &seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("policy: read active: %w", err)
	}
	if err := ensureNewer(active, snap.Version); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policy_snapshots (version, seq, document, content_hash, published_at)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.Version, seq+1, string(doc), hash, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("policy: insert %s: %w", snap.Version, err)
	}
	return tx.Commit()
}

func (s *SQLStore) Versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM policy_snapshots ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var doc string
	var publishedAt time.Time
	if err := row.Scan(&doc, &publishedAt); err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return nil, fmt.Errorf("policy: decode stored document: %w", err)
	}
	snap.PublishedAt = publishedAt
	return &snap, nil
}
