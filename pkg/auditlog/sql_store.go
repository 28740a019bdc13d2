package auditlog

import (
	"context"
	"database/sql"
	"time"
)

// SQLStore persists the chain in an audit_log table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	sequence BIGINT PRIMARY KEY,
	kind TEXT NOT NULL,
	subject TEXT NOT NULL,
	payload TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	at TIMESTAMP NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (sequence, kind, subject, payload, prev_hash, hash, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, int64(e.Sequence), e.Kind, e.Subject, string(e.Payload), e.PrevHash, e.Hash, e.At) //nolint:gosec // sequences start at 1
	return err
}

func (s *SQLStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, kind, subject, payload, prev_hash, hash, at FROM audit_log ORDER BY sequence
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var seq int64
		var payload string
		var at time.Time
		if err := rows.Scan(&seq, &e.Kind, &e.Subject, &payload, &e.PrevHash, &e.Hash, &at); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq) //nolint:gosec // sequences start at 1
		e.Payload = []byte(payload)
		e.At = at.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
