package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// SQLStore implements Store on Postgres or SQLite.
//
// Per-actor atomicity comes from touching the actor's profile row first inside
// each transaction: Postgres takes a row lock and SQLite takes its write lock,
// so concurrent reservations for one actor serialize while different actors
// proceed independently on Postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const trustSchema = `
CREATE TABLE IF NOT EXISTS trust_profiles (
	actor_id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	tier INTEGER NOT NULL DEFAULT 0,
	risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	suspended_until TIMESTAMP,
	permanently_suspended BOOLEAN NOT NULL DEFAULT FALSE,
	email TEXT NOT NULL DEFAULT '',
	registration_ip TEXT NOT NULL DEFAULT '',
	device_fingerprint TEXT NOT NULL DEFAULT '',
	touched_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS action_counters (
	actor_id TEXT NOT NULL,
	period TEXT NOT NULL,
	action_type TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	reward DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_at TIMESTAMP,
	PRIMARY KEY (actor_id, period, action_type)
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, trustSchema)
	return err
}

func (s *SQLStore) Register(ctx context.Context, p contracts.TrustProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_profiles (actor_id, created_at, tier, risk_score, email, registration_ip, device_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (actor_id) DO NOTHING
	`, p.ActorID, p.CreatedAt.UTC(), p.Tier, p.RiskScore, p.Email, p.RegistrationIP, p.DeviceFingerprint)
	if err != nil {
		return fmt.Errorf("trust: register %s: %w", p.ActorID, err)
	}
	return nil
}

const profileColumns = `actor_id, created_at, tier, risk_score, suspended_until, permanently_suspended, email, registration_ip, device_fingerprint`

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*contracts.TrustProfile, error) {
	var p contracts.TrustProfile
	var until sql.NullTime
	if err := row.Scan(&p.ActorID, &p.CreatedAt, &p.Tier, &p.RiskScore, &until, &p.PermanentlySuspended,
		&p.Email, &p.RegistrationIP, &p.DeviceFingerprint); err != nil {
		return nil, err
	}
	if until.Valid {
		t := until.Time
		p.SuspendedUntil = &t
	}
	return &p, nil
}

func (s *SQLStore) Get(ctx context.Context, actorID string) (*contracts.TrustProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM trust_profiles WHERE actor_id = $1`, actorID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NotFound("actor", actorID)
	}
	return p, err
}

func (s *SQLStore) List(ctx context.Context, since time.Time) ([]contracts.TrustProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM trust_profiles WHERE created_at >= $1 ORDER BY created_at`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.TrustProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLStore) exec(ctx context.Context, actorID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("trust: rows affected: %w", err)
	}
	if n == 0 {
		return contracts.NotFound("actor", actorID)
	}
	return nil
}

func (s *SQLStore) RaiseRisk(ctx context.Context, actorID string, score float64) (float64, error) {
	var out float64
	err := s.db.QueryRowContext(ctx, `
		UPDATE trust_profiles
		SET risk_score = CASE WHEN risk_score < $2 THEN $2 ELSE risk_score END
		WHERE actor_id = $1
		RETURNING risk_score
	`, actorID, score).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, contracts.NotFound("actor", actorID)
	}
	return out, err
}

func (s *SQLStore) Suspend(ctx context.Context, actorID string, until time.Time) error {
	return s.exec(ctx, actorID, `
		UPDATE trust_profiles
		SET suspended_until = CASE WHEN suspended_until IS NULL OR suspended_until < $2 THEN $2 ELSE suspended_until END
		WHERE actor_id = $1
	`, actorID, until.UTC())
}

func (s *SQLStore) SuspendPermanently(ctx context.Context, actorID string) error {
	return s.exec(ctx, actorID, `UPDATE trust_profiles SET permanently_suspended = TRUE WHERE actor_id = $1`, actorID)
}

func (s *SQLStore) Reinstate(ctx context.Context, actorID string) error {
	return s.exec(ctx, actorID, `
		UPDATE trust_profiles
		SET permanently_suspended = FALSE, suspended_until = NULL, risk_score = 0
		WHERE actor_id = $1
	`, actorID)
}

func (s *SQLStore) SetTier(ctx context.Context, actorID string, tier int) error {
	if tier < 0 || tier > contracts.MaxTier {
		return contracts.ValidationError("tier", "tier %d outside [0,%d]", tier, contracts.MaxTier)
	}
	return s.exec(ctx, actorID, `UPDATE trust_profiles SET tier = $2 WHERE actor_id = $1`, actorID, tier)
}

// lockActor takes the per-actor lock inside tx.
func lockActor(ctx context.Context, tx *sql.Tx, actorID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE trust_profiles SET touched_at = $2 WHERE actor_id = $1`, actorID, at.UTC())
	if err != nil {
		return fmt.Errorf("trust: lock %s: %w", actorID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("trust: rows affected: %w", err)
	}
	if n == 0 {
		return contracts.NotFound("actor", actorID)
	}
	return nil
}

type counterRow struct {
	count  int
	reward float64
	lastAt time.Time
}

func readCounters(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, actorID, day, week string) (map[string]counterRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT period, action_type, count, reward, last_at FROM action_counters
		WHERE actor_id = $1 AND period IN ($2, $3, 'last')
	`, actorID, "d:"+day, "w:"+week)
	if err != nil {
		return nil, fmt.Errorf("trust: read counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]counterRow)
	for rows.Next() {
		var period, actionType string
		var r counterRow
		var last sql.NullTime
		if err := rows.Scan(&period, &actionType, &r.count, &r.reward, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			r.lastAt = last.Time
		}
		out[period+"|"+actionType] = r
	}
	return out, rows.Err()
}

func (s *SQLStore) ReserveAction(ctx context.Context, actorID string, lim ActionLimits) (contracts.Usage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Usage{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockActor(ctx, tx, actorID, lim.At); err != nil {
		return contracts.Usage{}, err
	}
	day, week := DayKey(lim.At), WeekKey(lim.At)
	c, err := readCounters(ctx, tx, actorID, day, week)
	if err != nil {
		return contracts.Usage{}, err
	}
	dk, wk := "d:"+day, "w:"+week
	if err := checkLimits(lim,
		c["last|"].lastAt, c["last|"+lim.ActionType].lastAt,
		c[dk+"|"+lim.ActionType].count, c[dk+"|"].count, c[wk+"|"].count,
	); err != nil {
		return toUsage(c, lim.At), err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO action_counters (actor_id, period, action_type, count, reward, last_at)
		VALUES ($1, $2, '', 1, 0, $5), ($1, $2, $4, 1, 0, $5), ($1, $3, '', 1, 0, $5), ($1, $3, $4, 1, 0, $5),
		       ($1, 'last', '', 1, 0, $5), ($1, 'last', $4, 1, 0, $5)
		ON CONFLICT (actor_id, period, action_type)
		DO UPDATE SET count = action_counters.count + 1, last_at = excluded.last_at
	`, actorID, dk, wk, lim.ActionType, lim.At.UTC())
	if err != nil {
		return contracts.Usage{}, fmt.Errorf("trust: record action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return contracts.Usage{}, err
	}

	for _, k := range []string{dk + "|", dk + "|" + lim.ActionType, wk + "|", wk + "|" + lim.ActionType} {
		r := c[k]
		r.count++
		c[k] = r
	}
	c["last|"] = counterRow{lastAt: lim.At}
	return toUsage(c, lim.At), nil
}

func (s *SQLStore) ReserveReward(ctx context.Context, actorID string, req RewardRequest) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockActor(ctx, tx, actorID, req.At); err != nil {
		return 0, err
	}
	day, week := DayKey(req.At), WeekKey(req.At)
	c, err := readCounters(ctx, tx, actorID, day, week)
	if err != nil {
		return 0, err
	}
	dk, wk := "d:"+day, "w:"+week
	g := grant(req.Amount, req.DailyCap, c[dk+"|"+req.ActionType].reward, req.WeeklyCap, c[wk+"|"+req.ActionType].reward)
	if g > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO action_counters (actor_id, period, action_type, count, reward)
			VALUES ($1, $2, $4, 0, $5), ($1, $3, $4, 0, $5)
			ON CONFLICT (actor_id, period, action_type)
			DO UPDATE SET reward = action_counters.reward + excluded.reward
		`, actorID, dk, wk, req.ActionType, g)
		if err != nil {
			return 0, fmt.Errorf("trust: record reward: %w", err)
		}
	}
	return g, tx.Commit()
}

func (s *SQLStore) Usage(ctx context.Context, actorID string, at time.Time) (contracts.Usage, error) {
	c, err := readCounters(ctx, s.db, actorID, DayKey(at), WeekKey(at))
	if err != nil {
		return contracts.Usage{}, err
	}
	return toUsage(c, at), nil
}

func toUsage(c map[string]counterRow, at time.Time) contracts.Usage {
	day, week := DayKey(at), WeekKey(at)
	u := contracts.Usage{
		Day:                day,
		Week:               week,
		DailyByType:        map[string]int{},
		DailyRewardByType:  map[string]float64{},
		WeeklyRewardByType: map[string]float64{},
	}
	dk, wk := "d:"+day+"|", "w:"+week+"|"
	for k, r := range c {
		switch {
		case k == dk:
			u.DailyActions = r.count
		case k == wk:
			u.WeeklyActions = r.count
		case k == "last|":
			if !r.lastAt.IsZero() {
				last := r.lastAt
				u.LastActionAt = &last
			}
		case strings.HasPrefix(k, dk):
			t := strings.TrimPrefix(k, dk)
			if r.count > 0 {
				u.DailyByType[t] = r.count
			}
			if r.reward > 0 {
				u.DailyRewardByType[t] = r.reward
			}
		case strings.HasPrefix(k, wk):
			if r.reward > 0 {
				u.WeeklyRewardByType[strings.TrimPrefix(k, wk)] = r.reward
			}
		}
	}
	return u
}
