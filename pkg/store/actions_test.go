package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

var t0 = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

func action(id, canonical, evidence string) contracts.LightAction {
	return contracts.LightAction{
		ActionID:      id,
		PlatformID:    "p1",
		ActionType:    "volunteer",
		ActorID:       "alice",
		Timestamp:     t0,
		CanonicalHash: canonical,
		EvidenceHash:  evidence,
		PolicyVersion: "1.0.0",
	}
}

func TestMemoryActionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryActionStore()

	require.NoError(t, s.Create(ctx, action("a1", "sha256:c1", "sha256:e1")))
	assert.ErrorIs(t, s.Create(ctx, action("a1", "sha256:c1", "sha256:e1")), ErrDuplicate)
	require.NoError(t, s.Create(ctx, action("a2", "sha256:c2", "sha256:e1")))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionPending, got.Status)

	dup, err := s.FindByHash(ctx, "sha256:e1", "a2")
	require.NoError(t, err)
	assert.Equal(t, "a1", dup.ActionID)
	_, err = s.FindByHash(ctx, "sha256:c2", "a2")
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	ok, err := s.Lease(ctx, "a1", "w1", t0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Lease(ctx, "a1", "w2", t0.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lease held by another worker")
	ok, err = s.Lease(ctx, "a1", "w2", t0.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	_, err = s.Score(ctx, "a1")
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	saved, err := s.SaveScore(ctx, contracts.ScoreResult{ActionID: "a1", Decision: contracts.DecisionPass, FinalReward: 40})
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = s.SaveScore(ctx, contracts.ScoreResult{ActionID: "a1", Decision: contracts.DecisionFail})
	require.NoError(t, err)
	assert.False(t, saved, "scored exactly once")

	r, err := s.Score(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionPass, r.Decision)

	rejected, err := s.Reject(ctx, "a1", "late")
	require.NoError(t, err)
	assert.False(t, rejected, "scored actions cannot be rejected")
	rejected, err = s.Reject(ctx, "a2", "cap_exceeded")
	require.NoError(t, err)
	assert.True(t, rejected)

	list, err := s.ListByActor(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a2", list[0].ActionID)
	assert.Equal(t, contracts.ActionRejected, list[0].Status)
}

func TestSQLActionStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO light_actions")).
		WithArgs("a1", "alice", "volunteer", "sha256:c1", "sha256:e1", "1.0.0", "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO light_actions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewSQLActionStore(db)
	require.NoError(t, s.Create(context.Background(), action("a1", "sha256:c1", "sha256:e1")))
	assert.ErrorIs(t, s.Create(context.Background(), action("a1", "sha256:c1", "sha256:e1")), ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLActionStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	doc, err := json.Marshal(action("a1", "sha256:c1", "sha256:e1"))
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document, status, reject_reason, admitted FROM light_actions WHERE action_id = $1")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"document", "status", "reject_reason", "admitted"}).AddRow(string(doc), "rejected", "ineligible_action", true))

	a, err := NewSQLActionStore(db).Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:c1", a.CanonicalHash)
	assert.Equal(t, contracts.ActionRejected, a.Status)
	assert.Equal(t, "ineligible_action", a.RejectReason)
	assert.True(t, a.Admitted)
}

func TestSQLActionStore_SaveScoreConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewSQLActionStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE light_actions SET status = $2, score = $3")).
		WithArgs("a1", "scored", sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.SaveScore(context.Background(), contracts.ScoreResult{ActionID: "a1", Decision: contracts.DecisionPass})
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE light_actions SET status = $2, score = $3")).
		WithArgs("a1", "scored", sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM light_actions WHERE action_id = $1")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	ok, err = s.SaveScore(context.Background(), contracts.ScoreResult{ActionID: "a1", Decision: contracts.DecisionFail})
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE light_actions SET status = $2, score = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM light_actions")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	_, err = s.SaveScore(context.Background(), contracts.ScoreResult{ActionID: "ghost"})
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLActionStore_Lease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("SET lease_holder = $2, lease_until = $3")).
		WithArgs("a1", "w1", t0.Add(time.Minute), t0, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := NewSQLActionStore(db).Lease(context.Background(), "a1", "w1", t0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLActionStore_ScoreMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT score FROM light_actions")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"score"}).AddRow(nil))
	_, err = NewSQLActionStore(db).Score(context.Background(), "a1")
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))
}

func TestMemoryActionStore_FindByHashSkipsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryActionStore()
	require.NoError(t, s.Create(ctx, action("a1", "sha256:c1", "sha256:e1")))
	ok, err := s.Reject(ctx, "a1", "CAP_EXCEEDED:type_daily_cap")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.FindByHash(ctx, "sha256:e1", "")
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	require.NoError(t, s.Create(ctx, action("a2", "sha256:c1", "sha256:e1")))
	found, err := s.FindByHash(ctx, "sha256:c1", "")
	require.NoError(t, err)
	assert.Equal(t, "a2", found.ActionID)
}

func TestMemoryActionStore_MarkAdmitted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryActionStore()
	require.NoError(t, s.Create(ctx, action("a1", "sha256:c1", "sha256:e1")))

	ok, err := s.MarkAdmitted(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.Admitted)

	_, err = s.MarkAdmitted(ctx, "ghost")
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))
}

func TestMemoryActionStore_ClaimEvidenceHasOneOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryActionStore()

	const n = 16
	owners := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner, err := s.ClaimEvidence(ctx, "sha256:e1", fmt.Sprintf("a%d", i))
			assert.NoError(t, err)
			owners[i] = owner
		}(i)
	}
	wg.Wait()
	for _, o := range owners {
		assert.Equal(t, owners[0], o)
	}

	again, err := s.ClaimEvidence(ctx, "sha256:e1", owners[0])
	require.NoError(t, err)
	assert.Equal(t, owners[0], again)
}

func TestSQLActionStore_ClaimEvidence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewSQLActionStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evidence_claims")).
		WithArgs("sha256:e1", "a2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT action_id FROM evidence_claims WHERE evidence_hash = $1")).
		WithArgs("sha256:e1").
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow("a1"))

	owner, err := s.ClaimEvidence(context.Background(), "sha256:e1", "a2")
	require.NoError(t, err)
	assert.Equal(t, "a1", owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLActionStore_MarkAdmitted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE light_actions SET admitted = TRUE")).
		WithArgs("a1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := NewSQLActionStore(db).MarkAdmitted(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
