package auditlog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ entries []Entry }

func (m *memStore) Append(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Load(context.Context) ([]Entry, error) {
	return append([]Entry(nil), m.entries...), nil
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestLog_AppendChainsAndVerifies(t *testing.T) {
	ctx := context.Background()
	l := New(nil).WithClock(fixedClock())

	e1, err := l.Append(ctx, KindPolicyPublished, "1.0.0", map[string]string{"hash": "sha256:aa"})
	require.NoError(t, err)
	e2, err := l.Append(ctx, KindMintTransition, "req-1", map[string]any{"from": "signed", "to": "locked"})
	require.NoError(t, err)

	assert.Equal(t, Genesis, e1.PrevHash)
	assert.Equal(t, e1.Hash, e2.PrevHash)
	assert.Equal(t, e2.Hash, l.Head())
	assert.Equal(t, 2, l.Len())
	assert.JSONEq(t, `{"from":"signed","to":"locked"}`, string(e2.Payload))
	require.NoError(t, l.Verify())

	assert.Len(t, l.Entries(1, 0), 1)
	assert.Empty(t, l.Entries(2, 0))
}

func TestLog_VerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	l := New(nil).WithClock(fixedClock())
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, KindAdmin, "actor-1", map[string]int{"n": i})
		require.NoError(t, err)
	}
	l.entries[1].Payload = []byte(`{"n":42}`)
	assert.ErrorContains(t, l.Verify(), "hash mismatch at seq 2")
}

func TestLog_RestoreContinuesChain(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	l := New(store).WithClock(fixedClock())
	_, err := l.Append(ctx, KindAuditFlag, "actor-1", map[string]string{"reason": "dup"})
	require.NoError(t, err)

	restored := New(store).WithClock(fixedClock())
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, l.Head(), restored.Head())
	e, err := restored.Append(ctx, KindAdmin, "actor-1", map[string]string{"op": "reinstate"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Sequence)
	require.NoError(t, restored.Verify())

	store.entries[0].Subject = "actor-2"
	assert.Error(t, New(store).Restore(ctx))
}

func TestSQLStore_AppendAndLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQLStore(db)
	at := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(int64(1), KindAdmin, "actor-1", `{"op":"x"}`, Genesis, "sha256:h1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Append(context.Background(), Entry{
		Sequence: 1, Kind: KindAdmin, Subject: "actor-1", Payload: []byte(`{"op":"x"}`),
		PrevHash: Genesis, Hash: "sha256:h1", At: at,
	}))

	mock.ExpectQuery("SELECT sequence, kind, subject, payload, prev_hash, hash, at FROM audit_log").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "kind", "subject", "payload", "prev_hash", "hash", "at"}).
			AddRow(int64(1), KindAdmin, "actor-1", `{"op":"x"}`, Genesis, "sha256:h1", at))
	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, `{"op":"x"}`, string(entries[0].Payload))
	require.NoError(t, mock.ExpectationsWereMet())
}
