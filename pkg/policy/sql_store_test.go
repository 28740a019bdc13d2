package policy

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

func TestSQLStore_ActiveEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document, published_at FROM policy_snapshots ORDER BY seq DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"document", "published_at"}))

	_, err = NewSQLStore(db).Active(context.Background())
	assert.Equal(t, contracts.CodePolicyUnavailable, contracts.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	doc, err := json.Marshal(Default())
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document, published_at FROM policy_snapshots WHERE version = $1")).
		WithArgs("1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"document", "published_at"}).AddRow(string(doc), now))

	snap, err := NewSQLStore(db).Get(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", snap.Version)
	assert.Equal(t, 30*time.Second, snap.Trust.Cooldown)
	assert.Equal(t, now, snap.PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Publish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	next := Default()
	next.Version = "1.2.0"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, seq FROM policy_snapshots ORDER BY seq DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "seq"}).AddRow("1.0.0", 1))
	mock.ExpectExec("INSERT INTO policy_snapshots").
		WithArgs("1.2.0", int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, NewSQLStore(db).Publish(context.Background(), next))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PublishRejectsOlderVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, seq FROM policy_snapshots ORDER BY seq DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "seq"}).AddRow("2.0.0", 4))
	mock.ExpectRollback()

	err = NewSQLStore(db).Publish(context.Background(), Default())
	require.ErrorIs(t, err, ErrVersionNotNewer)
	assert.NoError(t, mock.ExpectationsWereMet())
}
