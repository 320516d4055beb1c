package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostzpy/truco-server/internal/notification/entity"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestEnsureTableSkipsExisting(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT to_regclass\('public.notifications'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow("notifications"))
	mock.ExpectQuery(`SELECT to_regclass\('public.idx_notifications_account_id'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))
	mock.ExpectExec(`CREATE INDEX idx_notifications_account_id`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUnknownAccount(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnError(&pq.Error{Code: "23503"})

	err := r.Create(context.Background(), &entity.Notification{ID: "n1", AccountID: "404", Title: "t", Description: "d", Type: entity.TypeNormal})
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestListActive(t *testing.T) {
	r, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)
	mock.ExpectQuery(`FROM notifications\s+WHERE account_id = \$1 AND \(expired_date IS NULL OR expired_date > \$2\)`).
		WithArgs("1", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "title", "description", "type", "date_created", "expired_date"}).
			AddRow("n2", "1", "Torneio", "Sábado", "blue", now, exp).
			AddRow("n1", "1", "Bem vindo", "Olá", "normal", now.Add(-time.Hour), nil))

	items, err := r.ListActive(context.Background(), "1", now)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, entity.TypeBlue, items[0].Type)
	require.NotNil(t, items[0].ExpiredDate)
	assert.Nil(t, items[1].ExpiredDate)
}

func TestListActiveEmptyIsNotNil(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, err := r.ListActive(context.Background(), "1", time.Now())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestDeleteReportsRows(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(`DELETE FROM notifications WHERE id = \$1`).
		WithArgs("n1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := r.Delete(context.Background(), "n1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
