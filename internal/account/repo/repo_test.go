package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostzpy/truco-server/internal/account/entity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

func pendingAccount() *entity.Account {
	code := "123456"
	return &entity.Account{
		ID:              "1",
		Name:            "Ana",
		Email:           "ana@x.com",
		Username:        "ana",
		PasswordHash:    "$2a$12$hash",
		Points:          entity.DefaultPoints,
		Balance:         decimal.Zero,
		ActivationState: entity.StatePending,
		ActivationCode:  &code,
	}
}

func TestCreateReturnsTimestamps(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	a := pendingAccount()
	require.NoError(t, s.Create(context.Background(), a))
	assert.Equal(t, now, a.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTranslatesUniqueViolations(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{constraint: "accounts_email_lower_key", want: ErrDuplicateEmail},
		{constraint: "accounts_username_lower_key", want: ErrDuplicateUsername},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(`INSERT INTO accounts`).
				WillReturnError(&pq.Error{Code: "23505", Constraint: tt.constraint})

			err := s.Create(context.Background(), pendingAccount())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreatePassesOtherErrorsThrough(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO accounts`).WillReturnError(boom)

	err := s.Create(context.Background(), pendingAccount())
	assert.ErrorIs(t, err, boom)
}

func TestGetByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM accounts WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("nobody@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateBalanceMissingAccount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE accounts SET balance`).
		WithArgs("404", decimal.RequireFromString("10.5")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateBalance(context.Background(), "404", decimal.RequireFromString("10.5"))
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSetActivationClearsCode(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE accounts SET activation_state`).
		WithArgs("1", "active", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetActivation(context.Background(), "1", entity.StateActive, nil, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResetTokenAssignsID(t *testing.T) {
	s, mock := newMockStore(t)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO reset_tokens`).
		WithArgs(sqlmock.AnyArg(), "654321", "1", issued, issued.Add(10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok := &entity.ResetToken{Code: "654321", AccountID: "1", IssuedAt: issued, ExpiresAt: issued.Add(10 * time.Minute)}
	id, err := s.SaveResetToken(context.Background(), tok)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, tok.ID)
}

func TestGetResetTokenByCodeJoinsOwner(t *testing.T) {
	s, mock := newMockStore(t)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "code", "account_id", "issued_at", "expires_at",
		"name", "email", "username", "password_hash", "points", "balance", "is_admin",
		"activation_state", "activation_code", "activation_issued_at", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM reset_tokens t JOIN accounts a`).
		WithArgs("654321").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"tok1", "654321", "1", issued, issued.Add(10*time.Minute),
			"Ana", "ana@x.com", "ana", "$2a$12$hash", int64(100), "12.50", false,
			"active", nil, nil, issued, issued,
		))

	tok, owner, err := s.GetResetTokenByCode(context.Background(), "654321")
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok.ID)
	assert.Equal(t, issued.Add(10*time.Minute), tok.ExpiresAt)
	assert.Equal(t, "1", owner.ID)
	assert.Equal(t, "ana@x.com", owner.Email)
	assert.True(t, owner.Balance.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, entity.StateActive, owner.ActivationState)
}

func TestDeleteExpiredResetTokens(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectExec(`DELETE FROM reset_tokens WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteExpiredResetTokens(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestConsumeResetTokenCommitsBothWrites(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM reset_tokens WHERE id = \$1`).
		WithArgs("tok1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET password_hash`).
		WithArgs("1", "$2a$12$new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.ConsumeResetToken(context.Background(), "tok1", "1", "$2a$12$new"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeResetTokenAlreadyUsed(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM reset_tokens WHERE id = \$1`).
		WithArgs("tok1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.ConsumeResetToken(context.Background(), "tok1", "1", "$2a$12$new")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeResetTokenRollsBackWhenUpdateFails(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM reset_tokens WHERE id = \$1`).
		WithArgs("tok1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET password_hash`).
		WithArgs("1", "$2a$12$new").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.ConsumeResetToken(context.Background(), "tok1", "1", "$2a$12$new")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "token delete must be rolled back")
}
