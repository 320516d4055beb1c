package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ghostzpy/truco-server/internal/account/entity"
)

const (
	emailUniqueIndex    = "accounts_email_lower_key"
	usernameUniqueIndex = "accounts_username_lower_key"

	pgUniqueViolation = "23505"
)

var (
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrDuplicateUsername = errors.New("duplicate username")
)

const accountColumns = `id, name, email, username, password_hash, points, balance, is_admin,
	activation_state, activation_code, activation_issued_at, created_at, updated_at`

// AccountRepo provides data access for the accounts table using sqlx.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

// EnsureTable creates the accounts table and its unique indexes if missing.
// Email and username uniqueness is case-insensitive.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  username TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  points BIGINT NOT NULL DEFAULT 100 CHECK (points >= 0),
  balance NUMERIC(18,2) NOT NULL DEFAULT 0,
  is_admin BOOLEAN NOT NULL DEFAULT false,
  activation_state TEXT NOT NULL DEFAULT 'pending',
  activation_code TEXT,
  activation_issued_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_lower_key ON accounts (lower(email));
CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_lower_key ON accounts (lower(username));
CREATE INDEX IF NOT EXISTS idx_accounts_points ON accounts (points DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new account row. Unique violations come back as
// ErrDuplicateEmail or ErrDuplicateUsername.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) error {
	const q = `INSERT INTO accounts (id, name, email, username, password_hash, points, balance, is_admin,
			activation_state, activation_code, activation_issued_at)
		VALUES (:id, :name, :email, :username, :password_hash, :points, :balance, :is_admin,
			:activation_state, :activation_code, :activation_issued_at)
		RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, a)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		return nil
	}
	if err := rows.Err(); err != nil {
		return translateError(err)
	}
	return errors.New("no row returned")
}

// GetByEmail matches email case-insensitively or returns sql.ErrNoRows.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, email); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByUsername matches username case-insensitively.
func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(username) = lower($1)`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, username); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID fetches a full account row.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, id); err != nil {
		return nil, err
	}
	return &a, nil
}

const updatePasswordSQL = `UPDATE accounts SET password_hash=$2, updated_at=NOW() WHERE id=$1`

// UpdatePassword replaces the password hash.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	return execOne(ctx, r.db, updatePasswordSQL, id, hash)
}

// UpdateBalance overwrites the balance. No lower bound is applied here.
func (r *AccountRepo) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	const q = `UPDATE accounts SET balance=$2, updated_at=NOW() WHERE id=$1`
	return execOne(ctx, r.db, q, id, balance)
}

// SetActivation moves the account to state and replaces the pending code.
// A nil code clears it.
func (r *AccountRepo) SetActivation(ctx context.Context, id string, state entity.ActivationState, code *string, issuedAt *time.Time) error {
	const q = `UPDATE accounts SET activation_state=$2, activation_code=$3, activation_issued_at=$4, updated_at=NOW() WHERE id=$1`
	return execOne(ctx, r.db, q, id, string(state), code, issuedAt)
}

// execOne runs q on db or a transaction and fails with sql.ErrNoRows when
// no row was touched.
func execOne(ctx context.Context, db sqlx.ExecerContext, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// translateError maps unique violations on the account indexes to sentinel errors.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pgUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case emailUniqueIndex:
		return ErrDuplicateEmail
	case usernameUniqueIndex:
		return ErrDuplicateUsername
	}
	return err
}
