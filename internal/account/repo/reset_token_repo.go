package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ghostzpy/truco-server/internal/account/entity"
	"github.com/ghostzpy/truco-server/pkg/utilities"
)

type ResetTokenRepo struct {
	db *sqlx.DB
}

func NewResetTokenRepo(db *sqlx.DB) *ResetTokenRepo {
	return &ResetTokenRepo{db: db}
}

// EnsureTable creates reset_tokens with a lookup index on code.
// Codes are not unique: two outstanding tokens may share one.
func (r *ResetTokenRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS reset_tokens (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL,
  account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
  issued_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reset_tokens_code ON reset_tokens (code);
CREATE INDEX IF NOT EXISTS idx_reset_tokens_expires_at ON reset_tokens (expires_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Save inserts t, assigning an id when empty, and returns the id.
func (r *ResetTokenRepo) Save(ctx context.Context, t *entity.ResetToken) (string, error) {
	if t.ID == "" {
		t.ID = utilities.NewKSUID()
	}
	const q = `INSERT INTO reset_tokens (id, code, account_id, issued_at, expires_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, q, t.ID, t.Code, t.AccountID, t.IssuedAt, t.ExpiresAt); err != nil {
		return "", err
	}
	return t.ID, nil
}

// GetByCode returns the most recently issued token with code together with
// its owning account, or sql.ErrNoRows.
func (r *ResetTokenRepo) GetByCode(ctx context.Context, code string) (*entity.ResetToken, *entity.Account, error) {
	const q = `SELECT t.id, t.code, t.account_id, t.issued_at, t.expires_at,
			a.name, a.email, a.username, a.password_hash, a.points, a.balance, a.is_admin,
			a.activation_state, a.activation_code, a.activation_issued_at, a.created_at, a.updated_at
		FROM reset_tokens t JOIN accounts a ON a.id = t.account_id
		WHERE t.code = $1
		ORDER BY t.issued_at DESC
		LIMIT 1`
	var row struct {
		ID                 string                 `db:"id"`
		Code               string                 `db:"code"`
		AccountID          string                 `db:"account_id"`
		IssuedAt           time.Time              `db:"issued_at"`
		ExpiresAt          time.Time              `db:"expires_at"`
		Name               string                 `db:"name"`
		Email              string                 `db:"email"`
		Username           string                 `db:"username"`
		PasswordHash       string                 `db:"password_hash"`
		Points             int64                  `db:"points"`
		Balance            decimal.Decimal        `db:"balance"`
		IsAdmin            bool                   `db:"is_admin"`
		ActivationState    entity.ActivationState `db:"activation_state"`
		ActivationCode     *string                `db:"activation_code"`
		ActivationIssuedAt *time.Time             `db:"activation_issued_at"`
		CreatedAt          time.Time              `db:"created_at"`
		UpdatedAt          time.Time              `db:"updated_at"`
	}
	if err := r.db.GetContext(ctx, &row, q, code); err != nil {
		return nil, nil, err
	}
	tok := &entity.ResetToken{
		ID:        row.ID,
		Code:      row.Code,
		AccountID: row.AccountID,
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
	}
	owner := &entity.Account{
		ID:                 row.AccountID,
		Name:               row.Name,
		Email:              row.Email,
		Username:           row.Username,
		PasswordHash:       row.PasswordHash,
		Points:             row.Points,
		Balance:            row.Balance,
		IsAdmin:            row.IsAdmin,
		ActivationState:    row.ActivationState,
		ActivationCode:     row.ActivationCode,
		ActivationIssuedAt: row.ActivationIssuedAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	return tok, owner, nil
}

const deleteResetTokenSQL = `DELETE FROM reset_tokens WHERE id = $1`

// DeleteExpired removes every token whose expiry is before now.
func (r *ResetTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
