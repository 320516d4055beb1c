package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ghostzpy/truco-server/internal/account/entity"
)

// Store combines account and reset token access behind one value.
type Store struct {
	*AccountRepo
	tokens *ResetTokenRepo
	conn   *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{AccountRepo: NewAccountRepo(db), tokens: NewResetTokenRepo(db), conn: db}
}

// EnsureSchema creates both tables; accounts first for the foreign key.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.AccountRepo.EnsureTable(ctx); err != nil {
		return err
	}
	return s.tokens.EnsureTable(ctx)
}

func (s *Store) SaveResetToken(ctx context.Context, t *entity.ResetToken) (string, error) {
	return s.tokens.Save(ctx, t)
}

func (s *Store) GetResetTokenByCode(ctx context.Context, code string) (*entity.ResetToken, *entity.Account, error) {
	return s.tokens.GetByCode(ctx, code)
}

// ConsumeResetToken deletes the token and stores the new password hash in
// one transaction. When the token is already gone it returns sql.ErrNoRows
// and the password is left unchanged; of two concurrent consumers only one
// succeeds.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenID, accountID, hash string) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execOne(ctx, tx, deleteResetTokenSQL, tokenID); err != nil {
		return err
	}
	if err := execOne(ctx, tx, updatePasswordSQL, accountID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.tokens.DeleteExpired(ctx, now)
}
