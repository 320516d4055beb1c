package account

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ghostzpy/truco-server/internal/account/entity"
)

// Store is the persistence the service needs. Lookups return sql.ErrNoRows
// when nothing matches; Create returns repo.ErrDuplicateEmail or
// repo.ErrDuplicateUsername on unique violations.
type Store interface {
	Create(ctx context.Context, a *entity.Account) error
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	GetByUsername(ctx context.Context, username string) (*entity.Account, error)
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	SetActivation(ctx context.Context, id string, state entity.ActivationState, code *string, issuedAt *time.Time) error

	SaveResetToken(ctx context.Context, t *entity.ResetToken) (string, error)
	GetResetTokenByCode(ctx context.Context, code string) (*entity.ResetToken, *entity.Account, error)
	// ConsumeResetToken atomically deletes the token and sets the account's
	// password hash. It returns sql.ErrNoRows, changing nothing, when the
	// token was already gone.
	ConsumeResetToken(ctx context.Context, tokenID, accountID, hash string) error
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers codes out of band. Calls must not block on delivery.
type Notifier interface {
	NotifyActivation(a *entity.Account, code string)
	NotifyPasswordReset(a *entity.Account, code string, expiresAt time.Time)
}

// SessionIssuer mints session tokens for authenticated accounts.
type SessionIssuer interface {
	Issue(accountID string) (string, time.Time, error)
}
