package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivationState of an account. Accounts start pending and become active
// once the emailed activation code is confirmed.
type ActivationState string

const (
	StatePending ActivationState = "pending"
	StateActive  ActivationState = "active"
)

const DefaultPoints = 100

// Account represents a row in the `accounts` table.
type Account struct {
	ID                 string          `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	Email              string          `db:"email" json:"email"`
	Username           string          `db:"username" json:"username"`
	PasswordHash       string          `db:"password_hash" json:"-"`
	Points             int64           `db:"points" json:"points"`
	Balance            decimal.Decimal `db:"balance" json:"balance"`
	IsAdmin            bool            `db:"is_admin" json:"isAdmin"`
	ActivationState    ActivationState `db:"activation_state" json:"activationState"`
	ActivationCode     *string         `db:"activation_code" json:"-"`
	ActivationIssuedAt *time.Time      `db:"activation_issued_at" json:"-"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsActive reports whether the activation code has been confirmed.
func (a *Account) IsActive() bool { return a.ActivationState == StateActive }

// Profile is the public projection of an account returned by profile routes.
type Profile struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Username        string          `json:"username"`
	Points          int64           `json:"points"`
	Balance         decimal.Decimal `json:"balance"`
	IsAdmin         bool            `json:"isAdmin"`
	ActivationState ActivationState `json:"activationState"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (a *Account) Profile() Profile {
	return Profile{
		ID:              a.ID,
		Name:            a.Name,
		Email:           a.Email,
		Username:        a.Username,
		Points:          a.Points,
		Balance:         a.Balance,
		IsAdmin:         a.IsAdmin,
		ActivationState: a.ActivationState,
		CreatedAt:       a.CreatedAt,
	}
}

// ResetToken is a one-time password reset code. A row exists only while
// the code is unconsumed.
type ResetToken struct {
	ID        string    `db:"id"`
	Code      string    `db:"code"`
	AccountID string    `db:"account_id"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *ResetToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }
