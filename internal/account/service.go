package account

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/account/entity"
	"github.com/ghostzpy/truco-server/internal/account/repo"
	"github.com/ghostzpy/truco-server/internal/ratelimit"
	"github.com/ghostzpy/truco-server/internal/token"
	"github.com/ghostzpy/truco-server/pkg/utilities"
)

// Rate limit scopes.
const (
	scopeLogin  = "login"
	scopeResend = "resend-verification"
	scopeReset  = "request-reset"
)

type Config struct {
	// RequireActivation rejects logins from accounts that never confirmed their email.
	RequireActivation bool
	// ActivationTTL bounds how long an activation code is accepted. Zero means forever.
	ActivationTTL time.Duration
	// SweepInterval is how often expired reset tokens are deleted. Zero disables the sweeper.
	SweepInterval time.Duration
}

// ConfigFromEnv reads AUTH_REQUIRE_ACTIVATION, AUTH_ACTIVATION_TTL and RESET_SWEEP_INTERVAL.
func ConfigFromEnv() Config {
	cfg := Config{SweepInterval: time.Hour}
	switch strings.ToLower(os.Getenv("AUTH_REQUIRE_ACTIVATION")) {
	case "1", "true", "yes":
		cfg.RequireActivation = true
	}
	if v := os.Getenv("AUTH_ACTIVATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.ActivationTTL = d
		}
	}
	if v := os.Getenv("RESET_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.SweepInterval = d
		}
	}
	return cfg
}

// Service orchestrates the account lifecycle: registration, activation,
// login, password reset and password change.
type Service struct {
	store    Store
	sessions SessionIssuer
	notifier Notifier
	issuer   *token.Issuer
	hasher   PasswordHasher
	limiter  ratelimit.Limiter
	logger   *zap.SugaredLogger
	cfg      Config
	now      func() time.Time
}

func NewService(store Store, sessions SessionIssuer, notifier Notifier, logger *zap.SugaredLogger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:    store,
		sessions: sessions,
		notifier: notifier,
		issuer:   token.NewIssuer(),
		hasher:   BcryptHasher{Cost: 12},
		limiter:  ratelimit.Noop{},
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithLimiter sets the limiter used for login, resend and reset requests.
func (s *Service) WithLimiter(l ratelimit.Limiter) *Service {
	if l != nil {
		s.limiter = l
	}
	return s
}

// WithHasher overrides the password hasher.
func (s *Service) WithHasher(h PasswordHasher) *Service {
	if h != nil {
		s.hasher = h
	}
	return s
}

// WithIssuer overrides the code issuer.
func (s *Service) WithIssuer(i *token.Issuer) *Service {
	if i != nil {
		s.issuer = i
	}
	return s
}

// RegisterInput holds the fields required to open an account.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(1, maxPasswordLen)),
		validation.Field(&in.Username, validation.Required, validation.Length(1, 50)),
	)
}

// Register creates a pending account and sends its activation code.
// The account is committed before the notification is queued.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Fast path for a friendly error; the unique indexes are authoritative.
	if _, err := s.store.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if _, err := s.store.GetByUsername(ctx, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := s.issuer.Code()
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &entity.Account{
		ID:                 utilities.NewSnowflakeID(),
		Name:               in.Name,
		Email:              in.Email,
		Username:           in.Username,
		PasswordHash:       hash,
		Points:             entity.DefaultPoints,
		Balance:            decimal.Zero,
		ActivationState:    entity.StatePending,
		ActivationCode:     &code,
		ActivationIssuedAt: &now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicateEmail):
			return nil, ErrEmailTaken
		case errors.Is(err, repo.ErrDuplicateUsername):
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.Infow("account registered", "account_id", a.ID)

	s.notifier.NotifyActivation(a, code)
	return a, nil
}

// VerifyEmail activates the account owning email when code matches its
// pending activation code. The code is cleared so it cannot be reused.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email, code = strings.TrimSpace(email), strings.TrimSpace(code)
	if email == "" || code == "" {
		return fmt.Errorf("%w: email and code are required", ErrValidation)
	}
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("lookup email: %w", err)
	}
	if a.IsActive() || a.ActivationCode == nil || !constantTimeEqual(*a.ActivationCode, code) {
		return ErrInvalidToken
	}
	if s.cfg.ActivationTTL > 0 && a.ActivationIssuedAt != nil &&
		s.now().After(a.ActivationIssuedAt.Add(s.cfg.ActivationTTL)) {
		return ErrExpired
	}
	if err := s.store.SetActivation(ctx, a.ID, entity.StateActive, nil, nil); err != nil {
		return fmt.Errorf("activate account: %w", err)
	}
	s.logger.Infow("account activated", "account_id", a.ID)
	return nil
}

// ResendVerification replaces the pending code with a new one and resends it.
// The previous code stops working.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if err := s.allow(ctx, scopeResend, email); err != nil {
		return err
	}
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup email: %w", err)
	}
	if a.IsActive() {
		return ErrAlreadyActive
	}
	code, err := s.issuer.Code()
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.store.SetActivation(ctx, a.ID, entity.StatePending, &code, &now); err != nil {
		return fmt.Errorf("store activation code: %w", err)
	}
	s.notifier.NotifyActivation(a, code)
	return nil
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	AccountID string
}

// Login checks email and password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if err := s.allow(ctx, scopeLogin, email); err != nil {
		return nil, err
	}
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if !s.hasher.Verify(a.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if s.cfg.RequireActivation && !a.IsActive() {
		return nil, ErrNotActivated
	}
	tok, exp, err := s.sessions.Issue(a.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	// only failed attempts count toward the login limit
	if err := s.limiter.Reset(ctx, scopeLogin, email); err != nil {
		s.logger.Warnw("rate limiter reset failed", "scope", scopeLogin, "err", err)
	}
	return &LoginResult{Token: tok, ExpiresAt: exp, AccountID: a.ID}, nil
}

// RequestPasswordReset issues a reset code valid for ten minutes and sends it.
// Earlier outstanding codes for the account stay valid until they expire.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*entity.ResetToken, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if err := s.allow(ctx, scopeReset, email); err != nil {
		return nil, err
	}
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	code, err := s.issuer.Code()
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &entity.ResetToken{
		Code:      code,
		AccountID: a.ID,
		IssuedAt:  now,
		ExpiresAt: s.issuer.ResetExpiry(now),
	}
	if _, err := s.store.SaveResetToken(ctx, t); err != nil {
		return nil, fmt.Errorf("save reset token: %w", err)
	}
	s.logger.Infow("password reset requested", "account_id", a.ID, "token_id", t.ID)

	s.notifier.NotifyPasswordReset(a, code, t.ExpiresAt)
	return t, nil
}

// VerifyResetToken reports whether code is a live reset code for email.
func (s *Service) VerifyResetToken(ctx context.Context, email, code string) error {
	_, _, err := s.checkResetToken(ctx, email, code)
	return err
}

// ConfirmPasswordReset sets a new password using a reset code and consumes it.
// On any failure the account is left untouched.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := validateNewPassword(newPassword); err != nil {
		return err
	}
	t, owner, err := s.checkResetToken(ctx, email, code)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	// A concurrent confirm with the same code finds the token gone here.
	if err := s.store.ConsumeResetToken(ctx, t.ID, owner.ID, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	s.logger.Infow("password reset completed", "account_id", owner.ID)
	return nil
}

func (s *Service) checkResetToken(ctx context.Context, email, code string) (*entity.ResetToken, *entity.Account, error) {
	email, code = strings.TrimSpace(email), strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, nil, fmt.Errorf("%w: email and code are required", ErrValidation)
	}
	t, owner, err := s.store.GetResetTokenByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("lookup reset token: %w", err)
	}
	if t.Expired(s.now()) {
		return nil, nil, ErrExpired
	}
	if !strings.EqualFold(owner.Email, email) {
		return nil, nil, ErrEmailMismatch
	}
	return t, owner, nil
}

// ChangePassword replaces the password of an authenticated account.
// Both the current and the new password are required.
func (s *Service) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if oldPassword == "" {
		return fmt.Errorf("%w: old password is required", ErrValidation)
	}
	if err := validateNewPassword(newPassword); err != nil {
		return err
	}
	a, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if !s.hasher.Verify(a.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, a.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Infow("password changed", "account_id", a.ID)
	return nil
}

// EmailExists reports whether an account uses email.
func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(s.store.GetByEmail(ctx, email))
}

// UsernameExists reports whether an account uses username, ignoring case.
func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(s.store.GetByUsername(ctx, username))
}

func (s *Service) exists(_ *entity.Account, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Account, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetByEmail returns the account registered with email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// RequireAdmin returns ErrForbidden unless accountID belongs to an admin.
func (s *Service) RequireAdmin(ctx context.Context, accountID string) error {
	a, err := s.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !a.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// UpdateBalance overwrites the balance of account id. This is an
// administrative override, so negative values are accepted.
func (s *Service) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) (*entity.Account, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateBalance(ctx, a.ID, balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update balance: %w", err)
	}
	a.Balance = balance
	s.logger.Infow("balance updated", "account_id", a.ID, "balance", balance.String())
	return a, nil
}

func (s *Service) allow(ctx context.Context, scope, key string) error {
	ok, err := s.limiter.Allow(ctx, scope, key)
	if err != nil {
		// fail open: a limiter outage must not lock everyone out
		s.logger.Warnw("rate limiter unavailable", "scope", scope, "err", err)
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// validateNewPassword applies the registration password rules.
func validateNewPassword(pw string) error {
	if err := validation.Validate(pw, validation.Required, validation.Length(1, maxPasswordLen)); err != nil {
		return fmt.Errorf("%w: new password %v", ErrValidation, err)
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
