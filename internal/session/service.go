package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissing      = errors.New("missing session token")
	ErrMalformed    = errors.New("malformed session token")
	ErrExpired      = errors.New("session token expired")
	ErrBadSignature = errors.New("session token signature invalid")
)

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// ConfigFromEnv reads JWT_SECRET, JWT_ISSUER and SESSION_TTL (default 1h).
func ConfigFromEnv() Config {
	cfg := Config{
		Secret: os.Getenv("JWT_SECRET"),
		Issuer: os.Getenv("JWT_ISSUER"),
		TTL:    time.Hour,
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "truco-arena"
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}
	return cfg
}

// Claims carried by a session token. The account id travels in "sub".
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues and validates stateless HS256 session tokens.
// There is no refresh or revocation: a token is good until it expires.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Service{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TTL, now: time.Now}, nil
}

// Issue signs a token bound to accountID.
func (s *Service) Issue(accountID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// Validate verifies signature and expiry and returns the account id.
func (s *Service) Validate(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissing
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrBadSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpired
		default:
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if claims.Subject == "" {
		return "", ErrMalformed
	}
	return claims.Subject, nil
}
