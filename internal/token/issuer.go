// Package token issues the short numeric one-time codes used for account
// activation and password reset.
//
// Codes are six digits drawn uniformly from [100000, 999999] and are not
// deduplicated against outstanding codes. Six digits is a weak secret; the
// reset expiry and per-email rate limiting bound how long it can be guessed.
package token

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	codeMin = 100000
	codeMax = 999999

	// ResetTTL is how long a password reset code stays valid.
	ResetTTL = 10 * time.Minute
)

type Issuer struct {
	rand io.Reader
}

func NewIssuer() *Issuer {
	return &Issuer{rand: rand.Reader}
}

// NewIssuerWithReader is used by tests to make codes deterministic.
func NewIssuerWithReader(r io.Reader) *Issuer {
	return &Issuer{rand: r}
}

// Code returns a fresh six digit code.
func (i *Issuer) Code() (string, error) {
	n, err := rand.Int(i.rand, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// ResetExpiry returns the expiry instant for a reset code issued at issuedAt.
func (i *Issuer) ResetExpiry(issuedAt time.Time) time.Time {
	return issuedAt.Add(ResetTTL)
}
