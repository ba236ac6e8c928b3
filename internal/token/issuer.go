// Package token mints and verifies the opaque scannable tokens bound to an
// open attendance session. Tokens are random bytes, not claims: the QR
// collaborator may encode them however it likes as long as the exact string
// comes back.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/campusops/attendance-server-go/internal/model"
	"github.com/campusops/attendance-server-go/internal/util"
)

const tokenBytes = 32

type VerifyResult int

const (
	VerifyOK VerifyResult = iota
	VerifyMismatch
	VerifyExpired
)

func (r VerifyResult) String() string {
	switch r {
	case VerifyOK:
		return "ok"
	case VerifyMismatch:
		return "mismatch"
	case VerifyExpired:
		return "expired"
	}
	return "unknown"
}

// Grant is a freshly issued token with its expiry.
type Grant struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints and verifies session tokens. It holds no state of its own;
// the session record owns the single live token.
type Issuer struct{}

func NewIssuer() Issuer {
	return Issuer{}
}

// Issue mints a new opaque token expiring validity after now. Issuing again
// for the same session replaces the previous token, keeping exactly one
// token live per open session.
func (Issuer) Issue(now time.Time, validity time.Duration) (Grant, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Grant{}, fmt.Errorf("generate token: %w", err)
	}
	return Grant{
		Token:     hex.EncodeToString(buf),
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
	}, nil
}

// Verify checks a presented token against the session's current token.
// It never mutates state; the redemption engine re-checks session status
// before committing anything. Mismatch is reported before expiry so a token
// from a prior issuance reads as invalid rather than expired. A redemption
// exactly at the expiry instant is still accepted.
func (Issuer) Verify(session *model.AttendanceSession, presented string, now time.Time) VerifyResult {
	if session.CurrentToken == "" || !util.ConstantTimeEqual(session.CurrentToken, presented) {
		return VerifyMismatch
	}
	if session.TokenExpiresAt == nil || now.After(*session.TokenExpiresAt) {
		return VerifyExpired
	}
	return VerifyOK
}
