// Package auth validates the bearer tokens that gate WebSocket sessions.
// Tokens are HS256 JWTs carrying the account id in the subject claim and
// the display handle in a username claim. Verification happens exactly
// once, at connection establishment; a failure refuses the connection.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure reasons. All of them are fatal to the connection.
var (
	ErrTokenInvalid   = errors.New("auth: token invalid")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrSubjectMissing = errors.New("auth: token missing subject claim")
)

// Identity is the resolved principal a verified token refers to.
type Identity struct {
	ID       int64  // account id from the subject claim
	Username string // display handle
}

// Claims is the JWT claim set issued to clients at login.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks token signatures and expiry against a process-wide secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates a token and extracts the Identity it asserts. It fails
// with ErrTokenExpired for elapsed expiry, ErrSubjectMissing when the sub
// claim is absent, and ErrTokenInvalid for every other defect (bad
// signature, malformed token, wrong algorithm).
func (v *Verifier) Verify(token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return Identity{}, ErrSubjectMissing
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: non-numeric subject %q", ErrTokenInvalid, claims.Subject)
	}

	return Identity{ID: id, Username: claims.Username}, nil
}

// Issue mints a signed token for the given identity, valid for ttl.
// It exists for the login collaborator, the mktoken tool, and tests.
func (v *Verifier) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identity.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
