package auth

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-that-is-long-enough"

// ---------------------------------------------------------------------------
// Test: a freshly issued token verifies and yields the same identity
// ---------------------------------------------------------------------------

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := v.Issue(Identity{ID: 42, Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	identity, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if identity.ID != 42 {
		t.Errorf("expected id 42, got %d", identity.ID)
	}
	if identity.Username != "alice" {
		t.Errorf("expected username %q, got %q", "alice", identity.Username)
	}
}

// ---------------------------------------------------------------------------
// Test: expired tokens are rejected with ErrTokenExpired
// ---------------------------------------------------------------------------

func TestVerify_ExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := v.Issue(Identity{ID: 7, Username: "bob"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: tokens signed with a different secret are rejected
// ---------------------------------------------------------------------------

func TestVerify_WrongSecret(t *testing.T) {
	other := NewVerifier("a-completely-different-signing-secret")
	token, err := other.Issue(Identity{ID: 7, Username: "bob"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	v := NewVerifier(testSecret)
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: malformed and structurally defective tokens are rejected
// ---------------------------------------------------------------------------

func TestVerify_Malformed(t *testing.T) {
	v := NewVerifier(testSecret)

	for _, token := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestVerify_MissingSubject(t *testing.T) {
	v := NewVerifier(testSecret)

	// Hand-roll a token without a sub claim.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "ghost",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Verify(signed); !errors.Is(err, ErrSubjectMissing) {
		t.Fatalf("expected ErrSubjectMissing, got %v", err)
	}
}

func TestVerify_NonNumericSubject(t *testing.T) {
	v := NewVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-number",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: subject claim round-trips large ids without truncation
// ---------------------------------------------------------------------------

func TestIssue_SubjectEncoding(t *testing.T) {
	v := NewVerifier(testSecret)
	id := int64(1) << 53

	token, err := v.Issue(Identity{ID: id, Username: "big"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	identity, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if identity.ID != id {
		t.Errorf("expected id %s, got %d", strconv.FormatInt(id, 10), identity.ID)
	}
}
