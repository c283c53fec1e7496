package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}
	return c
}

// ---------------------------------------------------------------------------
// Test: encrypt/decrypt round-trip recovers the original plaintext
// ---------------------------------------------------------------------------

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"hi", "", "a longer message with unicode: héllo 😀"} {
		nonce, ciphertext, err := c.Encrypt([]byte(plaintext))
		if err != nil {
			t.Fatalf("Encrypt(%q) error: %v", plaintext, err)
		}
		if len(nonce) != NonceBytes {
			t.Fatalf("expected %d-byte nonce, got %d", NonceBytes, len(nonce))
		}

		got, err := c.Decrypt(nonce, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt error: %v", err)
		}
		if string(got) != plaintext {
			t.Errorf("round-trip mismatch: expected %q, got %q", plaintext, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: tampering with any bit of ciphertext or nonce fails closed
// ---------------------------------------------------------------------------

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	c := newTestCipher(t)

	nonce, ciphertext, err := c.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	for i := range ciphertext {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[i] ^= 0x01

		if _, err := c.Decrypt(nonce, tampered); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("byte %d: expected ErrIntegrity, got %v", i, err)
		}
	}
}

func TestDecrypt_TamperedNonce(t *testing.T) {
	c := newTestCipher(t)

	nonce, ciphertext, err := c.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	for i := range nonce {
		tampered := make([]byte, len(nonce))
		copy(tampered, nonce)
		tampered[i] ^= 0x80

		if _, err := c.Decrypt(tampered, ciphertext); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("byte %d: expected ErrIntegrity, got %v", i, err)
		}
	}
}

func TestDecrypt_MalformedNonce(t *testing.T) {
	c := newTestCipher(t)

	_, ciphertext, err := c.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	if _, err := c.Decrypt([]byte("short"), ciphertext); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for short nonce, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: repeated encryption produces fresh nonces and ciphertexts
// ---------------------------------------------------------------------------

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t)
	plaintext := []byte("same message")

	n1, ct1, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("first Encrypt error: %v", err)
	}
	n2, ct2, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("second Encrypt error: %v", err)
	}

	if bytes.Equal(n1, n2) {
		t.Error("expected distinct nonces for repeated encryption")
	}
	if bytes.Equal(ct1, ct2) {
		t.Error("expected distinct ciphertexts for repeated encryption")
	}
}

// ---------------------------------------------------------------------------
// Test: key length is enforced at construction
// ---------------------------------------------------------------------------

func TestNewCipher_BadKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := NewCipher(make([]byte, size)); err == nil {
			t.Errorf("expected error for %d-byte key", size)
		}
	}
}
