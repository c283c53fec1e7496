// Package crypto provides authenticated encryption for message bodies.
// Every message is sealed with a process-wide 256-bit key and a fresh
// random nonce; the AEAD tag makes any tampering with the stored
// ciphertext or nonce detectable at decryption time.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyBytes is the required AEAD key length.
	KeyBytes = chacha20poly1305.KeySize

	// NonceBytes is the per-message nonce length.
	NonceBytes = chacha20poly1305.NonceSize
)

// ErrIntegrity is returned when a ciphertext or nonce fails authentication.
// No plaintext is ever returned alongside it.
var ErrIntegrity = errors.New("crypto: message integrity check failed")

// Cipher seals and opens message bodies under a single long-lived key.
// It performs no I/O and is safe for concurrent use.
type Cipher struct {
	key []byte
}

// NewCipher creates a Cipher from a 32-byte key. The key is loaded once at
// startup and never derived per message.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeyBytes {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeyBytes, len(key))
	}
	k := make([]byte, KeyBytes)
	copy(k, key)
	return &Cipher{key: k}, nil
}

// Encrypt seals plaintext under a freshly generated random nonce and returns
// both. Nonces come from crypto/rand, so reuse under the same key cannot
// happen by construction.
func (c *Cipher) Encrypt(plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: init aead: %w", err)
	}

	nonce = make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext previously produced by Encrypt. A malformed
// nonce or any bit of tampering yields ErrIntegrity.
func (c *Cipher) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceBytes {
		return nil, ErrIntegrity
	}

	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
