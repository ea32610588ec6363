// Package sealer provides authenticated encryption for disk-tier cache
// payloads. A failed Open means the record is corrupt or was written with
// a different key; callers treat either as a cache miss.
package sealer

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCorrupt is returned when a sealed payload fails authentication.
var ErrCorrupt = errors.New("sealed payload failed authentication")

// Sealer encrypts and decrypts opaque byte payloads.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type aeadSealer struct {
	key []byte
}

// New returns a Sealer keyed with the given 32-byte key.
func New(key []byte) (Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealer key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &aeadSealer{key: k}, nil
}

// NewFromPassphrase derives a key from an arbitrary passphrase.
func NewFromPassphrase(passphrase string) Sealer {
	sum := sha256.Sum256([]byte(passphrase))
	s, _ := New(sum[:])
	return s
}

func (s *aeadSealer) Seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	// nonce || ciphertext
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *aeadSealer) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrCorrupt
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}
