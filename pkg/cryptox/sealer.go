package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the shortest master secret NewSealer accepts.
const MinSecretLen = 16

var (
	ErrSecretTooShort = errors.New("cryptox: secret too short")
	ErrOpen           = errors.New("cryptox: unable to open sealed value")
)

// Sealer encrypts small values (refresh tokens) before they reach durable
// storage. Keys are derived from a master secret with HKDF-SHA256 so one
// secret can serve several purposes without key reuse.
//
// Output format (base64url, no padding): [24-byte nonce][ciphertext+tag].
type Sealer struct {
	key []byte
}

// NewSealer derives an XChaCha20-Poly1305 key for purpose from secret.
func NewSealer(secret []byte, purpose string) (*Sealer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte("rbacadmin:"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext bound to aad. Empty plaintext seals to "".
func (s *Sealer) Seal(plaintext, aad []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("cryptox: new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptox: nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, plaintext, aad)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any tampering, wrong key or wrong aad yields ErrOpen.
func (s *Sealer) Open(sealed string, aad []byte) ([]byte, error) {
	if sealed == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrOpen
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: new aead: %w", err)
	}

	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpen
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
