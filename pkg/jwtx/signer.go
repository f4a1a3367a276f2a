package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// minSecretLen is the shortest HMAC secret we accept (256 bits).
const minSecretLen = 32

// HS256Signer signs tokens with a shared HMAC secret. The development
// identity provider both signs and verifies, so a symmetric key is enough.
type HS256Signer struct {
	kid    string
	secret []byte
}

// NewSignerHS256 creates an HS256 signer, rejecting short secrets.
func NewSignerHS256(kid string, secret []byte) (*HS256Signer, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	return &HS256Signer{kid: kid, secret: secret}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }
func (s *HS256Signer) KID() string { return s.kid }

// Sign turns the claims into a signed compact JWT.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwtx: nil HMAC secret")
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.secret)
}
