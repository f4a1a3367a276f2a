package devapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/idx"
	"github.com/aussiebroadwan/rbacadmin/pkg/jwtx"
	"github.com/pquerna/otp/totp"
)

var (
	ErrInvalidGrant = errors.New("devapi: invalid grant")
	ErrMFARequired  = errors.New("devapi: mfa required")
)

// mfaTokenTTL bounds how long a password-verified login may wait for its OTP.
const mfaTokenTTL = 5 * time.Minute

// Account is the single operator the development identity provider knows.
type Account struct {
	Subject      string
	Username     string
	PasswordHash string
	TOTPSecret   string
}

// TokenPair is what a successful grant hands back.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

type pendingGrant struct {
	subject   string
	sid       string
	expiresAt time.Time
}

// Identity issues HS256 access tokens and opaque refresh tokens. Refresh and
// MFA tokens are indexed by fingerprint so raw values never sit in memory
// longer than the request that minted them.
type Identity struct {
	account    Account
	pepper     string
	signer     jwtx.Signer
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	refresh map[string]pendingGrant
	mfa     map[string]pendingGrant
}

// IdentityConfig carries the knobs for NewIdentity.
type IdentityConfig struct {
	Account    Account
	Pepper     string
	Signer     jwtx.Signer
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewIdentity(cfg IdentityConfig) *Identity {
	return &Identity{
		account:    cfg.Account,
		pepper:     cfg.Pepper,
		signer:     cfg.Signer,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
		refresh:    make(map[string]pendingGrant),
		mfa:        make(map[string]pendingGrant),
	}
}

// PasswordGrant checks the operator's password. When the account has a TOTP
// secret it returns ErrMFARequired together with a one-shot mfa token.
func (id *Identity) PasswordGrant(username, password string) (TokenPair, string, error) {
	if !strings.EqualFold(username, id.account.Username) {
		// Burn the same time as a real check.
		_ = cryptox.VerifyPassword(password, id.pepper, id.account.PasswordHash)
		return TokenPair{}, "", ErrInvalidGrant
	}
	if err := cryptox.VerifyPassword(password, id.pepper, id.account.PasswordHash); err != nil {
		return TokenPair{}, "", ErrInvalidGrant
	}

	sid := idx.NewPrefixed("sess")

	if id.account.TOTPSecret != "" {
		token, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return TokenPair{}, "", err
		}

		id.mu.Lock()
		id.mfa[cryptox.FingerprintToken(token)] = pendingGrant{
			subject:   id.account.Subject,
			sid:       sid,
			expiresAt: id.now().Add(mfaTokenTTL),
		}
		id.mu.Unlock()
		return TokenPair{}, token, ErrMFARequired
	}

	pair, err := id.issue(sid, []string{"pwd"})
	return pair, "", err
}

// MFAGrant completes a challenge raised by PasswordGrant.
func (id *Identity) MFAGrant(mfaToken, code string) (TokenPair, error) {
	fp := cryptox.FingerprintToken(mfaToken)

	id.mu.Lock()
	pending, ok := id.mfa[fp]
	if ok {
		delete(id.mfa, fp)
	}
	id.mu.Unlock()

	if !ok || id.now().After(pending.expiresAt) {
		return TokenPair{}, ErrInvalidGrant
	}
	if !totp.Validate(code, id.account.TOTPSecret) {
		return TokenPair{}, ErrInvalidGrant
	}

	return id.issue(pending.sid, []string{"pwd", "otp", "mfa"})
}

// RefreshGrant rotates a refresh token: the old one stops working.
func (id *Identity) RefreshGrant(refreshToken string) (TokenPair, error) {
	fp := cryptox.FingerprintToken(refreshToken)

	id.mu.Lock()
	pending, ok := id.refresh[fp]
	if ok {
		delete(id.refresh, fp)
	}
	id.mu.Unlock()

	if !ok || id.now().After(pending.expiresAt) {
		return TokenPair{}, ErrInvalidGrant
	}

	return id.issue(pending.sid, []string{"pwd"})
}

// Revoke forgets a refresh token. Unknown tokens are not an error (RFC 7009).
func (id *Identity) Revoke(refreshToken string) {
	id.mu.Lock()
	delete(id.refresh, cryptox.FingerprintToken(refreshToken))
	id.mu.Unlock()
}

// Sweep drops expired refresh and mfa tokens and reports how many went.
func (id *Identity) Sweep() int {
	now := id.now()

	id.mu.Lock()
	defer id.mu.Unlock()

	n := 0
	for _, m := range []map[string]pendingGrant{id.refresh, id.mfa} {
		for k, v := range m {
			if now.After(v.expiresAt) {
				delete(m, k)
				n++
			}
		}
	}
	return n
}

func (id *Identity) issue(sid string, amr []string) (TokenPair, error) {
	now := id.now().UTC()
	claims := jwtx.NewAccessClaims(id.account.Subject, sid, id.account.Username, amr, id.accessTTL, id.issuer, id.audience, now)

	access, err := id.signer.Sign(claims)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return TokenPair{}, err
	}

	id.mu.Lock()
	id.refresh[cryptox.FingerprintToken(refresh)] = pendingGrant{
		subject:   id.account.Subject,
		sid:       sid,
		expiresAt: now.Add(id.refreshTTL),
	}
	id.mu.Unlock()

	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: id.accessTTL}, nil
}
