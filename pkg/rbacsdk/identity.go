package rbacsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/idx"
	"github.com/aussiebroadwan/rbacadmin/pkg/jwtx"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"github.com/pquerna/otp/totp"
)

// Credentials are what an operator types at the login prompt. OTP is an
// already-generated code; TOTPSecret lets the client generate one itself
// (unattended logins). Either answers an MFA challenge.
type Credentials struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	OTP        string `json:"otp,omitempty" validate:"omitempty,numeric,len=6"`
	TOTPSecret string `json:"-"`
}

// Tokens is the outcome of a successful grant.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Subject      string
	Username     string
}

// IdentityClient performs OAuth2 grants against the identity provider's
// /v1/oauth2 endpoints.
type IdentityClient struct {
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client

	now func() time.Time
}

// NewIdentityClient creates an identity provider client.
func NewIdentityClient(baseURL, clientID string) *IdentityClient {
	return &IdentityClient{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		ClientID: clientID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// Login runs the password grant and, when the provider challenges for MFA,
// completes it with the OTP (given or generated from the TOTP secret).
func (c *IdentityClient) Login(ctx context.Context, creds Credentials) (Tokens, error) {
	resp, err := c.PasswordGrant(ctx, creds.Username, creds.Password)

	var mfa *MFARequiredError
	if errors.As(err, &mfa) {
		code := creds.OTP
		if code == "" && creds.TOTPSecret != "" {
			code, err = totp.GenerateCode(creds.TOTPSecret, c.now())
			if err != nil {
				return Tokens{}, fmt.Errorf("failed to generate totp code: %w", err)
			}
		}
		if code == "" {
			return Tokens{}, mfa
		}
		resp, err = c.MFAOTPGrant(ctx, mfa, "totp", code)
	}
	if err != nil {
		return Tokens{}, err
	}

	return c.tokensFrom(resp), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, ErrNoRefreshToken
	}

	resp, err := c.RefreshGrant(ctx, refreshToken)
	if err != nil {
		return Tokens{}, err
	}

	t := c.tokensFrom(resp)
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return t, nil
}

// Revoke invalidates a refresh token.
func (c *IdentityClient) Revoke(ctx context.Context, refreshToken string) error {
	data := url.Values{
		"token":     {refreshToken},
		"client_id": {c.ClientID},
	}
	return c.postForm(ctx, "/v1/oauth2/revoke", data, nil)
}

// PasswordGrant requests tokens with the resource owner password grant.
func (c *IdentityClient) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"client_id":  {c.ClientID},
	}
	return c.requestToken(ctx, data)
}

// RefreshGrant requests new tokens using a refresh token.
func (c *IdentityClient) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.ClientID},
	}
	return c.requestToken(ctx, data)
}

// MFAOTPGrant completes an MFA challenge with a one-time code.
func (c *IdentityClient) MFAOTPGrant(ctx context.Context, mfa *MFARequiredError, method, code string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"mfa_otp"},
		"mfa_token":  {mfa.MFAToken},
		"method":     {method},
		"otp_code":   {code},
		"client_id":  {c.ClientID},
	}
	return c.requestToken(ctx, data)
}

func (c *IdentityClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.postForm(ctx, "/v1/oauth2/token", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *IdentityClient) postForm(ctx context.Context, path string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(slogx.RequestIDHeader, idx.New().String())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}

	return decodeJSON(resp, out)
}

// tokensFrom fills subject and username from the access token's claims. The
// token is not verified here; the resource server does that.
func (c *IdentityClient) tokensFrom(resp *TokenResponse) Tokens {
	t := Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	if claims, err := jwtx.ParseUnverified(resp.AccessToken); err == nil {
		t.Subject = claims.Subject
		t.Username = claims.Username
		if exp := claims.Expiry(); !exp.IsZero() && resp.ExpiresIn == 0 {
			t.ExpiresAt = exp
		}
	}
	return t
}
