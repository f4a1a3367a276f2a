package devapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
)

// TokenHandler serves POST /v1/oauth2/token.
// Accepts application/x-www-form-urlencoded per RFC 6749.
type TokenHandler struct {
	Identity *Identity
}

func writeOAuthError(w http.ResponseWriter, code int, errCode, desc string) {
	httpx.WriteJSON(w, code, rbacsdk.ErrorResponse{Error: errCode, ErrorDescription: desc})
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeOAuthError(w, http.StatusBadRequest, rbacsdk.ErrorCodeInvalidRequest, "content-type must be application/x-www-form-urlencoded")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, rbacsdk.ErrorCodeInvalidRequest, "invalid form body")
		return
	}

	var (
		pair TokenPair
		err  error
	)

	switch r.Form.Get("grant_type") {
	case "password":
		var mfaToken string
		pair, mfaToken, err = h.Identity.PasswordGrant(strings.TrimSpace(r.Form.Get("username")), r.Form.Get("password"))
		if errors.Is(err, ErrMFARequired) {
			httpx.WriteJSON(w, http.StatusConflict, map[string]any{
				"error":             rbacsdk.ErrorCodeMFARequired,
				"error_description": "multi-factor authentication is required to complete this request",
				"mfa_token":         mfaToken,
				"mfa_methods":       []string{"totp"},
			})
			return
		}
	case "refresh_token":
		pair, err = h.Identity.RefreshGrant(r.Form.Get("refresh_token"))
	case "mfa_otp":
		if m := r.Form.Get("method"); m != "" && m != "totp" {
			writeOAuthError(w, http.StatusBadRequest, rbacsdk.ErrorCodeInvalidRequest, "unsupported mfa method")
			return
		}
		pair, err = h.Identity.MFAGrant(r.Form.Get("mfa_token"), strings.TrimSpace(r.Form.Get("otp_code")))
	default:
		writeOAuthError(w, http.StatusBadRequest, rbacsdk.ErrorCodeUnsupportedGrantType, "grant type not supported")
		return
	}

	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			writeOAuthError(w, http.StatusUnauthorized, rbacsdk.ErrorCodeInvalidGrant, "invalid credentials")
			return
		}
		slogx.FromContext(r.Context()).Error("token grant failed", "grant_type", r.Form.Get("grant_type"), "error", err)
		writeOAuthError(w, http.StatusInternalServerError, rbacsdk.ErrorCodeServerError, "internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rbacsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	})
}

// RevokeHandler serves POST /v1/oauth2/revoke (RFC 7009). It always answers
// 200 so callers cannot probe which tokens exist.
type RevokeHandler struct {
	Identity *Identity
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, rbacsdk.ErrorCodeInvalidRequest, "invalid form body")
		return
	}
	if tok := r.Form.Get("token"); tok != "" {
		h.Identity.Revoke(tok)
	}
	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}
