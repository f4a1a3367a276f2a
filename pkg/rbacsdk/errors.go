package rbacsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrNotFound matches any *APIError with status 404.
	ErrNotFound = errors.New("rbacsdk: not found")

	// ErrUnsupported is returned for operations the API has no endpoint for.
	// No request is sent.
	ErrUnsupported = errors.New("rbacsdk: operation not supported by the API")

	// ErrNoRefreshToken is returned by Refresh when there is nothing to refresh with.
	ErrNoRefreshToken = errors.New("rbacsdk: no refresh token")
)

// Error codes the identity provider answers with.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeMFARequired          = "mfa_required"
	ErrorCodeServerError          = "server_error"
)

// ============================================================================
// NetworkError
// ============================================================================

// NetworkError means the request never completed: DNS, connection refused,
// timeouts, cancelled contexts. It wraps the transport error.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ============================================================================
// APIError
// ============================================================================

// APIError is a completed request with a non-2xx status.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ============================================================================
// MFA Error Response
// ============================================================================

// MFARequiredError is returned by the password grant when the account needs a
// second factor. It comes back as HTTP 409 Conflict.
type MFARequiredError struct {
	MFAToken string   `json:"mfa_token"`
	Methods  []string `json:"mfa_methods"`
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required: available methods=%v", e.Methods)
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into a typed error: an MFA
// challenge for 409 mfa_required, otherwise an *APIError built from whichever
// error envelope the body uses, falling back to the status text.
func parseErrorResponse(statusCode int, body []byte) error {
	if statusCode == http.StatusConflict {
		var mfa struct {
			Error      string   `json:"error"`
			MFAToken   string   `json:"mfa_token"`
			MFAMethods []string `json:"mfa_methods"`
		}
		if err := json.Unmarshal(body, &mfa); err == nil && mfa.Error == ErrorCodeMFARequired && mfa.MFAToken != "" {
			return &MFARequiredError{MFAToken: mfa.MFAToken, Methods: mfa.MFAMethods}
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg := errResp.Message
		if msg == "" {
			msg = errResp.ErrorDescription
		}
		return &APIError{StatusCode: statusCode, Code: errResp.Error, Message: msg}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       ErrorCodeServerError,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode)),
	}
}
