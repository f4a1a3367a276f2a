package rbacsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aussiebroadwan/rbacadmin/pkg/idx"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
)

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// do sends one JSON request and decodes a 2xx body into out (when non-nil).
// Transport failures come back as *NetworkError, non-2xx as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(slogx.RequestIDHeader, idx.New().String())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Tokens != nil {
		token, err := c.Tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{Method: method, URL: req.URL.Redacted(), Err: err}
	}

	return decodeJSON(resp, out)
}

// decodeJSON reads the body once, returning a typed error for non-2xx
// responses and decoding successful ones into target.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: resp.Request.Method, URL: resp.Request.URL.Redacted(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if target == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
