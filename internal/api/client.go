// Package api is the portal's REST client. Transient network failures (no
// HTTP response at all) are retried with exponential backoff a bounded
// number of times; application errors are returned as *Error and never
// retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/response"
)

// Error is an application-level API failure: a response was received and
// carried the backend's structured error body.
type Error struct {
	StatusCode int
	Code       response.ErrCode
	Message    string
	Fields     map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthorized reports whether err is an *Error with HTTP status 401.
func IsUnauthorized(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}

// TokenFunc supplies the current bearer token, or "" when unauthenticated.
type TokenFunc func() string

// Client talks to the portal backend.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	log          zerolog.Logger
	tokenFn      TokenFunc
	maxAttempts  int
	initialDelay time.Duration

	// onUnauthorized fires once per 401 response to a request that carried
	// a bearer token, after the error has been built but before it is
	// returned. The session manager hooks its forced-logout path here. A
	// 401 from an unauthenticated call (a wrong-password login) is an
	// ordinary application error and never reaches the hook.
	onUnauthorized func()
}

// NewClient creates a REST client for the given base URL.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      cfg.APIBaseURL,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		log:          log.With().Str("component", "api").Logger(),
		tokenFn:      func() string { return "" },
		maxAttempts:  cfg.RetryMaxAttempts,
		initialDelay: cfg.RetryInitialDelay,
	}
}

// SetTokenFunc installs the bearer token supplier.
func (c *Client) SetTokenFunc(fn TokenFunc) {
	if fn != nil {
		c.tokenFn = fn
	}
}

// SetOnUnauthorized installs the 401 hook.
func (c *Client) SetOnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// envelope mirrors response.Response with raw data so callers can decode
// into their own types.
type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error,omitempty"`
	Meta  *response.Metadata  `json:"metadata,omitempty"`
}

// do sends one API request and decodes the envelope's data into out (which
// may be nil). Only pure network failures are retried.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempt := 0
	operation := func() (*envelope, error) {
		attempt++

		tok := c.tokenFn()
		req, err := c.newRequest(ctx, method, path, payload, tok)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// No response received: connection refused, DNS, timeout.
			// This is the only retryable class.
			c.log.Warn().Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt).
				Msg("Network failure, will retry")
			return nil, err
		}
		defer resp.Body.Close()

		env, err := decodeEnvelope(resp)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return env, nil
		}

		apiErr := &Error{
			StatusCode: resp.StatusCode,
			Code:       response.ErrInternal,
			Message:    response.GetMessage(response.ErrInternal),
		}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}

		if resp.StatusCode == http.StatusUnauthorized && tok != "" && c.onUnauthorized != nil {
			c.onUnauthorized()
		}

		// Application errors share one non-retry policy regardless of code.
		return nil, backoff.Permanent(apiErr)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialDelay

	env, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err != nil {
		return err
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte, tok string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func decodeEnvelope(resp *http.Response) (*envelope, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	env := &envelope{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, env); err != nil {
			// Non-envelope body (proxy error page, etc). Keep the status
			// code meaningful instead of failing the decode.
			env = &envelope{}
		}
	}
	return env, nil
}
