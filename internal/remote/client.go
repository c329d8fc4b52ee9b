package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pdv/internal/resilience"
)

// APIError is a non-2xx answer other than 404. Message is what the server
// said, unchanged, so the operator sees the backend's own wording.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.StatusCode)
	}
	return e.Message
}

// Client talks JSON to the backoffice REST API.
type Client struct {
	base   *url.URL
	http   resilience.HTTPClient
	tokens *TokenSource
	logger zerolog.Logger
}

// NewClient parses baseURL and wires the transport. tokens may be nil when
// the API does not require authentication.
func NewClient(baseURL string, httpClient resilience.HTTPClient, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	return &Client{base: u, http: httpClient, logger: logger}, nil
}

// UseTokens enables bearer authentication on every call except login.
func (c *Client) UseTokens(tokens *TokenSource) {
	c.tokens = tokens
}

// Ping issues a cheap authenticated read so readiness can tell whether the
// backoffice is reachable. Any HTTP answer below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, "caixa/aberto", nil, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return nil
	}
	return err
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) {
		if value != "" {
			r.Header.Set(key, value)
		}
	}
}

// call sends in as JSON and decodes the answer into out. It reports false
// with a nil error when the server answered 404; an empty 2xx body leaves out
// untouched.
func (c *Client) call(ctx context.Context, method, path string, in, out any, opts []requestOption) (bool, error) {
	found, err := c.callOnce(ctx, method, path, in, out, opts, true)
	var apiErr *APIError
	if c.tokens != nil && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// the token was revoked server side; log in again once
		c.tokens.Invalidate()
		return c.callOnce(ctx, method, path, in, out, opts, true)
	}
	return found, err
}

func (c *Client) callOnce(ctx context.Context, method, path string, in, out any, opts []requestOption, authorize bool) (bool, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return false, fmt.Errorf("remote: parse path %q: %w", path, err)
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("remote: encode %s: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return false, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("remote: read %s: %w", path, err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("remote_call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &APIError{StatusCode: resp.StatusCode, Message: serverMessage(data)}
	}
	trimmed := bytes.TrimSpace(data)
	if out == nil || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("remote: decode %s: %w", path, err)
	}
	return true, nil
}

func serverMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Title != "" {
			return payload.Title
		}
	}
	return strings.TrimSpace(string(data))
}
