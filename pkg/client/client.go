// Package client contains HTTP clients for the three aquarium backend services and
// for the dashboard's own API.
//
// Every public call returns either a decoded payload or an *APIError whose message is
// fixed per operation, so callers never have to tell a refused connection from a bad
// status code or malformed JSON. The underlying cause is logged and kept for Unwrap.
package client

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
	"time"

	"github.com/rs/zerolog"
)

// ErrRequestFailed matches every *APIError with errors.Is.
var ErrRequestFailed = errors.New("request failed")

// APIError is the normalized error returned by every client call.
type APIError struct {
	Op         string // Operation name, e.g. "fetch tanks"
	Message    string // Fixed, user-presentable message
	StatusCode int    // HTTP status when the server answered, 0 otherwise
	Cause      error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrRequestFailed) true for any APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Option configures a client.
type Option func(*base)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *base) {
		b.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(b *base) {
		b.timeout = timeout
	}
}

// WithLogger sets the logger used to record failure causes.
func WithLogger(log zerolog.Logger) Option {
	return func(b *base) {
		b.log = log
	}
}

// WithRequestSigner installs a hook that signs each outgoing request.
func WithRequestSigner(sign func(*http.Request) error) Option {
	return func(b *base) {
		b.sign = sign
	}
}

// base is shared by every service client.
type base struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        zerolog.Logger
	sign       func(*http.Request) error
}

func newBase(baseURL string, opts ...Option) base {
	b := base{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 10 * time.Second,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: b.timeout}
	}
	return b
}

// BaseURL returns the service root this client talks to.
func (b *base) BaseURL() string {
	return b.baseURL
}

// fail logs the cause and wraps it into the operation's fixed message.
func (b *base) fail(op, message string, status int, cause error) *APIError {
	b.log.Error().Err(cause).Str("op", op).Int("status", status).Msg(message)
	return &APIError{Op: op, Message: message, StatusCode: status, Cause: cause}
}

// getJSON issues GET base+path?query and decodes a 2xx JSON body into out.
func (b *base) getJSON(ctx context.Context, op, message, path string, query url.Values, out any) error {
	return b.doJSON(ctx, op, message, http.MethodGet, path, query, nil, out)
}

func (b *base) doJSON(ctx context.Context, op, message, method, path string, query url.Values, in, out any) error {
	target := b.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return b.fail(op, message, 0, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return b.fail(op, message, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.sign != nil {
		if err := b.sign(req); err != nil {
			return b.fail(op, message, 0, fmt.Errorf("sign request: %w", err))
		}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return b.fail(op, message, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return b.fail(op, message, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b.fail(op, message, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 256)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return b.fail(op, message, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
