// Package auth signs and verifies dashboard write requests with HMAC-SHA256.
// A signed request carries an Authorization header of the form
//
//	AQD-HMAC-SHA256 keyId=<id>,ts=<unix>,nonce=<uuid>,sig=<hex>
//
// where sig covers the method, escaped path, timestamp, nonce and body digest.
// Replay protection (nonce bookkeeping) lives with the HTTP middleware.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AuthHeaderPrefix = "AQD-HMAC-SHA256"
	DefaultClockSkew = 300 * time.Second
)

var (
	ErrMalformedHeader = errors.New("malformed auth header")
	ErrUnknownKey      = errors.New("unknown key id")
	ErrStaleTimestamp  = errors.New("timestamp outside allowed skew")
	ErrBadSignature    = errors.New("signature mismatch")
)

// HMACAuth holds the shared secrets used to sign and verify requests.
type HMACAuth struct {
	secrets   map[string]string
	clockSkew time.Duration
	now       func() time.Time
}

// AuthHeader is a parsed Authorization header.
type AuthHeader struct {
	KeyID     string
	Timestamp string
	Nonce     string
	Signature string
}

// NewHMACAuth creates an authenticator. A zero clockSkew selects DefaultClockSkew.
func NewHMACAuth(secrets map[string]string, clockSkew time.Duration) *HMACAuth {
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &HMACAuth{secrets: copied, clockSkew: clockSkew, now: time.Now}
}

// ClockSkew returns the tolerated timestamp drift.
func (h *HMACAuth) ClockSkew() time.Duration {
	return h.clockSkew
}

// HasKey reports whether keyID can sign or verify.
func (h *HMACAuth) HasKey(keyID string) bool {
	_, ok := h.secrets[keyID]
	return ok
}

// BodySHA256Hex returns the hex SHA-256 digest of a request body.
func BodySHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalString is the newline-joined string that gets signed. The query string is
// not part of it.
func CanonicalString(method, path, ts, nonce, bodyHex string) string {
	return strings.Join([]string{strings.ToUpper(method), path, ts, nonce, bodyHex}, "\n")
}

// ComputeSignature signs the canonical form of a request with secret.
func ComputeSignature(method, path string, body []byte, ts, nonce, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(method, path, ts, nonce, BodySHA256Hex(body))))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateAuthHeader builds an Authorization header value. An empty nonce gets a fresh
// random one. Returns an empty string if keyID is unknown.
func (h *HMACAuth) CreateAuthHeader(method, path string, body []byte, keyID, nonce string) string {
	secret, ok := h.secrets[keyID]
	if !ok {
		return ""
	}
	if nonce == "" {
		nonce = uuid.NewString()
	}
	ts := strconv.FormatInt(h.now().Unix(), 10)
	sig := ComputeSignature(method, path, body, ts, nonce, secret)
	return fmt.Sprintf("%s keyId=%s,ts=%s,nonce=%s,sig=%s", AuthHeaderPrefix, keyID, ts, nonce, sig)
}

// SignRequest reads the request body, restores it, and sets the Authorization header.
func (h *HMACAuth) SignRequest(req *http.Request, keyID string) error {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	header := h.CreateAuthHeader(req.Method, req.URL.EscapedPath(), body, keyID, "")
	if header == "" {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	req.Header.Set("Authorization", header)
	return nil
}

// ParseAuthHeader splits an Authorization header into its fields.
func ParseAuthHeader(authHeader string) (*AuthHeader, error) {
	rest, ok := strings.CutPrefix(authHeader, AuthHeaderPrefix+" ")
	if !ok {
		return nil, fmt.Errorf("%w: invalid prefix", ErrMalformedHeader)
	}

	parsed := &AuthHeader{}
	for _, pair := range strings.Split(rest, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "keyId":
			parsed.KeyID = value
		case "ts":
			parsed.Timestamp = value
		case "nonce":
			parsed.Nonce = value
		case "sig":
			parsed.Signature = value
		}
	}

	if parsed.KeyID == "" || parsed.Timestamp == "" || parsed.Nonce == "" || parsed.Signature == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedHeader)
	}
	return parsed, nil
}

// VerifySignature checks key, timestamp freshness and signature in constant time.
func (h *HMACAuth) VerifySignature(method, path string, body []byte, a *AuthHeader) error {
	secret, ok := h.secrets[a.KeyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, a.KeyID)
	}

	ts, err := strconv.ParseInt(a.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", ErrMalformedHeader, a.Timestamp)
	}

	drift := h.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > h.clockSkew {
		return fmt.Errorf("%w: drift %s", ErrStaleTimestamp, drift)
	}

	expected := ComputeSignature(method, path, body, a.Timestamp, a.Nonce, secret)
	if !hmac.Equal([]byte(expected), []byte(a.Signature)) {
		return ErrBadSignature
	}
	return nil
}
