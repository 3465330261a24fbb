// Package api provides the HTTP middleware and response helpers shared by the dashboard
// routes: request logging, body size limits, HMAC authentication for write routes,
// CORS, and health/readiness probes.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"aquarium-dashboard/pkg/auth"
	"aquarium-dashboard/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	MaxRequestSize = 1 * 1024 * 1024 // Maximum allowed request size: 1MB
)

// NonceStore remembers nonces of authenticated requests.
type NonceStore interface {
	HasSeenNonce(nonce string) (bool, error)
	SaveNonce(nonce string) error
}

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Middleware provides HTTP middleware with HMAC authentication and request logging.
type Middleware struct {
	hmacAuth *auth.HMACAuth // nil disables HMACAuth checks
	nonces   NonceStore
	log      zerolog.Logger
}

// NewMiddleware creates a middleware instance. hmacAuth may be nil when no shared
// secret is configured, in which case HMACAuth lets every request through.
func NewMiddleware(hmacAuth *auth.HMACAuth, nonces NonceStore, log zerolog.Logger) *Middleware {
	return &Middleware{
		hmacAuth: hmacAuth,
		nonces:   nonces,
		log:      log,
	}
}

// RequestLogging logs request start and completion with timing. It assigns a request
// ID when the client did not send one and echoes it in the response.
func (m *Middleware) RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		r.Header.Set("X-Request-ID", requestID)
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		m.log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Request started")

		next.ServeHTTP(wrapped, r)

		m.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

// SizeLimit restricts request bodies to MaxRequestSize.
func (m *Middleware) SizeLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// HMACAuth validates HMAC-SHA256 signatures and rejects replayed nonces.
func (m *Middleware) HMACAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.hmacAuth == nil {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		logger := m.log.With().Str("request_id", requestID).Logger()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteError(w, http.StatusUnauthorized, "MISSING_AUTH", "Authorization header required", requestID)
			return
		}

		authInfo, err := auth.ParseAuthHeader(authHeader)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to parse auth header")
			WriteError(w, http.StatusUnauthorized, "INVALID_AUTH", "Invalid authorization header", requestID)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Request body too large", requestID)
				return
			}
			logger.Error().Err(err).Msg("Failed to read request body")
			WriteError(w, http.StatusBadRequest, "READ_ERROR", "Failed to read request body", requestID)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := m.checkNonce(authInfo.Nonce); err != nil {
			logger.Warn().Err(err).Str("nonce", authInfo.Nonce).Msg("Nonce replay detected")
			WriteError(w, http.StatusUnauthorized, "REPLAY_ATTACK", "Nonce already seen", requestID)
			return
		}

		if err := m.hmacAuth.VerifySignature(r.Method, r.URL.EscapedPath(), body, authInfo); err != nil {
			logger.Warn().Err(err).Str("key_id", authInfo.KeyID).Msg("Signature verification failed")
			WriteError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature verification failed", requestID)
			return
		}

		if m.nonces != nil {
			if err := m.nonces.SaveNonce(authInfo.Nonce); err != nil {
				// The signature is valid; losing the nonce only weakens replay protection
				logger.Error().Err(err).Msg("Failed to save nonce")
			}
		}

		r.Header.Set("X-Auth-KeyID", authInfo.KeyID)
		logger.Debug().Str("key_id", authInfo.KeyID).Msg("Authentication successful")
		next.ServeHTTP(w, r)
	})
}

// CORS adds Cross-Origin Resource Sharing headers for browser views.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) checkNonce(nonce string) error {
	if m.nonces == nil {
		return nil
	}
	seen, err := m.nonces.HasSeenNonce(nonce)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("nonce already seen")
	}
	return nil
}

// WriteJSON sends v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteError sends a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, code, message, requestID string) {
	WriteJSON(w, statusCode, models.ErrorResponse{
		Error: models.ErrorDetails{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush forwards to the wrapped writer when it supports flushing.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HealthCheck reports that the process is up.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadinessCheck reports 503 when the store cannot be reached.
func ReadinessCheck(store Pinger, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("Store readiness check failed")
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
