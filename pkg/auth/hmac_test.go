package auth

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHMACAuth(t *testing.T) {
	secrets := map[string]string{
		"dash-kid-1": "test-secret-123",
	}

	auth := NewHMACAuth(secrets, 300*time.Second)

	t.Run("CreateAndVerifySignature", func(t *testing.T) {
		body := []byte(`{"kind":"solution"}`)

		header := auth.CreateAuthHeader("POST", "/v1/challenges/2/confirm", body, "dash-kid-1", "nonce-1")
		if header == "" {
			t.Fatal("Failed to create auth header")
		}
		if !strings.HasPrefix(header, AuthHeaderPrefix+" ") {
			t.Errorf("Expected header prefix %s, got %s", AuthHeaderPrefix, header)
		}

		parsed, err := ParseAuthHeader(header)
		if err != nil {
			t.Fatalf("Failed to parse auth header: %v", err)
		}
		if parsed.KeyID != "dash-kid-1" || parsed.Nonce != "nonce-1" {
			t.Errorf("Unexpected parsed header: %+v", parsed)
		}

		if err := auth.VerifySignature("POST", "/v1/challenges/2/confirm", body, parsed); err != nil {
			t.Errorf("Signature verification failed: %v", err)
		}
	})

	t.Run("GeneratesNonceWhenEmpty", func(t *testing.T) {
		first, _ := ParseAuthHeader(auth.CreateAuthHeader("POST", "/v1/solved/reset", nil, "dash-kid-1", ""))
		second, _ := ParseAuthHeader(auth.CreateAuthHeader("POST", "/v1/solved/reset", nil, "dash-kid-1", ""))
		if first == nil || second == nil {
			t.Fatal("Failed to parse generated headers")
		}
		if first.Nonce == second.Nonce {
			t.Error("Expected distinct generated nonces")
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		if header := auth.CreateAuthHeader("POST", "/x", nil, "missing", "n"); header != "" {
			t.Errorf("Expected empty header for unknown key, got %s", header)
		}

		err := auth.VerifySignature("POST", "/x", nil, &AuthHeader{KeyID: "missing", Timestamp: "1", Nonce: "n", Signature: "s"})
		if !errors.Is(err, ErrUnknownKey) {
			t.Errorf("Expected ErrUnknownKey, got %v", err)
		}
	})

	t.Run("TamperedBody", func(t *testing.T) {
		header := auth.CreateAuthHeader("POST", "/v1/challenges/1/validate", []byte("{}"), "dash-kid-1", "n2")
		parsed, _ := ParseAuthHeader(header)

		err := auth.VerifySignature("POST", "/v1/challenges/1/validate", []byte(`{"x":1}`), parsed)
		if !errors.Is(err, ErrBadSignature) {
			t.Errorf("Expected ErrBadSignature, got %v", err)
		}
	})

	t.Run("TamperedPath", func(t *testing.T) {
		header := auth.CreateAuthHeader("POST", "/v1/challenges/1/validate", nil, "dash-kid-1", "n3")
		parsed, _ := ParseAuthHeader(header)

		err := auth.VerifySignature("POST", "/v1/challenges/2/validate", nil, parsed)
		if !errors.Is(err, ErrBadSignature) {
			t.Errorf("Expected ErrBadSignature, got %v", err)
		}
	})
}

func TestHMACAuth_ClockSkew(t *testing.T) {
	signer := NewHMACAuth(map[string]string{"k": "s"}, time.Minute)
	verifier := NewHMACAuth(map[string]string{"k": "s"}, time.Minute)

	base := time.Unix(1_700_000_000, 0)
	signer.now = func() time.Time { return base }

	header, _ := ParseAuthHeader(signer.CreateAuthHeader("DELETE", "/v1/solved", nil, "k", "n"))

	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{"same instant", 0, nil},
		{"within skew ahead", 59 * time.Second, nil},
		{"within skew behind", -59 * time.Second, nil},
		{"too late", 2 * time.Minute, ErrStaleTimestamp},
		{"too early", -2 * time.Minute, ErrStaleTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier.now = func() time.Time { return base.Add(tt.offset) }
			err := verifier.VerifySignature("DELETE", "/v1/solved", nil, header)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseAuthHeader_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"wrong prefix", "Bearer abc"},
		{"other scheme", "XYZ-HMAC-SHA256 keyId=k,ts=1,nonce=n,sig=s"},
		{"missing sig", AuthHeaderPrefix + " keyId=k,ts=1,nonce=n"},
		{"missing nonce", AuthHeaderPrefix + " keyId=k,ts=1,sig=s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAuthHeader(tt.header); !errors.Is(err, ErrMalformedHeader) {
				t.Errorf("Expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}

func TestHMACAuth_SignRequest(t *testing.T) {
	auth := NewHMACAuth(map[string]string{"dash-kid-1": "secret"}, 0)
	if auth.ClockSkew() != DefaultClockSkew {
		t.Errorf("Expected default clock skew, got %v", auth.ClockSkew())
	}

	req := httptest.NewRequest("POST", "http://dashboard.local/v1/challenges/3/validate", strings.NewReader(`{"a":1}`))
	if err := auth.SignRequest(req, "dash-kid-1"); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	// Body must still be readable after signing
	body, _ := io.ReadAll(req.Body)
	if string(body) != `{"a":1}` {
		t.Errorf("Expected body to be restored, got %s", body)
	}

	parsed, err := ParseAuthHeader(req.Header.Get("Authorization"))
	if err != nil {
		t.Fatalf("Failed to parse header: %v", err)
	}
	if err := auth.VerifySignature("POST", "/v1/challenges/3/validate", body, parsed); err != nil {
		t.Errorf("Verification failed: %v", err)
	}

	req = httptest.NewRequest("POST", "http://dashboard.local/v1/solved/reset", nil)
	if err := auth.SignRequest(req, "nope"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Expected ErrUnknownKey, got %v", err)
	}
}
