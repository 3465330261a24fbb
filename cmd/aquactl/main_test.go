package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aquarium-dashboard/pkg/api"
	"aquarium-dashboard/pkg/auth"
	"aquarium-dashboard/pkg/client"
	"aquarium-dashboard/pkg/db"
	"aquarium-dashboard/pkg/models"
	"aquarium-dashboard/pkg/status"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const testSecret = "s3cret"

// newFakeDashboard serves canned responses, verifying signatures on writes the same
// way the dashboard does.
func newFakeDashboard(t *testing.T) *httptest.Server {
	t.Helper()

	hmacAuth := auth.NewHMACAuth(map[string]string{"dash-kid-1": testSecret}, 300*time.Second)
	mw := api.NewMiddleware(hmacAuth, db.NewMemoryDB(), zerolog.Nop())

	router := mux.NewRouter()
	router.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, status.Default(time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)))
	}).Methods("GET")
	router.HandleFunc("/v1/challenges", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, models.ChallengesResponse{
			Challenges: []models.Challenge{
				{ID: 1, Name: "sensor-calibration", Title: "Sensor Calibration", Status: models.ChallengeSolved},
				{ID: 2, Name: "species-search", Title: "Species Search", Status: models.ChallengePending},
			},
			Total:  2,
			Solved: 1,
		})
	}).Methods("GET")
	router.Handle("/v1/challenges/{id}/validate", mw.HMACAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, models.ValidationResult{
			IsValid:      true,
			Message:      "Feeding schedule fixed",
			SystemStatus: map[models.Component]string{models.ComponentFeedingSystem: models.StatusNormal},
		})
	}))).Methods("POST")
	router.Handle("/v1/solved", mw.HMACAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, models.ResetResult{Cleared: 2})
	}))).Methods("DELETE")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setEnv(t *testing.T, secret string) {
	t.Setenv("SHARED_SECRET_KEY", secret)
	t.Setenv("HMAC_KEY_ID", "dash-kid-1")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SYNC_REDIS", "false")
	t.Setenv("DASHBOARD_URL", "")
	t.Setenv("LOG_LEVEL", "error")
}

func TestStatusCmd(t *testing.T) {
	setEnv(t, "")
	server := newFakeDashboard(t)

	out, err := run(t, "status", "--url", server.URL)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"feeding_system", "critical", "2024-03-09T14:05:07Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestChallengesCmd_JSON(t *testing.T) {
	setEnv(t, "")
	server := newFakeDashboard(t)

	out, err := run(t, "challenges", "--url", server.URL, "--json")
	if err != nil {
		t.Fatalf("challenges failed: %v", err)
	}
	var list models.ChallengesResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, out)
	}
	if list.Total != 2 || list.Solved != 1 {
		t.Errorf("Unexpected counts: %+v", list)
	}

	text, err := run(t, "challenges", "--url", server.URL)
	if err != nil {
		t.Fatalf("challenges failed: %v", err)
	}
	if !strings.Contains(text, "1/2 solved") || !strings.Contains(text, "species-search") {
		t.Errorf("Unexpected table:\n%s", text)
	}
}

func TestSignedCommands(t *testing.T) {
	server := newFakeDashboard(t)

	t.Run("signed", func(t *testing.T) {
		setEnv(t, testSecret)

		out, err := run(t, "reset", "--url", server.URL)
		if err != nil {
			t.Fatalf("reset failed: %v", err)
		}
		if !strings.Contains(out, "Cleared 2") {
			t.Errorf("Unexpected output: %q", out)
		}

		out, err = run(t, "validate", "3", "--url", server.URL)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		if !strings.Contains(out, "FIXED") || !strings.Contains(out, "feeding_system -> normal") {
			t.Errorf("Unexpected output:\n%s", out)
		}
	})

	t.Run("unsigned", func(t *testing.T) {
		setEnv(t, "")

		_, err := run(t, "reset", "--url", server.URL)
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 APIError, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		setEnv(t, "not-the-secret")

		_, err := run(t, "reset", "--url", server.URL)
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 APIError, got %v", err)
		}
	})
}

func TestArgumentErrors(t *testing.T) {
	setEnv(t, "")
	server := newFakeDashboard(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad id", []string{"validate", "abc"}, `invalid challenge id "abc"`},
		{"zero id", []string{"message", "0"}, `invalid challenge id "0"`},
		{"bad kind", []string{"confirm", "1", "hint"}, `unknown confirmation kind "hint"`},
		{"missing args", []string{"confirm", "1"}, "accepts 2 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append(tt.args, "--url", server.URL)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
