package client

import (
	"context"
	"fmt"
	"net/http"

	"aquarium-dashboard/pkg/models"
)

// DashboardClient drives a running dashboard service over its /v1 API. Write calls are
// signed when a request signer is configured.
type DashboardClient struct {
	base
}

// NewDashboardClient creates a client for the dashboard at baseURL.
func NewDashboardClient(baseURL string, opts ...Option) *DashboardClient {
	return &DashboardClient{base: newBase(baseURL, opts...)}
}

// Status returns the current system status snapshot.
func (c *DashboardClient) Status(ctx context.Context) (*models.SystemStatus, error) {
	var st models.SystemStatus
	if err := c.getJSON(ctx, "dashboard status", "Failed to fetch system status", "/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RefreshStatus re-probes every component and returns the merged snapshot.
func (c *DashboardClient) RefreshStatus(ctx context.Context) (*models.SystemStatus, error) {
	var st models.SystemStatus
	if err := c.doJSON(ctx, "dashboard refresh", "Failed to refresh system status", http.MethodPost, "/v1/status/refresh", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Challenges returns the reconciled challenge list.
func (c *DashboardClient) Challenges(ctx context.Context) (*models.ChallengesResponse, error) {
	var resp models.ChallengesResponse
	if err := c.getJSON(ctx, "dashboard challenges", "Failed to fetch challenges", "/v1/challenges", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate runs the validation flow for one challenge.
func (c *DashboardClient) Validate(ctx context.Context, id int) (*models.ValidationResult, error) {
	var res models.ValidationResult
	path := fmt.Sprintf("/v1/challenges/%d/validate", id)
	if err := c.doJSON(ctx, "dashboard validate", "Failed to validate challenge", http.MethodPost, path, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Message returns the last persisted validation message for a challenge.
func (c *DashboardClient) Message(ctx context.Context, id int) (*models.ValidationMessage, error) {
	var msg models.ValidationMessage
	path := fmt.Sprintf("/v1/challenges/%d/message", id)
	if err := c.getJSON(ctx, "dashboard message", "Failed to fetch validation message", path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Confirmations returns the spoiler latches for a challenge.
func (c *DashboardClient) Confirmations(ctx context.Context, id int) (*models.ConfirmedActions, error) {
	var out models.ConfirmedActions
	path := fmt.Sprintf("/v1/challenges/%d/confirmations", id)
	if err := c.getJSON(ctx, "dashboard confirmations", "Failed to fetch confirmations", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Confirm latches a spoiler confirmation.
func (c *DashboardClient) Confirm(ctx context.Context, id int, kind models.ConfirmKind) (*models.ConfirmedActions, error) {
	var out models.ConfirmedActions
	path := fmt.Sprintf("/v1/challenges/%d/confirm", id)
	if err := c.doJSON(ctx, "dashboard confirm", "Failed to confirm", http.MethodPost, path, nil, models.ConfirmRequest{Kind: kind}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetSolved clears the solved-set.
func (c *DashboardClient) ResetSolved(ctx context.Context) (*models.ResetResult, error) {
	var out models.ResetResult
	if err := c.doJSON(ctx, "dashboard reset", "Failed to reset solved challenges", http.MethodDelete, "/v1/solved", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
