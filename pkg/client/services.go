package client

import (
	"context"
	"net/url"

	"aquarium-dashboard/pkg/models"
)

// MonitorClient talks to AquaMonitor.
type MonitorClient struct {
	base
}

// NewMonitorClient creates an AquaMonitor client rooted at baseURL.
func NewMonitorClient(baseURL string, opts ...Option) *MonitorClient {
	return &MonitorClient{base: newBase(baseURL, opts...)}
}

// Tanks lists monitored tanks.
func (c *MonitorClient) Tanks(ctx context.Context) ([]models.Tank, error) {
	var tanks []models.Tank
	if err := c.getJSON(ctx, "fetch tanks", "Failed to fetch tanks", "/tanks", nil, &tanks); err != nil {
		return nil, err
	}
	return tanks, nil
}

// TankReadings returns the recent readings for a tank.
func (c *MonitorClient) TankReadings(ctx context.Context, tankID string) ([]models.TankReading, error) {
	var readings []models.TankReading
	path := "/tanks/" + url.PathEscape(tankID) + "/readings"
	if err := c.getJSON(ctx, "fetch tank readings", "Failed to fetch tank readings", path, nil, &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// SensorStatus returns the sensor network health.
func (c *MonitorClient) SensorStatus(ctx context.Context) (*models.SensorStatus, error) {
	var st models.SensorStatus
	if err := c.getJSON(ctx, "fetch sensor status", "Failed to fetch sensor status", "/sensors/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SpeciesClient talks to SpeciesHub.
type SpeciesClient struct {
	base
}

// NewSpeciesClient creates a SpeciesHub client rooted at baseURL.
func NewSpeciesClient(baseURL string, opts ...Option) *SpeciesClient {
	return &SpeciesClient{base: newBase(baseURL, opts...)}
}

// Species searches the catalog. Name takes precedence over ScientificName.
func (c *SpeciesClient) Species(ctx context.Context, q models.SpeciesQuery) ([]models.Species, error) {
	query := url.Values{}
	switch {
	case q.Name != "":
		query.Set("name", q.Name)
	case q.ScientificName != "":
		query.Set("scientific_name", q.ScientificName)
	}

	var species []models.Species
	if err := c.getJSON(ctx, "fetch species", "Failed to fetch species", "/species", query, &species); err != nil {
		return nil, err
	}
	return species, nil
}

// SpeciesByID fetches one species.
func (c *SpeciesClient) SpeciesByID(ctx context.Context, id string) (*models.Species, error) {
	var sp models.Species
	if err := c.getJSON(ctx, "fetch species by id", "Failed to fetch species details", "/species/"+url.PathEscape(id), nil, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// FeedingSchedule asks for a feeding plan for a species.
func (c *SpeciesClient) FeedingSchedule(ctx context.Context, id string, q models.FeedingScheduleQuery) (*models.FeedingSchedule, error) {
	query := url.Values{}
	if q.TankType != "" {
		query.Set("tank_type", q.TankType)
	}
	if q.CustomDiet != "" {
		query.Set("custom_diet", q.CustomDiet)
	}

	var fs models.FeedingSchedule
	path := "/species/" + url.PathEscape(id) + "/feeding-schedule"
	if err := c.getJSON(ctx, "fetch feeding schedule", "Failed to fetch feeding schedule", path, query, &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

// BrainClient talks to AquaBrain.
type BrainClient struct {
	base
}

// NewBrainClient creates an AquaBrain client rooted at baseURL.
func NewBrainClient(baseURL string, opts ...Option) *BrainClient {
	return &BrainClient{base: newBase(baseURL, opts...)}
}

// CurrentChallenges returns the challenge list as the brain service sees it.
func (c *BrainClient) CurrentChallenges(ctx context.Context) (*models.ChallengesResponse, error) {
	var resp models.ChallengesResponse
	if err := c.getJSON(ctx, "fetch challenges", "Failed to fetch challenges", "/challenges/current", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TankAnalyses lists analysis summaries for every tank.
func (c *BrainClient) TankAnalyses(ctx context.Context) ([]models.TankAnalysisSummary, error) {
	var out []models.TankAnalysisSummary
	if err := c.getJSON(ctx, "fetch tank analyses", "Failed to fetch tank analyses", "/analysis/tanks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TankAnalysis returns the detailed analysis for one tank.
func (c *BrainClient) TankAnalysis(ctx context.Context, tankID string) (*models.TankAnalysisDetail, error) {
	var out models.TankAnalysisDetail
	path := "/analysis/tanks/" + url.PathEscape(tankID)
	if err := c.getJSON(ctx, "fetch tank analysis", "Failed to fetch tank analysis", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
