package models

import "encoding/json"

// AquaMonitor payloads

// Tank is a monitored aquarium tank.
type Tank struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Location   string  `json:"location,omitempty"`
	TankType   string  `json:"tank_type,omitempty"`
	VolumeL    float64 `json:"volume,omitempty"`
	Status     string  `json:"status,omitempty"`
	LastReport string  `json:"last_reading_at,omitempty"`
}

// TankReading is one water-quality sample for a tank.
type TankReading struct {
	TankID      string  `json:"tank_id"`
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	PH          float64 `json:"ph"`
	Oxygen      float64 `json:"oxygen_level"`
	Salinity    float64 `json:"salinity,omitempty"`
}

// SensorStatus is the payload of GET {AQUA_MONITOR}/sensors/status.
type SensorStatus struct {
	Status  string          `json:"status"`
	Sensors json.RawMessage `json:"sensors,omitempty"`
	Message string          `json:"message,omitempty"`
}

// SpeciesHub payloads

// Species is a species record from the species hub.
type Species struct {
	ID             string   `json:"id"`
	CommonName     string   `json:"name"`
	ScientificName string   `json:"scientific_name"`
	Habitat        string   `json:"habitat,omitempty"`
	Diet           string   `json:"diet,omitempty"`
	TempRange      []string `json:"temperature_range,omitempty"`
}

// SpeciesQuery filters GET {SPECIES_HUB}/species.
type SpeciesQuery struct {
	Name           string
	ScientificName string
}

// FeedingScheduleQuery tunes GET {SPECIES_HUB}/species/{id}/feeding-schedule.
type FeedingScheduleQuery struct {
	TankType   string
	CustomDiet string
}

// FeedingSchedule is a generated feeding plan for a species.
type FeedingSchedule struct {
	SpeciesID string          `json:"species_id"`
	TankType  string          `json:"tank_type,omitempty"`
	Schedule  json.RawMessage `json:"schedule"`
	Notes     string          `json:"notes,omitempty"`
}

// AquaBrain payloads

// TankAnalysisSummary is one row of GET {AQUA_BRAIN}/analysis/tanks.
type TankAnalysisSummary struct {
	TankID      string  `json:"tank_id"`
	TankName    string  `json:"tank_name,omitempty"`
	HealthScore float64 `json:"health_score"`
	Status      string  `json:"status"`
	AnalyzedAt  string  `json:"analyzed_at,omitempty"`
}

// TankAnalysisDetail is the payload of GET {AQUA_BRAIN}/analysis/tanks/{tankId}.
type TankAnalysisDetail struct {
	TankAnalysisSummary
	Issues          []string        `json:"issues,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	Metrics         json.RawMessage `json:"metrics,omitempty"`
}
