// Package models defines data structures for the aquarium dashboard.
// This package contains the system status snapshot, challenge descriptions, validation
// outcomes, and the payloads returned by the monitor, species and brain services.
package models

import (
	"encoding/json"
	"fmt"
)

// Component status values reported by the backend services.
const (
	StatusNormal      = "normal"
	StatusOnline      = "online"
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusError       = "error"
	StatusCritical    = "critical"
	StatusOffline     = "offline"
	StatusUnknown     = "unknown"
)

// Component names one of the five subsystem health fields of SystemStatus.
type Component string

const (
	ComponentNone                    Component = ""
	ComponentEnvironmentalMonitoring Component = "environmental_monitoring"
	ComponentSpeciesDatabase         Component = "species_database"
	ComponentFeedingSystem           Component = "feeding_system"
	ComponentRemoteMonitoring        Component = "remote_monitoring"
	ComponentAnalysisEngine          Component = "analysis_engine"
)

// Components lists every component in display order.
var Components = []Component{
	ComponentEnvironmentalMonitoring,
	ComponentSpeciesDatabase,
	ComponentFeedingSystem,
	ComponentRemoteMonitoring,
	ComponentAnalysisEngine,
}

// SystemStatus is the aggregate health snapshot shown on the dashboard.
// OverallStatus is derived from the five component fields and must only be set through
// the status package.
type SystemStatus struct {
	EnvironmentalMonitoring string `json:"environmental_monitoring"` // Water quality sensors
	SpeciesDatabase         string `json:"species_database"`         // Species hub lookups
	FeedingSystem           string `json:"feeding_system"`           // Feeding schedule generation
	RemoteMonitoring        string `json:"remote_monitoring"`        // Tank telemetry ingestion
	AnalysisEngine          string `json:"analysis_engine"`          // Brain analysis pipeline
	OverallStatus           string `json:"overall_status"`           // Derived from the five fields above
	LastUpdated             string `json:"last_updated"`             // RFC3339 timestamp of the last merge
}

// Get returns the status of a single component, or "" for an unknown component.
func (s SystemStatus) Get(c Component) string {
	switch c {
	case ComponentEnvironmentalMonitoring:
		return s.EnvironmentalMonitoring
	case ComponentSpeciesDatabase:
		return s.SpeciesDatabase
	case ComponentFeedingSystem:
		return s.FeedingSystem
	case ComponentRemoteMonitoring:
		return s.RemoteMonitoring
	case ComponentAnalysisEngine:
		return s.AnalysisEngine
	}
	return ""
}

// Set overwrites a single component status. It reports false for unknown components.
func (s *SystemStatus) Set(c Component, value string) bool {
	switch c {
	case ComponentEnvironmentalMonitoring:
		s.EnvironmentalMonitoring = value
	case ComponentSpeciesDatabase:
		s.SpeciesDatabase = value
	case ComponentFeedingSystem:
		s.FeedingSystem = value
	case ComponentRemoteMonitoring:
		s.RemoteMonitoring = value
	case ComponentAnalysisEngine:
		s.AnalysisEngine = value
	default:
		return false
	}
	return true
}

// ChallengeState is the solved state of a challenge.
type ChallengeState string

const (
	ChallengePending ChallengeState = "pending"
	ChallengeSolved  ChallengeState = "solved"
)

// ValidationEndpoint tells the dashboard where a challenge is validated.
// Routing is owned by the backend, so the dashboard never hardcodes it.
type ValidationEndpoint struct {
	URL     string `json:"url"`               // Absolute URL, "/"-rooted path, or path relative to the API base
	Method  string `json:"method,omitempty"`  // HTTP method, GET when empty
	Service string `json:"service,omitempty"` // Backend service that owns the check
}

// Solution is spoiler content for a challenge. The backend sends either a plain
// string or an object with code, explanation and lecture.
type Solution struct {
	Text        string `json:"-"`
	Code        string `json:"code,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Lecture     string `json:"lecture,omitempty"`
}

// IsStructured reports whether the solution came in object form.
func (s Solution) IsStructured() bool {
	return s.Code != "" || s.Explanation != "" || s.Lecture != ""
}

// MarshalJSON writes the plain string form when the solution has no structure.
func (s Solution) MarshalJSON() ([]byte, error) {
	if !s.IsStructured() {
		return json.Marshal(s.Text)
	}
	type structured struct {
		Code        string `json:"code,omitempty"`
		Explanation string `json:"explanation,omitempty"`
		Lecture     string `json:"lecture,omitempty"`
	}
	return json.Marshal(structured{Code: s.Code, Explanation: s.Explanation, Lecture: s.Lecture})
}

// UnmarshalJSON accepts both the string and the object form.
func (s *Solution) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Solution{Text: text}
		return nil
	}

	var obj struct {
		Code        string `json:"code"`
		Explanation string `json:"explanation"`
		Lecture     string `json:"lecture"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("solution must be a string or an object: %w", err)
	}
	*s = Solution{Code: obj.Code, Explanation: obj.Explanation, Lecture: obj.Lecture}
	return nil
}

// Challenge is an optimization task plus its mutable solved state.
type Challenge struct {
	ID                 int                 `json:"id"`                            // Stable identifier, 1..5 in practice
	Name               string              `json:"name"`                          // Slug
	Title              string              `json:"title"`                         // Display title
	Description        string              `json:"description"`                   // Task description
	Status             ChallengeState      `json:"status"`                        // pending or solved
	Hint               string              `json:"hint,omitempty"`                // Optional hint
	Solution           *Solution           `json:"solution,omitempty"`            // Optional spoiler content
	Service            string              `json:"service,omitempty"`             // Service the fix lives in
	File               string              `json:"file,omitempty"`                // File the fix lives in
	Function           string              `json:"function,omitempty"`            // Function the fix lives in
	ValidationEndpoint *ValidationEndpoint `json:"validation_endpoint,omitempty"` // Backend-supplied validation routing
}

// ChallengesResponse is the payload of GET {AQUA_BRAIN}/challenges/current.
type ChallengesResponse struct {
	Challenges []Challenge `json:"challenges"`
	Total      int         `json:"total"`
	Solved     int         `json:"solved"`
}

// ValidationResult is the transient outcome of one validation call.
type ValidationResult struct {
	IsValid      bool                 `json:"isValid"`
	Message      string               `json:"message,omitempty"`
	SystemStatus map[Component]string `json:"systemStatus,omitempty"` // Patch applied on success
}

// ConfirmKind names a spoiler that sits behind a one-time confirmation prompt.
type ConfirmKind string

const (
	ConfirmSolution ConfirmKind = "solution"
	ConfirmLecture  ConfirmKind = "lecture"
)

// Valid reports whether the kind is one the dashboard knows about.
func (k ConfirmKind) Valid() bool {
	return k == ConfirmSolution || k == ConfirmLecture
}

// ConfirmedActions records which spoilers the user has acknowledged for a challenge.
type ConfirmedActions struct {
	ChallengeID int  `json:"challenge_id"`
	Solution    bool `json:"solution"`
	Lecture     bool `json:"lecture"`
}

// ConfirmRequest is the body of POST /v1/challenges/{id}/confirm.
type ConfirmRequest struct {
	Kind ConfirmKind `json:"kind"`
}

// ValidationMessage is the last validation message persisted for a challenge.
type ValidationMessage struct {
	ChallengeID int    `json:"challenge_id"`
	Message     string `json:"message"`
	Present     bool   `json:"present"`
}

// VisitorState reports whether the welcome screen was dismissed before.
type VisitorState struct {
	HasVisited bool `json:"has_visited"`
}

// ResetResult reports how many solved challenges a reset cleared.
type ResetResult struct {
	Cleared int `json:"cleared"`
}

// Error Response

// ErrorResponse represents a standardized error response structure.
// Used to return consistent error information to API clients.
type ErrorResponse struct {
	Error ErrorDetails `json:"error"` // Detailed error information
}

// ErrorDetails contains specific error information including codes and messages.
type ErrorDetails struct {
	Code      string `json:"code"`                 // Machine-readable error code
	Message   string `json:"message"`              // Human-readable error description
	RequestID string `json:"request_id,omitempty"` // Request ID for error correlation
}
