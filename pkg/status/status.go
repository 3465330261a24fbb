// Package status computes the aggregate dashboard health and merges partial component
// updates into a SystemStatus snapshot.
package status

import (
	"strings"
	"time"

	"aquarium-dashboard/pkg/models"
)

// Patch names component statuses to overwrite during a merge.
type Patch map[models.Component]string

// Aggregate derives the overall status from a set of component statuses.
// Priority is critical > degraded > operational > unknown; any unrecognised
// value keeps the result from reaching operational.
func Aggregate(values ...string) string {
	degraded := false
	allOK := true

	for _, v := range values {
		switch v {
		case models.StatusError, models.StatusCritical, models.StatusOffline:
			return models.StatusCritical
		case models.StatusDegraded:
			degraded = true
			allOK = false
		case models.StatusNormal, models.StatusOnline, models.StatusOperational:
		default:
			allOK = false
		}
	}

	switch {
	case degraded:
		return models.StatusDegraded
	case allOK:
		return models.StatusOperational
	default:
		return models.StatusUnknown
	}
}

// Overall returns the aggregate of the five component fields of s.
func Overall(s models.SystemStatus) string {
	values := make([]string, 0, len(models.Components))
	for _, c := range models.Components {
		values = append(values, s.Get(c))
	}
	return Aggregate(values...)
}

// Merge overwrites only the components named in patch, then recomputes the overall
// status and stamps LastUpdated. Keys that are not components are ignored.
func Merge(current models.SystemStatus, patch Patch, now time.Time) models.SystemStatus {
	merged := current
	for c, v := range patch {
		merged.Set(c, v)
	}
	merged.OverallStatus = Overall(merged)
	merged.LastUpdated = now.UTC().Format(time.RFC3339Nano)
	return merged
}

// IsKnown reports whether v is one of the recognised status values.
func IsKnown(v string) bool {
	switch v {
	case models.StatusNormal, models.StatusOnline, models.StatusOperational,
		models.StatusDegraded, models.StatusError, models.StatusCritical,
		models.StatusOffline, models.StatusUnknown:
		return true
	}
	return false
}

// PessimisticDefault is the status assumed for a component whose probe cannot be reached.
func PessimisticDefault(c models.Component) string {
	if c == models.ComponentFeedingSystem {
		return models.StatusError
	}
	return models.StatusDegraded
}

// Default builds the starting snapshot, with every component at its pessimistic default.
func Default(now time.Time) models.SystemStatus {
	patch := make(Patch, len(models.Components))
	for _, c := range models.Components {
		patch[c] = PessimisticDefault(c)
	}
	return Merge(models.SystemStatus{}, patch, now)
}

var challengeComponents = map[int]models.Component{
	1: models.ComponentEnvironmentalMonitoring,
	2: models.ComponentSpeciesDatabase,
	3: models.ComponentFeedingSystem,
	4: models.ComponentRemoteMonitoring,
	5: models.ComponentAnalysisEngine,
}

// MapChallengeIDToComponent returns the component controlled by a challenge, or
// models.ComponentNone when the id is outside the table.
func MapChallengeIDToComponent(id int) models.Component {
	return challengeComponents[id]
}

// ChallengeIDForComponent is the inverse of MapChallengeIDToComponent. It returns 0 for
// an unknown component.
func ChallengeIDForComponent(c models.Component) int {
	for id, comp := range challengeComponents {
		if comp == c {
			return id
		}
	}
	return 0
}

// ChallengeIDs returns the mapped challenge ids in ascending order.
func ChallengeIDs() []int {
	return []int{1, 2, 3, 4, 5}
}

var componentAliases = map[string]models.Component{
	"environmental_monitoring": models.ComponentEnvironmentalMonitoring,
	"environment_monitoring":   models.ComponentEnvironmentalMonitoring,
	"water_quality":            models.ComponentEnvironmentalMonitoring,
	"species_database":         models.ComponentSpeciesDatabase,
	"species_hub":              models.ComponentSpeciesDatabase,
	"feeding_system":           models.ComponentFeedingSystem,
	"feeding_schedule":         models.ComponentFeedingSystem,
	"remote_monitoring":        models.ComponentRemoteMonitoring,
	"tank_monitoring":          models.ComponentRemoteMonitoring,
	"analysis_engine":          models.ComponentAnalysisEngine,
	"tank_analysis":            models.ComponentAnalysisEngine,
}

// ComponentByName resolves a display name such as "Feeding Schedule" to a component.
func ComponentByName(name string) models.Component {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return componentAliases[key]
}
