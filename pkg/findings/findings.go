// Package findings evaluates completed probe records against a static rule
// table and aggregates the matches into severity-classified findings and a
// fleet-level summary.
package findings

import "fmt"

// Severity classifies how urgent a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for sorting, highest urgency first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Finding is one issue raised against one target. Findings are immutable once
// produced and deduplicated by (target, message) within a run.
type Finding struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	Target   string   `json:"target"`
	Field    string   `json:"field,omitempty"`
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Target, f.Message)
}

// Summary rolls a run's findings up for reports and the API.
type Summary struct {
	TotalTargets  int              `json:"total_targets"`
	CleanTargets  int              `json:"clean_targets"`
	TotalFindings int              `json:"total_findings"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByCategory    map[string]int   `json:"by_category"`

	// HealthPercent is the share of targets with no findings at all.
	HealthPercent float64 `json:"health_percent"`
}
