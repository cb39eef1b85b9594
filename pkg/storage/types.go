package storage

import "time"

// AuditMetadata contains metadata about one audit run.
//
// It is the fast-query side of the store: listings and filters read only
// this structure, never the per-target record files.
type AuditMetadata struct {
	// ID is the unique identifier of the run (UUID v4).
	ID string `json:"id"`

	// Domains lists the logical domains the run covered.
	Domains []string `json:"domains"`

	// Status is the current state of the run.
	// Valid values: "running", "completed", "failed".
	Status string `json:"status"`

	// StartedAt is when the run started (UTC).
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished (UTC). Zero while running.
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Duration is the run duration in seconds. Only set once completed.
	Duration int `json:"duration_seconds,omitempty"`

	// Aggregate statistics, kept here so listings never read record files.

	// TargetCount is the number of endpoints probed.
	TargetCount int `json:"target_count"`

	// UnreachableCount is how many endpoints were classified unreachable.
	UnreachableCount int `json:"unreachable_count"`

	// FindingCount contains finding counts by severity.
	FindingCount FindingCounts `json:"finding_count"`

	// HealthPercent is the share of targets with no findings.
	HealthPercent float64 `json:"health_percent"`

	// ErrorMessage contains failure details if the run failed.
	ErrorMessage string `json:"error_message,omitempty"`

	// CreatedAt is when the metadata was first written (UTC).
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the metadata was last written (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// FindingCounts contains finding counts by severity level.
type FindingCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Total returns the total number of findings.
func (f FindingCounts) Total() int {
	return f.Critical + f.High + f.Medium + f.Low + f.Info
}

// AuditFilter specifies criteria for filtering and sorting audit listings.
type AuditFilter struct {
	// Status filters by run status (empty = all).
	Status string

	// Domain filters runs covering the named domain (empty = all).
	Domain string

	// Limit caps the number of results (0 = no limit).
	Limit int

	// SortBy selects the sort field: "time" (default) or "severity".
	SortBy string

	// SortOrder is "desc" (default) or "asc".
	SortOrder string
}

// AuditUpdates specifies fields to update on a run. Only non-nil fields are
// applied.
type AuditUpdates struct {
	Status           *string        `json:"status,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Duration         *int           `json:"duration_seconds,omitempty"`
	TargetCount      *int           `json:"target_count,omitempty"`
	UnreachableCount *int           `json:"unreachable_count,omitempty"`
	FindingCount     *FindingCounts `json:"finding_count,omitempty"`
	HealthPercent    *float64       `json:"health_percent,omitempty"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
}

// DataType names one per-run data file.
type DataType string

const (
	// DataTypeMetadata is the run metadata file.
	DataTypeMetadata DataType = "metadata.json"

	// DataTypeRecords holds one probe record per line.
	DataTypeRecords DataType = "records.jsonl"

	// DataTypeFindings holds one finding per line.
	DataTypeFindings DataType = "findings.jsonl"
)

// String returns the string representation of DataType.
func (d DataType) String() string { return string(d) }

// IsValid checks if the DataType is valid.
func (d DataType) IsValid() bool {
	switch d {
	case DataTypeMetadata, DataTypeRecords, DataTypeFindings:
		return true
	default:
		return false
	}
}

// AuditStatus represents valid run status values.
type AuditStatus string

const (
	StatusRunning   AuditStatus = "running"
	StatusCompleted AuditStatus = "completed"
	StatusFailed    AuditStatus = "failed"
)

// String returns the string representation of AuditStatus.
func (s AuditStatus) String() string { return string(s) }

// IsValid checks if the AuditStatus is valid.
func (s AuditStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}
