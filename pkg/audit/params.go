package audit

import (
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/findings"
)

// Params describes one audit run request.
type Params struct {
	// Domains restricts the run to the named domains. Empty means every
	// domain the directory reports.
	Domains []string `json:"domains,omitempty"`

	// Battery is the ordered probe list. Empty means the default battery.
	Battery []string `json:"battery,omitempty"`

	// ProbeConfigs carries per-probe configuration, keyed by probe name.
	ProbeConfigs map[string]map[string]any `json:"probe_configs,omitempty"`

	// IncludeTags and ExcludeTags filter the battery by probe tags.
	IncludeTags []string `json:"include_tags,omitempty"`
	ExcludeTags []string `json:"exclude_tags,omitempty"`

	// Concurrency caps simultaneous targets. Zero uses the service default.
	Concurrency int `json:"concurrency,omitempty"`

	// CallTimeout bounds each blocking remote call. Zero uses the default.
	CallTimeout time.Duration `json:"call_timeout,omitempty"`
}

// Result is the outcome of one audit run.
type Result struct {
	// RunID is the run's unique identifier.
	RunID string

	// StartTime and EndTime are RFC 3339 timestamps.
	StartTime string
	EndTime   string

	// Status is "completed" or "failed".
	Status string

	// Records holds one completed probe record per target, in enumeration
	// order.
	Records []*engine.ProbeRecord

	// Findings are the run's deduplicated findings, worst first.
	Findings []findings.Finding

	// Summary rolls the findings up.
	Summary findings.Summary
}
