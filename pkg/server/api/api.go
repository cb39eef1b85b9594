package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/audit"
	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// Deps holds dependencies for API handlers.
// This pattern enables dependency injection and easier testing.
type Deps struct {
	// Storage backend for audit run data.
	Storage storage.Backend

	// Progress is the live in-process publisher, set when audits run inside
	// the serving process.
	Progress *progress.Publisher

	// ProgressStore reads progress state written by a detached worker.
	// Used as a fallback when Progress is nil or idle.
	ProgressStore *progress.FileStore

	// Trigger starts an audit run. Returns the run ID, or
	// audit.ErrRunInProgress when one is already in flight.
	Trigger TriggerFunc

	// Config holds API-level configuration (limits, intervals).
	Config Config

	// Ready flag for the readiness check.
	Ready *atomic.Bool
}

// TriggerFunc launches an audit run with the given parameters.
type TriggerFunc func(ctx context.Context, params audit.Params) (string, error)

// Config holds API-level tunables.
type Config struct {
	// MaxListLimit caps the limit query parameter on list endpoints.
	MaxListLimit int

	// WSPushInterval is how often the progress websocket pushes state.
	WSPushInterval time.Duration

	// EstimateStep is the assumed per-step duration used to project the
	// progress of a detached worker between its state file writes.
	EstimateStep time.Duration
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		MaxListLimit:   100,
		WSPushInterval: time.Second,
		EstimateStep:   5 * time.Second,
	}
}

// AuditSummary is the list-endpoint item for one audit run.
type AuditSummary struct {
	ID        string   `json:"id"`
	StartTime string   `json:"start_time"`
	Status    string   `json:"status"`
	Domains   []string `json:"domains,omitempty"`
	Targets   int      `json:"targets"`
	Findings  int      `json:"findings"`
}

// AuditDetail is the full detail payload for one audit run.
type AuditDetail struct {
	ID        string         `json:"id"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time,omitempty"`
	Status    string         `json:"status"`
	Domains   []string       `json:"domains,omitempty"`
	Results   map[string]any `json:"results"`
}
