package engine

import (
	"context"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/directory"
)

// ProbeMetadata holds descriptive information for a probe.
type ProbeMetadata struct {
	// Name is the probe type name used for registration and battery ordering.
	Name string

	// Description is a brief statement of what the probe measures.
	Description string

	// Fields lists the record field keys this probe fills. Records are
	// pre-seeded with Unknown sentinels for every listed field.
	Fields []string

	// Tags allow battery filtering (e.g. "remote", "security", "storage").
	Tags []string

	// EstimatedCost ranks relative probe expense, 1 (fast) to 5 (very slow).
	EstimatedCost int
}

// ExecContext carries the collaborators and limits a probe runs with.
type ExecContext struct {
	// Diag is the remote diagnostic command interface.
	Diag directory.Diag

	// CallTimeout bounds every individual blocking remote call a probe makes.
	CallTimeout time.Duration

	// DomainInfo is the metadata of the target's domain, when available.
	DomainInfo *directory.DomainInfo

	// Now is the auditing host's clock; injectable for tests.
	Now func() time.Time
}

// Clock returns the execution clock, defaulting to time.Now.
func (e ExecContext) Clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Probe is one independent diagnostic check performed against a target.
//
// Run fills the probe's fields on the record and must absorb every failure
// into a sentinel result: the pipeline wraps each probe in a soft-fail
// adapter, but a well-behaved probe never relies on it. Sibling probes always
// execute regardless of this probe's outcome.
type Probe interface {
	// Metadata returns descriptive information about the probe.
	Metadata() ProbeMetadata

	// Init initializes the probe with its specific configuration.
	Init(config map[string]any) error

	// Run performs the check against one target and records the results.
	Run(ctx context.Context, ec ExecContext, target Target, record *ProbeRecord)
}
