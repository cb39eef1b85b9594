// Package engine provides the core of the fleet diagnostic orchestrator:
// target identity, reachability classification, the probe registry, and the
// per-target probe pipeline.
package engine

import (
	"encoding/json"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/netutil"
)

// Target identifies one endpoint under audit. It is immutable once
// enumerated; identity comparison treats local-machine aliases (short name,
// loopback, fully-qualified form) as equivalent to "self".
type Target struct {
	Host   string `json:"host"`
	Domain string `json:"domain"`
}

// Key returns the canonical identity of the target within a run.
func (t Target) Key() string { return netutil.CanonicalHost(t.Host) }

// IsLocal reports whether the target names the auditing host itself.
func (t Target) IsLocal() bool { return netutil.IsLocalHost(t.Host) }

// Reachability classifies whether a target is the local host, remotely
// responsive, or unreachable. It is computed once per target at the start of
// its probe sequence and is immutable for the remainder of the run.
type Reachability int

const (
	ReachUnknown Reachability = iota
	ReachLocal
	ReachOnline
	// ReachOffline is part of the wire contract for endpoints known to the
	// directory but administratively down; the classifier itself only ever
	// produces Local, Online, or Unreachable.
	ReachOffline
	ReachUnreachable
)

// String returns the string representation of the Reachability value.
func (r Reachability) String() string {
	return [...]string{"Unknown", "Local", "Online", "Offline", "Unreachable"}[r]
}

// MarshalJSON renders the reachability as its string form so persisted records
// stay readable without this package's enum values.
func (r Reachability) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts the string form produced by MarshalJSON.
func (r *Reachability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range [...]string{"Unknown", "Local", "Online", "Offline", "Unreachable"} {
		if name == s {
			*r = Reachability(i)
			return nil
		}
	}
	*r = ReachUnknown
	return nil
}

// ResultKind classifies a ProbeResult as a typed value or one of the
// well-defined sentinels substituted when acquisition fails.
type ResultKind string

const (
	ResultOK           ResultKind = "ok"
	ResultUnreachable  ResultKind = "unreachable"
	ResultAccessDenied ResultKind = "access_denied"
	ResultUnknown      ResultKind = "unknown"
	ResultError        ResultKind = "error"
)

// ProbeResult is the outcome of one (target, field) acquisition. It is always
// produced, even on total failure of its probe, and never carries an
// exception past its boundary.
type ProbeResult struct {
	// Value is the formatted value when Kind is ResultOK.
	Value string `json:"value,omitempty"`

	// Kind identifies the value or the sentinel standing in for it.
	Kind ResultKind `json:"kind"`

	// Detail carries the failure message for ResultError sentinels.
	Detail string `json:"detail,omitempty"`

	// Raw carries the unformatted numeric magnitude for fields that rule
	// thresholds compare against (percentages, seconds, counter samples).
	Raw *float64 `json:"raw,omitempty"`

	// Method is the 1-based index of the fallback strategy that produced the
	// value, when the field was resolved through ordered fallback; 0 when the
	// field has a single acquisition path.
	Method int `json:"method,omitempty"`

	// Elapsed is how long the acquisition took.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// String renders the result the way reports expect: the value itself, or the
// sentinel strings Unreachable, AccessDenied, Unknown, Error:<message>.
func (p ProbeResult) String() string {
	switch p.Kind {
	case ResultOK:
		return p.Value
	case ResultUnreachable:
		return "Unreachable"
	case ResultAccessDenied:
		return "AccessDenied"
	case ResultError:
		return "Error:" + p.Detail
	default:
		return "Unknown"
	}
}

// OK reports whether the result carries a real value.
func (p ProbeResult) OK() bool { return p.Kind == ResultOK }

// OKResult builds a value result.
func OKResult(value string) ProbeResult {
	return ProbeResult{Value: value, Kind: ResultOK}
}

// OKResultVia builds a value result acquired through a fallback strategy.
func OKResultVia(value string, method int) ProbeResult {
	return ProbeResult{Value: value, Kind: ResultOK, Method: method}
}

// OKResultNum builds a value result carrying its raw numeric magnitude for
// threshold evaluation.
func OKResultNum(value string, raw float64) ProbeResult {
	return ProbeResult{Value: value, Kind: ResultOK, Raw: &raw}
}

// UnreachableResult builds the Unreachable sentinel.
func UnreachableResult() ProbeResult { return ProbeResult{Kind: ResultUnreachable} }

// AccessDeniedResult builds the AccessDenied sentinel.
func AccessDeniedResult() ProbeResult { return ProbeResult{Kind: ResultAccessDenied} }

// UnknownResult builds the Unknown sentinel records are pre-populated with.
func UnknownResult() ProbeResult { return ProbeResult{Kind: ResultUnknown} }

// ErrorResult builds an Error:<message> sentinel.
func ErrorResult(err error) ProbeResult {
	detail := "unspecified"
	if err != nil {
		detail = err.Error()
	}
	return ProbeResult{Kind: ResultError, Detail: detail}
}

// ProbeRecord aggregates all ProbeResults for one target. Fields is
// pre-populated with Unknown sentinels for every cataloged field before
// probing begins, so a record is always well-formed even under total target
// failure. A record is owned exclusively by its target's probing sequence
// until handed to the aggregator.
type ProbeRecord struct {
	Target       Target                 `json:"target"`
	Reachability Reachability           `json:"reachability"`
	Fields       map[string]ProbeResult `json:"fields"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at,omitzero"`
}

// NewProbeRecord builds a record for the target with every field seeded to
// the Unknown sentinel.
func NewProbeRecord(target Target, fields []string) *ProbeRecord {
	m := make(map[string]ProbeResult, len(fields))
	for _, f := range fields {
		m[f] = UnknownResult()
	}
	return &ProbeRecord{
		Target:       target,
		Reachability: ReachUnknown,
		Fields:       m,
		StartedAt:    time.Now().UTC(),
	}
}

// Set stores a result for the named field.
func (r *ProbeRecord) Set(field string, res ProbeResult) {
	r.Fields[field] = res
}

// Get returns the result for the named field, defaulting to the Unknown
// sentinel for fields outside the catalog.
func (r *ProbeRecord) Get(field string) ProbeResult {
	if res, ok := r.Fields[field]; ok {
		return res
	}
	return UnknownResult()
}

// MarkUnreachable stamps every field still holding the Unknown sentinel with
// the Unreachable sentinel. Used when classification short-circuits the
// pipeline for a dead host.
func (r *ProbeRecord) MarkUnreachable() {
	for field, res := range r.Fields {
		if res.Kind == ResultUnknown {
			r.Fields[field] = UnreachableResult()
		}
	}
}
