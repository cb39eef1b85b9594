// Package probes implements the fixed, ordered diagnostic battery run against
// each endpoint: connectivity and name resolution, uptime, clock skew,
// required shares, required services, storage capacity, consistency-check
// output, directory database size and integrity, performance counters,
// replication health, security posture, and backup recency.
//
// Every probe registers itself with the engine's probe registry in init() and
// wraps each blocking remote call in the bounded executor, so one dead or
// slow endpoint never stalls the battery past its per-call limit.
package probes

import (
	"errors"
	"fmt"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/fallback"
)

// DefaultBattery returns the canonical probe order. Connectivity comes first;
// everything after it is independent and non-propagating.
func DefaultBattery() []string {
	return []string{
		ConnectivityProbeName,
		SystemProbeName,
		ClockSkewProbeName,
		SharesProbeName,
		ServicesProbeName,
		StorageProbeName,
		ConsistencyProbeName,
		DatabaseProbeName,
		CountersProbeName,
		ReplicationProbeName,
		SecurityProbeName,
		BackupProbeName,
	}
}

// resultFromBounded converts a bounded execution into a sentinel ProbeResult,
// or returns ok=false when the work completed and the caller should judge the
// value itself.
func resultFromBounded[T any](res bounded.Result[T]) (engine.ProbeResult, bool) {
	switch res.Outcome {
	case bounded.TimedOut:
		return engine.ErrorResult(errors.New("timeout")), true
	case bounded.Failed:
		return sentinelForError(res.Err), true
	default:
		return engine.ProbeResult{}, false
	}
}

// sentinelForError maps an acquisition error to its sentinel: AccessDenied
// for permission failures, Error:<message> otherwise.
func sentinelForError(err error) engine.ProbeResult {
	if fallback.IsAccessDenied(err) {
		return engine.AccessDeniedResult()
	}
	return engine.ErrorResult(err)
}

// setAll stamps one result onto every listed field that is still Unknown.
func setAll(record *engine.ProbeRecord, fields []string, res engine.ProbeResult) {
	for _, f := range fields {
		if record.Get(f).Kind == engine.ResultUnknown {
			record.Set(f, res)
		}
	}
}

// fieldKey joins an area and a metric name: fieldKey("services", "ntds")
// yields "services.ntds".
func fieldKey(area, name string) string {
	return fmt.Sprintf("%s.%s", area, name)
}
