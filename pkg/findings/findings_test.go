package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

func recordWith(t *testing.T, host string, fields map[string]engine.ProbeResult) *engine.ProbeRecord {
	t.Helper()
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	record := engine.NewProbeRecord(engine.Target{Host: host}, names)
	for f, res := range fields {
		record.Set(f, res)
	}
	return record
}

func TestLoadEmbeddedRules(t *testing.T) {
	rules, err := LoadEmbeddedRules()
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	ids := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		require.NoError(t, r.Validate())
		_, dup := ids[r.ID]
		require.False(t, dup, "duplicate rule id %q", r.ID)
		ids[r.ID] = struct{}{}
	}
}

func TestParseRulesRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty table", "rules: []"},
		{"missing condition", `
rules:
  - id: r1
    field: storage.free_percent
    severity: high
    category: storage
    message: m`},
		{"unknown severity", `
rules:
  - id: r1
    field: storage.free_percent
    number_lt: 10
    severity: urgent
    category: storage
    message: m`},
		{"field and prefix together", `
rules:
  - id: r1
    field: a.b
    field_prefix: "a."
    equals: x
    severity: low
    category: c
    message: m`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestAggregatorMatchesThresholdsAndSentinels(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	record := recordWith(t, "dc01.corp.example.com", map[string]engine.ProbeResult{
		"connectivity.ping_status": engine.OKResult("Online"),
		"storage.free_percent":     engine.OKResultNum("7.5%", 7.5),
		"time.skew":                engine.OKResultNum("420s", 420),
		"services.ntds":            engine.OKResult("Stopped"),
		"services.dns":             engine.OKResult("Running"),
		"security.smbv1":           engine.OKResult("Disabled"),
		"database.integrity":       engine.AccessDeniedResult(),
		"backup.last":              engine.OKResult("Never"),
	})

	matched := agg.Add(record)
	require.NotEmpty(t, matched)

	bySeverity := map[Severity][]string{}
	for _, f := range agg.Findings() {
		bySeverity[f.Severity] = append(bySeverity[f.Severity], f.Message)
	}

	assert.Len(t, bySeverity[SeverityCritical], 4, "stopped service, low disk, clock skew, never backed up")
	assert.Contains(t, bySeverity[SeverityCritical], "Required service services.ntds is stopped on dc01.corp.example.com")
	require.Len(t, bySeverity[SeverityLow], 1)
	assert.Contains(t, bySeverity[SeverityLow][0], "Access denied collecting database.integrity")

	// Healthy values match nothing.
	for _, msgs := range bySeverity {
		for _, m := range msgs {
			assert.NotContains(t, m, "services.dns")
			assert.NotContains(t, m, "smbv1")
		}
	}
}

func TestAggregatorDiskBandsAreExclusive(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	agg.Add(recordWith(t, "dc01", map[string]engine.ProbeResult{
		"storage.free_percent": engine.OKResultNum("15%", 15),
	}))
	agg.Add(recordWith(t, "dc02", map[string]engine.ProbeResult{
		"storage.free_percent": engine.OKResultNum("5%", 5),
	}))
	// The band boundary itself belongs to the lower-severity band.
	agg.Add(recordWith(t, "dc03", map[string]engine.ProbeResult{
		"storage.free_percent": engine.OKResultNum("10%", 10),
	}))

	s := agg.Summary()
	assert.Equal(t, 2, s.BySeverity[SeverityMedium])
	assert.Equal(t, 1, s.BySeverity[SeverityCritical])
	assert.Equal(t, 3, s.TotalFindings)
}

func TestAggregatorDeduplicatesByTargetAndMessage(t *testing.T) {
	rules := []Rule{{
		ID:       "unreachable",
		AnyField: true,
		KindIs:   "unreachable",
		Severity: SeverityCritical,
		Category: "connectivity",
		Message:  "Endpoint {target} is unreachable",
	}}
	agg := NewAggregatorWithRules(rules)

	agg.Add(recordWith(t, "dc09", map[string]engine.ProbeResult{
		"services.ntds": engine.UnreachableResult(),
		"services.dns":  engine.UnreachableResult(),
		"backup.last":   engine.UnreachableResult(),
	}))

	require.Len(t, agg.Findings(), 1, "identical messages collapse per target")
	assert.Equal(t, "Endpoint dc09 is unreachable", agg.Findings()[0].Message)
}

func TestSummaryCountsAndHealth(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	agg.Add(recordWith(t, "dc01", map[string]engine.ProbeResult{
		"services.ntds": engine.OKResult("Stopped"),
		"shares.sysvol": engine.OKResult("Missing"),
	}))
	agg.Add(recordWith(t, "dc02", map[string]engine.ProbeResult{
		"services.ntds": engine.OKResult("Running"),
	}))
	agg.Add(recordWith(t, "dc03", map[string]engine.ProbeResult{
		"services.ntds": engine.OKResult("Running"),
	}))

	s := agg.Summary()
	assert.Equal(t, 3, s.TotalTargets)
	assert.Equal(t, 2, s.CleanTargets)
	assert.Equal(t, 2, s.TotalFindings)
	assert.InDelta(t, 66.67, s.HealthPercent, 0.01)

	sum := 0
	for _, n := range s.BySeverity {
		sum += n
	}
	assert.Equal(t, s.TotalFindings, sum)

	// Findings sort highest severity first.
	f := agg.Findings()
	require.Len(t, f, 2)
	assert.Equal(t, SeverityCritical, f[0].Severity)
	assert.Equal(t, SeverityHigh, f[1].Severity)
}
