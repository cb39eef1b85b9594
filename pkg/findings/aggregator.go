package findings

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/units"
)

// Aggregator evaluates probe records against a rule table and accumulates
// deduplicated findings. It is not safe for concurrent use; the audit service
// feeds it completed records from a single goroutine.
type Aggregator struct {
	rules  []Rule
	logger zerolog.Logger

	findings []Finding
	seen     map[string]struct{}
	targets  int
	dirty    map[string]struct{}
}

// NewAggregator builds an aggregator over the embedded rule table.
func NewAggregator() (*Aggregator, error) {
	rules, err := LoadEmbeddedRules()
	if err != nil {
		return nil, err
	}
	return NewAggregatorWithRules(rules), nil
}

// NewAggregatorWithRules builds an aggregator over a caller-supplied table.
func NewAggregatorWithRules(rules []Rule) *Aggregator {
	return &Aggregator{
		rules:  rules,
		logger: log.With().Str("component", "findings").Logger(),
		seen:   make(map[string]struct{}),
		dirty:  make(map[string]struct{}),
	}
}

// Add evaluates one completed record, folding its matches into the run's
// findings. Duplicate (target, message) pairs are dropped.
func (a *Aggregator) Add(record *engine.ProbeRecord) []Finding {
	a.targets++
	target := record.Target.Key()

	// Deterministic field order keeps finding order stable run to run.
	fields := make([]string, 0, len(record.Fields))
	for f := range record.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var matched []Finding
	for _, rule := range a.rules {
		for _, field := range fields {
			if !rule.appliesTo(field) {
				continue
			}
			res := record.Fields[field]
			if !rule.matches(res) {
				continue
			}

			f := Finding{
				Severity: rule.Severity,
				Category: rule.Category,
				Message:  rule.render(target, field, res),
				Target:   target,
				Field:    field,
			}
			key := f.Target + "\x00" + f.Message
			if _, dup := a.seen[key]; dup {
				continue
			}
			a.seen[key] = struct{}{}
			a.dirty[target] = struct{}{}
			a.findings = append(a.findings, f)
			matched = append(matched, f)

			a.logger.Debug().
				Str("rule", rule.ID).
				Str("target", target).
				Str("field", field).
				Str("severity", string(f.Severity)).
				Msg("Rule matched")
		}
	}
	return matched
}

// Findings returns the run's findings ordered by severity, then target.
func (a *Aggregator) Findings() []Finding {
	out := make([]Finding, len(a.findings))
	copy(out, a.findings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() < out[j].Severity.Rank()
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Summary rolls the accumulated findings up. Per-severity counts always sum
// to the total.
func (a *Aggregator) Summary() Summary {
	s := Summary{
		TotalTargets:  a.targets,
		TotalFindings: len(a.findings),
		BySeverity:    make(map[Severity]int),
		ByCategory:    make(map[string]int),
	}
	for _, f := range a.findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	s.CleanTargets = a.targets - len(a.dirty)
	if a.targets > 0 {
		s.HealthPercent = units.RoundPercent(float64(s.CleanTargets) / float64(a.targets) * 100)
	}
	return s
}
