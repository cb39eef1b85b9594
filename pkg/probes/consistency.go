package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// ConsistencyProbeName is the registered name of the consistency-check probe.
const ConsistencyProbeName = "consistency"

// defaultTests are the consistency-check tool tests invoked per endpoint.
var defaultTests = []string{"NetLogons", "Replications", "FSMOCheck"}

// maxOutputExcerpt bounds how much tool output is carried into a failure
// result.
const maxOutputExcerpt = 160

// ConsistencyProbe invokes the endpoint's consistency-check tool for a fixed
// set of tests. The tool is by far the slowest acquisition in the battery, so
// each test gets its own bounded call.
type ConsistencyProbe struct {
	meta  engine.ProbeMetadata
	tests []string
}

func newConsistencyProbe() *ConsistencyProbe {
	p := &ConsistencyProbe{tests: defaultTests}
	p.meta = engine.ProbeMetadata{
		Name:          ConsistencyProbeName,
		Description:   "Runs the endpoint's consistency-check tool tests.",
		Fields:        consistencyFields(p.tests),
		Tags:          []string{"consistency", "remote", "slow"},
		EstimatedCost: 5,
	}
	return p
}

func consistencyFields(tests []string) []string {
	fields := make([]string, 0, len(tests))
	for _, t := range tests {
		fields = append(fields, fieldKey("consistency", strings.ToLower(t)))
	}
	return fields
}

// Metadata returns the probe's metadata.
func (p *ConsistencyProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts an optional "tests" list overriding the defaults.
func (p *ConsistencyProbe) Init(config map[string]any) error {
	if v, ok := config["tests"]; ok {
		tests := cast.ToStringSlice(v)
		if len(tests) == 0 {
			return fmt.Errorf("consistency probe: 'tests' must be a non-empty list")
		}
		p.tests = tests
		p.meta.Fields = consistencyFields(tests)
	}
	return nil
}

func (p *ConsistencyProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	type verdict struct {
		passed bool
		output string
	}

	for _, test := range p.tests {
		field := fieldKey("consistency", strings.ToLower(test))

		res := bounded.RunCtx(ctx, ec.CallTimeout, func() (verdict, error) {
			passed, output, err := ec.Diag.ConsistencyCheck(ctx, target.Host, test)
			return verdict{passed: passed, output: output}, err
		})
		if sentinel, bad := resultFromBounded(res); bad {
			record.Set(field, sentinel)
			continue
		}
		if res.Value.passed {
			record.Set(field, engine.OKResult("Passed"))
			continue
		}
		record.Set(field, engine.OKResult("Failed: "+excerpt(res.Value.output)))
	}
}

func excerpt(output string) string {
	output = strings.TrimSpace(strings.ReplaceAll(output, "\n", " "))
	if len(output) > maxOutputExcerpt {
		return output[:maxOutputExcerpt] + "..."
	}
	if output == "" {
		return "no output"
	}
	return output
}

func init() {
	engine.RegisterProbeFactory(ConsistencyProbeName, func() engine.Probe { return newConsistencyProbe() })
}
