package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// CountersProbeName is the registered name of the performance counter probe.
const CountersProbeName = "counters"

// defaultCounters maps field suffixes to the counter paths they sample.
var defaultCounters = map[string]string{
	"ldap_bind_time":    `\NTDS\LDAP Bind Time`,
	"replication_queue": `\NTDS\DRA Pending Replication Operations`,
}

// CountersProbe samples a configurable set of performance counters. Raw
// values are preserved alongside the formatted reading so downstream
// thresholds compare numbers, not strings.
type CountersProbe struct {
	meta     engine.ProbeMetadata
	counters map[string]string
}

func newCountersProbe() *CountersProbe {
	counters := make(map[string]string, len(defaultCounters))
	for k, v := range defaultCounters {
		counters[k] = v
	}
	p := &CountersProbe{
		meta: engine.ProbeMetadata{
			Name:          CountersProbeName,
			Description:   "Samples directory service performance counters.",
			Tags:          []string{"performance", "remote"},
			EstimatedCost: 2,
		},
		counters: counters,
	}
	p.refreshFields()
	return p
}

// Metadata returns the probe's metadata.
func (p *CountersProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts an optional "counters" map of field suffix to counter path,
// replacing the default set.
func (p *CountersProbe) Init(config map[string]any) error {
	if v, ok := config["counters"]; ok {
		counters, err := cast.ToStringMapStringE(v)
		if err != nil {
			return fmt.Errorf("counters probe: invalid 'counters': %w", err)
		}
		if len(counters) == 0 {
			return fmt.Errorf("counters probe: 'counters' must name at least one counter")
		}
		p.counters = counters
		p.refreshFields()
	}
	return nil
}

func (p *CountersProbe) refreshFields() {
	fields := make([]string, 0, len(p.counters))
	for name := range p.counters {
		fields = append(fields, fieldKey("counters", strings.ToLower(name)))
	}
	p.meta.Fields = fields
}

func (p *CountersProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	for name, path := range p.counters {
		path := path
		res := bounded.RunCtx(ctx, ec.CallTimeout, func() (float64, error) {
			return ec.Diag.Counter(ctx, target.Host, path)
		})
		field := fieldKey("counters", strings.ToLower(name))
		if sentinel, bad := resultFromBounded(res); bad {
			record.Set(field, sentinel)
			continue
		}
		record.Set(field, engine.OKResultNum(formatCounter(res.Value), res.Value))
	}
}

// formatCounter trims trailing zeros from a counter reading.
func formatCounter(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func init() {
	engine.RegisterProbeFactory(CountersProbeName, func() engine.Probe { return newCountersProbe() })
}
