package probes

import (
	"context"
	"math"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/units"
)

// ClockSkewProbeName is the registered name of the clock skew probe.
const ClockSkewProbeName = "clock-skew"

// FieldClockSkew reports the endpoint clock minus the auditing host clock, in
// seconds. Positive values mean the endpoint runs ahead.
const FieldClockSkew = "time.skew"

// ClockSkewProbe measures the clock difference between the endpoint and the
// auditing host. Kerberos tolerates only minutes of drift, so this is one of
// the highest-signal measurements in the battery.
type ClockSkewProbe struct {
	meta engine.ProbeMetadata
}

func newClockSkewProbe() *ClockSkewProbe {
	return &ClockSkewProbe{
		meta: engine.ProbeMetadata{
			Name:          ClockSkewProbeName,
			Description:   "Measures clock skew between the endpoint and the auditing host.",
			Fields:        []string{FieldClockSkew},
			Tags:          []string{"time", "fast"},
			EstimatedCost: 1,
		},
	}
}

// Metadata returns the probe's metadata.
func (p *ClockSkewProbe) Metadata() engine.ProbeMetadata { return p.meta }

func (p *ClockSkewProbe) Init(map[string]any) error { return nil }

func (p *ClockSkewProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	res := bounded.RunCtx(ctx, ec.CallTimeout, func() (*directory.SystemInfo, error) {
		return ec.Diag.SystemInfo(ctx, target.Host)
	})
	if sentinel, bad := resultFromBounded(res); bad {
		record.Set(FieldClockSkew, sentinel)
		return
	}
	if res.Value == nil || res.Value.SystemTime.IsZero() {
		record.Set(FieldClockSkew, engine.UnknownResult())
		return
	}

	// Half the call's round trip is folded into the reading; for skews that
	// matter (seconds and up) this is noise.
	skew := res.Value.SystemTime.Sub(ec.Clock())
	record.Set(FieldClockSkew, engine.ProbeResult{
		Value: units.FormatSeconds(skew),
		Kind:  engine.ResultOK,
		Raw:   float64Ptr(math.Abs(skew.Seconds())),
	})
}

func float64Ptr(f float64) *float64 { return &f }

func init() {
	engine.RegisterProbeFactory(ClockSkewProbeName, func() engine.Probe { return newClockSkewProbe() })
}
