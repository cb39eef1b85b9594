package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// SystemProbeName is the registered name of the system facts probe.
const SystemProbeName = "system"

const (
	FieldUptime    = "system.uptime"
	FieldOSVersion = "system.os_version"
)

// SystemProbe reports uptime and OS version from a single system-information
// query.
type SystemProbe struct {
	meta engine.ProbeMetadata
}

func newSystemProbe() *SystemProbe {
	return &SystemProbe{
		meta: engine.ProbeMetadata{
			Name:          SystemProbeName,
			Description:   "Reports endpoint uptime and operating system version.",
			Fields:        []string{FieldUptime, FieldOSVersion},
			Tags:          []string{"system", "fast"},
			EstimatedCost: 1,
		},
	}
}

// Metadata returns the probe's metadata.
func (p *SystemProbe) Metadata() engine.ProbeMetadata { return p.meta }

func (p *SystemProbe) Init(map[string]any) error { return nil }

func (p *SystemProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	res := bounded.RunCtx(ctx, ec.CallTimeout, func() (*directory.SystemInfo, error) {
		return ec.Diag.SystemInfo(ctx, target.Host)
	})
	if sentinel, bad := resultFromBounded(res); bad {
		setAll(record, p.meta.Fields, sentinel)
		return
	}

	info := res.Value
	if info == nil || info.BootTime.IsZero() {
		setAll(record, p.meta.Fields, engine.ErrorResult(fmt.Errorf("system information incomplete")))
		return
	}

	uptime := info.SystemTime.Sub(info.BootTime)
	record.Set(FieldUptime, engine.OKResultNum(formatUptime(uptime), uptime.Hours()))
	if info.OSVersion != "" {
		record.Set(FieldOSVersion, engine.OKResult(info.OSVersion))
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func init() {
	engine.RegisterProbeFactory(SystemProbeName, func() engine.Probe { return newSystemProbe() })
}
