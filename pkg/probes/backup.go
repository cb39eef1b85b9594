package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// BackupProbeName is the registered name of the system state backup probe.
const BackupProbeName = "backup"

// FieldLastBackup reports the age of the most recent system state backup.
const FieldLastBackup = "backup.last"

// BackupProbe reports how long ago the endpoint's system state was last
// backed up. A zero timestamp from the endpoint means no backup has ever
// been taken, which is worth distinguishing from a merely stale one.
type BackupProbe struct {
	meta engine.ProbeMetadata
}

func newBackupProbe() *BackupProbe {
	return &BackupProbe{
		meta: engine.ProbeMetadata{
			Name:          BackupProbeName,
			Description:   "Reports the age of the last system state backup.",
			Fields:        []string{FieldLastBackup},
			Tags:          []string{"backup", "remote"},
			EstimatedCost: 1,
		},
	}
}

// Metadata returns the probe's metadata.
func (p *BackupProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts no options.
func (p *BackupProbe) Init(map[string]any) error { return nil }

func (p *BackupProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	res := bounded.RunCtx(ctx, ec.CallTimeout, func() (time.Time, error) {
		return ec.Diag.LastBackup(ctx, target.Host)
	})
	if sentinel, bad := resultFromBounded(res); bad {
		record.Set(FieldLastBackup, sentinel)
		return
	}

	if res.Value.IsZero() {
		record.Set(FieldLastBackup, engine.OKResult("Never"))
		return
	}

	age := ec.Clock().Sub(res.Value)
	record.Set(FieldLastBackup, engine.OKResultNum(fmt.Sprintf("%.1fh ago", age.Hours()), age.Hours()))
}

func init() {
	engine.RegisterProbeFactory(BackupProbeName, func() engine.Probe { return newBackupProbe() })
}
