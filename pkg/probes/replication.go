package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// ReplicationProbeName is the registered name of the replication health probe.
const ReplicationProbeName = "replication"

const (
	FieldReplicationLag      = "replication.lag"
	FieldReplicationPartners = "replication.partners"
	FieldReplicationFailures = "replication.failures"
)

// ReplicationProbe inspects inbound replication links. Lag is the age of the
// stalest successful sync across all partners, so a single broken link
// surfaces even when the rest of the topology is healthy.
type ReplicationProbe struct {
	meta engine.ProbeMetadata
}

func newReplicationProbe() *ReplicationProbe {
	return &ReplicationProbe{
		meta: engine.ProbeMetadata{
			Name:          ReplicationProbeName,
			Description:   "Checks inbound replication links for lag and failures.",
			Fields:        []string{FieldReplicationLag, FieldReplicationPartners, FieldReplicationFailures},
			Tags:          []string{"replication", "remote"},
			EstimatedCost: 3,
		},
	}
}

// Metadata returns the probe's metadata.
func (p *ReplicationProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts no options.
func (p *ReplicationProbe) Init(map[string]any) error { return nil }

func (p *ReplicationProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	res := bounded.RunCtx(ctx, ec.CallTimeout, func() ([]directory.ReplicationLink, error) {
		return ec.Diag.ReplicationStatus(ctx, target.Host)
	})
	if sentinel, bad := resultFromBounded(res); bad {
		setAll(record, p.meta.Fields, sentinel)
		return
	}

	links := res.Value
	record.Set(FieldReplicationPartners, engine.OKResultNum(fmt.Sprintf("%d", len(links)), float64(len(links))))

	if len(links) == 0 {
		record.Set(FieldReplicationLag, engine.OKResult("No partners"))
		record.Set(FieldReplicationFailures, engine.OKResultNum("0", 0))
		return
	}

	now := ec.Clock()
	var worst time.Duration
	var failures int
	for _, link := range links {
		if age := now.Sub(link.LastSuccess); age > worst {
			worst = age
		}
		failures += link.ConsecutiveFailures
	}

	record.Set(FieldReplicationLag, engine.OKResultNum(formatLag(worst), worst.Seconds()))
	record.Set(FieldReplicationFailures, engine.OKResultNum(fmt.Sprintf("%d", failures), float64(failures)))
}

// formatLag renders a replication age at the coarsest useful unit.
func formatLag(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	case d >= time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

func init() {
	engine.RegisterProbeFactory(ReplicationProbeName, func() engine.Probe { return newReplicationProbe() })
}
