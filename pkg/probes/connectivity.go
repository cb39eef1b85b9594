package probes

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/units"
)

// ConnectivityProbeName is the registered name of the connectivity probe.
const ConnectivityProbeName = "connectivity"

const (
	FieldPingStatus = "connectivity.ping_status"
	FieldDNS        = "connectivity.dns"
	FieldLatency    = "connectivity.latency"
)

// ConnectivityProbe records the outcome of classification (ping status) and
// resolves the target's name. It never re-probes the network for
// reachability: classification already decided that, once, per target.
type ConnectivityProbe struct {
	meta    engine.ProbeMetadata
	resolve func(ctx context.Context, host string) ([]string, error)
}

func newConnectivityProbe() *ConnectivityProbe {
	return &ConnectivityProbe{
		meta: engine.ProbeMetadata{
			Name:          ConnectivityProbeName,
			Description:   "Records reachability classification, name resolution, and connectivity latency.",
			Fields:        []string{FieldPingStatus, FieldDNS, FieldLatency},
			Tags:          []string{"connectivity", "fast"},
			EstimatedCost: 1,
		},
		resolve: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
	}
}

// Metadata returns the probe's metadata.
func (p *ConnectivityProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts no configuration beyond the shared call timeout.
func (p *ConnectivityProbe) Init(map[string]any) error { return nil }

// Run fills the connectivity fields from the already-computed reachability
// state plus one bounded name lookup.
func (p *ConnectivityProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	switch record.Reachability {
	case engine.ReachLocal:
		record.Set(FieldPingStatus, engine.OKResult("Local"))
	case engine.ReachOnline:
		record.Set(FieldPingStatus, engine.OKResult("Online"))
	default:
		record.Set(FieldPingStatus, engine.UnreachableResult())
	}

	start := time.Now()
	res := bounded.RunCtx(ctx, ec.CallTimeout, func() ([]string, error) {
		return p.resolve(ctx, target.Host)
	})
	if sentinel, bad := resultFromBounded(res); bad {
		record.Set(FieldDNS, sentinel)
		record.Set(FieldLatency, sentinel)
		return
	}
	if len(res.Value) == 0 {
		record.Set(FieldDNS, engine.ErrorResult(fmt.Errorf("no addresses for %s", target.Host)))
		return
	}
	record.Set(FieldDNS, engine.OKResult(res.Value[0]))
	record.Set(FieldLatency, engine.OKResultNum(units.FormatSeconds(time.Since(start)), time.Since(start).Seconds()))

	log.Debug().Str("probe", p.meta.Name).Str("target", target.Host).Strs("addresses", res.Value).Msg("Name resolution completed")
}

func init() {
	engine.RegisterProbeFactory(ConnectivityProbeName, func() engine.Probe { return newConnectivityProbe() })
}
