package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// ServicesProbeName is the registered name of the required-services probe.
const ServicesProbeName = "services"

// defaultServices are the services a directory-service endpoint must run.
var defaultServices = []string{"NTDS", "DNS", "Kdc", "Netlogon", "W32Time"}

// ServicesProbe checks the state of every required service. One service's
// failure to answer does not stop the remaining services from being checked.
type ServicesProbe struct {
	meta     engine.ProbeMetadata
	services []string
}

func newServicesProbe() *ServicesProbe {
	p := &ServicesProbe{services: defaultServices}
	p.meta = engine.ProbeMetadata{
		Name:          ServicesProbeName,
		Description:   "Checks the state of the endpoint's required services.",
		Fields:        serviceFields(p.services),
		Tags:          []string{"services", "remote"},
		EstimatedCost: 2,
	}
	return p
}

func serviceFields(services []string) []string {
	fields := make([]string, 0, len(services))
	for _, s := range services {
		fields = append(fields, fieldKey("services", strings.ToLower(s)))
	}
	return fields
}

// Metadata returns the probe's metadata.
func (p *ServicesProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts an optional "services" list overriding the defaults.
func (p *ServicesProbe) Init(config map[string]any) error {
	if v, ok := config["services"]; ok {
		services := cast.ToStringSlice(v)
		if len(services) == 0 {
			return fmt.Errorf("services probe: 'services' must be a non-empty list")
		}
		p.services = services
		p.meta.Fields = serviceFields(services)
	}
	return nil
}

func (p *ServicesProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	for _, service := range p.services {
		field := fieldKey("services", strings.ToLower(service))

		res := bounded.RunCtx(ctx, ec.CallTimeout, func() (directory.ServiceState, error) {
			return ec.Diag.ServiceStatus(ctx, target.Host, service)
		})
		if sentinel, bad := resultFromBounded(res); bad {
			record.Set(field, sentinel)
			continue
		}
		record.Set(field, engine.OKResult(string(res.Value)))
	}
}

func init() {
	engine.RegisterProbeFactory(ServicesProbeName, func() engine.Probe { return newServicesProbe() })
}
