package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// SharesProbeName is the registered name of the required-shares probe.
const SharesProbeName = "shares"

// defaultShares are the shares every directory-service endpoint must expose.
var defaultShares = []string{"SYSVOL", "NETLOGON"}

// SharesProbe verifies that the endpoint exposes its required administrative
// shares.
type SharesProbe struct {
	meta   engine.ProbeMetadata
	shares []string
}

func newSharesProbe() *SharesProbe {
	p := &SharesProbe{shares: defaultShares}
	p.meta = engine.ProbeMetadata{
		Name:          SharesProbeName,
		Description:   "Checks accessibility of the endpoint's required shares.",
		Fields:        shareFields(p.shares),
		Tags:          []string{"shares", "remote"},
		EstimatedCost: 2,
	}
	return p
}

func shareFields(shares []string) []string {
	fields := make([]string, 0, len(shares))
	for _, s := range shares {
		fields = append(fields, fieldKey("shares", strings.ToLower(s)))
	}
	return fields
}

// Metadata returns the probe's metadata.
func (p *SharesProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts an optional "shares" list overriding the defaults.
func (p *SharesProbe) Init(config map[string]any) error {
	if v, ok := config["shares"]; ok {
		shares := cast.ToStringSlice(v)
		if len(shares) == 0 {
			return fmt.Errorf("shares probe: 'shares' must be a non-empty list")
		}
		p.shares = shares
		p.meta.Fields = shareFields(shares)
	}
	return nil
}

func (p *SharesProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	for _, share := range p.shares {
		field := fieldKey("shares", strings.ToLower(share))
		path := fmt.Sprintf(`\\%s\%s`, target.Host, share)

		res := bounded.RunCtx(ctx, ec.CallTimeout, func() (bool, error) {
			return ec.Diag.PathExists(ctx, target.Host, path)
		})
		if sentinel, bad := resultFromBounded(res); bad {
			record.Set(field, sentinel)
			continue
		}
		if res.Value {
			record.Set(field, engine.OKResult("Accessible"))
		} else {
			record.Set(field, engine.OKResult("Missing"))
		}
	}
}

func init() {
	engine.RegisterProbeFactory(SharesProbeName, func() engine.Probe { return newSharesProbe() })
}
