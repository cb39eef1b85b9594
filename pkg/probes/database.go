package probes

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/fallback"
	"github.com/fleetaudit/fleetaudit/pkg/units"
)

// DatabaseProbeName is the registered name of the directory database probe.
const DatabaseProbeName = "database"

const (
	FieldDatabaseSize      = "database.size"
	FieldDatabaseIntegrity = "database.integrity"
)

// defaultDatabasePath is the directory database file on the endpoint.
const defaultDatabasePath = `C:\Windows\NTDS\ntds.dit`

// DatabaseProbe measures the size and integrity state of the directory
// database. Size is the classic multi-path metric: a direct file read is
// cheapest but often denied; the administrative share works across the wire;
// the management counter is slower but broadly permitted; remote execution
// is the path of last resort. The ordered fallback resolver tries them in
// exactly that order and records which method finally answered.
type DatabaseProbe struct {
	meta engine.ProbeMetadata
	path string
}

func newDatabaseProbe() *DatabaseProbe {
	return &DatabaseProbe{
		meta: engine.ProbeMetadata{
			Name:          DatabaseProbeName,
			Description:   "Measures directory database size and integrity state.",
			Fields:        []string{FieldDatabaseSize, FieldDatabaseIntegrity},
			Tags:          []string{"database", "remote"},
			EstimatedCost: 3,
		},
		path: defaultDatabasePath,
	}
}

// Metadata returns the probe's metadata.
func (p *DatabaseProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts an optional "path" naming the database file.
func (p *DatabaseProbe) Init(config map[string]any) error {
	if v, ok := config["path"]; ok {
		p.path = cast.ToString(v)
		if p.path == "" {
			return fmt.Errorf("database probe: 'path' must be non-empty")
		}
	}
	return nil
}

func (p *DatabaseProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	record.Set(FieldDatabaseSize, p.resolveSize(ctx, ec, target))
	record.Set(FieldDatabaseIntegrity, p.checkIntegrity(ctx, ec, target))
}

// resolveSize acquires the database size through the ordered strategies.
// Each strategy is itself bounded, so a hanging path costs one call timeout
// before the resolver moves on.
func (p *DatabaseProbe) resolveSize(ctx context.Context, ec engine.ExecContext, target engine.Target) engine.ProbeResult {
	sizeVia := func(path string) func(context.Context) (int64, error) {
		return func(ctx context.Context) (int64, error) {
			res := bounded.RunCtx(ctx, ec.CallTimeout, func() (int64, error) {
				size, _, err := ec.Diag.FileInfo(ctx, target.Host, path)
				return size, err
			})
			if res.Err != nil {
				return 0, res.Err
			}
			return res.Value, nil
		}
	}

	uncPath := fmt.Sprintf(`\\%s\admin$\NTDS\ntds.dit`, target.Host)
	out := fallback.Resolve(ctx, []fallback.Strategy[int64]{
		{Name: "localRead", Fn: sizeVia(p.path)},
		{Name: "uncRead", Fn: sizeVia(uncPath)},
		{Name: "mgmtQuery", Fn: func(ctx context.Context) (int64, error) {
			res := bounded.RunCtx(ctx, ec.CallTimeout, func() (float64, error) {
				return ec.Diag.Counter(ctx, target.Host, `\NTDS\DB Size`)
			})
			if res.Err != nil {
				return 0, res.Err
			}
			return int64(res.Value), nil
		}},
		{Name: "remoteExec", Fn: func(ctx context.Context) (int64, error) {
			res := bounded.RunCtx(ctx, ec.CallTimeout, func() (int64, error) {
				_, output, err := ec.Diag.ConsistencyCheck(ctx, target.Host, "FileSize")
				if err != nil {
					return 0, err
				}
				return cast.ToInt64E(output)
			})
			if res.Err != nil {
				return 0, res.Err
			}
			return res.Value, nil
		}},
	})

	if !out.Resolved() {
		return sentinelForError(out.Err)
	}
	return engine.OKResultVia(units.FormatBytes(out.Value), out.MethodIndex)
}

func (p *DatabaseProbe) checkIntegrity(ctx context.Context, ec engine.ExecContext, target engine.Target) engine.ProbeResult {
	type verdict struct {
		passed bool
		output string
	}

	res := bounded.RunCtx(ctx, ec.CallTimeout, func() (verdict, error) {
		passed, output, err := ec.Diag.ConsistencyCheck(ctx, target.Host, "VerifyEnterpriseReferences")
		return verdict{passed: passed, output: output}, err
	})
	if sentinel, bad := resultFromBounded(res); bad {
		return sentinel
	}
	if res.Value.passed {
		return engine.OKResult("Clean")
	}
	return engine.OKResult("Dirty: " + excerpt(res.Value.output))
}

func init() {
	engine.RegisterProbeFactory(DatabaseProbeName, func() engine.Probe { return newDatabaseProbe() })
}
