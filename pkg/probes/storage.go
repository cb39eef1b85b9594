package probes

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/units"
)

// StorageProbeName is the registered name of the storage capacity probe.
const StorageProbeName = "storage"

const (
	FieldFreePercent = "storage.free_percent"
	FieldFreeBytes   = "storage.free_bytes"
	FieldTotalBytes  = "storage.total_bytes"
)

// defaultVolumePath is the volume holding the directory database.
const defaultVolumePath = `C:\Windows\NTDS`

// StorageProbe measures free capacity on the volume holding the directory
// database.
type StorageProbe struct {
	meta engine.ProbeMetadata
	path string
}

func newStorageProbe() *StorageProbe {
	return &StorageProbe{
		meta: engine.ProbeMetadata{
			Name:          StorageProbeName,
			Description:   "Measures free storage on the directory database volume.",
			Fields:        []string{FieldFreePercent, FieldFreeBytes, FieldTotalBytes},
			Tags:          []string{"storage", "remote"},
			EstimatedCost: 2,
		},
		path: defaultVolumePath,
	}
}

// Metadata returns the probe's metadata.
func (p *StorageProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts an optional "path" naming the volume to measure.
func (p *StorageProbe) Init(config map[string]any) error {
	if v, ok := config["path"]; ok {
		p.path = cast.ToString(v)
		if p.path == "" {
			return fmt.Errorf("storage probe: 'path' must be non-empty")
		}
	}
	return nil
}

func (p *StorageProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	type space struct{ free, total int64 }

	res := bounded.RunCtx(ctx, ec.CallTimeout, func() (space, error) {
		free, total, err := ec.Diag.FreeSpace(ctx, target.Host, p.path)
		return space{free: free, total: total}, err
	})
	if sentinel, bad := resultFromBounded(res); bad {
		setAll(record, p.meta.Fields, sentinel)
		return
	}
	if res.Value.total <= 0 {
		setAll(record, p.meta.Fields, engine.ErrorResult(fmt.Errorf("volume %s reported zero capacity", p.path)))
		return
	}

	pct := units.RoundPercent(float64(res.Value.free) / float64(res.Value.total) * 100)
	record.Set(FieldFreePercent, engine.OKResultNum(units.FormatPercent(pct), pct))
	record.Set(FieldFreeBytes, engine.OKResult(units.FormatBytes(res.Value.free)))
	record.Set(FieldTotalBytes, engine.OKResult(units.FormatBytes(res.Value.total)))
}

func init() {
	engine.RegisterProbeFactory(StorageProbeName, func() engine.Probe { return newStorageProbe() })
}
