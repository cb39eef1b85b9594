package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/directory"
)

// stubProbe is a minimal probe implementation for pipeline tests.
type stubProbe struct {
	meta ProbeMetadata
	run  func(ctx context.Context, ec ExecContext, target Target, record *ProbeRecord)
}

func (s *stubProbe) Metadata() ProbeMetadata   { return s.meta }
func (s *stubProbe) Init(map[string]any) error { return nil }

func (s *stubProbe) Run(ctx context.Context, ec ExecContext, target Target, record *ProbeRecord) {
	if s.run != nil {
		s.run(ctx, ec, target, record)
	}
}

// countingDiag counts every remote diagnostic call so tests can assert that
// zero calls were issued against short-circuited targets.
type countingDiag struct {
	calls atomic.Int64
}

func (d *countingDiag) Calls() int64 { return d.calls.Load() }

func (d *countingDiag) ServiceStatus(context.Context, string, string) (directory.ServiceState, error) {
	d.calls.Add(1)
	return directory.ServiceRunning, nil
}

func (d *countingDiag) PathExists(context.Context, string, string) (bool, error) {
	d.calls.Add(1)
	return true, nil
}

func (d *countingDiag) FreeSpace(context.Context, string, string) (int64, int64, error) {
	d.calls.Add(1)
	return 50 * (1 << 30), 100 * (1 << 30), nil
}

func (d *countingDiag) FileInfo(context.Context, string, string) (int64, time.Time, error) {
	d.calls.Add(1)
	return 1 << 30, time.Now(), nil
}

func (d *countingDiag) Counter(context.Context, string, string) (float64, error) {
	d.calls.Add(1)
	return 1, nil
}

func (d *countingDiag) ConsistencyCheck(context.Context, string, string) (bool, string, error) {
	d.calls.Add(1)
	return true, "passed", nil
}

func (d *countingDiag) SystemInfo(context.Context, string) (*directory.SystemInfo, error) {
	d.calls.Add(1)
	now := time.Now()
	return &directory.SystemInfo{BootTime: now.Add(-24 * time.Hour), SystemTime: now}, nil
}

func (d *countingDiag) RegistryValue(context.Context, string, string, string) (string, error) {
	d.calls.Add(1)
	return "0", nil
}

func (d *countingDiag) ReplicationStatus(context.Context, string) ([]directory.ReplicationLink, error) {
	d.calls.Add(1)
	return nil, nil
}

func (d *countingDiag) LastBackup(context.Context, string) (time.Time, error) {
	d.calls.Add(1)
	return time.Now().Add(-2 * time.Hour), nil
}
