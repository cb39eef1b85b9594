// Package audit drives one complete run: enumerate the fleet, classify and
// probe every endpoint, evaluate findings, persist the results, and keep the
// progress publisher honest throughout.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
	"github.com/fleetaudit/fleetaudit/pkg/findings"
	"github.com/fleetaudit/fleetaudit/pkg/output"
	"github.com/fleetaudit/fleetaudit/pkg/probes"
	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// ErrRunInProgress is returned when a run is triggered while another is
// still in flight. Only one audit runs at a time.
var ErrRunInProgress = errors.New("an audit run is already in progress")

// Service orchestrates audit runs. Collaborators are attached fluently;
// unset ones degrade gracefully (no storage means no persistence, no
// publisher means no progress).
type Service struct {
	storage     storage.Backend
	progress    *progress.Publisher
	registry    *directory.Registry
	diag        directory.Diag
	out         output.Output
	concurrency int
	callTimeout time.Duration
	pingTimeout time.Duration
	classify    func(context.Context, engine.Target) engine.Reachability

	running atomic.Bool
}

// NewService builds a Service with default limits.
func NewService() *Service {
	cfg := engine.DefaultPipelineConfig()
	return &Service{
		concurrency: cfg.Concurrency,
		callTimeout: cfg.CallTimeout,
	}
}

// WithStorage attaches a backend for persisting run results.
func (s *Service) WithStorage(backend storage.Backend) *Service {
	s.storage = backend
	return s
}

// WithProgress attaches the progress publisher.
func (s *Service) WithProgress(pub *progress.Publisher) *Service {
	s.progress = pub
	return s
}

// WithDirectory attaches the directory client targets are enumerated from.
func (s *Service) WithDirectory(client directory.Client) *Service {
	s.registry = directory.NewRegistry(client)
	return s
}

// WithDiag attaches the remote diagnostic backend probes run against.
func (s *Service) WithDiag(diag directory.Diag) *Service {
	s.diag = diag
	return s
}

// WithOutput attaches a sink for user-facing run commentary.
func (s *Service) WithOutput(out output.Output) *Service {
	s.out = out
	return s
}

// WithConcurrency overrides the per-run target concurrency cap.
func (s *Service) WithConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// WithCallTimeout overrides the per-call probe timeout.
func (s *Service) WithCallTimeout(d time.Duration) *Service {
	if d > 0 {
		s.callTimeout = d
	}
	return s
}

// WithPingTimeout overrides the per-target reachability check timeout.
func (s *Service) WithPingTimeout(d time.Duration) *Service {
	if d > 0 {
		s.pingTimeout = d
	}
	return s
}

// WithClassifier overrides reachability classification (for tests and
// pre-classified fleets).
func (s *Service) WithClassifier(fn func(context.Context, engine.Target) engine.Reachability) *Service {
	s.classify = fn
	return s
}

// Run executes one audit. Probe-level failures are absorbed into sentinel
// results; Run itself fails only on enumeration failure, invalid parameters,
// or a concurrent run.
func (s *Service) Run(ctx context.Context, params Params) (*Result, error) {
	if err := s.checkDeps(); err != nil {
		return nil, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.run(ctx, uuid.New().String(), params)
}

// Start launches Run in the background and returns the run ID immediately.
// The run outlives the caller's context; cancellation of ctx does not stop
// it. Returns ErrRunInProgress while another run holds the guard.
func (s *Service) Start(ctx context.Context, params Params) (string, error) {
	if err := s.checkDeps(); err != nil {
		return "", err
	}
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	runID := uuid.New().String()
	go func() {
		defer s.running.Store(false)
		if _, err := s.run(context.WithoutCancel(ctx), runID, params); err != nil {
			log.Warn().
				Str("component", "audit").
				Str("run_id", runID).
				Err(err).
				Msg("Background audit run failed")
		}
	}()
	return runID, nil
}

func (s *Service) checkDeps() error {
	if s.registry == nil {
		return fmt.Errorf("audit service requires a directory client")
	}
	if s.diag == nil {
		return fmt.Errorf("audit service requires a diagnostic backend")
	}
	return nil
}

func (s *Service) run(ctx context.Context, runID string, params Params) (*Result, error) {
	start := time.Now()
	logger := log.With().Str("component", "audit").Str("run_id", runID).Logger()

	battery, err := s.buildBattery(params)
	if err != nil {
		return nil, err
	}

	s.emitInfo(fmt.Sprintf("Starting audit %s", runID))

	endpoints, err := s.registry.Enumerate(ctx)
	if err != nil {
		s.failProgress(err)
		s.emitError(err)
		return nil, err
	}
	endpoints = filterByDomain(endpoints, params.Domains)
	if len(endpoints) == 0 {
		err := fmt.Errorf("no endpoints to audit")
		s.failProgress(err)
		return nil, err
	}

	targets := make([]engine.Target, len(endpoints))
	domains := make([]string, 0, 4)
	for i, ep := range endpoints {
		targets[i] = engine.Target{Host: ep.Host, Domain: ep.Domain}
		if !slices.Contains(domains, ep.Domain) {
			domains = append(domains, ep.Domain)
		}
	}
	metadata := s.registry.Metadata(ctx, domains)

	// One step per target plus the aggregation/persist step; enumeration is
	// already behind us when the counter starts.
	if s.progress != nil {
		if err := s.progress.Begin(len(targets)+1, fmt.Sprintf("enumerated %d endpoints", len(targets))); err != nil {
			return nil, ErrRunInProgress
		}
	}

	s.createRunMetadata(ctx, runID, domains, start, len(targets), logger)

	agg, err := findings.NewAggregator()
	if err != nil {
		s.failProgress(err)
		return nil, fmt.Errorf("failed to load rule table: %w", err)
	}

	pipeline, err := engine.NewPipeline(battery, s.diag, engine.PipelineConfig{
		Concurrency: firstPositive(params.Concurrency, s.concurrency),
		CallTimeout: firstPositiveDuration(params.CallTimeout, s.callTimeout),
		PingTimeout: s.pingTimeout,
	})
	if err != nil {
		s.failProgress(err)
		return nil, err
	}
	if s.classify != nil {
		pipeline.WithClassifier(s.classify)
	}
	pipeline.WithTargetHook(func(target engine.Target, _ *engine.ProbeRecord) {
		if s.progress != nil {
			s.progress.Advance("probed " + target.Host)
		}
	})

	records, runErr := pipeline.Run(ctx, targets, metadata)

	for _, record := range records {
		agg.Add(record)
	}
	result := &Result{
		RunID:     runID,
		StartTime: start.Format(time.RFC3339),
		EndTime:   time.Now().Format(time.RFC3339),
		Status:    statusFromError(runErr),
		Records:   records,
		Findings:  agg.Findings(),
		Summary:   agg.Summary(),
	}

	s.persist(ctx, runID, result, start, runErr, logger)

	if s.progress != nil {
		if runErr != nil {
			s.progress.Fail(runErr)
		} else {
			s.progress.Finish()
		}
	}

	s.emitSummary(result)
	logger.Info().
		Str("status", result.Status).
		Int("targets", len(records)).
		Int("findings", result.Summary.TotalFindings).
		Msg("Audit run finished")
	return result, runErr
}

func (s *Service) buildBattery(params Params) ([]engine.Probe, error) {
	names := params.Battery
	if len(names) == 0 {
		names = probes.DefaultBattery()
	}
	battery, err := engine.BuildBattery(names, params.ProbeConfigs, params.IncludeTags, params.ExcludeTags)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe battery: %w", err)
	}
	return battery, nil
}

// failProgress surfaces a pre-run fatal error through the publisher so a
// poller sees the failure, not a silent idle state.
func (s *Service) failProgress(err error) {
	if s.progress == nil {
		return
	}
	if beginErr := s.progress.Begin(1, "starting"); beginErr == nil {
		s.progress.Fail(err)
	}
}

// createRunMetadata records the run in storage up front so pollers can list
// it while it is still in flight. Storage trouble is logged, not fatal.
func (s *Service) createRunMetadata(ctx context.Context, runID string, domains []string, start time.Time, targetCount int, logger zerolog.Logger) {
	if s.storage == nil {
		return
	}
	meta := &storage.AuditMetadata{
		ID:          runID,
		Domains:     domains,
		Status:      string(storage.StatusRunning),
		StartedAt:   start.UTC(),
		TargetCount: targetCount,
	}
	if err := s.storage.Audits().Create(ctx, meta); err != nil {
		logger.Warn().Err(err).Msg("Failed to create run metadata")
	}
}

func statusFromError(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

func filterByDomain(endpoints []directory.Endpoint, domains []string) []directory.Endpoint {
	if len(domains) == 0 {
		return endpoints
	}
	out := make([]directory.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if slices.Contains(domains, ep.Domain) {
			out = append(out, ep)
		}
	}
	return out
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositiveDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func (s *Service) emitInfo(msg string) {
	if s.out != nil {
		s.out.Info(msg)
	}
}

func (s *Service) emitError(err error) {
	if s.out != nil {
		s.out.Error(err)
	}
}

func (s *Service) emitSummary(result *Result) {
	if s.out == nil {
		return
	}
	sum := result.Summary
	s.out.Info(fmt.Sprintf("Audited %d endpoints: %d findings, fleet health %.2f%%",
		sum.TotalTargets, sum.TotalFindings, sum.HealthPercent))
	for _, f := range result.Findings {
		s.out.Info(fmt.Sprintf("[%s] %s", f.Severity, f.Message))
	}
}

// persist writes metadata, records, and findings to storage. Persistence
// failures are logged, never fatal to the run that produced the data.
func (s *Service) persist(ctx context.Context, runID string, result *Result, start time.Time, runErr error, logger zerolog.Logger) {
	if s.storage == nil {
		return
	}
	store := s.storage.Audits()

	var records bytes.Buffer
	enc := json.NewEncoder(&records)
	unreachable := 0
	for _, r := range result.Records {
		if r.Reachability == engine.ReachUnreachable {
			unreachable++
		}
		if err := enc.Encode(r); err != nil {
			logger.Warn().Err(err).Msg("Failed to encode probe record")
		}
	}
	if err := store.WriteData(ctx, runID, storage.DataTypeRecords, &records); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist probe records")
	}

	var flines bytes.Buffer
	fenc := json.NewEncoder(&flines)
	for _, f := range result.Findings {
		if err := fenc.Encode(f); err != nil {
			logger.Warn().Err(err).Msg("Failed to encode finding")
		}
	}
	if err := store.WriteData(ctx, runID, storage.DataTypeFindings, &flines); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist findings")
	}

	status := result.Status
	completedAt := time.Now().UTC()
	duration := int(completedAt.Sub(start).Seconds())
	counts := storage.FindingCounts{
		Critical: result.Summary.BySeverity[findings.SeverityCritical],
		High:     result.Summary.BySeverity[findings.SeverityHigh],
		Medium:   result.Summary.BySeverity[findings.SeverityMedium],
		Low:      result.Summary.BySeverity[findings.SeverityLow],
		Info:     result.Summary.BySeverity[findings.SeverityInfo],
	}
	health := result.Summary.HealthPercent
	targetCount := len(result.Records)
	updates := storage.AuditUpdates{
		Status:           &status,
		CompletedAt:      &completedAt,
		Duration:         &duration,
		TargetCount:      &targetCount,
		UnreachableCount: &unreachable,
		FindingCount:     &counts,
		HealthPercent:    &health,
	}
	if runErr != nil {
		msg := runErr.Error()
		updates.ErrorMessage = &msg
	}
	if err := store.Update(ctx, runID, updates); err != nil {
		logger.Warn().Err(err).Msg("Failed to update run metadata")
	}
}
