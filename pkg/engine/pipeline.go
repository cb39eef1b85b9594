package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fleetaudit/fleetaudit/pkg/directory"
)

// PipelineConfig holds the pipeline's concurrency and timing limits.
type PipelineConfig struct {
	// Concurrency caps how many targets are probed at once. Suspension only
	// ever happens inside the bounded executor, so this cap is about load on
	// the operator's own host, not correctness.
	Concurrency int

	// CallTimeout bounds every individual blocking remote call.
	CallTimeout time.Duration

	// PingTimeout bounds the reachability check per target. Zero keeps the
	// classifier default.
	PingTimeout time.Duration
}

// DefaultPipelineConfig returns the pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Concurrency: 4,
		CallTimeout: 10 * time.Second,
	}
}

// TargetHook is invoked after each target's record completes. Hooks run from
// worker goroutines; implementations must be safe for concurrent use.
type TargetHook func(Target, *ProbeRecord)

// Pipeline runs the fixed, ordered probe battery against each target. Each
// probe is isolated inside a soft-fail adapter so one probe's failure cannot
// corrupt or abort its siblings; only the reachability determination is a
// hard gate.
type Pipeline struct {
	battery    []Probe
	diag       directory.Diag
	cfg        PipelineConfig
	classify   func(context.Context, Target) Reachability
	targetDone TargetHook
	logger     zerolog.Logger
}

// NewPipeline creates a Pipeline over the given battery and diagnostic
// backend. The classifier defaults to a network classifier with default
// limits.
func NewPipeline(battery []Probe, diag directory.Diag, cfg PipelineConfig) (*Pipeline, error) {
	if len(battery) == 0 {
		return nil, fmt.Errorf("pipeline requires a non-empty probe battery")
	}
	if diag == nil {
		return nil, fmt.Errorf("pipeline requires a diagnostic backend")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultPipelineConfig().CallTimeout
	}

	classifier := NewClassifier(classifierConfigFor(cfg))
	return &Pipeline{
		battery:  battery,
		diag:     diag,
		cfg:      cfg,
		classify: classifier.Classify,
		logger:   log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// classifierConfigFor derives the classifier configuration from the pipeline
// configuration, keeping classifier defaults for anything unset.
func classifierConfigFor(cfg PipelineConfig) ClassifierConfig {
	c := DefaultClassifierConfig()
	if cfg.PingTimeout > 0 {
		c.PingTimeout = cfg.PingTimeout
	}
	return c
}

// WithClassifier overrides reachability classification (useful for tests and
// for pre-classified fleets).
func (p *Pipeline) WithClassifier(fn func(context.Context, Target) Reachability) *Pipeline {
	p.classify = fn
	return p
}

// WithTargetHook attaches a hook invoked as each target's record completes.
func (p *Pipeline) WithTargetHook(hook TargetHook) *Pipeline {
	p.targetDone = hook
	return p
}

// Battery returns the ordered probe battery.
func (p *Pipeline) Battery() []Probe { return p.battery }

// Run probes every target and returns one completed record per target, in
// input order. Probe-level failures are absorbed into sentinel results; Run
// itself fails only on context cancellation.
func (p *Pipeline) Run(ctx context.Context, targets []Target, metadata map[string]*directory.DomainInfo) ([]*ProbeRecord, error) {
	records := make([]*ProbeRecord, len(targets))
	fields := FieldsOf(p.battery)

	p.logger.Info().
		Int("targets", len(targets)).
		Int("probes", len(p.battery)).
		Int("concurrency", p.cfg.Concurrency).
		Msg("Starting probe pipeline")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			record := p.probeTarget(gctx, target, fields, metadata[target.Domain])
			records[i] = record
			if p.targetDone != nil {
				p.targetDone(target, record)
			}
			return nil
		})
	}

	err := g.Wait()

	// A canceled run still returns well-formed records: seed sentinels for
	// any target the pool never reached.
	for i, target := range targets {
		if records[i] == nil {
			records[i] = NewProbeRecord(target, fields)
			records[i].CompletedAt = time.Now().UTC()
		}
	}

	p.logger.Info().Int("records", len(records)).Msg("Probe pipeline finished")
	return records, err
}

// probeTarget classifies one target and runs the battery against it.
func (p *Pipeline) probeTarget(ctx context.Context, target Target, fields []string, info *directory.DomainInfo) *ProbeRecord {
	logger := p.logger.With().Str("target", target.Host).Logger()
	record := NewProbeRecord(target, fields)

	record.Reachability = p.classify(ctx, target)
	logger.Debug().Str("reachability", record.Reachability.String()).Msg("Target classified")

	// A non-local unreachable target short-circuits the rest of the battery:
	// every dependent field becomes the Unreachable sentinel without a single
	// remote call being issued.
	if record.Reachability == ReachUnreachable {
		record.MarkUnreachable()
		record.CompletedAt = time.Now().UTC()
		logger.Info().Msg("Target unreachable; probe battery skipped")
		return record
	}

	ec := ExecContext{
		Diag:        p.diag,
		CallTimeout: p.cfg.CallTimeout,
		DomainInfo:  info,
	}

	for _, probe := range p.battery {
		p.runProbe(ctx, probe, ec, target, record)
	}

	record.CompletedAt = time.Now().UTC()
	logger.Info().
		Dur("elapsed", record.CompletedAt.Sub(record.StartedAt)).
		Msg("Target probing completed")
	return record
}

// runProbe is the uniform soft-fail adapter: a panic inside a probe becomes
// an Error sentinel on that probe's fields, and sibling probes always run.
func (p *Pipeline) runProbe(ctx context.Context, probe Probe, ec ExecContext, target Target, record *ProbeRecord) {
	meta := probe.Metadata()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("probe panicked: %v", r)
			p.logger.Error().Str("probe", meta.Name).Str("target", target.Host).Err(err).Msg("Probe failure absorbed")
			for _, field := range meta.Fields {
				if record.Get(field).Kind == ResultUnknown {
					record.Set(field, ErrorResult(err))
				}
			}
		}
	}()

	start := time.Now()
	probe.Run(ctx, ec, target, record)
	p.logger.Debug().
		Str("probe", meta.Name).
		Str("target", target.Host).
		Dur("elapsed", time.Since(start)).
		Msg("Probe executed")
}

// BatteryNames returns the registered probe names sorted alphabetically, for
// discovery output.
func BatteryNames() []string {
	factories := RegisteredProbeFactories()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
