package commands

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetaudit/fleetaudit/pkg/audit"
	"github.com/fleetaudit/fleetaudit/pkg/config"
	"github.com/fleetaudit/fleetaudit/pkg/diagexec"
	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
	"github.com/fleetaudit/fleetaudit/pkg/server/httpx"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// NewServeCommand builds the 'serve' command.
func NewServeCommand(getConfig func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Serves run history, live progress, and the audit trigger endpoint.
Audits triggered over the API run in-process against the fleet given with
--targets, using the configured collector command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(cmd, getConfig())
		},
	}

	cmd.Flags().StringSlice("targets", nil, "Endpoint FQDNs the server audits on trigger")
	cmd.Flags().String("collector", "", "Diagnostic collector command (required)")
	cmd.Flags().StringSlice("collector-arg", nil, "Extra arguments passed to every collector call")

	return cmd
}

func runServeCommand(cmd *cobra.Command, cfg config.Config) error {
	logger := log.With().Str("command", "serve").Logger()

	targets, _ := cmd.Flags().GetStringSlice("targets")
	fleet, err := fleetFromTargets(targets)
	if err != nil {
		return err
	}

	collectorCmd, _ := cmd.Flags().GetString("collector")
	if collectorCmd == "" {
		return fmt.Errorf("--collector is required")
	}
	collectorArgs, _ := cmd.Flags().GetStringSlice("collector-arg")
	diag, err := diagexec.New(collectorCmd, collectorArgs...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.NewLocalBackend(ctx, &storage.Config{
		WorkspaceRoot: cfg.Storage.Workspace,
		Retention: storage.RetentionConfig{
			MaxAgeDays: cfg.Storage.Retention.Days,
			MaxAudits:  cfg.Storage.Retention.Max,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := backend.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close storage backend")
		}
	}()

	pub := progress.NewPublisher()
	store, err := progress.NewFileStore(filepath.Join(cfg.Storage.Workspace, "progress", "current.json"))
	if err != nil {
		return fmt.Errorf("failed to create progress store: %w", err)
	}
	pub.Subscribe(store.Write)

	svc := audit.NewService().
		WithStorage(backend).
		WithDirectory(directory.NewStaticClient(fleet)).
		WithDiag(diag).
		WithProgress(pub).
		WithConcurrency(cfg.Audit.Concurrency).
		WithCallTimeout(cfg.Audit.Timeout).
		WithPingTimeout(cfg.Audit.PingTimeout)

	apiCfg := api.DefaultConfig()
	if cfg.Audit.StepEstimate > 0 {
		apiCfg.EstimateStep = cfg.Audit.StepEstimate
	}

	deps := &api.Deps{
		Storage:       backend,
		Progress:      pub,
		ProgressStore: store,
		Trigger:       svc.Start,
		Config:        apiCfg,
		Ready:         &atomic.Bool{},
	}

	srv := httpx.NewServer(cfg.Server, deps)
	logger.Info().
		Str("addr", srv.Addr()).
		Int("domains", len(fleet)).
		Msg("Starting fleet audit server")
	return srv.Run(ctx)
}
