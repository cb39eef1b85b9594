package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fleetaudit/fleetaudit/pkg/audit"
	"github.com/fleetaudit/fleetaudit/pkg/config"
	"github.com/fleetaudit/fleetaudit/pkg/diagexec"
	"github.com/fleetaudit/fleetaudit/pkg/directory"
	"github.com/fleetaudit/fleetaudit/pkg/findings"
	"github.com/fleetaudit/fleetaudit/pkg/output"
	"github.com/fleetaudit/fleetaudit/pkg/output/subscribers"
	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// detachedEnv marks a re-executed detached worker process.
const detachedEnv = "FLEETAUDIT_DETACHED"

// NewAuditCommand builds the 'audit' command.
func NewAuditCommand(getConfig func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [targets...]",
		Short: "Run the diagnostic battery against the fleet",
		Long: `Enumerates the fleet, classifies each endpoint's reachability, runs the
probe battery, and reports severity-classified findings.

Targets are fully qualified endpoint names; the domain is everything after
the first label. Use --domain to restrict a larger fleet to some domains.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditCommand(cmd, args, getConfig())
		},
	}

	cmd.Flags().StringSlice("targets", nil, "Endpoint FQDNs to audit (repeatable, also positional)")
	cmd.Flags().StringSlice("domain", nil, "Restrict the run to these domains")
	cmd.Flags().StringSlice("battery", nil, "Probe names to run (default: full battery)")
	cmd.Flags().StringSlice("include", nil, "Only run probes carrying one of these tags")
	cmd.Flags().StringSlice("exclude", nil, "Skip probes carrying one of these tags")
	cmd.Flags().String("collector", "", "Diagnostic collector command (required)")
	cmd.Flags().StringSlice("collector-arg", nil, "Extra arguments passed to every collector call")
	cmd.Flags().String("format", "text", "Output format: text or json")
	cmd.Flags().Bool("no-storage", false, "Do not persist the run")
	cmd.Flags().Bool("detach", false, "Run in a detached worker; poll progress via the API or state file")
	cmd.Flags().String("progress-file", "", "Progress state file path (default: <workspace>/progress/current.json)")

	return cmd
}

func runAuditCommand(cmd *cobra.Command, args []string, cfg config.Config) error {
	logger := log.With().Str("command", "audit").Logger()

	targetFlags, _ := cmd.Flags().GetStringSlice("targets")
	allTargets := make([]string, 0, len(targetFlags)+len(args))
	allTargets = append(allTargets, targetFlags...)
	allTargets = append(allTargets, args...)
	if len(allTargets) == 0 {
		return fmt.Errorf("no targets given")
	}

	fleet, err := fleetFromTargets(allTargets)
	if err != nil {
		return err
	}

	detach, _ := cmd.Flags().GetBool("detach")
	if detach && os.Getenv(detachedEnv) == "" {
		return detachWorker(cfg, logger)
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

	formatName, _ := cmd.Flags().GetString("format")
	stream := output.NewOutputEventStream()
	switch strings.ToLower(formatName) {
	case "text":
		color := term.IsTerminal(int(os.Stdout.Fd()))
		stream.Subscribe(subscribers.NewHumanFormatter(os.Stdout, os.Stderr, color))
	case "json":
		stream.Subscribe(subscribers.NewJSONFormatter(os.Stdout))
	default:
		return fmt.Errorf("unknown output format %q", formatName)
	}
	out := output.NewDefaultOutput(stream)

	pub := progress.NewPublisher()
	store, err := progress.NewFileStore(progressFilePath(cmd, cfg))
	if err != nil {
		logger.Warn().Err(err).Msg("Progress state file unavailable, pollers will not see this run")
	} else {
		pub.Subscribe(store.Write)
	}

	svc := audit.NewService().
		WithDirectory(directory.NewStaticClient(fleet)).
		WithDiag(diag).
		WithProgress(pub).
		WithOutput(out).
		WithConcurrency(cfg.Audit.Concurrency).
		WithCallTimeout(cfg.Audit.Timeout).
		WithPingTimeout(cfg.Audit.PingTimeout)

	noStorage, _ := cmd.Flags().GetBool("no-storage")
	if !noStorage {
		backend, err := storage.NewLocalBackend(cmd.Context(), &storage.Config{
			WorkspaceRoot: cfg.Storage.Workspace,
			Retention: storage.RetentionConfig{
				MaxAgeDays: cfg.Storage.Retention.Days,
				MaxAudits:  cfg.Storage.Retention.Max,
			},
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create storage backend, run will not be persisted")
		} else if err := backend.Initialize(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize storage, run will not be persisted")
		} else {
			svc = svc.WithStorage(backend)
			defer func() {
				if err := backend.Close(); err != nil {
					logger.Warn().Err(err).Msg("Failed to close storage backend")
				}
			}()
		}
	}

	params := audit.Params{
		Concurrency: cfg.Audit.Concurrency,
		CallTimeout: cfg.Audit.Timeout,
	}
	params.Domains, _ = cmd.Flags().GetStringSlice("domain")
	params.Battery, _ = cmd.Flags().GetStringSlice("battery")
	if len(params.Battery) == 0 {
		params.Battery = cfg.Audit.Battery
	}
	params.IncludeTags, _ = cmd.Flags().GetStringSlice("include")
	if len(params.IncludeTags) == 0 {
		params.IncludeTags = cfg.Audit.IncludeTags
	}
	params.ExcludeTags, _ = cmd.Flags().GetStringSlice("exclude")
	if len(params.ExcludeTags) == 0 {
		params.ExcludeTags = cfg.Audit.ExcludeTags
	}

	result, runErr := svc.Run(cmd.Context(), params)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Audit run failed")
		return runErr
	}

	if strings.ToLower(formatName) == "json" {
		return printResultJSON(result)
	}
	renderResultTables(out, result)
	return nil
}

// fleetFromTargets groups endpoint FQDNs by domain (everything after the
// first label).
func fleetFromTargets(targets []string) (map[string][]string, error) {
	fleet := make(map[string][]string)
	for _, t := range targets {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" {
			continue
		}
		_, domain, ok := strings.Cut(t, ".")
		if !ok || domain == "" {
			return nil, fmt.Errorf("target %q must be a fully qualified endpoint name", t)
		}
		if !slices.Contains(fleet[domain], t) {
			fleet[domain] = append(fleet[domain], t)
		}
	}
	if len(fleet) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	return fleet, nil
}

// detachWorker re-executes this invocation in the background with the
// detached marker set, leaving the progress state file as the handle.
func detachWorker(cfg config.Config, logger zerolog.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate executable for detached run: %w", err)
	}

	logDir := filepath.Join(cfg.Storage.Workspace, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, "worker.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open worker log: %w", err)
	}
	defer logFile.Close()

	worker := exec.Command(exe, os.Args[1:]...)
	worker.Env = append(os.Environ(), detachedEnv+"=1")
	worker.Stdout = logFile
	worker.Stderr = logFile
	if err := worker.Start(); err != nil {
		return fmt.Errorf("failed to start detached worker: %w", err)
	}
	pid := worker.Process.Pid
	if err := worker.Process.Release(); err != nil {
		logger.Warn().Err(err).Msg("Failed to release detached worker handle")
	}

	fmt.Printf("Audit running detached (pid %d). Poll progress via the API or %s\n",
		pid, filepath.Join(cfg.Storage.Workspace, "progress", "current.json"))
	return nil
}

func progressFilePath(cmd *cobra.Command, cfg config.Config) string {
	if path, _ := cmd.Flags().GetString("progress-file"); path != "" {
		return path
	}
	return filepath.Join(cfg.Storage.Workspace, "progress", "current.json")
}

func printResultJSON(result *audit.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// renderResultTables prints the per-target probe table and the findings.
func renderResultTables(out output.Output, result *audit.Result) {
	fieldSet := make(map[string]struct{})
	for _, record := range result.Records {
		for field := range record.Fields {
			fieldSet[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	headers := append([]string{"Target", "State"}, fields...)
	rows := make([][]string, 0, len(result.Records))
	for _, record := range result.Records {
		row := []string{record.Target.Host, record.Reachability.String()}
		for _, f := range fields {
			row = append(row, record.Get(f).String())
		}
		rows = append(rows, row)
	}
	out.Table(headers, rows)

	if len(result.Findings) == 0 {
		out.Info("No findings. Fleet is healthy.")
	} else {
		out.Info("## Findings")
		for _, f := range result.Findings {
			out.Info(fmt.Sprintf("[%s] %s", f.Severity, f.Message))
		}
	}

	sum := result.Summary
	out.Info(fmt.Sprintf("Audited %d endpoints, %d findings (%d critical), fleet health %.2f%%",
		sum.TotalTargets, sum.TotalFindings, sum.BySeverity[findings.SeverityCritical], sum.HealthPercent))
}
