package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fleetaudit/fleetaudit/pkg/config"
	"github.com/fleetaudit/fleetaudit/pkg/findings"
	"github.com/fleetaudit/fleetaudit/pkg/output"
	"github.com/fleetaudit/fleetaudit/pkg/output/subscribers"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// NewRunsCommand builds the 'runs' command and its subcommands.
func NewRunsCommand(getConfig func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and maintain stored audit runs",
	}
	cmd.AddCommand(newRunsListCommand(getConfig))
	cmd.AddCommand(newRunsShowCommand(getConfig))
	cmd.AddCommand(newRunsGCCommand(getConfig))
	return cmd
}

func newRunsListCommand(getConfig func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored audit runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(cmd, getConfig())
			if err != nil {
				return err
			}
			defer backend.Close() //nolint:errcheck

			filter := storage.AuditFilter{SortBy: "time", SortOrder: "desc"}
			filter.Status, _ = cmd.Flags().GetString("status")
			filter.Domain, _ = cmd.Flags().GetString("domain")
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			audits, err := backend.Audits().List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			out := terminalOutput()
			if len(audits) == 0 {
				out.Info("No stored runs.")
				return nil
			}

			rows := make([][]string, 0, len(audits))
			for _, a := range audits {
				rows = append(rows, []string{
					a.ID,
					a.StartedAt.Local().Format(time.DateTime),
					a.Status,
					strconv.Itoa(a.TargetCount),
					strconv.Itoa(a.FindingCount.Total()),
					strconv.Itoa(a.FindingCount.Critical),
					fmt.Sprintf("%.1f%%", a.HealthPercent),
				})
			}
			out.Table([]string{"ID", "Started", "Status", "Targets", "Findings", "Critical", "Health"}, rows)
			return nil
		},
	}

	cmd.Flags().String("status", "", "Filter by run status (running, completed, failed)")
	cmd.Flags().String("domain", "", "Filter runs covering this domain")
	cmd.Flags().Int("limit", 0, "Maximum number of runs to show (0 = all)")
	return cmd
}

func newRunsShowCommand(getConfig func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored run with its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(cmd, getConfig())
			if err != nil {
				return err
			}
			defer backend.Close() //nolint:errcheck

			meta, err := backend.Audits().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := terminalOutput()
			out.Table([]string{"Field", "Value"}, [][]string{
				{"ID", meta.ID},
				{"Status", meta.Status},
				{"Started", meta.StartedAt.Local().Format(time.DateTime)},
				{"Duration", fmt.Sprintf("%ds", meta.Duration)},
				{"Domains", fmt.Sprintf("%v", meta.Domains)},
				{"Targets", strconv.Itoa(meta.TargetCount)},
				{"Unreachable", strconv.Itoa(meta.UnreachableCount)},
				{"Findings", strconv.Itoa(meta.FindingCount.Total())},
				{"Health", fmt.Sprintf("%.1f%%", meta.HealthPercent)},
			})
			if meta.ErrorMessage != "" {
				out.Info("Error: " + meta.ErrorMessage)
			}

			list, err := readStoredFindings(cmd, backend, meta.ID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				out.Info("No findings recorded.")
				return nil
			}
			out.Info("## Findings")
			for _, f := range list {
				out.Info(fmt.Sprintf("[%s] %s", f.Severity, f.Message))
			}
			return nil
		},
	}
}

func newRunsGCCommand(getConfig func() config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete stored runs violating the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(cmd, getConfig())
			if err != nil {
				return err
			}
			defer backend.Close() //nolint:errcheck

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			result, err := backend.GarbageCollect(cmd.Context(), storage.GCOptions{DryRun: dryRun})
			if err != nil {
				return fmt.Errorf("garbage collection failed: %w", err)
			}

			out := terminalOutput()
			verb := "Deleted"
			if dryRun {
				verb = "Would delete"
			}
			out.Info(fmt.Sprintf("%s %d runs", verb, result.AuditsDeleted))
			for _, id := range result.DeletedAuditIDs {
				out.Info("  " + id)
			}
			for _, gcErr := range result.Errors {
				out.Error(gcErr)
			}
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")
	return cmd
}

func openBackend(cmd *cobra.Command, cfg config.Config) (*storage.LocalBackend, error) {
	backend, err := storage.NewLocalBackend(cmd.Context(), &storage.Config{
		WorkspaceRoot: cfg.Storage.Workspace,
		Retention: storage.RetentionConfig{
			MaxAgeDays: cfg.Storage.Retention.Days,
			MaxAudits:  cfg.Storage.Retention.Max,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if err := backend.Initialize(cmd.Context()); err != nil {
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}
	return backend, nil
}

func readStoredFindings(cmd *cobra.Command, backend storage.Backend, id string) ([]findings.Finding, error) {
	rc, err := backend.Audits().ReadData(cmd.Context(), id, storage.DataTypeFindings)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	var list []findings.Finding
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f findings.Finding
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("failed to parse stored finding: %w", err)
		}
		list = append(list, f)
	}
	return list, scanner.Err()
}

func terminalOutput() output.Output {
	stream := output.NewOutputEventStream()
	color := term.IsTerminal(int(os.Stdout.Fd()))
	stream.Subscribe(subscribers.NewHumanFormatter(os.Stdout, os.Stderr, color))
	return output.NewDefaultOutput(stream)
}
