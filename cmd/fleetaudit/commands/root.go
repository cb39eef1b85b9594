// Package commands defines the fleetaudit CLI.
package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetaudit/fleetaudit/pkg/config"
	// Register the full probe battery.
	_ "github.com/fleetaudit/fleetaudit/pkg/probes"
)

const cliExecutable = "fleetaudit"

// NewCommand constructs the top-level fleetaudit CLI command, wiring global
// flags and configuration loading.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		verbosityCount int
		verbose        bool
		manager        *config.Manager
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "fleetaudit audits the health of a directory-service fleet",
		Long: `fleetaudit enumerates the directory-service endpoints of one or more
domains, runs a battery of diagnostic probes against each, and reports
severity-classified findings.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			manager = config.NewManager()
			if err := manager.Load(cmd.Flags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := manager.Get()

			// Explicit --verbose shows debug and above. Otherwise the -v
			// count decides: 0 follows config, 1 info, 2+ debug.
			switch {
			case verbose:
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			case verbosityCount == 1:
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			case verbosityCount >= 2:
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			default:
				if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
					zerolog.SetGlobalLevel(level)
				}
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewAuditCommand(func() config.Config { return managerConfig(manager) }))
	cmd.AddCommand(NewServeCommand(func() config.Config { return managerConfig(manager) }))
	cmd.AddCommand(NewRunsCommand(func() config.Config { return managerConfig(manager) }))

	return cmd
}

// managerConfig tolerates a nil manager so subcommands constructed before
// PersistentPreRunE still resolve defaults.
func managerConfig(m *config.Manager) config.Config {
	if m == nil {
		return config.DefaultConfig()
	}
	return m.Get()
}
