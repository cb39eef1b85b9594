// Package config layers application configuration from defaults, an optional
// YAML file, FLEETAUDIT_-prefixed environment variables, and command-line
// flags, in that precedence order (flags win).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Global koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global koanf instance. Called early in
// the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a Manager bound to the global koanf instance.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{koanfInstance: k}
}

// DefaultConfig returns the baseline configuration used when no other
// source overrides a value.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Server: DefaultServerConfig(),
		Audit: AuditConfig{
			Concurrency:  4,
			Timeout:      10 * time.Second,
			PingTimeout:  3 * time.Second,
			StepEstimate: 5 * time.Second,
		},
		Storage: StorageConfig{
			Workspace: defaultWorkspace(),
			Retention: RetentionConfig{
				Days: 30,
				Max:  100,
			},
		},
	}
}

// Load loads configuration from the default source stack.
//
// Precedence (highest to lowest):
//  1. Command-line flags (--log.level=debug)
//  2. Environment variables (FLEETAUDIT_LOG_LEVEL=debug)
//  3. Config file (YAML)
//  4. Default values
func (m *Manager) Load(flags *pflag.FlagSet, customConfigFilePath string) error {
	debug := false
	if flags != nil {
		if debugFlag := flags.Lookup("debug"); debugFlag != nil && debugFlag.Value.String() == "true" {
			debug = true
		}
	}
	return m.LoadWithSources(DefaultSources(customConfigFilePath, flags, debug))
}

// LoadWithSources loads configuration from the provided sources in ascending
// priority order, then unmarshals the merged result.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})

	for _, src := range sources {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("error loading config from %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentConfig
}

// GetValue retrieves a raw configuration value by key path, e.g.
// GetValue("audit.concurrency"). Returns nil if the key doesn't exist.
func (m *Manager) GetValue(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance.Get(key)
}

// DefaultConfigAsMap flattens DefaultConfig for koanf's confmap provider so
// every known key exists before higher-priority sources are applied.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		"server.addr":            def.Server.Addr,
		"server.port":            def.Server.Port,
		"server.api":             def.Server.APIEnabled,
		"server.readtimeout":     def.Server.ReadTimeout,
		"server.writetimeout":    def.Server.WriteTimeout,
		"server.shutdowntimeout": def.Server.ShutdownTimeout,

		"audit.concurrency":  def.Audit.Concurrency,
		"audit.timeout":      def.Audit.Timeout,
		"audit.pingtimeout":  def.Audit.PingTimeout,
		"audit.stepestimate": def.Audit.StepEstimate,
		"audit.battery":      def.Audit.Battery,
		"audit.include":      def.Audit.IncludeTags,
		"audit.exclude":      def.Audit.ExcludeTags,

		"storage.workspace":      def.Storage.Workspace,
		"storage.retention.days": def.Storage.Retention.Days,
		"storage.retention.max":  def.Storage.Retention.Max,
	}
}

func defaultWorkspace() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fleetaudit"
	}
	return filepath.Join(home, ".fleetaudit")
}

// BindFlags defines command-line flags that override config file and
// environment variable settings. Called when setting up Cobra commands.
func BindFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()

	flags.String("log.level", defaults.Log.Level, "Log level (debug, info, warn, error)")
	flags.String("log.format", defaults.Log.Format, "Log format (text, json)")
	flags.String("server.addr", defaults.Server.Addr, "Server listen address")
	flags.Int("server.port", defaults.Server.Port, "Server listen port")
	flags.Int("audit.concurrency", defaults.Audit.Concurrency, "Concurrent targets per audit run")
	flags.Duration("audit.timeout", defaults.Audit.Timeout, "Timeout per remote diagnostic call")
	flags.String("storage.workspace", defaults.Storage.Workspace, "Workspace directory for audit results")

	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")
}
