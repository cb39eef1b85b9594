package config

import "time"

// Config is the root application configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Server  ServerConfig  `koanf:"server"`
	Audit   AuditConfig   `koanf:"audit"`
	Storage StorageConfig `koanf:"storage"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "text" (console) or "json".
	Format string `koanf:"format"`

	// File is an optional log file path; empty logs to stderr.
	File string `koanf:"file"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	Port int    `koanf:"port"`

	// APIEnabled mounts the /api/v1 routes.
	APIEnabled bool `koanf:"api"`

	ReadTimeout     time.Duration `koanf:"readtimeout"`
	WriteTimeout    time.Duration `koanf:"writetimeout"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// AuditConfig controls audit run behavior.
type AuditConfig struct {
	// Concurrency caps how many targets are probed in parallel.
	Concurrency int `koanf:"concurrency"`

	// Timeout bounds every individual remote diagnostic call.
	Timeout time.Duration `koanf:"timeout"`

	// PingTimeout bounds the single reachability check per target.
	PingTimeout time.Duration `koanf:"pingtimeout"`

	// StepEstimate is the assumed per-step duration used to project the
	// progress of a detached worker between its state writes.
	StepEstimate time.Duration `koanf:"stepestimate"`

	// Battery overrides the default probe set when non-empty.
	Battery []string `koanf:"battery"`

	IncludeTags []string `koanf:"include"`
	ExcludeTags []string `koanf:"exclude"`
}

// StorageConfig controls the local results workspace.
type StorageConfig struct {
	// Workspace is the root directory holding audit runs and progress state.
	Workspace string `koanf:"workspace"`

	Retention RetentionConfig `koanf:"retention"`
}

// RetentionConfig controls garbage collection of old runs.
type RetentionConfig struct {
	// Days removes runs older than this many days. Zero disables.
	Days int `koanf:"days"`

	// Max caps the number of retained runs. Zero disables.
	Max int `koanf:"max"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1",
		Port:            8460,
		APIEnabled:      true,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}
