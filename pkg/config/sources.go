package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix namespaces environment variables: FLEETAUDIT_LOG_LEVEL -> log.level.
const envPrefix = "FLEETAUDIT_"

// ConfigSource is one layer of the configuration stack. Sources are loaded
// in ascending Priority order; later loads override earlier values.
type ConfigSource interface {
	Name() string
	Priority() int
	Load(k *koanf.Koanf) error
}

// DefaultSources builds the standard source stack:
// defaults < config file < environment < flags (< debug override).
func DefaultSources(configFilePath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	sources := []ConfigSource{
		&defaultsSource{},
		&fileSource{path: configFilePath},
		&envSource{},
	}
	if flags != nil {
		sources = append(sources, &flagSource{flags: flags})
	}
	if debug {
		sources = append(sources, &debugSource{})
	}
	return sources
}

type defaultsSource struct{}

func (s *defaultsSource) Name() string  { return "defaults" }
func (s *defaultsSource) Priority() int { return 10 }

func (s *defaultsSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil)
}

// fileSource loads YAML configuration. When no explicit path is given, it
// probes the default locations and silently skips missing files; an explicit
// path that does not exist is an error.
type fileSource struct {
	path string
}

func (s *fileSource) Name() string  { return "file" }
func (s *fileSource) Priority() int { return 20 }

func (s *fileSource) Load(k *koanf.Koanf) error {
	path := s.path
	explicit := path != ""
	if !explicit {
		path = findDefaultConfigFile()
		if path == "" {
			return nil
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

func findDefaultConfigFile() string {
	candidates := []string{"fleetaudit.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "fleetaudit", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

type envSource struct{}

func (s *envSource) Name() string  { return "env" }
func (s *envSource) Priority() int { return 30 }

func (s *envSource) Load(k *koanf.Koanf) error {
	return k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".")
	}), nil)
}

type flagSource struct {
	flags *pflag.FlagSet
}

func (s *flagSource) Name() string  { return "flags" }
func (s *flagSource) Priority() int { return 40 }

func (s *flagSource) Load(k *koanf.Koanf) error {
	return k.Load(posflag.Provider(s.flags, ".", k), nil)
}

// debugSource forces debug-level logging regardless of other sources.
type debugSource struct{}

func (s *debugSource) Name() string  { return "debug" }
func (s *debugSource) Priority() int { return 50 }

func (s *debugSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(map[string]any{"log.level": "debug"}, "."), nil)
}
