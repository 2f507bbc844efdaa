// Package config loads the engine's run configuration: a yaml file on
// disk, overridden by a small number of environment variables.
//
// Grounded directly on the teacher's internal/config/config.go
// (DefaultConfig, Load/LoadWithEnv, XDG path resolution), generalized
// from a Linear-sync API client's settings to the engine's build
// options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DebugFlag names one of the engine's independent debug channels,
// combined as a bitmask in Config.DebugFlags.
type DebugFlag uint32

const (
	DebugQueue DebugFlag = 1 << iota
	DebugJournal
	DebugScan
	DebugReason
)

// Config holds every engine run option: hashing table sizes, debug
// channels, concurrency, and persisted-state paths, plus logging
// settings in the teacher's style.
type Config struct {
	FileHashSize     int       `yaml:"file_hash_size"`
	RelationHashSize int       `yaml:"relation_hash_size"`
	DebugFlags       DebugFlag `yaml:"debug_flags"`
	Verbosity        int       `yaml:"verbosity"`
	ThreadCount      int       `yaml:"thread_count"`
	DryRun           bool      `yaml:"dry_run"`
	ContinueOnError  bool      `yaml:"continue_on_error"`
	UseDigestSigning bool      `yaml:"use_digest_signing"`
	DebugSigning     bool      `yaml:"debug_signing"`

	JournalPath  string `yaml:"journal_path"`
	RelCachePath string `yaml:"relcache_path"`

	Log LogConfig `yaml:"log"`
}

// LogConfig holds the log level and file read from the config file.
// No package in this module reads these settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the engine's defaults before any file or
// environment override is applied.
func DefaultConfig() *Config {
	return &Config{
		FileHashSize:     65536,
		RelationHashSize: 65536,
		Verbosity:        1,
		ThreadCount:      4,
		JournalPath:      ".tundra/journal.db",
		RelCachePath:     ".tundra/relcache.db",
		Log:              LogConfig{Level: "info"},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment
// lookup function, so tests can supply isolated values instead of the
// real process environment.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	if debug := getenv("TUNDRA_DEBUG"); debug != "" {
		flags, err := parseDebugFlags(debug)
		if err != nil {
			return nil, fmt.Errorf("parse TUNDRA_DEBUG: %w", err)
		}
		cfg.DebugFlags = flags
	}
	if threads := getenv("TUNDRA_THREADS"); threads != "" {
		n, err := strconv.Atoi(threads)
		if err != nil {
			return nil, fmt.Errorf("parse TUNDRA_THREADS: %w", err)
		}
		cfg.ThreadCount = n
	}

	return cfg, nil
}

func parseDebugFlags(spec string) (DebugFlag, error) {
	names := map[string]DebugFlag{
		"queue":   DebugQueue,
		"journal": DebugJournal,
		"scan":    DebugScan,
		"reason":  DebugReason,
	}
	var out DebugFlag
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i == len(spec) || spec[i] == ',' {
			if i > start {
				name := spec[start:i]
				flag, ok := names[name]
				if !ok {
					return 0, fmt.Errorf("unknown debug flag %q", name)
				}
				out |= flag
			}
			start = i + 1
		}
	}
	return out, nil
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tundra", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tundra", "config.yaml")
}
