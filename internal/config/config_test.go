package config

import (
	"os"
	"path/filepath"
	"testing"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.ThreadCount != 4 {
		t.Errorf("DefaultConfig() ThreadCount = %d, want 4", cfg.ThreadCount)
	}
	if cfg.FileHashSize != 65536 {
		t.Errorf("DefaultConfig() FileHashSize = %d, want 65536", cfg.FileHashSize)
	}
	if cfg.DryRun || cfg.ContinueOnError || cfg.UseDigestSigning {
		t.Error("DefaultConfig() boolean options should all default to false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tundra")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
thread_count: 8
dry_run: true
continue_on_error: true
log:
  level: debug
  file: /var/log/tundra.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.ThreadCount != 8 {
		t.Errorf("LoadWithEnv() ThreadCount = %d, want 8", cfg.ThreadCount)
	}
	if !cfg.DryRun || !cfg.ContinueOnError {
		t.Error("LoadWithEnv() did not apply boolean overrides from file")
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/var/log/tundra.log" {
		t.Errorf("LoadWithEnv() Log = %+v, want debug/tundra.log", cfg.Log)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tundra")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("thread_count: 2\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
		"TUNDRA_THREADS":  "16",
		"TUNDRA_DEBUG":    "queue,reason",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.ThreadCount != 16 {
		t.Errorf("LoadWithEnv() ThreadCount = %d, want 16 (env override)", cfg.ThreadCount)
	}
	if cfg.DebugFlags != DebugQueue|DebugReason {
		t.Errorf("LoadWithEnv() DebugFlags = %v, want DebugQueue|DebugReason", cfg.DebugFlags)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.ThreadCount != 4 {
		t.Errorf("LoadWithEnv() without a file should use the default ThreadCount, got %d", cfg.ThreadCount)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tundra")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("thread_count: [this is invalid\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})
	if _, err := LoadWithEnv(env); err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return an error")
	}
}

func TestLoadInvalidDebugFlag(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": t.TempDir(),
		"TUNDRA_DEBUG":    "bogus",
	})
	if _, err := LoadWithEnv(env); err == nil {
		t.Error("LoadWithEnv() with an unknown debug flag name should return an error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": "/custom/config/path"})
	path := getConfigPathWithEnv(env)
	expected := filepath.Join("/custom/config/path", "tundra", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})
	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "tundra", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}
