package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goswarm.json5")
	content := `{
  // comments are fine in JSON5
  entry_agent: "coordinator",
  profiles_path: "agents.yaml",
  provider: { name: "openai", model: "gpt-4o-mini" },
  loop: { max_iterations: 10 },
  store: { driver: "sqlite", path: "test.db" },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EntryAgent != "coordinator" {
		t.Errorf("EntryAgent = %q, want %q", cfg.EntryAgent, "coordinator")
	}
	if cfg.Provider.Model != "gpt-4o-mini" {
		t.Errorf("Provider.Model = %q, want %q", cfg.Provider.Model, "gpt-4o-mini")
	}
	if cfg.Loop.MaxIterations != 10 {
		t.Errorf("Loop.MaxIterations = %d, want 10", cfg.Loop.MaxIterations)
	}
	// Relative profiles path resolves against the config file's directory.
	if want := filepath.Join(dir, "agents.yaml"); cfg.ProfilesPath != want {
		t.Errorf("ProfilesPath = %q, want %q", cfg.ProfilesPath, want)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goswarm.json5")
	if err := os.WriteFile(path, []byte(`{ store: { driver: "sqlite", path: "x.db" } }`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GOSWARM_API_KEY", "sk-from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("Provider.APIKey = %q, want env value", cfg.Provider.APIKey)
	}
}

func TestValidateRejectsBadStore(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() error = nil, want error for postgres without dsn")
	}

	cfg = Default()
	cfg.Store.Driver = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() error = nil, want error for unknown driver")
	}
}
