package copilot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("DC_TEST_SET", "value")
	t.Setenv("DC_TEST_EMPTY", "")
	os.Unsetenv("DC_TEST_UNSET")

	tests := []struct {
		in, want string
	}{
		{"key: ${DC_TEST_SET}", "key: value"},
		{"key: $DC_TEST_SET", "key: value"},
		{"key: ${DC_TEST_UNSET}", "key: ${DC_TEST_UNSET}"},
		{"key: $DC_TEST_UNSET", "key: $DC_TEST_UNSET"},
		{"key: ${DC_TEST_UNSET:-fallback}", "key: fallback"},
		{"key: ${DC_TEST_EMPTY:-fallback}", "key: fallback"},
		{"key: ${DC_TEST_SET:-fallback}", "key: value"},
		{"price: $5", "price: $5"},
	}
	for _, tt := range tests {
		got, err := expandEnvVars(tt.in)
		if err != nil {
			t.Errorf("expandEnvVars(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	_, err := expandEnvVars("a: ${DC_TEST_UNSET:?set it}\nb: ${DC_TEST_EMPTY:?}")
	if err == nil || !strings.Contains(err.Error(), "DC_TEST_UNSET: set it") || !strings.Contains(err.Error(), "DC_TEST_EMPTY") {
		t.Errorf("required vars error = %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("CLAUDE_MODEL", "")
	t.Setenv("DC_TEST_ZONE", "America/New_York")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
name: Jarvis
timezone: ${DC_TEST_ZONE}
api:
  api_key: ${ANTHROPIC_API_KEY}
history:
  max_entries: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Name != "Jarvis" || cfg.Timezone != "America/New_York" || cfg.History.MaxEntries != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.API.APIKey != "sk-ant-from-env" {
		t.Errorf("api key = %q", cfg.API.APIKey)
	}
	// Unset fields keep their defaults.
	if cfg.Model != DefaultConfig().Model || cfg.Agent.MaxTurns != DefaultMaxTurns {
		t.Errorf("defaults lost: model %q, max turns %d", cfg.Model, cfg.Agent.MaxTurns)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Errorf("Location = %s", cfg.Location())
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Name = " "
	cfg.Timezone = "Nowhere/Special"
	cfg.Logging.Format = "xml"
	cfg.History.MaxEntries = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"name", "timezone", "logging.format", "history.max_entries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if cfg.Location().String() != "UTC" {
		t.Errorf("invalid zone should fall back to UTC, got %s", cfg.Location())
	}
}

func TestSaveConfigToFileHidesEnvSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-secret")

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-ant-secret"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-ant-secret") {
		t.Error("secret written to disk")
	}
	if !strings.Contains(string(data), "${ANTHROPIC_API_KEY}") {
		t.Errorf("env reference missing:\n%s", data)
	}
	info, _ := os.Stat(path)
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o", perm)
	}
	if cfg.API.APIKey != "sk-ant-secret" {
		t.Error("SaveConfigToFile modified the caller's config")
	}
}
