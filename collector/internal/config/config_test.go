package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "collector.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "collector: {}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := cfg.Collector
	if c.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", c.HTTPPort, DefaultHTTPPort)
	}
	if c.RecordTTL != DefaultRecordTTL {
		t.Errorf("record_ttl: got %v, want %v", c.RecordTTL, DefaultRecordTTL)
	}
	if len(c.GameVersions) != 0 {
		t.Errorf("game_versions: got %v, want empty", c.GameVersions)
	}
	if c.Auth.EffectiveHeader() != DefaultHeader {
		t.Errorf("header: got %q", c.Auth.EffectiveHeader())
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `
collector:
  http_port: 9090
  record_ttl: 10m
  game_versions: [gv-1, gv-2]
  auth:
    mode: apikey
    key_env: RM_COLLECTOR_KEY
    header: X-RM-Key
`)
	t.Setenv("RM_COLLECTOR_KEY", "s3cret")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := cfg.Collector
	if c.HTTPPort != 9090 || c.RecordTTL != 10*time.Minute {
		t.Errorf("port/ttl: got %d/%v", c.HTTPPort, c.RecordTTL)
	}
	if len(c.GameVersions) != 2 || c.GameVersions[1] != "gv-2" {
		t.Errorf("game_versions: got %v", c.GameVersions)
	}
	if c.Auth.Key() != "s3cret" || c.Auth.EffectiveHeader() != "X-RM-Key" {
		t.Errorf("auth: key %q header %q", c.Auth.Key(), c.Auth.EffectiveHeader())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDMETRICS_COLLECTOR_HTTP_PORT", "7070")
	t.Setenv("REDMETRICS_COLLECTOR_GAME_VERSIONS", "a,b,c")
	t.Setenv("REDMETRICS_COLLECTOR_AUTH_MODE", "none")

	cfg, err := Load(writeConfig(t, "collector:\n  http_port: 9090\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collector.HTTPPort != 7070 {
		t.Errorf("http_port: got %d, want env value", cfg.Collector.HTTPPort)
	}
	if got := cfg.Collector.GameVersions; len(got) != 3 || got[2] != "c" {
		t.Errorf("game_versions: got %v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port zero", "collector:\n  http_port: 0\n"},
		{"port too large", "collector:\n  http_port: 70000\n"},
		{"unknown auth", "collector:\n  auth:\n    mode: jwt\n"},
		{"apikey without key_env", "collector:\n  auth:\n    mode: apikey\n"},
		{"negative ttl", "collector:\n  record_ttl: -1m\n"},
		{"empty version id", "collector:\n  game_versions: [\"\"]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_KeyEmpty(t *testing.T) {
	if got := (AuthConfig{Mode: "apikey"}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}
