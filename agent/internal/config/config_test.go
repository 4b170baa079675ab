package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
connection:
  base_url: "http://localhost:8080"
  game_version_id: "gv-42"
  buffering_delay: 2s
  timeout: 3s
  player:
    firstName: Ada
    customData:
      level: 3
  auth:
    mode: apikey
    header: X-API-Key
    key_env: RM_KEY
agent:
  listen_addr: ":9999"
  auto_connect: false
log:
  level: debug
  format: console
`
	cfg := loadFromString(t, yaml)

	c := cfg.Connection
	if c.BaseURL != "http://localhost:8080" {
		t.Errorf("base_url: got %q", c.BaseURL)
	}
	if c.GameVersionID != "gv-42" {
		t.Errorf("game_version_id: got %q", c.GameVersionID)
	}
	if c.BufferingDelay != 2*time.Second {
		t.Errorf("buffering_delay: got %v", c.BufferingDelay)
	}
	if c.Timeout != 3*time.Second {
		t.Errorf("timeout: got %v", c.Timeout)
	}
	if c.Player["firstName"] != "Ada" {
		t.Errorf("player.firstName: got %v", c.Player["firstName"])
	}
	// yaml.v3 decodes nested mappings into the parent's map type.
	var level any
	switch custom := c.Player["customData"].(type) {
	case redmetrics.PlayerInfo:
		level = custom["level"]
	case map[string]any:
		level = custom["level"]
	}
	if level != 3 {
		t.Errorf("player.customData: got %#v", c.Player["customData"])
	}
	if c.Auth.Mode != "apikey" || c.Auth.Header != "X-API-Key" || c.Auth.KeyEnv != "RM_KEY" {
		t.Errorf("auth: got %+v", c.Auth)
	}
	if cfg.Agent.ListenAddr != ":9999" {
		t.Errorf("listen_addr: got %q", cfg.Agent.ListenAddr)
	}
	if cfg.Agent.AutoConnect {
		t.Error("auto_connect: got true, want false")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log: got %+v", cfg.Log)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
connection:
  game_version_id: "gv-1"
`)

	c := cfg.Connection
	if c.Protocol != redmetrics.DefaultProtocol {
		t.Errorf("default protocol: got %q", c.Protocol)
	}
	if c.Host != redmetrics.DefaultHost {
		t.Errorf("default host: got %q", c.Host)
	}
	if c.Port != redmetrics.DefaultPort {
		t.Errorf("default port: got %d", c.Port)
	}
	if c.BufferingDelay != redmetrics.DefaultBufferingDelay {
		t.Errorf("default buffering_delay: got %v, want %v", c.BufferingDelay, redmetrics.DefaultBufferingDelay)
	}
	if c.Timeout != DefaultTimeout {
		t.Errorf("default timeout: got %v, want %v", c.Timeout, DefaultTimeout)
	}
	if cfg.Agent.ListenAddr != DefaultListenAddr {
		t.Errorf("default listen_addr: got %q", cfg.Agent.ListenAddr)
	}
	if cfg.Agent.StreamInterval != DefaultStreamInterval {
		t.Errorf("default stream_interval: got %v", cfg.Agent.StreamInterval)
	}
	if !cfg.Agent.AutoConnect {
		t.Error("default auto_connect: got false, want true")
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("default log: got %+v", cfg.Log)
	}
	if got := c.URL(); got != "https://api.redmetrics.io:443" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestLoad_ZeroBufferingDelay(t *testing.T) {
	cfg := loadFromString(t, `
connection:
  game_version_id: "gv-1"
  buffering_delay: 0s
`)
	if cfg.Connection.BufferingDelay != 0 {
		t.Errorf("buffering_delay: got %v, want 0 (eager)", cfg.Connection.BufferingDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDMETRICS_GAME_VERSION_ID", "from-env")
	t.Setenv("REDMETRICS_BASE_URL", "http://collector:8080")
	t.Setenv("REDMETRICS_BUFFERING_DELAY", "250ms")
	t.Setenv("REDMETRICS_AUTH_MODE", "bearer")
	t.Setenv("REDMETRICS_AGENT_LISTEN_ADDR", ":7000")
	t.Setenv("REDMETRICS_LOG_FORMAT", "console")

	cfg := loadFromString(t, `
connection:
  game_version_id: "from-file"
`)

	c := cfg.Connection
	if c.GameVersionID != "from-env" {
		t.Errorf("game_version_id: got %q, want env value", c.GameVersionID)
	}
	if c.BaseURL != "http://collector:8080" {
		t.Errorf("base_url: got %q", c.BaseURL)
	}
	if c.BufferingDelay != 250*time.Millisecond {
		t.Errorf("buffering_delay: got %v", c.BufferingDelay)
	}
	if c.Auth.Mode != "bearer" {
		t.Errorf("auth.mode: got %q", c.Auth.Mode)
	}
	if cfg.Agent.ListenAddr != ":7000" {
		t.Errorf("listen_addr: got %q", cfg.Agent.ListenAddr)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("log.format: got %q", cfg.Log.Format)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing game version", `
connection:
  base_url: "http://localhost:8080"
`},
		{"negative buffering delay", `
connection:
  game_version_id: gv
  buffering_delay: -1s
`},
		{"port out of range", `
connection:
  game_version_id: gv
  port: 70000
`},
		{"unknown auth mode", `
connection:
  game_version_id: gv
  auth:
    mode: magictoken
`},
		{"apikey without header", `
connection:
  game_version_id: gv
  auth:
    mode: apikey
`},
		{"mtls without cert", `
connection:
  game_version_id: gv
  auth:
    mode: mtls
`},
		{"unknown log level", `
connection:
  game_version_id: gv
log:
  level: loud
`},
		{"zero stream interval", `
connection:
  game_version_id: gv
agent:
  stream_interval: 0s
`},
		{"unknown log format", `
connection:
  game_version_id: gv
log:
  format: xml
`},
		{"alert without name", `
connection:
  game_version_id: gv
alerts:
  rules:
    - condition: flush_failures > 0
`},
		{"alert with malformed condition", `
connection:
  game_version_id: gv
alerts:
  rules:
    - name: failing
      condition: flush_failures
`},
		{"alert with unknown severity", `
connection:
  game_version_id: gv
alerts:
  rules:
    - name: failing
      condition: flush_failures > 0
      severity: apocalyptic
`},
		{"unknown webhook type", `
connection:
  game_version_id: gv
alerts:
  webhooks:
    - type: carrier-pigeon
      url_env: HOOK
`},
		{"webhook without url_env", `
connection:
  game_version_id: gv
alerts:
  webhooks:
    - type: slack
`},
		{"malformed yaml", "connection: [unterminated"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_Alerts(t *testing.T) {
	yaml := `
connection:
  game_version_id: gv
alerts:
  rules:
    - name: flush-failing
      condition: flush_failures > 0
      severity: critical
      cooldown: 5m
    - name: backlog
      condition: queue_depth >= 500
  webhooks:
    - type: slack
      url_env: RM_TEST_SLACK_HOOK
`
	t.Setenv("RM_TEST_SLACK_HOOK", "https://hooks.example.test/abc")
	cfg := loadFromString(t, yaml)

	rules := cfg.Alerts.Rules
	if len(rules) != 2 {
		t.Fatalf("rules: got %d, want 2", len(rules))
	}
	if rules[0].Name != "flush-failing" || rules[0].Severity != "critical" || rules[0].Cooldown != 5*time.Minute {
		t.Errorf("rule 0: got %+v", rules[0])
	}
	if rules[1].Condition != "queue_depth >= 500" || rules[1].Severity != "" {
		t.Errorf("rule 1: got %+v", rules[1])
	}
	if len(cfg.Alerts.Webhooks) != 1 || cfg.Alerts.Webhooks[0].URL() != "https://hooks.example.test/abc" {
		t.Errorf("webhooks: got %+v", cfg.Alerts.Webhooks)
	}
	if (WebhookConfig{Type: "http"}).URL() != "" {
		t.Error("webhook without url_env must resolve to empty")
	}
}

func TestLoad_MultipleAuthModes(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		mode  string
	}{
		{"apikey", "\n    header: X-API-Key", "apikey"},
		{"bearer", "", "bearer"},
		{"basic", "", "basic"},
		{"mtls", "\n    cert_file: c.pem\n    key_file: k.pem", "mtls"},
		{"none", "", "none"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			yaml := `
connection:
  game_version_id: gv
  auth:
    mode: ` + tc.mode + tc.extra + `
`
			cfg := loadFromString(t, yaml)
			if cfg.Connection.Auth.Mode != tc.mode {
				t.Errorf("auth mode: got %q, want %q", cfg.Connection.Auth.Mode, tc.mode)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConnectionConfig_TransportOptions(t *testing.T) {
	c := ConnectionConfig{
		Timeout: 4 * time.Second,
		Auth: AuthConfig{
			Mode:     "basic",
			Username: "u",
			CAFile:   "ca.pem",
		},
		TLS: TLSConfig{InsecureSkipVerify: true},
	}
	opts := c.TransportOptions()
	if opts.Timeout != 4*time.Second {
		t.Errorf("timeout: got %v", opts.Timeout)
	}
	if opts.Auth.Mode != "basic" || opts.Auth.Username != "u" || opts.Auth.CAFile != "ca.pem" {
		t.Errorf("auth: got %+v", opts.Auth)
	}
	if !opts.InsecureSkipVerify {
		t.Error("insecure_skip_verify not carried over")
	}
}

func TestConnectionConfig_Equal(t *testing.T) {
	a := loadFromString(t, "connection:\n  game_version_id: gv\n  player:\n    name: x\n").Connection
	b := loadFromString(t, "connection:\n  game_version_id: gv\n  player:\n    name: x\n").Connection
	c := loadFromString(t, "connection:\n  game_version_id: gv2\n").Connection

	if !a.Equal(b) {
		t.Error("identical sections should be equal")
	}
	if a.Equal(c) {
		t.Error("different game versions should not be equal")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
