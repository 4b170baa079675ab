package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/redmetrics/redmetrics-go/internal/logging"
	"github.com/redmetrics/redmetrics-go/internal/transport"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultListenAddr     = "127.0.0.1:9464"
	DefaultStreamInterval = 5 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)

// Config is the top-level agent configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection" envPrefix:"REDMETRICS_"`
	Agent      AgentConfig      `yaml:"agent" envPrefix:"REDMETRICS_AGENT_"`
	Log        LogConfig        `yaml:"log" envPrefix:"REDMETRICS_LOG_"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

// ConnectionConfig describes the collector session.
type ConnectionConfig struct {
	redmetrics.Config `yaml:",inline"`

	// Timeout bounds each HTTP request to the collector.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// Auth configures how the agent authenticates to the collector.
	Auth AuthConfig `yaml:"auth" envPrefix:"AUTH_"`

	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for the collector.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | mtls | none.
	Mode string `yaml:"mode" env:"MODE"`

	// API key fields, used when Mode == "apikey".
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token variable name when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AgentConfig holds settings for the agent process itself.
type AgentConfig struct {
	// ListenAddr is where the status API, /metrics and /ws/stream are served.
	// Empty disables the listener.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// StreamInterval is how often /ws/stream pushes the status.
	StreamInterval time.Duration `yaml:"stream_interval" env:"STREAM_INTERVAL"`

	// AutoConnect makes the agent connect on start and after every reload.
	// With false the session is connected through bridge commands only.
	AutoConnect bool `yaml:"auto_connect" env:"AUTO_CONNECT"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name identifies the alert and deduplicates its firings.
	Name string `yaml:"name"`

	// Condition is a "field operator value" expression such as
	// "flush_failures > 0", "queue_depth >= 500" or "state == disconnected".
	Condition string `yaml:"condition"`

	// Severity is one of: info | warning | critical. Defaults to warning.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// TransportOptions converts the connection settings for transport.New.
func (c ConnectionConfig) TransportOptions() transport.Options {
	return transport.Options{
		Timeout: c.Timeout,
		Auth: transport.Auth{
			Mode:        c.Auth.Mode,
			Header:      c.Auth.Header,
			KeyEnv:      c.Auth.KeyEnv,
			TokenEnv:    c.Auth.TokenEnv,
			Username:    c.Auth.Username,
			PasswordEnv: c.Auth.PasswordEnv,
			CertFile:    c.Auth.CertFile,
			KeyFile:     c.Auth.KeyFile,
			CAFile:      c.Auth.CAFile,
		},
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
}

// Equal reports whether two connection sections describe the same session.
func (c ConnectionConfig) Equal(other ConnectionConfig) bool {
	return reflect.DeepEqual(c, other)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults, then REDMETRICS_*
// environment variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Config:  redmetrics.DefaultConfig(),
			Timeout: DefaultTimeout,
		},
		Agent: AgentConfig{
			ListenAddr:     DefaultListenAddr,
			StreamInterval: DefaultStreamInterval,
			AutoConnect:    true,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	c := cfg.Connection
	if c.GameVersionID == "" {
		return fmt.Errorf("connection.game_version_id is required")
	}
	if c.BufferingDelay < 0 {
		return fmt.Errorf("connection.buffering_delay must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("connection.timeout must be positive")
	}
	if c.BaseURL == "" && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("connection.port %d is out of range [1, 65535]", c.Port)
	}
	switch c.Auth.Mode {
	case "apikey":
		if c.Auth.Header == "" {
			return fmt.Errorf("connection.auth.header is required for apikey mode")
		}
	case "mtls":
		if c.Auth.CertFile == "" || c.Auth.KeyFile == "" {
			return fmt.Errorf("connection.auth: cert_file and key_file are required for mtls mode")
		}
	case "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("connection.auth: unknown mode %q", c.Auth.Mode)
	}
	if cfg.Agent.StreamInterval <= 0 {
		return fmt.Errorf("agent.stream_interval must be positive")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition must be \"field operator value\"", i, r.Name)
		}
		switch r.Severity {
		case "", "info", "warning", "critical":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("alerts.webhooks[%d]: url_env is required", i)
		}
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q unknown: want json|console", cfg.Log.Format)
	}
	return nil
}
