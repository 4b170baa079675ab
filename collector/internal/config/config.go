package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values for the collector configuration.
const (
	DefaultHTTPPort  = 8080
	DefaultRecordTTL = time.Hour
	DefaultHeader    = "X-API-Key"
)

// Config holds the `collector:` section of collector.yaml.
type Config struct {
	Collector CollectorConfig `yaml:"collector" envPrefix:"REDMETRICS_COLLECTOR_"`
}

// CollectorConfig holds all collector settings.
type CollectorConfig struct {
	// HTTPPort is the port the six endpoints are served on.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`

	// Auth configures API key checks on /v1/ routes.
	Auth AuthConfig `yaml:"auth" envPrefix:"AUTH_"`

	// GameVersions lists the accepted game version ids. Empty accepts any.
	GameVersions []string `yaml:"game_versions" env:"GAME_VERSIONS" envSeparator:","`

	// RecordTTL is how long events and snapshots are kept. Zero keeps them
	// until exit.
	RecordTTL time.Duration `yaml:"record_ttl" env:"RECORD_TTL"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" env:"MODE"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env" env:"KEY_ENV"`

	// Header is the HTTP header carrying the key. Defaults to X-API-Key.
	Header string `yaml:"header" env:"HEADER"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults, then environment overrides are applied and the result is
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("collector config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("collector config: parse yaml: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("collector config: parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Collector: CollectorConfig{
			HTTPPort:  DefaultHTTPPort,
			RecordTTL: DefaultRecordTTL,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	c := cfg.Collector
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("collector.http_port %d is out of range [1, 65535]", c.HTTPPort)
	}
	switch c.Auth.Mode {
	case "apikey":
		if c.Auth.KeyEnv == "" {
			return fmt.Errorf("collector.auth.key_env is required for apikey mode")
		}
	case "none", "":
	default:
		return fmt.Errorf("collector.auth.mode %q unknown: want apikey|none", c.Auth.Mode)
	}
	if c.RecordTTL < 0 {
		return fmt.Errorf("collector.record_ttl must not be negative")
	}
	for _, v := range c.GameVersions {
		if v == "" {
			return fmt.Errorf("collector.game_versions must not contain empty ids")
		}
	}
	return nil
}
