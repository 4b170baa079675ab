package redmetrics

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied to empty Config fields.
const (
	DefaultProtocol       = "https"
	DefaultHost           = "api.redmetrics.io"
	DefaultPort           = 443
	DefaultBufferingDelay = 5 * time.Second
)

// Config describes where and how a Connection delivers data.
// Connect copies it; later changes by the caller have no effect.
type Config struct {
	Protocol string `yaml:"protocol" env:"PROTOCOL"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`

	// BaseURL overrides Protocol, Host and Port when set.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// GameVersionID is required; Connect fails with ErrConfiguration without it.
	GameVersionID string `yaml:"game_version_id" env:"GAME_VERSION_ID"`

	// BufferingDelay is the flush interval. Zero flushes on every post.
	BufferingDelay time.Duration `yaml:"buffering_delay" env:"BUFFERING_DELAY"`

	// Player holds the initial player attributes sent when the player is created.
	Player PlayerInfo `yaml:"player"`
}

// DefaultConfig returns a Config with every default filled in, including the
// 5s BufferingDelay. GameVersionID must still be set.
func DefaultConfig() Config {
	return Config{
		Protocol:       DefaultProtocol,
		Host:           DefaultHost,
		Port:           DefaultPort,
		BufferingDelay: DefaultBufferingDelay,
	}
}

// withDefaults fills empty endpoint fields. BufferingDelay is left alone
// because zero is meaningful.
func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	c.Player = clonePlayer(c.Player)
	return c
}

func (c Config) validate() error {
	if c.GameVersionID == "" {
		return fmt.Errorf("%w: missing game version id", ErrConfiguration)
	}
	if c.BufferingDelay < 0 {
		return fmt.Errorf("%w: buffering delay must not be negative", ErrConfiguration)
	}
	if c.BaseURL == "" && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("%w: port %d is out of range [1, 65535]", ErrConfiguration, c.Port)
	}
	return nil
}

// URL returns the collector base URL, without a trailing slash.
func (c Config) URL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	c = c.withDefaults()
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}
