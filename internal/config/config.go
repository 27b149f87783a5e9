// Package config provides configuration management for the hedger.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultHedgePct is used when hedge.percentage is unset.
	defaultHedgePct = 10.0
	// defaultCatalogMaxAge is how old the cached instrument dump may get
	// before it is downloaded again.
	defaultCatalogMaxAge = 24 * time.Hour
	// defaultBrokerTimeout bounds every broker HTTP call.
	defaultBrokerTimeout = 30 * time.Second
	// defaultDashboardPort serves the local review dashboard.
	defaultDashboardPort = 9780
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Hedge       HedgeConfig       `yaml:"hedge"`
	Settings    SettingsConfig    `yaml:"settings"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
	// TOTPSecret, when set, generates the two-factor code locally so login
	// only needs username and password. Usually injected via ${KITE_TOTP_SECRET}.
	TOTPSecret string `yaml:"totp_secret"`
}

// CatalogConfig defines where the instrument dump lives and how fresh it
// must be kept.
type CatalogConfig struct {
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
	MaxAge string `yaml:"max_age"`
}

// HedgeConfig defines the hedge placement parameters.
type HedgeConfig struct {
	// Percentage is the out-of-the-money offset from spot, in percent.
	Percentage float64 `yaml:"percentage"`
	Exchange   string  `yaml:"exchange"`
	Product    string  `yaml:"product"`
}

// SettingsConfig locates the per-user settings file.
type SettingsConfig struct {
	Path string `yaml:"path"` // empty: platform config dir
}

// DashboardConfig defines the optional local web dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// filling defaults for optional fields.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.Catalog.MaxAge != "" {
		if _, err := time.ParseDuration(c.Catalog.MaxAge); err != nil {
			return fmt.Errorf("catalog.max_age invalid: %w", err)
		}
	}

	if c.Hedge.Percentage == 0 {
		c.Hedge.Percentage = defaultHedgePct
	}
	if c.Hedge.Percentage < 0 || c.Hedge.Percentage >= 100 {
		return fmt.Errorf("hedge.percentage must be in [0,100)")
	}

	if c.Dashboard.Enabled {
		if c.Dashboard.Port == 0 {
			c.Dashboard.Port = defaultDashboardPort
		}
		if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("dashboard.port must be a valid TCP port")
		}
	}

	return nil
}

// IsPaperTrading returns true if the hedger is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// BrokerTimeout returns the configured broker call timeout.
func (c *Config) BrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil || d <= 0 {
		return defaultBrokerTimeout
	}
	return d
}

// CatalogMaxAge returns the configured catalog staleness threshold.
func (c *Config) CatalogMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Catalog.MaxAge)
	if err != nil || d <= 0 {
		return defaultCatalogMaxAge
	}
	return d
}
