package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
environment:
  mode: paper
  log_level: info
broker:
  base_url: https://kite.zerodha.com
  timeout: 30s
catalog:
  path: instruments.csv
  max_age: 24h
hedge:
  percentage: 10
  exchange: NFO
  product: NRML
settings:
  path: ""
dashboard:
  enabled: false
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}
	if !cfg.IsPaperTrading() {
		t.Error("expected paper mode")
	}
	if cfg.Hedge.Percentage != 10 {
		t.Errorf("hedge.percentage = %v, want 10", cfg.Hedge.Percentage)
	}
	if cfg.BrokerTimeout() != 30*time.Second {
		t.Errorf("broker timeout = %v, want 30s", cfg.BrokerTimeout())
	}
	if cfg.CatalogMaxAge() != 24*time.Hour {
		t.Errorf("catalog max age = %v, want 24h", cfg.CatalogMaxAge())
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	configPath := filepath.Join("..", "..", "config.yaml.example")
	if _, err := Load(configPath); err != nil {
		t.Errorf("expected example config to load, got error: %v", err)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	if _, err := Load("nonexistent.yaml"); err == nil {
		t.Error("expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	bad := strings.Replace(validYAML, "log_level: info", "log_levl: info", 1)
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
	body := strings.Replace(validYAML, "timeout: 30s",
		"timeout: 30s\n  totp_secret: ${TEST_TOTP_SECRET}", 1)

	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.TOTPSecret != "JBSWY3DPEHPK3PXP" {
		t.Errorf("totp_secret = %q, want expanded env value", cfg.Broker.TOTPSecret)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
			Catalog:     CatalogConfig{Path: "instruments.csv"},
			Hedge:       HedgeConfig{Percentage: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad mode",
			mutate:  func(c *Config) { c.Environment.Mode = "production" },
			wantErr: "environment.mode",
		},
		{
			name:    "missing catalog path",
			mutate:  func(c *Config) { c.Catalog.Path = "" },
			wantErr: "catalog.path",
		},
		{
			name:    "bad catalog max age",
			mutate:  func(c *Config) { c.Catalog.MaxAge = "soon" },
			wantErr: "catalog.max_age",
		},
		{
			name:    "negative hedge percentage",
			mutate:  func(c *Config) { c.Hedge.Percentage = -5 },
			wantErr: "hedge.percentage",
		},
		{
			name:    "hedge percentage too large",
			mutate:  func(c *Config) { c.Hedge.Percentage = 100 },
			wantErr: "hedge.percentage",
		},
		{
			name:    "bad broker timeout",
			mutate:  func(c *Config) { c.Broker.Timeout = "fast" },
			wantErr: "broker.timeout",
		},
		{
			name: "bad dashboard port",
			mutate: func(c *Config) {
				c.Dashboard.Enabled = true
				c.Dashboard.Port = 70000
			},
			wantErr: "dashboard.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DefaultsApplied(t *testing.T) {
	cfg := &Config{
		Environment: EnvironmentConfig{Mode: "live"},
		Catalog:     CatalogConfig{Path: "instruments.csv"},
		Dashboard:   DashboardConfig{Enabled: true},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Hedge.Percentage != defaultHedgePct {
		t.Errorf("hedge.percentage = %v, want default %v", cfg.Hedge.Percentage, defaultHedgePct)
	}
	if cfg.Dashboard.Port != defaultDashboardPort {
		t.Errorf("dashboard.port = %v, want default %v", cfg.Dashboard.Port, defaultDashboardPort)
	}
	if cfg.BrokerTimeout() != defaultBrokerTimeout {
		t.Errorf("broker timeout = %v, want default", cfg.BrokerTimeout())
	}
}
