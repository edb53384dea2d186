/*
Package config loads server configuration.

PURPOSE:
  Configuration comes from an optional YAML file with sane defaults;
  cmd/server overlays command-line flags on top. Only operational
  settings live here - domain behavior is not configurable.

EXAMPLE FILE:
  port: 8080
  db: ./data/indicators.db
  org_domain: ucy.ac.cy
  ingest_interval: 1h
  log_mode: prod
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// DBPath is the SQLite database path; ":memory:" for ephemeral.
	DBPath string `yaml:"db"`

	// OrgDomain is the email domain that marks organization membership
	// for ORGANIZATION / ORG_FULL_PUBLIC access levels.
	OrgDomain string `yaml:"org_domain"`

	// IngestInterval is how often scheduled ingestion sources run.
	IngestInterval time.Duration `yaml:"ingest_interval"`

	// LogMode selects the zap config: "prod" or "dev".
	LogMode string `yaml:"log_mode"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:           8080,
		DBPath:         "indicators.db",
		OrgDomain:      "ucy.ac.cy",
		IngestInterval: time.Hour,
		LogMode:        "dev",
	}
}

// UnmarshalYAML decodes the duration field from its string form
// ("1h", "30m").
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Port           *int    `yaml:"port"`
		DBPath         *string `yaml:"db"`
		OrgDomain      *string `yaml:"org_domain"`
		IngestInterval *string `yaml:"ingest_interval"`
		LogMode        *string `yaml:"log_mode"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Port != nil {
		c.Port = *raw.Port
	}
	if raw.DBPath != nil {
		c.DBPath = *raw.DBPath
	}
	if raw.OrgDomain != nil {
		c.OrgDomain = *raw.OrgDomain
	}
	if raw.LogMode != nil {
		c.LogMode = *raw.LogMode
	}
	if raw.IngestInterval != nil {
		d, err := time.ParseDuration(*raw.IngestInterval)
		if err != nil {
			return fmt.Errorf("ingest_interval: %w", err)
		}
		c.IngestInterval = d
	}
	return nil
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}
