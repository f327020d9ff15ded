// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides the portdrop configuration file: HCL first, with
// JSON and YAML accepted by extension.
package config

import (
	"time"

	"grimm.is/portdrop/internal/logging"
)

// Defaults used when a field is absent.
const (
	DefaultPort           = 4040
	DefaultXDPMode        = "auto"
	DefaultStatsInterval  = "5s"
	DefaultAPIListen      = "127.0.0.1:9740"
	DefaultStreamInterval = "1s"
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
)

// Config is the root of the configuration file.
type Config struct {
	Interface string `hcl:"interface,optional" json:"interface,omitempty" yaml:"interface,omitempty"`
	Port      int    `hcl:"port,optional" json:"port,omitempty" yaml:"port,omitempty"`
	XDPMode   string `hcl:"xdp_mode,optional" json:"xdp_mode,omitempty" yaml:"xdp_mode,omitempty"`

	Stats   *StatsConfig   `hcl:"stats,block" json:"stats,omitempty" yaml:"stats,omitempty"`
	API     *APIConfig     `hcl:"api,block" json:"api,omitempty" yaml:"api,omitempty"`
	Metrics *MetricsConfig `hcl:"metrics,block" json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Log     *LogConfig     `hcl:"log,block" json:"log,omitempty" yaml:"log,omitempty"`
}

// StatsConfig controls the periodic statistics report.
type StatsConfig struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Interval string `hcl:"interval,optional" json:"interval,omitempty" yaml:"interval,omitempty"`
}

// APIConfig controls the control-plane API.
type APIConfig struct {
	Enabled        bool   `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Listen         string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	StreamInterval string `hcl:"stream_interval,optional" json:"stream_interval,omitempty" yaml:"stream_interval,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint served by the API.
type MetricsConfig struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Path    string `hcl:"path,optional" json:"path,omitempty" yaml:"path,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty" yaml:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json" yaml:"json"`
}

// Default returns a configuration with every block present and defaulted.
// The interface is left empty; it has no sensible default.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills absent blocks and empty fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.XDPMode == "" {
		c.XDPMode = DefaultXDPMode
	}
	if c.Stats == nil {
		c.Stats = &StatsConfig{}
	}
	if c.Stats.Interval == "" {
		c.Stats.Interval = DefaultStatsInterval
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	if c.API.StreamInterval == "" {
		c.API.StreamInterval = DefaultStreamInterval
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// StatsInterval is the parsed report interval. Call after Validate.
func (c *Config) StatsInterval() time.Duration {
	d, _ := time.ParseDuration(c.Stats.Interval)
	return d
}

// StreamInterval is the parsed websocket push interval. Call after
// Validate.
func (c *Config) StreamInterval() time.Duration {
	d, _ := time.ParseDuration(c.API.StreamInterval)
	return d
}

// Logging converts the log block into a logger configuration.
func (c *Config) Logging() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	if c.Log == nil {
		return cfg, nil
	}
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return cfg, err
	}
	cfg.Level = level
	cfg.JSON = c.Log.JSON
	return cfg, nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	if c.Stats != nil {
		s := *c.Stats
		out.Stats = &s
	}
	if c.API != nil {
		a := *c.API
		out.API = &a
	}
	if c.Metrics != nil {
		m := *c.Metrics
		out.Metrics = &m
	}
	if c.Log != nil {
		l := *c.Log
		out.Log = &l
	}
	return &out
}
