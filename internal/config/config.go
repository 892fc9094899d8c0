// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides HCL configuration handling for the longview pipeline.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"grimm.is/longview/internal/errors"
)

// DisplayMode controls how a client shows up in enriched records and aggregates.
type DisplayMode string

const (
	DisplayIP       DisplayMode = "ip"
	DisplayHostname DisplayMode = "hostname"
	DisplayBoth     DisplayMode = "both"
)

// AllDays selects the full history of every source database.
const AllDays = -1

// Config is the top-level structure for a pipeline invocation.
type Config struct {
	// Paths to Pi-hole FTL database files, processed in order.
	Databases []string `hcl:"databases"`

	// Number of days to read, counted back from now. -1 means all available.
	// @default: 31
	Days int `hcl:"days,optional"`

	// Explicit inclusive date range, "2006-01-02". Overrides days when both set.
	StartDate string `hcl:"start_date,optional"`
	EndDate   string `hcl:"end_date,optional"`

	// IANA time zone for calendar derivation and bucket boundaries.
	// @default: "UTC"
	Timezone string `hcl:"timezone,optional"`

	// Regex; matching domains are dropped before aggregation.
	ExcludeDomains string `hcl:"exclude_domains,optional"`

	// One of "ip", "hostname", "both".
	// @default: "hostname"
	ClientDisplay string `hcl:"client_display,optional"`

	// @default: 10
	TopClients int `hcl:"top_clients,optional"`
	// @default: 10
	TopDomains int `hcl:"top_domains,optional"`

	// Fraction of available memory the reader may use for one chunk.
	// @default: 0.5
	MemoryFraction float64 `hcl:"memory_fraction,optional"`

	// @enum: debug, info, warn, error
	// @default: "info"
	LogLevel string `hcl:"log_level,optional"`

	Unbound *UnboundConfig `hcl:"unbound,block"`
	Report  *ReportConfig  `hcl:"report,block"`
}

// UnboundConfig configures the optional resolver-stats collaborator.
type UnboundConfig struct {
	Enabled bool `hcl:"enabled,optional"`
	// Command prefix invoked as "<prefix...> stats_noreset".
	// @default: ["unbound-control"]
	Command []string `hcl:"command,optional"`
	// @default: "5s"
	Timeout string `hcl:"timeout,optional"`
}

// ReportConfig configures the text report and structured export.
type ReportConfig struct {
	// Write the full aggregate result as YAML to this path.
	ExportPath string `hcl:"export_path,optional"`

	// Color is a tri-state so a report block that only sets export_path
	// does not turn styling off. Unset means on.
	Color *bool `hcl:"color,optional"`
}

// Default returns a Config with every optional field at its documented default.
func Default() *Config {
	return &Config{
		Days:           31,
		Timezone:       "UTC",
		ClientDisplay:  string(DisplayHostname),
		TopClients:     10,
		TopDomains:     10,
		MemoryFraction: 0.5,
		LogLevel:       "info",
	}
}

// Load reads and validates an HCL config file, applying defaults for unset
// optional fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindNotFound, "failed to read config file")
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes config from bytes; filename is used for diagnostics only.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to decode config")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Days == 0 {
		c.Days = d.Days
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.ClientDisplay == "" {
		c.ClientDisplay = d.ClientDisplay
	}
	if c.TopClients == 0 {
		c.TopClients = d.TopClients
	}
	if c.TopDomains == 0 {
		c.TopDomains = d.TopDomains
	}
	if c.MemoryFraction == 0 {
		c.MemoryFraction = d.MemoryFraction
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Unbound != nil {
		if len(c.Unbound.Command) == 0 {
			c.Unbound.Command = []string{"unbound-control"}
		}
		if c.Unbound.Timeout == "" {
			c.Unbound.Timeout = "5s"
		}
	}
}

// Validate checks invariants that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return errors.New(errors.KindValidation, "at least one database path is required")
	}
	switch DisplayMode(c.ClientDisplay) {
	case DisplayIP, DisplayHostname, DisplayBoth:
	default:
		return errors.Errorf(errors.KindValidation, "invalid client_display %q", c.ClientDisplay)
	}
	if c.Days < AllDays || c.Days == 0 {
		return errors.Errorf(errors.KindValidation, "invalid days %d", c.Days)
	}
	if c.MemoryFraction <= 0 || c.MemoryFraction > 1 {
		return errors.Errorf(errors.KindValidation, "memory_fraction must be in (0, 1], got %g", c.MemoryFraction)
	}
	if (c.StartDate == "") != (c.EndDate == "") {
		return errors.New(errors.KindValidation, "start_date and end_date must be set together")
	}
	for _, d := range []string{c.StartDate, c.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "invalid date %q", d)
		}
	}
	if c.TopClients < 1 {
		return errors.Errorf(errors.KindValidation, "top_clients must be positive, got %d", c.TopClients)
	}
	if c.TopDomains < 1 {
		return errors.Errorf(errors.KindValidation, "top_domains must be positive, got %d", c.TopDomains)
	}
	if c.Unbound != nil && c.Unbound.Timeout != "" {
		if _, err := time.ParseDuration(c.Unbound.Timeout); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "invalid unbound timeout %q", c.Unbound.Timeout)
		}
	}
	return nil
}

// ReportColor reports whether styled output is enabled. On unless the
// report block explicitly disables it.
func (c *Config) ReportColor() bool {
	if c.Report != nil && c.Report.Color != nil {
		return *c.Report.Color
	}
	return true
}

// UnboundTimeout returns the parsed collaborator timeout, defaulting to 5s.
func (c *Config) UnboundTimeout() time.Duration {
	if c.Unbound == nil || c.Unbound.Timeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.Unbound.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
