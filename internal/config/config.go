// Package config provides configuration management for layerlex.
//
// Config file precedence:
//  1. --config flag
//  2. $LAYERLEX_CONFIG
//  3. ./layerlex.yaml
//  4. $XDG_CONFIG_HOME/layerlex/config.yaml
//  5. ~/.config/layerlex/config.yaml
//  6. /etc/layerlex/config.yaml
//
// With no file found the built-in defaults apply.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"layerlex/internal/domain"
)

// Defaults
const (
	DefaultDatabaseDriver  = "sqlite"
	DefaultDatabaseDSN     = "./layerlex.db"
	DefaultPenaltyFactor   = 0.5
	DefaultWorkers         = 4
	DefaultCacheSize       = 4096
	DefaultServerAddr      = ":8080"
	DefaultDebounce        = 500 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second
)

// Load resolves the config file with Locate and loads it. explicit is the
// --config flag value, empty when unset. Without a file it returns defaults.
func Load(explicit string) (*Config, Location, error) {
	loc, err := Locate(explicit)
	if err != nil {
		return nil, loc, err
	}
	if loc.Origin == OriginDefaults {
		return DefaultConfig(), loc, nil
	}

	cfg, _, err := LoadFromPath(loc.Path)
	return cfg, loc, err
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, errors.Wrap(err, "read config")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes config YAML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Config{Validator: ValidatorConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{
		Validator: ValidatorConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.DSN == "" && c.Database.Driver == DefaultDatabaseDriver {
		c.Database.DSN = DefaultDatabaseDSN
	}
	if c.Extraction.PenaltyFactor == 0 {
		c.Extraction.PenaltyFactor = DefaultPenaltyFactor
	}
	if c.Extraction.TieBreak == "" {
		c.Extraction.TieBreak = string(domain.TieBreakDeclarationOrder)
	}
	if c.Resolution.TieBreak == "" {
		c.Resolution.TieBreak = string(domain.TieBreakIdentifier)
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = DefaultWorkers
	}
	if c.Validator.CacheSize == 0 {
		c.Validator.CacheSize = DefaultCacheSize
	}
	if c.Reload.Debounce == 0 {
		c.Reload.Debounce = Duration(DefaultDebounce)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	if p := c.Extraction.PenaltyFactor; p <= 0 || p > 1 {
		problems = append(problems, fmt.Sprintf("extraction.penalty_factor %v must be in (0, 1]", p))
	}
	if _, err := domain.ParseTieBreak(c.Extraction.TieBreak, domain.TieBreakDeclarationOrder); err != nil {
		problems = append(problems, "extraction.tie_break: "+err.Error())
	}
	if _, err := domain.ParseTieBreak(c.Resolution.TieBreak, domain.TieBreakIdentifier); err != nil {
		problems = append(problems, "resolution.tie_break: "+err.Error())
	}
	if c.Engine.Workers < 1 {
		problems = append(problems, fmt.Sprintf("engine.workers %d must be at least 1", c.Engine.Workers))
	}
	if c.Validator.CacheSize < 0 {
		problems = append(problems, "validator.cache_size must not be negative")
	}
	if c.Reload.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reload.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("reload.schedule %q: %v", c.Reload.Schedule, err))
		}
	}
	if c.Reload.Watch && len(c.Sources.Files()) == 0 {
		problems = append(problems, "reload.watch requires at least one source file")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, "logging.level: "+err.Error())
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FallbackIdentity returns the configured fallback as a canonical identity
func (c *Config) FallbackIdentity() domain.CanonicalIdentity {
	f := c.Resolution.Fallback
	return domain.CanonicalIdentity{
		Discipline: f.Discipline,
		Category:   f.Category,
		Type:       f.Type,
		Phase:      f.Phase,
	}
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Database: %s (%s)\n", c.Database.Driver, c.Database.DSN)
	summary += fmt.Sprintf("Extraction: tie-break %s, penalty %.2f; Resolution: tie-break %s\n",
		c.Extraction.TieBreak, c.Extraction.PenaltyFactor, c.Resolution.TieBreak)
	summary += fmt.Sprintf("Sources: %s (seed %v)", strings.Join(c.Sources.Files(), ", "), c.Sources.Seed)
	return summary
}
