package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Database   DatabaseConfig   `yaml:"database"`
	Sources    SourcesConfig    `yaml:"sources"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Resolution ResolutionConfig `yaml:"resolution"`
	Engine     EngineConfig     `yaml:"engine"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Reload     ReloadConfig     `yaml:"reload"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // File path for sqlite, connection string for postgres
}

// SourcesConfig points at YAML definition files. Any of them may be the same
// file. When Seed is set, the files replace the database contents on reload;
// otherwise the database is the source of truth and files are ignored.
type SourcesConfig struct {
	Patterns   string `yaml:"patterns,omitempty"`
	Mappings   string `yaml:"mappings,omitempty"`
	Vocabulary string `yaml:"vocabulary,omitempty"`
	Reference  string `yaml:"reference,omitempty"` // Project and spatial reference rules
	Seed       bool   `yaml:"seed"`
}

// Files returns the configured source files without duplicates
func (s SourcesConfig) Files() []string {
	var files []string
	seen := make(map[string]bool)
	for _, f := range []string{s.Patterns, s.Mappings, s.Vocabulary, s.Reference} {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	return files
}

// ExtractionConfig tunes the pattern extractor
type ExtractionConfig struct {
	PenaltyFactor float64 `yaml:"penalty_factor"`
	TieBreak      string  `yaml:"tie_break"`    // declaration_order or identifier
	UpperNames    bool    `yaml:"upper_names"`  // Upper-case raw names before matching
	RecordStats   bool    `yaml:"record_stats"` // Report matches to the statistics store
}

// ResolutionConfig tunes the mapping resolver
type ResolutionConfig struct {
	TieBreak string            `yaml:"tie_break"` // identifier or declaration_order
	Fallback FallbackIdentity  `yaml:"fallback"`
	Aliases  map[string]string `yaml:"aliases,omitempty"` // Attribute key aliases
}

// FallbackIdentity is the identity assigned when nothing resolves
type FallbackIdentity struct {
	Discipline string `yaml:"discipline,omitempty"`
	Category   string `yaml:"category,omitempty"`
	Type       string `yaml:"type,omitempty"`
	Phase      string `yaml:"phase,omitempty"`
}

// EngineConfig holds batch execution settings
type EngineConfig struct {
	Workers int `yaml:"workers"`
}

// ValidatorConfig holds component validator settings
type ValidatorConfig struct {
	Enabled   bool `yaml:"enabled"`
	CacheSize int  `yaml:"cache_size"`
}

// ReloadConfig controls automatic pattern reloads
type ReloadConfig struct {
	Schedule string   `yaml:"schedule,omitempty"` // Cron expression, empty disables
	Watch    bool     `yaml:"watch"`              // Reload when a source file changes
	Debounce Duration `yaml:"debounce,omitempty"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
