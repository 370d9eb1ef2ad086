package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerlex/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultDatabaseDSN, cfg.Database.DSN)
	assert.Equal(t, 0.5, cfg.Extraction.PenaltyFactor)
	assert.Equal(t, string(domain.TieBreakDeclarationOrder), cfg.Extraction.TieBreak)
	assert.Equal(t, string(domain.TieBreakIdentifier), cfg.Resolution.TieBreak)
	assert.Equal(t, DefaultWorkers, cfg.Engine.Workers)
	assert.True(t, cfg.Validator.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: postgres
  dsn: postgres://localhost/layerlex?sslmode=disable
sources:
  patterns: defs.yaml
  mappings: defs.yaml
  vocabulary: vocab.yaml
  seed: true
extraction:
  penalty_factor: 0.8
  tie_break: identifier
resolution:
  fallback: {discipline: GEN, category: UNMAPPED}
  aliases: {dia: size}
engine:
  workers: 16
reload:
  schedule: "*/5 * * * *"
  watch: true
  debounce: 2s
logging:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"defs.yaml", "vocab.yaml"}, cfg.Sources.Files())
	assert.Equal(t, 0.8, cfg.Extraction.PenaltyFactor)
	assert.Equal(t, "identifier", cfg.Extraction.TieBreak)
	assert.Equal(t, "identifier", cfg.Resolution.TieBreak, "default applies to resolution")
	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, 2*time.Second, cfg.Reload.Debounce.Duration())
	assert.Equal(t, "GEN-UNMAPPED", cfg.FallbackIdentity().Name())
	assert.Equal(t, map[string]string{"dia": "size"}, cfg.Resolution.Aliases)
	assert.True(t, cfg.Validator.Enabled, "validator stays on unless disabled")
}

func TestParseDisablesValidator(t *testing.T) {
	cfg, err := Parse([]byte("validator:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Validator.Enabled)
	assert.Equal(t, DefaultCacheSize, cfg.Validator.CacheSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"penalty", func(c *Config) { c.Extraction.PenaltyFactor = 1.5 }, "penalty_factor"},
		{"extraction tie-break", func(c *Config) { c.Extraction.TieBreak = "random" }, "extraction.tie_break"},
		{"resolution tie-break", func(c *Config) { c.Resolution.TieBreak = "longest" }, "resolution.tie_break"},
		{"workers", func(c *Config) { c.Engine.Workers = -1 }, "engine.workers"},
		{"schedule", func(c *Config) { c.Reload.Schedule = "every minute" }, "reload.schedule"},
		{"watch without files", func(c *Config) { c.Reload.Watch = true }, "reload.watch"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Sources.Patterns = "patterns.yaml"
	cfg.Reload.Schedule = "@hourly"
	require.NoError(t, cfg.Save(configPath))

	loaded, path, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, configPath, path)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFromPathErrors(t *testing.T) {
	_, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("engine:\n  workers: -3\n"), 0o644))
	_, _, err = LoadFromPath(bad)
	assert.ErrorContains(t, err, "engine.workers")
}

func TestLocatePrecedence(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, DefaultConfig().Save(filepath.Join(workDir, ConfigFileName)))
	t.Chdir(workDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfigPath, "")

	loc, err := Locate("")
	require.NoError(t, err)
	assert.Equal(t, OriginSearch, loc.Origin)
	assert.Equal(t, ConfigFileName, filepath.Base(loc.Path))

	fromEnv := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, DefaultConfig().Save(fromEnv))
	t.Setenv(EnvConfigPath, fromEnv)
	loc, err = Locate("")
	require.NoError(t, err)
	assert.Equal(t, Location{Path: fromEnv, Origin: OriginEnv}, loc)

	fromFlag := filepath.Join(t.TempDir(), "flag.yaml")
	require.NoError(t, DefaultConfig().Save(fromFlag))
	loc, err = Locate(fromFlag)
	require.NoError(t, err)
	assert.Equal(t, Location{Path: fromFlag, Origin: OriginFlag}, loc, "flag beats environment")

	_, err = Locate(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found", "a missing flag path is an error")

	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")
	_, err = Locate("")
	assert.ErrorContains(t, err, EnvConfigPath, "a missing env path does not fall through to the search list")
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfigPath, "")

	if _, err := os.Stat("/etc/layerlex/config.yaml"); err == nil {
		t.Skip("system config present")
	}

	cfg, loc, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Location{Origin: OriginDefaults}, loc)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: 9\n"), 0o644))
	cfg, loc, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, OriginFlag, loc.Origin)
	assert.Equal(t, 9, cfg.Engine.Workers)
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, d.Duration())

	marshaled, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", marshaled)
}
