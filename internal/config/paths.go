package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// EnvConfigPath names the config file when no --config flag is given
	EnvConfigPath = "LAYERLEX_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "layerlex.yaml"
	// ConfigDirName is the directory under XDG and /etc
	ConfigDirName = "layerlex"
)

// Origin tells where the active config came from
type Origin string

const (
	OriginFlag     Origin = "flag"     // --config
	OriginEnv      Origin = "env"      // $LAYERLEX_CONFIG
	OriginSearch   Origin = "search"   // First hit in SearchPaths
	OriginDefaults Origin = "defaults" // No file; built-in defaults
)

// Location is a resolved config file. Path is empty for OriginDefaults.
type Location struct {
	Path   string `json:"path,omitempty"`
	Origin Origin `json:"origin"`
}

// Locate resolves the config file in precedence order: an explicit path
// (the --config flag), then $LAYERLEX_CONFIG, then the first existing file
// in SearchPaths. A path named by the flag or the environment must exist;
// it never silently falls through to the search list.
func Locate(explicit string) (Location, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return Location{Path: explicit, Origin: OriginFlag}, errors.Errorf("config file %s not found", explicit)
		}
		return Location{Path: explicit, Origin: OriginFlag}, nil
	}

	if path := os.Getenv(EnvConfigPath); path != "" {
		if !fileExists(path) {
			return Location{Path: path, Origin: OriginEnv}, errors.Errorf("config file %s from %s not found", path, EnvConfigPath)
		}
		return Location{Path: path, Origin: OriginEnv}, nil
	}

	for _, path := range SearchPaths() {
		if fileExists(path) {
			return Location{Path: path, Origin: OriginSearch}, nil
		}
	}
	return Location{Origin: OriginDefaults}, nil
}

// SearchPaths lists the implicit config locations, most specific first:
// ./layerlex.yaml, $XDG_CONFIG_HOME/layerlex/config.yaml,
// ~/.config/layerlex/config.yaml and /etc/layerlex/config.yaml.
func SearchPaths() []string {
	paths := make([]string, 0, 4)
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		paths = append(paths, abs)
	} else {
		paths = append(paths, ConfigFileName)
	}
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		paths = append(paths, filepath.Join(xdgHome, ConfigDirName, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// EnsureConfigDir creates the directory holding configPath
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
