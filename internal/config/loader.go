package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".kbserver"
	configFileName = "kbserver.json"
	logFileName    = "kbserver.log"
	snapshotDir    = "snapshots"
)

// Loader reads and writes the server configuration file. An empty path
// means the default location under the user's home directory.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for the given config file path.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the configuration file, overlays KBS_* environment
// variables, and fills derived defaults. A missing file is not an
// error; defaults are returned instead.
func (l *Loader) Load() (*Config, error) {
	path := l.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		v := newViper(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := fillDerivedDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the config file, creating the
// parent directory when needed.
func (l *Loader) Save(cfg *Config) error {
	path := l.GetConfigPath()
	if path == "" {
		return fmt.Errorf("failed to determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := newViper(path)
	v.Set("gateway", cfg.Gateway)
	v.Set("logging", cfg.Logging)
	v.Set("snapshot", cfg.Snapshot)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}
	return nil
}

// GetConfigPath returns the effective config file path.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("KBS")
	v.AutomaticEnv()
	return v
}

// fillDerivedDefaults resolves paths that default relative to the data
// directory.
func fillDerivedDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, configDirName)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, logFileName)
	}
	if cfg.Snapshot.Directory == "" {
		cfg.Snapshot.Directory = filepath.Join(cfg.DataDir, snapshotDir)
	}
	return nil
}

// Load reads the configuration from the given path using a fresh loader.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
