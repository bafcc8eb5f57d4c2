package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Config represents the main kbserver configuration
type Config struct {
	// Gateway server configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Snapshot configuration
	Snapshot SnapshotConfig `json:"snapshot" mapstructure:"snapshot"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// SnapshotConfig holds periodic snapshot export configuration
type SnapshotConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Schedule  string `json:"schedule" mapstructure:"schedule"` // five field cron expression
	Directory string `json:"directory" mapstructure:"directory"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: 18891,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Snapshot: SnapshotConfig{
			Schedule: "0 * * * *",
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Snapshot.Enabled {
		if c.Snapshot.Directory == "" {
			return fmt.Errorf("snapshot directory is required when snapshots are enabled")
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Snapshot.Schedule); err != nil {
			return fmt.Errorf("invalid snapshot schedule: %w", err)
		}
	}
	return nil
}
