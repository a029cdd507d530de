package config

import (
	"fmt"
	"os"

	"price-relay/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides validation and persistence
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from a YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyDefaults fills optional tuning knobs with their standard values
func (c *Config) applyDefaults() {
	if c.Upstream.HeartbeatSeconds <= 0 {
		c.Upstream.HeartbeatSeconds = 10
	}
	if c.Upstream.MaxReconnectAttempts <= 0 {
		c.Upstream.MaxReconnectAttempts = 10
	}
	if c.Upstream.ResubscribeBatchSize <= 0 {
		c.Upstream.ResubscribeBatchSize = 100
	}
	if c.Upstream.BatchDelayMillis <= 0 {
		c.Upstream.BatchDelayMillis = 250
	}
	if c.Upstream.StaleAfterSeconds <= 0 {
		c.Upstream.StaleAfterSeconds = 300
	}
	if c.Polling.IntervalSeconds <= 0 {
		c.Polling.IntervalSeconds = 15
	}
	if c.Polling.BatchSize <= 0 {
		c.Polling.BatchSize = 50
	}
	if c.Tracked.SyncIntervalSeconds <= 0 {
		c.Tracked.SyncIntervalSeconds = 300
	}
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = 10
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Upstream configuration
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream url cannot be empty")
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream api key cannot be empty")
	}

	// Validate Polling configuration
	if c.Polling.QuoteURL == "" {
		return fmt.Errorf("polling quote url cannot be empty")
	}

	// Validate Tracked configuration
	if c.Tracked.DBType != "" {
		if c.Tracked.DBType != "postgres" && c.Tracked.DBType != "sqlite" {
			return fmt.Errorf("unknown tracked db type: %s", c.Tracked.DBType)
		}
		if c.Tracked.DBType == "sqlite" && c.Tracked.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
		if c.Tracked.DBType == "postgres" && c.Tracked.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	}

	// Validate Network configuration
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
