package models

// MConfig Structure
type MConfig struct {
	Name     string          `yaml:"name"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	LogLevel string          `yaml:"log_level"`
	Upstream MUpstreamConfig `yaml:"upstream"`
	Polling  MPollingConfig  `yaml:"polling"`
	Tracked  MTrackedConfig  `yaml:"tracked"`
	Network  MNetworkConfig  `yaml:"network"`
}

type MUpstreamConfig struct {
	URL                  string `yaml:"url"`
	APIKey               string `yaml:"api_key"`
	HeartbeatSeconds     int    `yaml:"heartbeat_seconds"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	ResubscribeBatchSize int    `yaml:"resubscribe_batch_size"`
	BatchDelayMillis     int    `yaml:"batch_delay_ms"`
	StaleAfterSeconds    int    `yaml:"stale_after_seconds"`
}

type MPollingConfig struct {
	QuoteURL        string `yaml:"quote_url"`
	APIKey          string `yaml:"api_key"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	BatchSize       int    `yaml:"batch_size"`
}

type MTrackedConfig struct {
	DBType              string `yaml:"db_type"`
	DBPath              string `yaml:"db_path"`
	DBConnectionString  string `yaml:"db_connection_string"`
	SyncIntervalSeconds int    `yaml:"sync_interval_seconds"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}
