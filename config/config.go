package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Alarm AlarmConfig `yaml:"alarm"`
}

// AlarmConfig is the project configuration.
type AlarmConfig struct {
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Alert    AlertConfig    `yaml:"alert"`
	Emitter  EmitterConfig  `yaml:"emitter"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RedisConfig controls the shared KV store holding check results,
// checkpoints, queues, snapshots and alert documents.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig controls anomaly-point fan-in.
type QueueConfig struct {
	MaxProcessCount int64         `yaml:"max_process_count"`
	BlockTimeout    time.Duration `yaml:"block_timeout"`
}

// TriggerConfig controls the trigger worker pool.
type TriggerConfig struct {
	Workers      int           `yaml:"workers"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SnapshotConfig controls the in-process strategy snapshot cache.
type SnapshotConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// AlertConfig controls periodic recovery and close checks.
type AlertConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	CloseStaleWindow time.Duration `yaml:"close_stale_window"`
	UpdateRetries    int           `yaml:"update_retries"`
}

// EmitterConfig controls event publishing to the notification bus.
type EmitterConfig struct {
	Mode           string            `yaml:"mode"` // kafka|http
	Kafka          KafkaConfig       `yaml:"kafka"`
	HTTP           HTTPOutputConfig  `yaml:"http"`
	MaxRetries     int               `yaml:"max_retries"`
	RetryBackoff   time.Duration     `yaml:"retry_backoff"`
	DeadLetterPath string            `yaml:"dead_letter_path"`
}

// KafkaConfig config for the Kafka event bus.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HTTPOutputConfig config for a webhook event sink.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
