package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	raw := `
alarm:
  redis:
    addr: "127.0.0.1:6379"
    db: 7
  queue:
    max_process_count: 500
    block_timeout: 2s
  trigger:
    workers: 4
    retry_backoff: 500ms
  snapshot:
    cache_ttl: 5m
  alert:
    check_interval: 30s
    close_stale_window: 15m
    update_retries: 3
  emitter:
    mode: kafka
    kafka:
      brokers: ["kafka-1:9092", "kafka-2:9092"]
      topic: alarm_event
      batch_timeout: 100ms
    max_retries: 5
    retry_backoff: 1s
    dead_letter_path: /var/log/alarmd/dead_letters.jsonl
  metrics:
    enabled: true
    listen: ":9090"
  logging:
    enabled: true
    level: debug
    console: true
`
	path := filepath.Join(t.TempDir(), "alarmd.yml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:6379", cfg.Alarm.Redis.Addr)
	require.Equal(t, 7, cfg.Alarm.Redis.DB)
	require.Equal(t, int64(500), cfg.Alarm.Queue.MaxProcessCount)
	require.Equal(t, 2*time.Second, cfg.Alarm.Queue.BlockTimeout)
	require.Equal(t, 4, cfg.Alarm.Trigger.Workers)
	require.Equal(t, 500*time.Millisecond, cfg.Alarm.Trigger.RetryBackoff)
	require.Equal(t, 5*time.Minute, cfg.Alarm.Snapshot.CacheTTL)
	require.Equal(t, 30*time.Second, cfg.Alarm.Alert.CheckInterval)
	require.Equal(t, 15*time.Minute, cfg.Alarm.Alert.CloseStaleWindow)
	require.Equal(t, 3, cfg.Alarm.Alert.UpdateRetries)
	require.Equal(t, "kafka", cfg.Alarm.Emitter.Mode)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Alarm.Emitter.Kafka.Brokers)
	require.Equal(t, "alarm_event", cfg.Alarm.Emitter.Kafka.Topic)
	require.Equal(t, 5, cfg.Alarm.Emitter.MaxRetries)
	require.Equal(t, "/var/log/alarmd/dead_letters.jsonl", cfg.Alarm.Emitter.DeadLetterPath)
	require.True(t, cfg.Alarm.Metrics.Enabled)
	require.Equal(t, ":9090", cfg.Alarm.Metrics.Listen)
	require.Equal(t, "debug", cfg.Alarm.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}
