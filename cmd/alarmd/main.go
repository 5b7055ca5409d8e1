package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TencentBlueKing/bk-monitor-sub015/config"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/alert"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/emitter"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/metrics"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/queue"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/snapshot"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/storage"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/trigger"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/worker"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("alarmd.yml"); err == nil {
		return "alarmd.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "alarmd.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "alarmd.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Alarm.Redis.Addr == "" {
		cfg.Alarm.Redis.Addr = "127.0.0.1:6379"
	}

	if cfg.Alarm.Queue.MaxProcessCount <= 0 {
		cfg.Alarm.Queue.MaxProcessCount = 1000
	}
	if cfg.Alarm.Queue.BlockTimeout <= 0 {
		cfg.Alarm.Queue.BlockTimeout = 3 * time.Second
	}

	if cfg.Alarm.Trigger.Workers <= 0 {
		cfg.Alarm.Trigger.Workers = 8
	}
	if cfg.Alarm.Trigger.RetryBackoff <= 0 {
		cfg.Alarm.Trigger.RetryBackoff = time.Second
	}

	if cfg.Alarm.Snapshot.CacheTTL <= 0 {
		cfg.Alarm.Snapshot.CacheTTL = 10 * time.Minute
	}

	if cfg.Alarm.Alert.CheckInterval <= 0 {
		cfg.Alarm.Alert.CheckInterval = time.Minute
	}
	if cfg.Alarm.Alert.CloseStaleWindow <= 0 {
		cfg.Alarm.Alert.CloseStaleWindow = 30 * time.Minute
	}
	if cfg.Alarm.Alert.UpdateRetries <= 0 {
		cfg.Alarm.Alert.UpdateRetries = 5
	}

	if cfg.Alarm.Emitter.Mode == "" {
		cfg.Alarm.Emitter.Mode = "kafka"
	}
	if cfg.Alarm.Emitter.MaxRetries <= 0 {
		cfg.Alarm.Emitter.MaxRetries = 3
	}
	if cfg.Alarm.Emitter.RetryBackoff <= 0 {
		cfg.Alarm.Emitter.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Alarm.Emitter.DeadLetterPath == "" {
		cfg.Alarm.Emitter.DeadLetterPath = "output/dead_letter.jsonl"
	}
	if len(cfg.Alarm.Emitter.Kafka.Brokers) == 0 {
		cfg.Alarm.Emitter.Kafka.Brokers = []string{"127.0.0.1:9092"}
	}
	if cfg.Alarm.Emitter.Kafka.Topic == "" {
		cfg.Alarm.Emitter.Kafka.Topic = "alarm_event"
	}

	if cfg.Alarm.Metrics.Listen == "" {
		cfg.Alarm.Metrics.Listen = ":9090"
	}

	if cfg.Alarm.Logging.Level == "" {
		cfg.Alarm.Logging.Level = "info"
	}
}

func buildEmitter(cfg *config.Config) (trigger.Emitter, func() error, error) {
	var inner emitter.Emitter
	var err error

	switch cfg.Alarm.Emitter.Mode {
	case "kafka":
		inner, err = emitter.NewKafkaEmitter(emitter.KafkaConfig{
			Brokers:      cfg.Alarm.Emitter.Kafka.Brokers,
			Topic:        cfg.Alarm.Emitter.Kafka.Topic,
			BatchTimeout: cfg.Alarm.Emitter.Kafka.BatchTimeout,
			WriteTimeout: cfg.Alarm.Emitter.Kafka.WriteTimeout,
		})
	case "http":
		inner, err = emitter.NewHTTPEmitter(emitter.HTTPConfig{
			URL:     cfg.Alarm.Emitter.HTTP.URL,
			Timeout: cfg.Alarm.Emitter.HTTP.Timeout,
			Headers: cfg.Alarm.Emitter.HTTP.Headers,
		})
	default:
		log.Fatalf("Unknown emitter mode: %s", cfg.Alarm.Emitter.Mode)
	}
	if err != nil {
		return nil, nil, err
	}

	deadLetter, err := emitter.NewDeadLetterWriter(cfg.Alarm.Emitter.DeadLetterPath)
	if err != nil {
		return nil, nil, err
	}

	retrying := emitter.NewRetrying(inner, cfg.Alarm.Emitter.MaxRetries, cfg.Alarm.Emitter.RetryBackoff, deadLetter)
	return retrying, retrying.Close, nil
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Alarm.Logging.Enabled, cfg.Alarm.Logging.Level, cfg.Alarm.Logging.File, cfg.Alarm.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("alarmd starting")
	logger.Infof("Config loaded from: %s", configPath)

	client, err := storage.NewClient(storage.RedisConfig{
		Addr:     cfg.Alarm.Redis.Addr,
		Password: cfg.Alarm.Redis.Password,
		DB:       cfg.Alarm.Redis.DB,
	})
	if err != nil {
		logger.Errorf("Failed to connect to redis: %v", err)
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	results := storage.NewCheckResultStore(client, 0)
	checkpoints := storage.NewCheckpointStore(client)
	records := storage.NewAnomalyRecordStore(client, 0)
	snapshots := snapshot.NewStore(client, cfg.Alarm.Snapshot.CacheTTL)
	anomalyQueue := queue.New(client, cfg.Alarm.Queue.BlockTimeout)

	em, closeEmitter, err := buildEmitter(cfg)
	if err != nil {
		logger.Errorf("Failed to create emitter: %v", err)
		log.Fatalf("Failed to create emitter: %v", err)
	}
	logger.Infof("Emitter mode: %s", cfg.Alarm.Emitter.Mode)

	alertStore := alert.NewStore(client, cfg.Alarm.Alert.UpdateRetries)
	manager := alert.NewManager(alertStore, results, checkpoints, snapshots, alert.Config{
		CheckInterval:    cfg.Alarm.Alert.CheckInterval,
		CloseStaleWindow: cfg.Alarm.Alert.CloseStaleWindow,
	})

	engine := trigger.NewEngine(results, checkpoints, records, snapshots, em, manager)
	pool := worker.NewPool(anomalyQueue, engine, worker.Config{
		Workers:         cfg.Alarm.Trigger.Workers,
		MaxProcessCount: cfg.Alarm.Queue.MaxProcessCount,
		RetryBackoff:    cfg.Alarm.Trigger.RetryBackoff,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Alarm.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logger.Infof("Metrics listening on %s", cfg.Alarm.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Alarm.Metrics.Listen, mux); err != nil {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	manager.Start()
	go func() {
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Worker pool error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	manager.Stop()
	time.Sleep(1 * time.Second)

	if err := closeEmitter(); err != nil {
		logger.Errorf("Error closing emitter: %v", err)
	}
	if err := client.Close(); err != nil {
		logger.Errorf("Error closing redis client: %v", err)
	}
	logger.Infof("alarmd stopped")
	logger.Close()
}
