package emitter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// DeadLetterWriter appends undeliverable events to a JSON lines file so an
// operator can replay them.
type DeadLetterWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewDeadLetterWriter opens the dead-letter file for appending.
func NewDeadLetterWriter(path string) (*DeadLetterWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter file: %w", err)
	}

	logger.Infof("Dead-letter writer initialized: %s", path)
	return &DeadLetterWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write appends one event.
func (w *DeadLetterWriter) Write(event *models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode dead-letter event: %w", err)
	}
	return nil
}

// Close closes the dead-letter file.
func (w *DeadLetterWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
