package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// HTTPConfig configures the webhook emitter.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPEmitter posts events to a remote HTTP endpoint, for deployments
// without a Kafka bus.
type HTTPEmitter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPEmitter creates an HTTP emitter.
func NewHTTPEmitter(cfg HTTPConfig) (*HTTPEmitter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http emitter URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEmitter{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Emit posts one event.
func (e *HTTPEmitter) Emit(ctx context.Context, event *models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}

	return nil
}

// Close releases HTTP resources.
func (e *HTTPEmitter) Close() error {
	return nil
}
