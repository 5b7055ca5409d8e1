package emitter

import (
	"context"
	"time"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/metrics"
	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// Emitter publishes fired events to the downstream notification bus.
// Delivery is at-least-once; consumers de-duplicate on the event's dedup key.
type Emitter interface {
	Emit(ctx context.Context, event *models.Event) error
	Close() error
}

// Retrying wraps an emitter with bounded exponential backoff. When retries
// run out the event goes to the dead-letter log instead; check-result state
// is never rolled back, so idempotent re-evaluation can emit again later.
type Retrying struct {
	next       Emitter
	maxRetries int
	backoff    time.Duration
	deadLetter *DeadLetterWriter
}

// NewRetrying creates a retrying emitter. deadLetter may be nil, in which
// case permanent failures are surfaced to the caller.
func NewRetrying(next Emitter, maxRetries int, backoff time.Duration, deadLetter *DeadLetterWriter) *Retrying {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		backoff:    backoff,
		deadLetter: deadLetter,
	}
}

// Emit publishes the event, retrying transient failures.
func (r *Retrying) Emit(ctx context.Context, event *models.Event) error {
	var lastErr error
	wait := r.backoff

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		lastErr = r.next.Emit(ctx, event)
		if lastErr == nil {
			return nil
		}
		metrics.EventPublishFailures.Inc()
		logger.Warnf("Event publish attempt %d failed for %s: %v", attempt+1, event.DedupKey(), lastErr)
	}

	if r.deadLetter == nil {
		return lastErr
	}
	logger.Errorf("Event %s exhausted publish retries, writing dead letter: %v", event.DedupKey(), lastErr)
	if err := r.deadLetter.Write(event); err != nil {
		return err
	}
	metrics.EventsDeadLettered.Inc()
	return nil
}

// Close closes the wrapped emitter and the dead-letter sink.
func (r *Retrying) Close() error {
	if r.deadLetter != nil {
		if err := r.deadLetter.Close(); err != nil {
			logger.Errorf("Failed to close dead-letter writer: %v", err)
		}
	}
	return r.next.Close()
}
