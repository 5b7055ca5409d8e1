package worker

import (
	"context"
	"sync"
	"time"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/metrics"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/queue"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/trigger"
)

// Queue is the shard queue surface the pool consumes.
type Queue interface {
	PopSignal(ctx context.Context) (queue.Shard, bool, error)
	PullBatch(ctx context.Context, s queue.Shard, max int64) ([][]byte, error)
	Restore(ctx context.Context, s queue.Shard, payloads [][]byte) error
	Requeue(ctx context.Context, s queue.Shard) error
	Depth(ctx context.Context, s queue.Shard) (int64, error)
	SignalDepth(ctx context.Context) (int64, error)
}

// Pool runs the shard consumers. Workers compete for shard signals; a worker
// holds its shard for one bounded batch and re-raises the signal when the
// shard is not drained, so per-shard ordering is kept without locks.
type Pool struct {
	queue           Queue
	engine          *trigger.Engine
	workers         int
	maxProcessCount int64
	retryBackoff    time.Duration
}

// Config configures the worker pool.
type Config struct {
	Workers         int
	MaxProcessCount int64
	RetryBackoff    time.Duration
}

// NewPool creates a worker pool.
func NewPool(q Queue, engine *trigger.Engine, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.MaxProcessCount <= 0 {
		cfg.MaxProcessCount = 1000
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Pool{
		queue:           q,
		engine:          engine,
		workers:         cfg.Workers,
		maxProcessCount: cfg.MaxProcessCount,
		retryBackoff:    cfg.RetryBackoff,
	}
}

// Run starts the workers and blocks until the context is cancelled and all
// in-flight shards finished.
func (p *Pool) Run(ctx context.Context) error {
	logger.Infof("Trigger worker pool started: workers=%d max_process_count=%d", p.workers, p.maxProcessCount)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.depthLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

// workerLoop claims shards until shutdown. The shard in flight always runs
// to completion; the shutdown flag is only checked between shards.
func (p *Pool) workerLoop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		shard, ok, err := p.queue.PopSignal(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Worker %d failed to pop shard signal: %v", id, err)
			p.sleep(ctx)
			continue
		}
		if !ok {
			continue
		}

		p.processShard(ctx, id, shard)
	}
}

// processShard pulls one bounded batch and runs the trigger engine over it.
// On infrastructure failure the signal is re-raised and the worker backs
// off; the engine is idempotent, so re-processing the same points is safe.
func (p *Pool) processShard(ctx context.Context, id int, shard queue.Shard) {
	started := time.Now()

	payloads, err := p.queue.PullBatch(ctx, shard, p.maxProcessCount)
	if err != nil {
		logger.Errorf("Worker %d failed to pull batch for shard %s: %v", id, shard, err)
		p.requeue(ctx, shard)
		p.sleep(ctx)
		return
	}
	if len(payloads) == 0 {
		return
	}

	if err := p.engine.ProcessBatch(ctx, shard, payloads); err != nil {
		logger.Errorf("Worker %d batch failed for shard %s, re-queueing: %v", id, shard, err)
		if restoreErr := p.queue.Restore(ctx, shard, payloads); restoreErr != nil {
			logger.Errorf("Worker %d failed to restore batch for shard %s: %v", id, shard, restoreErr)
		}
		p.requeue(ctx, shard)
		p.sleep(ctx)
		return
	}

	metrics.BatchDuration.Observe(time.Since(started).Seconds())

	depth, err := p.queue.Depth(ctx, shard)
	if err != nil {
		// Unknown residue: re-raise the signal rather than risk stranding
		// points until the next producer push.
		logger.Errorf("Worker %d failed to read depth for shard %s, re-queueing: %v", id, shard, err)
		p.requeue(ctx, shard)
		return
	}
	if depth > 0 {
		p.requeue(ctx, shard)
	}
}

func (p *Pool) requeue(ctx context.Context, shard queue.Shard) {
	if err := p.queue.Requeue(ctx, shard); err != nil {
		logger.Errorf("Failed to requeue shard %s: %v", shard, err)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.retryBackoff):
	}
}

// depthLoop samples the signal queue depth for the lag gauge.
func (p *Pool) depthLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.queue.SignalDepth(ctx)
			if err != nil {
				logger.Debugf("Failed to read signal depth: %v", err)
				continue
			}
			metrics.SignalQueueDepth.Set(float64(depth))
		}
	}
}
