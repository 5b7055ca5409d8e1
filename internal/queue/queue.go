package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SignalKey is the global list of shards that have pending work.
const SignalKey = "anomaly_signal"

// Shard identifies one (strategy, item) queue. All points of a shard are
// processed by one worker at a time.
type Shard struct {
	StrategyID int64
	ItemID     int64
}

// String encodes the shard as the "strategy.item" signal value.
func (s Shard) String() string {
	return fmt.Sprintf("%d.%d", s.StrategyID, s.ItemID)
}

// ParseShard decodes a "strategy.item" signal value.
func ParseShard(raw string) (Shard, error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return Shard{}, fmt.Errorf("malformed shard signal %q", raw)
	}
	strategyID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Shard{}, fmt.Errorf("malformed shard signal %q: %w", raw, err)
	}
	itemID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Shard{}, fmt.Errorf("malformed shard signal %q: %w", raw, err)
	}
	return Shard{StrategyID: strategyID, ItemID: itemID}, nil
}

// AnomalyQueue is the durable fan-in of anomaly points: one Redis list per
// shard plus the global signal list. Producers LPUSH, consumers pop from the
// tail, so each shard stays FIFO without any application-level lock.
type AnomalyQueue struct {
	client       *redis.Client
	blockTimeout time.Duration
}

// New creates an anomaly queue over an existing client.
func New(client *redis.Client, blockTimeout time.Duration) *AnomalyQueue {
	if blockTimeout <= 0 {
		blockTimeout = 3 * time.Second
	}
	return &AnomalyQueue{client: client, blockTimeout: blockTimeout}
}

// ShardKey builds the per-shard list key.
func (q *AnomalyQueue) ShardKey(s Shard) string {
	return fmt.Sprintf("anomaly:%d:%d", s.StrategyID, s.ItemID)
}

// Push appends serialized points to a shard list and raises the shard's
// signal so a consumer picks it up.
func (q *AnomalyQueue) Push(ctx context.Context, s Shard, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]interface{}, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	if err := q.client.LPush(ctx, q.ShardKey(s), values...).Err(); err != nil {
		return fmt.Errorf("push anomaly points %s: %w", q.ShardKey(s), err)
	}
	if err := q.client.LPush(ctx, SignalKey, s.String()).Err(); err != nil {
		return fmt.Errorf("push shard signal %s: %w", s, err)
	}
	return nil
}

// PopSignal claims one pending shard. The blocking pop uses a short timeout
// so shutdown stays responsive; ok is false when no signal arrived in time.
func (q *AnomalyQueue) PopSignal(ctx context.Context) (Shard, bool, error) {
	res, err := q.client.BRPop(ctx, q.blockTimeout, SignalKey).Result()
	if err == redis.Nil {
		return Shard{}, false, nil
	}
	if err != nil {
		return Shard{}, false, fmt.Errorf("pop shard signal: %w", err)
	}
	if len(res) < 2 {
		return Shard{}, false, nil
	}
	shard, err := ParseShard(res[1])
	if err != nil {
		return Shard{}, false, err
	}
	return shard, true, nil
}

// PullBatch pops up to max points from a shard list in arrival order.
func (q *AnomalyQueue) PullBatch(ctx context.Context, s Shard, max int64) ([][]byte, error) {
	if max <= 0 {
		max = 1000
	}
	key := q.ShardKey(s)
	out := make([][]byte, 0, max)
	for int64(len(out)) < max {
		val, err := q.client.RPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, fmt.Errorf("pull anomaly points %s: %w", key, err)
		}
		out = append(out, []byte(val))
	}
	return out, nil
}

// Restore pushes pulled-but-unprocessed payloads back to the tail of the
// shard list in their original order, so a failed batch is retried intact.
func (q *AnomalyQueue) Restore(ctx context.Context, s Shard, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	key := q.ShardKey(s)
	// RPush in reverse so the first pulled payload ends up back at the tail.
	for i := len(payloads) - 1; i >= 0; i-- {
		if err := q.client.RPush(ctx, key, payloads[i]).Err(); err != nil {
			return fmt.Errorf("restore anomaly points %s: %w", key, err)
		}
	}
	return nil
}

// Requeue re-raises a shard signal at the tail of the signal list. A consumer
// that could not drain its shard within one batch hands the shard straight
// back to the front of service, keeping per-shard FIFO while bounding batch
// latency.
func (q *AnomalyQueue) Requeue(ctx context.Context, s Shard) error {
	if err := q.client.RPush(ctx, SignalKey, s.String()).Err(); err != nil {
		return fmt.Errorf("requeue shard signal %s: %w", s, err)
	}
	return nil
}

// Depth returns the number of pending points in a shard list.
func (q *AnomalyQueue) Depth(ctx context.Context, s Shard) (int64, error) {
	n, err := q.client.LLen(ctx, q.ShardKey(s)).Result()
	if err != nil {
		return 0, fmt.Errorf("shard depth %s: %w", s, err)
	}
	return n, nil
}

// SignalDepth returns the number of pending shard signals.
func (q *AnomalyQueue) SignalDepth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, SignalKey).Result()
	if err != nil {
		return 0, fmt.Errorf("signal depth: %w", err)
	}
	return n, nil
}
