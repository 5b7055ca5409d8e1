package storage

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// CheckpointStore keeps the last source-time the detect stage produced a
// result per (dimension, level), as a Redis hash per (strategy, item).
// Recovery checks anchor their sliding windows on the checkpoint instead of
// the wall clock, so delayed data arrival does not shift the window.
type CheckpointStore struct {
	client *redis.Client
}

// NewCheckpointStore creates a checkpoint store.
func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

// Key builds the hash key for one (strategy, item).
func (s *CheckpointStore) Key(strategyID, itemID int64) string {
	return fmt.Sprintf("checkpoint:%d:%d", strategyID, itemID)
}

func checkpointField(dimMD5 string, level int) string {
	return fmt.Sprintf("%s.%d", dimMD5, level)
}

// Set advances the checkpoint for a (dimension, level). Writes never move the
// checkpoint backwards, so a delayed re-delivery cannot shrink the reference
// window. Shard ownership makes the read-compare-write safe: only one worker
// processes a (strategy, item) at a time.
func (s *CheckpointStore) Set(ctx context.Context, strategyID, itemID int64, dimMD5 string, level int, ts int64) error {
	key := s.Key(strategyID, itemID)
	field := checkpointField(dimMD5, level)

	current, err := s.Get(ctx, strategyID, itemID, dimMD5, level)
	if err != nil {
		return err
	}
	if ts <= current {
		return nil
	}
	if err := s.client.HSet(ctx, key, field, strconv.FormatInt(ts, 10)).Err(); err != nil {
		return fmt.Errorf("set checkpoint %s/%s: %w", key, field, err)
	}
	return nil
}

// Get returns the checkpoint for a (dimension, level), or zero when absent.
func (s *CheckpointStore) Get(ctx context.Context, strategyID, itemID int64, dimMD5 string, level int) (int64, error) {
	key := s.Key(strategyID, itemID)
	field := checkpointField(dimMD5, level)

	val, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint %s/%s: %w", key, field, err)
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %s/%s: %w", key, field, err)
	}
	return ts, nil
}
