package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// AnomalyRecordStore persists audit rows, one hash per (strategy, item),
// field anomaly_id. Writes are best-effort upserts.
type AnomalyRecordStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnomalyRecordStore creates an anomaly-record store.
func NewAnomalyRecordStore(client *redis.Client, ttl time.Duration) *AnomalyRecordStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &AnomalyRecordStore{client: client, ttl: ttl}
}

// Key builds the hash key for one (strategy, item).
func (s *AnomalyRecordStore) Key(strategyID, itemID int64) string {
	return fmt.Sprintf("anomaly_record:%d:%d", strategyID, itemID)
}

// Upsert writes records keyed by anomaly_id.
func (s *AnomalyRecordStore) Upsert(ctx context.Context, records []*models.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal anomaly record %s: %w", rec.AnomalyID, err)
		}
		key := s.Key(rec.StrategyID, rec.ItemID)
		pipe.HSet(ctx, key, rec.AnomalyID, payload)
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert anomaly records: %w", err)
	}
	return nil
}

// Get returns one record by anomaly_id, or nil when absent.
func (s *AnomalyRecordStore) Get(ctx context.Context, strategyID, itemID int64, anomalyID string) (*models.AnomalyRecord, error) {
	val, err := s.client.HGet(ctx, s.Key(strategyID, itemID), anomalyID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anomaly record %s: %w", anomalyID, err)
	}
	var rec models.AnomalyRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode anomaly record %s: %w", anomalyID, err)
	}
	return &rec, nil
}
