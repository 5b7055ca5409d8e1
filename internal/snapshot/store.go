package snapshot

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// ErrStrategyNotFound means the referenced snapshot does not exist. Points
// carrying such a reference are dropped, the batch continues.
var ErrStrategyNotFound = errors.New("strategy snapshot not found")

const keyPrefix = "strategy_snapshot"

// Store keeps immutable, content-addressed strategy snapshots in Redis with
// an in-process read cache. Snapshots never change under a key, so cached
// copies only ever expire, they cannot go stale.
type Store struct {
	client   *redis.Client
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	snap    *models.StrategySnapshot
	expires time.Time
}

// NewStore creates a snapshot store. cacheTTL is a soft bound on the
// in-process cache.
func NewStore(client *redis.Client, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Store{
		client:   client,
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// Save persists a snapshot under its content hash and returns the key every
// anomaly payload must carry to reference it.
func (s *Store) Save(ctx context.Context, snap *models.StrategySnapshot) (string, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal strategy snapshot %d: %w", snap.ID, err)
	}
	sum := md5.Sum(payload)
	key := fmt.Sprintf("%s:%d:%s", keyPrefix, snap.ID, hex.EncodeToString(sum[:]))

	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return "", fmt.Errorf("save strategy snapshot %s: %w", key, err)
	}
	return key, nil
}

// Get resolves a snapshot by key. strategyID guards against a payload
// referencing another strategy's snapshot; pass zero to skip the check.
func (s *Store) Get(ctx context.Context, key string, strategyID int64) (*models.StrategySnapshot, error) {
	if snap := s.cached(key); snap != nil {
		if strategyID > 0 && snap.ID != strategyID {
			return nil, fmt.Errorf("%w: key %s does not belong to strategy %d", ErrStrategyNotFound, key, strategyID)
		}
		return snap, nil
	}

	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy snapshot %s: %w", key, err)
	}

	var snap models.StrategySnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("decode strategy snapshot %s: %w", key, err)
	}
	if strategyID > 0 && snap.ID != strategyID {
		return nil, fmt.Errorf("%w: key %s does not belong to strategy %d", ErrStrategyNotFound, key, strategyID)
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{snap: &snap, expires: s.now().Add(s.cacheTTL)}
	s.mu.Unlock()

	return &snap, nil
}

// Delete removes a snapshot and evicts it from the cache. Used by tests and
// operator tooling; live snapshots referenced by open alerts stay embedded
// in the alert document.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete strategy snapshot %s: %w", key, err)
	}
	return nil
}

func (s *Store) cached(key string) *models.StrategySnapshot {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.now().After(entry.expires) {
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
		return nil
	}
	return entry.snap
}
