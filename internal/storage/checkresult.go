package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// StatusAnomaly marks a slot the detector flagged. Any other non-empty
// status means the detector ran and decided not-anomalous. An absent slot
// means no data arrived, which is neither.
const StatusAnomaly = "ANOMALY"

// Entry is one (timestamp, status) pair of a check-result window.
type Entry struct {
	TS     int64
	Status string
}

// IsAnomaly reports whether the detector flagged this slot.
func (e Entry) IsAnomaly() bool {
	return e.Status == StatusAnomaly
}

// CheckResultStore keeps the per-(strategy, item, dimension, level) sliding
// window of evaluation results as a Redis sorted set scored by timestamp.
type CheckResultStore struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewCheckResultStore creates a check-result store. defaultTTL applies when
// a caller does not supply a window-derived TTL; it must exceed the largest
// trigger/recovery window span in use.
func NewCheckResultStore(client *redis.Client, defaultTTL time.Duration) *CheckResultStore {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &CheckResultStore{client: client, defaultTTL: defaultTTL}
}

// Key builds the sorted-set key for one evaluation cell.
func (s *CheckResultStore) Key(strategyID, itemID int64, dimMD5 string, level int) string {
	return fmt.Sprintf("check_result:%d:%d:%s:%d", strategyID, itemID, dimMD5, level)
}

// Append records one evaluation result. A second write at the same timestamp
// overwrites the first, so re-delivered points are idempotent. ttl bounds the
// key lifetime; zero falls back to the store default.
func (s *CheckResultStore) Append(ctx context.Context, key string, ts int64, status string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	member := strconv.FormatInt(ts, 10) + "|" + status

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, strconv.FormatInt(ts, 10), strconv.FormatInt(ts, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: member})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append check result %s: %w", key, err)
	}
	return nil
}

// Range returns entries with from <= ts <= to, ordered by timestamp.
// Raw "<ts>|<status>" members are parsed at this boundary; callers never
// see the string encoding.
func (s *CheckResultStore) Range(ctx context.Context, key string, from, to int64) ([]Entry, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from, 10),
		Max: strconv.FormatInt(to, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range check results %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		entry, ok := parseEntry(m)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Trim removes entries strictly older than before.
func (s *CheckResultStore) Trim(ctx context.Context, key string, before int64) error {
	max := "(" + strconv.FormatInt(before, 10)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
		return fmt.Errorf("trim check results %s: %w", key, err)
	}
	return nil
}

func parseEntry(member string) (Entry, bool) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Entry{}, false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{TS: ts, Status: parts[1]}, true
}
