package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// ErrAlertNotFound means no active alert exists for the (strategy, dimension).
var ErrAlertNotFound = errors.New("alert not found")

// ErrTooManyConflicts means optimistic updates kept colliding; the intended
// transition is dropped and the next periodic check re-evaluates.
var ErrTooManyConflicts = errors.New("too many alert update conflicts")

const activeIndexKey = "alert:active"

// Store keeps one active alert document per (strategy, dimension) plus an
// index of active alerts driving the periodic checks. Updates use optimistic
// concurrency: a WATCHed read-modify-write that is retried on version
// conflict.
type Store struct {
	client     *redis.Client
	maxRetries int
	closedTTL  time.Duration
}

// NewStore creates an alert store.
func NewStore(client *redis.Client, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Store{
		client:     client,
		maxRetries: maxRetries,
		closedTTL:  7 * 24 * time.Hour,
	}
}

// Key builds the active-alert key for one (strategy, dimension).
func (s *Store) Key(strategyID int64, dimMD5 string) string {
	return fmt.Sprintf("alert:%d:%s", strategyID, dimMD5)
}

func (s *Store) closedKey(id string) string {
	return "alert:closed:" + id
}

func indexMember(strategyID int64, dimMD5 string) string {
	return fmt.Sprintf("%d:%s", strategyID, dimMD5)
}

// Create inserts a new active alert unless one already exists. Returns true
// when the document was inserted.
func (s *Store) Create(ctx context.Context, alert *models.Alert) (bool, error) {
	key := s.Key(alert.StrategyID, alert.DimensionsMD5)
	payload, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("marshal alert %s: %w", alert.ID, err)
	}

	inserted, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return false, fmt.Errorf("create alert %s: %w", key, err)
	}
	if !inserted {
		return false, nil
	}
	if err := s.client.SAdd(ctx, activeIndexKey, indexMember(alert.StrategyID, alert.DimensionsMD5)).Err(); err != nil {
		return true, fmt.Errorf("index alert %s: %w", key, err)
	}
	return true, nil
}

// Get returns the active alert for a (strategy, dimension).
func (s *Store) Get(ctx context.Context, strategyID int64, dimMD5 string) (*models.Alert, error) {
	val, err := s.client.Get(ctx, s.Key(strategyID, dimMD5)).Result()
	if err == redis.Nil {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %d/%s: %w", strategyID, dimMD5, err)
	}
	var alert models.Alert
	if err := json.Unmarshal([]byte(val), &alert); err != nil {
		return nil, fmt.Errorf("decode alert %d/%s: %w", strategyID, dimMD5, err)
	}
	return &alert, nil
}

// GetClosed returns a terminal alert document by id, or nil when expired.
func (s *Store) GetClosed(ctx context.Context, id string) (*models.Alert, error) {
	val, err := s.client.Get(ctx, s.closedKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get closed alert %s: %w", id, err)
	}
	var alert models.Alert
	if err := json.Unmarshal([]byte(val), &alert); err != nil {
		return nil, fmt.Errorf("decode closed alert %s: %w", id, err)
	}
	return &alert, nil
}

// Update applies a transition under optimistic concurrency. apply returns
// false to leave the document untouched. On conflict the document is
// re-read and apply re-runs against the fresh state, a bounded number of
// times; terminal documents are moved out of the active set atomically.
// The returned bool reports whether the document was actually written, so
// callers can tell a real transition from a guard no-op.
func (s *Store) Update(ctx context.Context, strategyID int64, dimMD5 string, apply func(*models.Alert) (bool, error)) (*models.Alert, bool, error) {
	key := s.Key(strategyID, dimMD5)
	var result *models.Alert
	var wrote bool

	txf := func(tx *redis.Tx) error {
		wrote = false
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert %s: %w", key, err)
		}

		var alert models.Alert
		if err := json.Unmarshal([]byte(val), &alert); err != nil {
			return fmt.Errorf("decode alert %s: %w", key, err)
		}

		changed, err := apply(&alert)
		if err != nil {
			return err
		}
		if !changed {
			result = &alert
			return nil
		}

		alert.Version++
		payload, err := json.Marshal(&alert)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if alert.IsTerminal() {
				pipe.Set(ctx, s.closedKey(alert.ID), payload, s.closedTTL)
				pipe.Del(ctx, key)
				pipe.SRem(ctx, activeIndexKey, indexMember(strategyID, dimMD5))
			} else {
				pipe.Set(ctx, key, payload, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = &alert
		wrote = true
		return nil
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return result, wrote, nil
	}
	return nil, false, ErrTooManyConflicts
}

// Active lists (strategy, dimension) pairs with an open alert.
func (s *Store) Active(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, activeIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return members, nil
}
