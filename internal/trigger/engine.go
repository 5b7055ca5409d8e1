package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/metrics"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/queue"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/snapshot"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/storage"
	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// ErrStrategyItemNotFound means the shard's item id is missing from the
// resolved snapshot. The point is dropped, the batch continues.
var ErrStrategyItemNotFound = errors.New("strategy item not found")

// ErrMalformedPoint means the payload could not be decoded.
var ErrMalformedPoint = errors.New("malformed anomaly point")

// Emitter publishes fired events downstream.
type Emitter interface {
	Emit(ctx context.Context, event *models.Event) error
}

// EventHandler receives fired events for alert bookkeeping.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.Event, snap *models.StrategySnapshot) error
}

// Engine consumes anomaly points for one shard at a time, maintains the
// check-result and checkpoint caches, and decides per level whether the
// trigger condition is met.
type Engine struct {
	results     *storage.CheckResultStore
	checkpoints *storage.CheckpointStore
	records     *storage.AnomalyRecordStore
	snapshots   *snapshot.Store
	emitter     Emitter
	alerts      EventHandler
	now         func() time.Time
}

// NewEngine creates a trigger engine. alerts may be nil when no alert
// bookkeeping is wanted (tests, replay tooling).
func NewEngine(results *storage.CheckResultStore, checkpoints *storage.CheckpointStore, records *storage.AnomalyRecordStore, snapshots *snapshot.Store, em Emitter, alerts EventHandler) *Engine {
	return &Engine{
		results:     results,
		checkpoints: checkpoints,
		records:     records,
		snapshots:   snapshots,
		emitter:     em,
		alerts:      alerts,
		now:         time.Now,
	}
}

// ProcessBatch handles one pulled batch for a shard. Per-point failures are
// logged and skipped; only infrastructure errors are returned, in which case
// the caller retries the whole shard.
func (e *Engine) ProcessBatch(ctx context.Context, shard queue.Shard, payloads [][]byte) error {
	for _, payload := range payloads {
		var point models.AnomalyPoint
		if err := json.Unmarshal(payload, &point); err != nil {
			metrics.PointsDropped.WithLabelValues("malformed").Inc()
			logger.Errorf("Dropping malformed point on shard %s: %v", shard, err)
			continue
		}
		if point.Data.RecordID == "" || point.Data.Time == 0 {
			metrics.PointsDropped.WithLabelValues("malformed").Inc()
			logger.Errorf("Dropping point without record_id or time on shard %s", shard)
			continue
		}

		if err := e.processPoint(ctx, shard, &point); err != nil {
			if isDropError(err) {
				metrics.PointsDropped.WithLabelValues(dropReason(err)).Inc()
				logger.Errorf("Dropping point %s on shard %s: %v", point.Data.RecordID, shard, err)
				continue
			}
			return err
		}
		metrics.PointsProcessed.Inc()
	}
	return nil
}

func (e *Engine) processPoint(ctx context.Context, shard queue.Shard, point *models.AnomalyPoint) error {
	snap, err := e.snapshots.Get(ctx, point.StrategySnapshotKey, shard.StrategyID)
	if err != nil {
		return err
	}
	item, ok := snap.Item(shard.ItemID)
	if !ok {
		return fmt.Errorf("%w: strategy %d item %d", ErrStrategyItemNotFound, shard.StrategyID, shard.ItemID)
	}

	dimMD5 := point.DimensionsMD5()
	ts := point.Data.Time
	ttl := resultTTL(snap, item)

	// Caches are updated for every level the point carries, whether or not
	// anything fires and whether or not the strategy is inside its alarm
	// window. Unknown level keys in the payload are skipped.
	levels := pointLevels(point)
	for _, level := range levels {
		key := e.results.Key(shard.StrategyID, shard.ItemID, dimMD5, level)
		if err := e.results.Append(ctx, key, ts, storage.StatusAnomaly, ttl); err != nil {
			return err
		}
		if err := e.results.Trim(ctx, key, ts-2*int64(ttl/time.Second)); err != nil {
			return err
		}
		if err := e.checkpoints.Set(ctx, shard.StrategyID, shard.ItemID, dimMD5, level, ts); err != nil {
			return err
		}
	}

	// Audit rows are best-effort: one per carried level, upserted by
	// anomaly_id so re-delivery does not duplicate them.
	if e.records != nil {
		if err := e.records.Upsert(ctx, e.buildRecords(shard, point, dimMD5, levels)); err != nil {
			logger.Warnf("Failed to persist anomaly records for %s: %v", point.Data.RecordID, err)
		}
	}

	if point.IsNoData() {
		return e.processNoData(ctx, shard, point, snap, item, dimMD5)
	}

	// Evaluate in severity order; the most severe triggered level wins.
	for _, level := range levels {
		detect, ok := snap.DetectFor(level)
		if !ok {
			continue
		}
		triggered, anomalyTS, err := e.checkLevel(ctx, shard, item, detect, dimMD5, ts)
		if err != nil {
			return err
		}
		if !triggered {
			continue
		}
		return e.fire(ctx, shard, point, snap, dimMD5, level, anomalyTS)
	}
	return nil
}

// checkLevel evaluates the per-level trigger condition: at least
// trigger_count anomalous slots within the last check_window slot units
// ending at the point's source time. Absent slots count as no data, never as
// clear; for event-typed items that is the only sane reading since nothing
// fills the gaps.
func (e *Engine) checkLevel(ctx context.Context, shard queue.Shard, item *models.Item, detect *models.Detect, dimMD5 string, ts int64) (bool, []int64, error) {
	unit := item.CheckWindowUnit()
	from := ts - int64(detect.TriggerConfig.CheckWindow)*unit

	key := e.results.Key(shard.StrategyID, shard.ItemID, dimMD5, detect.Level)
	entries, err := e.results.Range(ctx, key, from, ts)
	if err != nil {
		return false, nil, err
	}

	var anomalyTS []int64
	for _, entry := range entries {
		if entry.IsAnomaly() {
			anomalyTS = append(anomalyTS, entry.TS)
		}
	}
	return len(anomalyTS) >= detect.TriggerConfig.Count, anomalyTS, nil
}

// processNoData handles synthetic no-data points: the window scan is
// bypassed and the event fires at the no-data level directly, with the
// missing slots (anchored on the point's source time, one per continuous
// slot unit) as the anomaly cells.
func (e *Engine) processNoData(ctx context.Context, shard queue.Shard, point *models.AnomalyPoint, snap *models.StrategySnapshot, item *models.Item, dimMD5 string) error {
	if !item.NoDataConfig.IsEnabled {
		return nil
	}
	continuous := item.NoDataConfig.Continuous
	if continuous <= 0 {
		continuous = 1
	}

	unit := item.CheckWindowUnit()
	ts := point.Data.Time
	anomalyTS := make([]int64, 0, continuous)
	for i := continuous - 1; i >= 0; i-- {
		anomalyTS = append(anomalyTS, ts-int64(i)*unit)
	}

	return e.fire(ctx, shard, point, snap, dimMD5, models.LevelCritical, anomalyTS)
}

func (e *Engine) fire(ctx context.Context, shard queue.Shard, point *models.AnomalyPoint, snap *models.StrategySnapshot, dimMD5 string, level int, anomalyTS []int64) error {
	if !snap.InAlarmTime(e.now()) {
		logger.Debugf("Strategy %d outside alarm window, suppressing emission for %s", shard.StrategyID, point.Data.RecordID)
		return nil
	}

	anomalyIDs := make([]string, 0, len(anomalyTS))
	for _, t := range anomalyTS {
		anomalyIDs = append(anomalyIDs, models.AnomalyID(dimMD5, t, shard.StrategyID, shard.ItemID, level))
	}
	event := models.NewEvent(point, shard.StrategyID, shard.ItemID, level, anomalyIDs)

	if err := e.emitter.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit event %s: %w", event.DedupKey(), err)
	}
	metrics.EventsFired.WithLabelValues(event.Trigger.Level).Inc()

	if e.alerts != nil {
		if err := e.alerts.HandleEvent(ctx, event, snap); err != nil {
			return fmt.Errorf("handle event %s: %w", event.DedupKey(), err)
		}
	}
	return nil
}

func (e *Engine) buildRecords(shard queue.Shard, point *models.AnomalyPoint, dimMD5 string, levels []int) []*models.AnomalyRecord {
	records := make([]*models.AnomalyRecord, 0, len(levels))
	for _, level := range levels {
		info, _ := point.AnomalyFor(level)
		records = append(records, &models.AnomalyRecord{
			AnomalyID:     info.AnomalyID,
			StrategyID:    shard.StrategyID,
			ItemID:        shard.ItemID,
			DimensionsMD5: dimMD5,
			Level:         level,
			SourceTime:    point.Data.Time,
			Value:         point.Data.Value,
			Message:       info.AnomalyMessage,
			CreateTime:    e.now().Unix(),
		})
	}
	return records
}

// pointLevels returns the known levels the point carries, in severity order.
func pointLevels(point *models.AnomalyPoint) []int {
	levels := make([]int, 0, len(point.Anomaly))
	for raw := range point.Anomaly {
		level, err := strconv.Atoi(raw)
		if err != nil || level < models.LevelCritical || level > models.LevelInfo {
			continue
		}
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// resultTTL derives the check-result key lifetime from the widest trigger
// plus recovery window of the strategy, with headroom for delayed data.
func resultTTL(snap *models.StrategySnapshot, item *models.Item) time.Duration {
	unit := item.CheckWindowUnit()
	var maxSpan int64
	for _, d := range snap.Detects {
		span := int64(d.TriggerConfig.CheckWindow+d.RecoveryConfig.CheckWindow) * unit
		if span > maxSpan {
			maxSpan = span
		}
	}
	if maxSpan == 0 {
		maxSpan = 3600
	}
	return 2*time.Duration(maxSpan)*time.Second + time.Hour
}

func isDropError(err error) bool {
	return errors.Is(err, snapshot.ErrStrategyNotFound) ||
		errors.Is(err, ErrStrategyItemNotFound) ||
		errors.Is(err, ErrMalformedPoint)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, snapshot.ErrStrategyNotFound):
		return "strategy_not_found"
	case errors.Is(err, ErrStrategyItemNotFound):
		return "item_not_found"
	default:
		return "malformed"
	}
}
