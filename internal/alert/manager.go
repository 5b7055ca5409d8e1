package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/metrics"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/snapshot"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/storage"
	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// Manager drives the alert state machine: ABNORMAL to RECOVERED or CLOSED,
// with the transient is_recovering flag in between. Recovery and close
// checks run on a timer over every active alert.
type Manager struct {
	store            *Store
	results          *storage.CheckResultStore
	checkpoints      *storage.CheckpointStore
	snapshots        *snapshot.Store
	closeStaleWindow time.Duration
	now              func() time.Time
	cron             *cron.Cron
}

// Config configures the alert manager.
type Config struct {
	CheckInterval    time.Duration
	CloseStaleWindow time.Duration
}

// NewManager creates an alert manager.
func NewManager(store *Store, results *storage.CheckResultStore, checkpoints *storage.CheckpointStore, snapshots *snapshot.Store, cfg Config) *Manager {
	if cfg.CloseStaleWindow <= 0 {
		cfg.CloseStaleWindow = 30 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}

	m := &Manager{
		store:            store,
		results:          results,
		checkpoints:      checkpoints,
		snapshots:        snapshots,
		closeStaleWindow: cfg.CloseStaleWindow,
		now:              time.Now,
		cron:             cron.New(),
	}
	m.cron.Schedule(cron.Every(cfg.CheckInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CheckInterval)
		defer cancel()
		m.Sweep(ctx)
	}))
	return m
}

// Start begins periodic recovery and close checks.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop stops the periodic checks and waits for a running sweep to finish.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

// HandleEvent creates or refreshes the alert for a fired event. The strategy
// snapshot is copied into the new document so recovery always evaluates
// against the config as of fire time.
func (m *Manager) HandleEvent(ctx context.Context, event *models.Event, snap *models.StrategySnapshot) error {
	dimMD5 := models.DimensionsMD5(event.Data.Dimensions)
	level := event.Level()

	doc := &models.Alert{
		ID:                uuid.NewString(),
		StrategyID:        event.StrategyID,
		ItemID:            event.ItemID,
		DimensionsMD5:     dimMD5,
		Level:             level,
		Status:            models.AlertAbnormal,
		FirstAnomalyTime:  event.Data.Time,
		LatestAnomalyTime: event.Data.Time,
		LatestValue:       event.Data.Value,
		Version:           1,
		ExtraInfo: models.ExtraInfo{
			SnapshotKey:      event.StrategySnapshotKey,
			StrategySnapshot: snap,
		},
	}
	doc.AppendLog(models.OpCreate, m.now().Unix(), fmt.Sprintf("alert fired at level %d", level))

	inserted, err := m.store.Create(ctx, doc)
	if err != nil {
		return err
	}
	if inserted {
		metrics.AlertTransitions.WithLabelValues(models.OpCreate).Inc()
		logger.Infof("Alert %s created for strategy %d dim %s level %d", doc.ID, event.StrategyID, dimMD5, level)
		return nil
	}

	// An active alert already exists: refresh it. Re-delivered events are
	// idempotent because latest_anomaly_time only moves forward and the
	// level only escalates.
	_, _, err = m.store.Update(ctx, event.StrategyID, dimMD5, func(a *models.Alert) (bool, error) {
		changed := false
		if event.Data.Time > a.LatestAnomalyTime {
			a.LatestAnomalyTime = event.Data.Time
			a.LatestValue = event.Data.Value
			changed = true
		}
		if level > 0 && level < a.Level {
			a.Level = level
			changed = true
		}
		return changed, nil
	})
	if errors.Is(err, ErrAlertNotFound) {
		// The alert went terminal between Create and Update; the next event
		// opens a fresh document.
		return nil
	}
	return err
}

// Sweep runs recovery and close checks over every active alert.
func (m *Manager) Sweep(ctx context.Context) {
	members, err := m.store.Active(ctx)
	if err != nil {
		logger.Errorf("Failed to list active alerts: %v", err)
		return
	}
	for _, member := range members {
		strategyID, dimMD5, ok := parseIndexMember(member)
		if !ok {
			logger.Warnf("Skipping malformed active-alert index member %q", member)
			continue
		}
		if err := m.CheckRecovery(ctx, strategyID, dimMD5); err != nil && !errors.Is(err, ErrAlertNotFound) {
			logger.Errorf("Recovery check failed for %s: %v", member, err)
			continue
		}
		if err := m.CheckClose(ctx, strategyID, dimMD5); err != nil && !errors.Is(err, ErrAlertNotFound) {
			logger.Errorf("Close check failed for %s: %v", member, err)
		}
	}
}

// CheckRecovery evaluates one active alert against its embedded snapshot.
//
// The reference time is the checkpoint for the alert's (dimension, level)
// when one exists, so a pause in data arrival keeps the window anchored on
// the last real result instead of sliding past it on the wall clock.
func (m *Manager) CheckRecovery(ctx context.Context, strategyID int64, dimMD5 string) error {
	alert, err := m.store.Get(ctx, strategyID, dimMD5)
	if err != nil {
		return err
	}
	snap := alert.ExtraInfo.StrategySnapshot
	if snap == nil {
		return fmt.Errorf("alert %s has no embedded strategy snapshot", alert.ID)
	}
	item, ok := snap.Item(alert.ItemID)
	if !ok {
		return fmt.Errorf("%w: strategy %d item %d", snapshot.ErrStrategyNotFound, strategyID, alert.ItemID)
	}
	detect, ok := snap.DetectFor(alert.Level)
	if !ok {
		return fmt.Errorf("alert %s level %d has no detect config", alert.ID, alert.Level)
	}

	if detect.RecoveryConfig.StatusSetter == models.StatusSetterRecoveryNoData {
		return m.recover(ctx, strategyID, dimMD5, "recovery status setter forced recovery")
	}

	unit := item.CheckWindowUnit()
	recoveryWindow := int64(detect.RecoveryConfig.CheckWindow)
	triggerWindow := int64(detect.TriggerConfig.CheckWindow)

	checkpoint, err := m.checkpoints.Get(ctx, strategyID, alert.ItemID, dimMD5, alert.Level)
	if err != nil {
		return err
	}
	tRef := checkpoint
	if tRef == 0 {
		tRef = m.now().Unix() - unit
	}

	key := m.results.Key(strategyID, alert.ItemID, dimMD5, alert.Level)
	// One extra trigger window of history so the trigger criterion can be
	// re-evaluated at every slot inside the scan range.
	from := tRef - (recoveryWindow+2*triggerWindow)*unit
	entries, err := m.results.Range(ctx, key, from, tRef)
	if err != nil {
		return err
	}

	inScan := filterSince(entries, tRef-(recoveryWindow+triggerWindow)*unit)
	if len(inScan) == 0 && checkpoint == 0 {
		if item.IsEventType() {
			// Event-typed items: an absent slot is neither anomaly nor
			// recovery, so silence alone never recovers.
			return nil
		}
		return m.recover(ctx, strategyID, dimMD5, "within recovery window no data reported, alert recovered")
	}

	inRecovery := filterSince(entries, tRef-recoveryWindow*unit+1)
	anomaliesInRecovery := 0
	for _, e := range inRecovery {
		if e.IsAnomaly() {
			anomaliesInRecovery++
		}
	}
	triggerMet := triggerMetWithin(entries, tRef, triggerWindow, unit, detect.TriggerConfig)

	switch {
	case !triggerMet && anomaliesInRecovery == 0:
		if item.IsEventType() && len(inRecovery) == 0 {
			return nil
		}
		msg := fmt.Sprintf("for %d consecutive periods the trigger condition was not met, alert recovered, current value %s",
			detect.RecoveryConfig.CheckWindow, latestValue(entries, alert))
		return m.recover(ctx, strategyID, dimMD5, msg)

	case !triggerMet && anomaliesInRecovery > 0:
		// Trending clear but not confirmed yet.
		_, wrote, err := m.store.Update(ctx, strategyID, dimMD5, func(a *models.Alert) (bool, error) {
			if a.Status != models.AlertAbnormal || a.ExtraInfo.IsRecovering {
				return false, nil
			}
			a.ExtraInfo.IsRecovering = true
			a.AppendLog(models.OpRecovering, m.now().Unix(), "anomalies below trigger threshold, alert is recovering")
			return true, nil
		})
		if err == nil && wrote {
			metrics.AlertTransitions.WithLabelValues(models.OpRecovering).Inc()
		}
		return err

	case triggerMet && alert.ExtraInfo.IsRecovering:
		_, wrote, err := m.store.Update(ctx, strategyID, dimMD5, func(a *models.Alert) (bool, error) {
			if a.Status != models.AlertAbnormal || !a.ExtraInfo.IsRecovering {
				return false, nil
			}
			a.ExtraInfo.IsRecovering = false
			a.ExtraInfo.NeedUnshieldNotice = true
			a.AppendLog(models.OpAbortRecover, m.now().Unix(), "trigger condition met again, recovery aborted")
			return true, nil
		})
		if err == nil && wrote {
			metrics.AlertTransitions.WithLabelValues(models.OpAbortRecover).Inc()
		}
		return err
	}
	return nil
}

// CheckClose closes alerts whose data went stale beyond the close window or
// whose strategy snapshot is gone or disabled.
func (m *Manager) CheckClose(ctx context.Context, strategyID int64, dimMD5 string) error {
	alert, err := m.store.Get(ctx, strategyID, dimMD5)
	if err != nil {
		return err
	}

	if m.snapshots != nil && alert.ExtraInfo.SnapshotKey != "" {
		reason := ""
		current, err := m.snapshots.Get(ctx, alert.ExtraInfo.SnapshotKey, strategyID)
		switch {
		case errors.Is(err, snapshot.ErrStrategyNotFound):
			reason = "strategy snapshot is gone, alert closed"
		case err != nil:
			return err
		case !current.IsEnabled:
			reason = "strategy is disabled, alert closed"
		}
		if reason != "" {
			return m.close(ctx, strategyID, dimMD5, reason)
		}
	}

	nowTS := m.now().Unix()
	key := m.results.Key(strategyID, alert.ItemID, dimMD5, alert.Level)
	entries, err := m.results.Range(ctx, key, nowTS-int64(m.closeStaleWindow/time.Second), nowTS)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		msg := fmt.Sprintf("no data reported for over %s, alert closed", m.closeStaleWindow)
		return m.close(ctx, strategyID, dimMD5, msg)
	}
	return nil
}

func (m *Manager) recover(ctx context.Context, strategyID int64, dimMD5 string, description string) error {
	_, wrote, err := m.store.Update(ctx, strategyID, dimMD5, func(a *models.Alert) (bool, error) {
		if a.Status != models.AlertAbnormal {
			return false, nil
		}
		a.Status = models.AlertRecovered
		a.EndTime = m.now().Unix()
		a.ExtraInfo.IsRecovering = false
		a.ExtraInfo.EndDescription = description
		a.AppendLog(models.OpRecover, m.now().Unix(), description)
		return true, nil
	})
	if err == nil && wrote {
		metrics.AlertTransitions.WithLabelValues(models.OpRecover).Inc()
		logger.Infof("Alert recovered for strategy %d dim %s: %s", strategyID, dimMD5, description)
	}
	return err
}

func (m *Manager) close(ctx context.Context, strategyID int64, dimMD5 string, description string) error {
	_, wrote, err := m.store.Update(ctx, strategyID, dimMD5, func(a *models.Alert) (bool, error) {
		if a.Status != models.AlertAbnormal {
			return false, nil
		}
		a.Status = models.AlertClosed
		a.EndTime = m.now().Unix()
		a.ExtraInfo.IsRecovering = false
		a.ExtraInfo.EndDescription = description
		a.AppendLog(models.OpClose, m.now().Unix(), description)
		return true, nil
	})
	if err == nil && wrote {
		metrics.AlertTransitions.WithLabelValues(models.OpClose).Inc()
		logger.Infof("Alert closed for strategy %d dim %s: %s", strategyID, dimMD5, description)
	}
	return err
}

// triggerMetWithin reports whether the trigger criterion holds at any
// reported slot inside the last triggerWindow units ending at tRef.
func triggerMetWithin(entries []storage.Entry, tRef, triggerWindow, unit int64, cfg models.TriggerConfig) bool {
	windowStart := tRef - triggerWindow*unit
	for _, candidate := range entries {
		if candidate.TS <= windowStart || candidate.TS > tRef {
			continue
		}
		count := 0
		for _, e := range entries {
			if e.TS >= candidate.TS-int64(cfg.CheckWindow)*unit && e.TS <= candidate.TS && e.IsAnomaly() {
				count++
			}
		}
		if count >= cfg.Count {
			return true
		}
	}
	return false
}

func filterSince(entries []storage.Entry, since int64) []storage.Entry {
	out := make([]storage.Entry, 0, len(entries))
	for _, e := range entries {
		if e.TS >= since {
			out = append(out, e)
		}
	}
	return out
}

// latestValue renders the most recent reported reading for the recovery
// description. Non-anomalous statuses carry the numeric value.
func latestValue(entries []storage.Entry, alert *models.Alert) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].IsAnomaly() {
			return entries[i].Status
		}
	}
	return strconv.FormatFloat(alert.LatestValue, 'f', -1, 64)
}

func parseIndexMember(member string) (int64, string, bool) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	strategyID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return strategyID, parts[1], true
}
