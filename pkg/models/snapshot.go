package models

import (
	"fmt"
	"time"
)

// Data type labels carried by query configs.
const (
	DataTypeTimeSeries = "time_series"
	DataTypeEvent      = "event"
	DataTypeLog        = "log"
)

// Recovery status setter values.
const (
	StatusSetterRecoveryNoData = "recovery-nodata"
)

// StrategySnapshot is an immutable, content-addressed copy of a strategy's
// evaluation config. In-flight alerts evaluate recovery against the snapshot
// as of fire time, so mid-incident strategy edits never change behavior.
type StrategySnapshot struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name,omitempty"`
	BkBizID        int64    `json:"bk_biz_id"`
	Scenario       string   `json:"scenario"`
	IsEnabled      bool     `json:"is_enabled"`
	AlarmStartTime string   `json:"alarm_start_time,omitempty"`
	AlarmEndTime   string   `json:"alarm_end_time,omitempty"`
	Items          []Item   `json:"items"`
	Detects        []Detect `json:"detects"`
}

// Item is one monitored item of a strategy.
type Item struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name,omitempty"`
	NoDataConfig NoDataConfig  `json:"no_data_config"`
	QueryConfigs []QueryConfig `json:"query_configs"`
}

// NoDataConfig controls no-data alarming for an item.
type NoDataConfig struct {
	IsEnabled  bool `json:"is_enabled"`
	Continuous int  `json:"continuous"`
}

// QueryConfig describes one data query of an item.
type QueryConfig struct {
	AggInterval     int64  `json:"agg_interval"`
	DataTypeLabel   string `json:"data_type_label"`
	DataSourceLabel string `json:"data_source_label"`
	MetricID        string `json:"metric_id,omitempty"`
}

// Detect is the per-level detect block of a strategy.
type Detect struct {
	Level          int            `json:"level"`
	TriggerConfig  TriggerConfig  `json:"trigger_config"`
	RecoveryConfig RecoveryConfig `json:"recovery_config"`
}

// TriggerConfig: fire when at least Count of the last CheckWindow slots are
// anomalous. CheckWindow counts slot units, not seconds.
type TriggerConfig struct {
	Count       int `json:"count"`
	CheckWindow int `json:"check_window"`
}

// RecoveryConfig: recover when CheckWindow consecutive slots are clear.
type RecoveryConfig struct {
	CheckWindow  int    `json:"check_window"`
	StatusSetter string `json:"status_setter,omitempty"`
}

// Item returns the item with the given id.
func (s *StrategySnapshot) Item(itemID int64) (*Item, bool) {
	for i := range s.Items {
		if s.Items[i].ID == itemID {
			return &s.Items[i], true
		}
	}
	return nil, false
}

// DetectFor returns the detect block for a level.
func (s *StrategySnapshot) DetectFor(level int) (*Detect, bool) {
	for i := range s.Detects {
		if s.Detects[i].Level == level {
			return &s.Detects[i], true
		}
	}
	return nil, false
}

// CheckWindowUnit is the sliding-window slot size in seconds: the minimum
// agg_interval across the item's query configs, so the window is fine-grained
// enough for the fastest metric of a multi-query item.
func (it *Item) CheckWindowUnit() int64 {
	var unit int64
	for _, qc := range it.QueryConfigs {
		if qc.AggInterval <= 0 {
			continue
		}
		if unit == 0 || qc.AggInterval < unit {
			unit = qc.AggInterval
		}
	}
	if unit == 0 {
		unit = 60
	}
	return unit
}

// IsEventType reports whether any query config of the item is event-typed.
// For event items an absent slot means neither anomaly nor recovery.
func (it *Item) IsEventType() bool {
	for _, qc := range it.QueryConfigs {
		if qc.DataTypeLabel == DataTypeEvent {
			return true
		}
	}
	return false
}

// InAlarmTime reports whether the wall clock falls inside the strategy's
// active alarm window. An empty or malformed window means always active.
// Windows crossing midnight ("22:00".."06:00") are supported.
func (s *StrategySnapshot) InAlarmTime(now time.Time) bool {
	if s.AlarmStartTime == "" || s.AlarmEndTime == "" {
		return true
	}
	start, err1 := parseClock(s.AlarmStartTime)
	end, err2 := parseClock(s.AlarmEndTime)
	if err1 != nil || err2 != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

func parseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %s", v)
	}
	return h*60 + m, nil
}
