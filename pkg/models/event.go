package models

import "strconv"

// Event is a fired trigger decision pushed to the downstream notification
// bus. It is the source point plus a trigger block.
type Event struct {
	Data                PointData              `json:"data"`
	Anomaly             map[string]AnomalyInfo `json:"anomaly"`
	StrategySnapshotKey string                 `json:"strategy_snapshot_key"`
	StrategyID          int64                  `json:"strategy_id"`
	ItemID              int64                  `json:"item_id"`
	Trigger             Trigger                `json:"trigger"`
}

// Trigger names the fired level and the anomaly cells that satisfied it.
type Trigger struct {
	Level      string   `json:"level"`
	AnomalyIDs []string `json:"anomaly_ids"`
}

// NewEvent builds an event from a source point and a trigger decision.
func NewEvent(p *AnomalyPoint, strategyID, itemID int64, level int, anomalyIDs []string) *Event {
	return &Event{
		Data:                p.Data,
		Anomaly:             p.Anomaly,
		StrategySnapshotKey: p.StrategySnapshotKey,
		StrategyID:          strategyID,
		ItemID:              itemID,
		Trigger: Trigger{
			Level:      strconv.Itoa(level),
			AnomalyIDs: anomalyIDs,
		},
	}
}

// Level returns the fired level as an integer.
func (e *Event) Level() int {
	lvl, err := strconv.Atoi(e.Trigger.Level)
	if err != nil {
		return 0
	}
	return lvl
}

// DedupKey identifies the event for consumer-side de-duplication.
func (e *Event) DedupKey() string {
	if n := len(e.Trigger.AnomalyIDs); n > 0 {
		return e.Trigger.AnomalyIDs[n-1]
	}
	return e.Data.RecordID
}
