package models

// AnomalyRecord is one audit row per (point, level). Rows are written for
// every level present in a point, not only the fired one, and are upserted
// by anomaly_id so re-delivery is harmless.
type AnomalyRecord struct {
	AnomalyID     string  `json:"anomaly_id"`
	StrategyID    int64   `json:"strategy_id"`
	ItemID        int64   `json:"item_id"`
	DimensionsMD5 string  `json:"dimensions_md5"`
	Level         int     `json:"level"`
	SourceTime    int64   `json:"source_time"`
	Value         float64 `json:"value"`
	Message       string  `json:"message,omitempty"`
	CreateTime    int64   `json:"create_time"`
}
