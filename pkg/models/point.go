package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NoDataTag is the reserved dimension key the detect stage attaches to
// synthetic no-data points.
const NoDataTag = "__NO_DATA_DIMENSION__"

// Severity levels. Lower is more severe.
const (
	LevelCritical = 1
	LevelWarning  = 2
	LevelInfo     = 3
)

// Levels lists all known levels in severity order.
var Levels = []int{LevelCritical, LevelWarning, LevelInfo}

// AnomalyPoint is one detect-stage output for one dimension at one timestamp.
// It may carry anomaly flags for several severity levels at once.
type AnomalyPoint struct {
	Data                PointData              `json:"data"`
	Anomaly             map[string]AnomalyInfo `json:"anomaly"`
	StrategySnapshotKey string                 `json:"strategy_snapshot_key"`
}

// PointData carries the reading itself.
type PointData struct {
	RecordID   string             `json:"record_id"`
	Value      float64            `json:"value"`
	Values     map[string]float64 `json:"values,omitempty"`
	Dimensions map[string]string  `json:"dimensions"`
	Time       int64              `json:"time"`
}

// AnomalyInfo describes one anomalous level of a point.
type AnomalyInfo struct {
	AnomalyID      string `json:"anomaly_id"`
	AnomalyMessage string `json:"anomaly_message"`
	AnomalyTime    string `json:"anomaly_time"`
}

// DimensionsMD5 returns the canonical MD5 of an unordered dimensions mapping.
// Keys are sorted so that the digest is stable regardless of map order.
func DimensionsMD5(dims map[string]string) string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(dims[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// DimensionsMD5 returns the canonical digest of the point's dimensions.
func (p *AnomalyPoint) DimensionsMD5() string {
	return DimensionsMD5(p.Data.Dimensions)
}

// IsNoData reports whether the point is a synthetic no-data point.
func (p *AnomalyPoint) IsNoData() bool {
	_, ok := p.Data.Dimensions[NoDataTag]
	return ok
}

// AnomalyFor returns the anomaly info for a numeric level, if present.
func (p *AnomalyPoint) AnomalyFor(level int) (AnomalyInfo, bool) {
	info, ok := p.Anomaly[strconv.Itoa(level)]
	return info, ok
}

// AnomalyID builds the canonical anomaly identifier for one
// (dimension, timestamp, strategy, item, level) cell.
func AnomalyID(dimMD5 string, ts, strategyID, itemID int64, level int) string {
	return fmt.Sprintf("%s.%d.%d.%d.%d", dimMD5, ts, strategyID, itemID, level)
}
