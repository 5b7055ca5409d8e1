package models

// Alert lifecycle states. RECOVERED and CLOSED are terminal.
const (
	AlertAbnormal  = "ABNORMAL"
	AlertRecovered = "RECOVERED"
	AlertClosed    = "CLOSED"
)

// Alert log operation types. Every state transition appends exactly one entry.
const (
	OpCreate       = "CREATE"
	OpRecover      = "RECOVER"
	OpClose        = "CLOSE"
	OpRecovering   = "RECOVERING"
	OpAbortRecover = "ABORT_RECOVER"
)

// Alert is the persistent document for one incident on one
// (strategy, dimension) pair. A new anomaly after a terminal state opens a
// new document instead of reviving this one.
type Alert struct {
	ID                string     `json:"id"`
	StrategyID        int64      `json:"strategy_id"`
	ItemID            int64      `json:"item_id"`
	DimensionsMD5     string     `json:"dimensions_md5"`
	Level             int        `json:"level"`
	Status            string     `json:"status"`
	FirstAnomalyTime  int64      `json:"first_anomaly_time"`
	LatestAnomalyTime int64      `json:"latest_anomaly_time,omitempty"`
	LatestValue       float64    `json:"latest_value,omitempty"`
	EndTime           int64      `json:"end_time,omitempty"`
	Version           int64      `json:"version"`
	Logs              []AlertLog `json:"logs,omitempty"`
	ExtraInfo         ExtraInfo  `json:"extra_info"`
}

// AlertLog is one append-only operation record.
type AlertLog struct {
	Op      string `json:"op_type"`
	Time    int64  `json:"time"`
	Message string `json:"message,omitempty"`
}

// ExtraInfo carries auxiliary alert state, including the strategy snapshot
// copied at fire time.
type ExtraInfo struct {
	IsRecovering         bool              `json:"is_recovering,omitempty"`
	IgnoreUnshieldNotice bool              `json:"ignore_unshield_notice,omitempty"`
	NeedUnshieldNotice   bool              `json:"need_unshield_notice,omitempty"`
	EndDescription       string            `json:"end_description,omitempty"`
	SnapshotKey          string            `json:"strategy_snapshot_key,omitempty"`
	StrategySnapshot     *StrategySnapshot `json:"strategy,omitempty"`
}

// IsTerminal reports whether the alert has reached a final state.
func (a *Alert) IsTerminal() bool {
	return a.Status == AlertRecovered || a.Status == AlertClosed
}

// AppendLog appends one operation record.
func (a *Alert) AppendLog(op string, ts int64, message string) {
	a.Logs = append(a.Logs, AlertLog{Op: op, Time: ts, Message: message})
}
