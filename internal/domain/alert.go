package domain

import "time"

// AlertPriority orders whale alerts by urgency.
type AlertPriority string

const (
	AlertCritical AlertPriority = "CRITICAL"
	AlertHigh     AlertPriority = "HIGH"
	AlertMedium   AlertPriority = "MEDIUM"
	AlertLow      AlertPriority = "LOW"
)

// PositionChange is one material per-coin position change by a tracked trader.
type PositionChange struct {
	Address      string    `json:"address"`
	Coin         string    `json:"coin"`
	PriorSize    float64   `json:"prior_size"`
	CurrentSize  float64   `json:"current_size"`
	ChangePct    float64   `json:"change_pct"`
	AccountValue float64   `json:"account_value"`
	Tier         Tier      `json:"tier"`
	DetectedAt   time.Time `json:"detected_at"`
}

// SignalImpact is the suggested adjustment consumers may apply to the signal
// while the alert is active. The detector itself never mutates signals.
type SignalImpact struct {
	ConfidenceBoost    float64 `json:"confidence_boost"`
	PriorityMultiplier float64 `json:"priority"`
}

// WhaleAlert is raised when large holders rotate. It carries the window of
// material changes that triggered it and expires on its own schedule.
type WhaleAlert struct {
	ID         string           `json:"id"`
	Priority   AlertPriority    `json:"priority"`
	Changes    []PositionChange `json:"changes"`
	Impact     SignalImpact     `json:"signal_impact"`
	DetectedAt time.Time        `json:"detected_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// Active reports whether the alert has not yet expired.
func (a WhaleAlert) Active(now time.Time) bool {
	return a.ExpiresAt.After(now)
}
