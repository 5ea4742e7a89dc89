package domain

import "time"

// Tier is the discrete account-value band a trader falls into.
type Tier string

const (
	TierAlphaWhale Tier = "alpha_whale"
	TierWhale      Tier = "whale"
	TierLarge      Tier = "large"
	TierMedium     Tier = "medium"
	TierStandard   Tier = "standard"
	TierSmall      Tier = "small"
)

// Account-value band floors in USD.
const (
	AlphaWhaleFloor = 20_000_000
	WhaleFloor      = 10_000_000
	LargeFloor      = 5_000_000
	MediumFloor     = 1_000_000
	StandardFloor   = 100_000
)

// TierThresholds carries the configurable floors of the top two bands. The
// lower bands keep the package defaults.
type TierThresholds struct {
	AlphaWhale float64
	Whale      float64
}

// DefaultTierThresholds returns the standard band floors.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{AlphaWhale: AlphaWhaleFloor, Whale: WhaleFloor}
}

// TierFor maps an account value to its band under these thresholds.
func (t TierThresholds) TierFor(accountValue float64) Tier {
	switch {
	case accountValue >= t.AlphaWhale:
		return TierAlphaWhale
	case accountValue >= t.Whale:
		return TierWhale
	case accountValue >= LargeFloor:
		return TierLarge
	case accountValue >= MediumFloor:
		return TierMedium
	case accountValue >= StandardFloor:
		return TierStandard
	default:
		return TierSmall
	}
}

// TierFor maps an account value to its band using the default thresholds.
func TierFor(accountValue float64) Tier {
	return DefaultTierThresholds().TierFor(accountValue)
}

// TraderScore is the externally supplied quality score for a tracked trader.
// Score is in [0, 100] and weights the trader's positions in the aggregate.
type TraderScore struct {
	Address     string    `json:"address"`
	Score       float64   `json:"score"`
	Tier        Tier      `json:"tier"`
	Tags        []string  `json:"tags,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// ScoreUpdate is the payload of a scored_traders event.
type ScoreUpdate struct {
	Scores []TraderScore `json:"scores"`
}
