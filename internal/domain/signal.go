package domain

import "time"

// Recommendation is the directional call carried by a signal.
type Recommendation string

const (
	RecommendationBuy     Recommendation = "BUY"
	RecommendationSell    Recommendation = "SELL"
	RecommendationNeutral Recommendation = "NEUTRAL"
)

// Signal is the aggregated directional trading signal for one instrument,
// computed over the fresh tracked-trader set.
type Signal struct {
	Symbol         string         `json:"symbol"`
	LongBias       float64        `json:"long_bias"`
	ShortBias      float64        `json:"short_bias"`
	NetExposure    float64        `json:"net_exposure"`
	TradersLong    int            `json:"traders_long"`
	TradersShort   int            `json:"traders_short"`
	TradersFlat    int            `json:"traders_flat"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Price          float64        `json:"price"`
	Regime         string         `json:"regime,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// MarkPrice is the payload of a mark_price event.
type MarkPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle is a per-symbol OHLC bucket folded from mark_price events.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Samples  int       `json:"samples"`
}
