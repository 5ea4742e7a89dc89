package domain

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a single per-coin perpetual position. Size is signed: positive
// is long, negative is short, zero is closed.
type Position struct {
	Coin       string  `json:"coin"`
	Size       float64 `json:"size"`
	Leverage   float64 `json:"leverage"`
	EntryPrice float64 `json:"entry_price"`
	Margin     float64 `json:"margin"`
}

// MarginSummary mirrors the exchange-side account margin rollup.
type MarginSummary struct {
	AccountValue    float64 `json:"account_value"`
	TotalNtlPos     float64 `json:"total_ntl_pos"`
	TotalMarginUsed float64 `json:"total_margin_used"`
}

// PositionSnapshot is one observation of a trader's full position set. Exactly
// one snapshot per address is retained as current state; history is keyed by
// (address, observed_at).
type PositionSnapshot struct {
	Address    string        `json:"address"`
	Positions  []Position    `json:"positions"`
	Margin     MarginSummary `json:"margin_summary"`
	SourceTime time.Time     `json:"source_timestamp"`
	ObservedAt time.Time     `json:"observed_timestamp"`
}

// AccountValue returns the exchange-reported account value when present,
// otherwise the aggregate absolute notional of the open positions.
func (s PositionSnapshot) AccountValue() float64 {
	if s.Margin.AccountValue > 0 {
		return s.Margin.AccountValue
	}
	var total float64
	for _, p := range s.Positions {
		total += math.Abs(p.Size) * p.EntryPrice
	}
	return total
}

// Find returns the position for the given coin, if any.
func (s PositionSnapshot) Find(coin string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Coin == coin {
			return p, true
		}
	}
	return Position{}, false
}

// NormalizeTuple builds the de-dup key for a position set: the sorted sequence
// of (coin, size-to-8dp) pairs. Two snapshots with equal tuples carry the same
// position information.
func NormalizeTuple(positions []Position) string {
	if len(positions) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(positions))
	for _, p := range positions {
		sz := decimal.NewFromFloat(p.Size).Round(8)
		pairs = append(pairs, p.Coin+":"+sz.String())
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}
